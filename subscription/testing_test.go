package subscription

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/carebound/storefront/catalog"
	"github.com/carebound/storefront/content"
	"github.com/carebound/storefront/payment"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

// fakeContent is an in-memory content.Store
type fakeContent struct {
	mu sync.Mutex

	subscriptions map[string]*catalog.Subscription
	coupons       map[string]*catalog.Coupon
	docs          map[string]*content.UserSubscriptionDoc
	patches       map[string][]content.Patch
	usage         map[string]int

	productIDs map[string]string
	priceIDs   map[string]string

	createErr error
	patchErr  error
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		subscriptions: make(map[string]*catalog.Subscription),
		coupons:       make(map[string]*catalog.Coupon),
		docs:          make(map[string]*content.UserSubscriptionDoc),
		patches:       make(map[string][]content.Patch),
		usage:         make(map[string]int),
		productIDs:    make(map[string]string),
		priceIDs:      make(map[string]string),
	}
}

func (f *fakeContent) GetSubscription(ctx context.Context, id string) (*catalog.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions[id], nil
}

func (f *fakeContent) GetCouponByCode(ctx context.Context, code string) (*catalog.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coupons[code], nil
}

func (f *fakeContent) SetStripeProductID(ctx context.Context, subscriptionID, productID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productIDs[subscriptionID] = productID
	return nil
}

func (f *fakeContent) SetStripePriceID(ctx context.Context, subscriptionID, variantKey, priceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceIDs[subscriptionID+"/"+variantKey] = priceID
	return nil
}

func (f *fakeContent) IncrementCouponUsage(ctx context.Context, couponID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[couponID]++
	return nil
}

func (f *fakeContent) CreateUserSubscription(ctx context.Context, doc *content.UserSubscriptionDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeContent) PatchUserSubscription(ctx context.Context, docID string, patch content.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patches[docID] = append(f.patches[docID], patch)
	return nil
}

func (f *fakeContent) couponUsage(couponID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[couponID]
}

func (f *fakeContent) patchCount(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches[docID])
}

// fakeProcessor is an in-memory payment.Processor recording mint calls
type fakeProcessor struct {
	mu sync.Mutex

	customers map[string]*payment.Customer

	createdPrices   []payment.PriceParams
	createdProducts int
	sessions        []payment.CheckoutParams

	remote        map[string]*payment.Subscription
	cancelledNow  []string
	cancelledSoft []string

	sessionErr error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		customers: make(map[string]*payment.Customer),
		remote:    make(map[string]*payment.Subscription),
	}
}

func (f *fakeProcessor) FindCustomerByEmail(ctx context.Context, email string) (*payment.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customers[email], nil
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, email, userID string) (*payment.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &payment.Customer{
		ID:    "cus_" + userID,
		Email: email,
	}
	f.customers[email] = c
	return c, nil
}

func (f *fakeProcessor) CreateProduct(ctx context.Context, name, description string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdProducts++
	return fmt.Sprintf("prod_%d", f.createdProducts), nil
}

func (f *fakeProcessor) CreatePrice(ctx context.Context, params payment.PriceParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdPrices = append(f.createdPrices, params)
	return fmt.Sprintf("price_%d", len(f.createdPrices)), nil
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, params payment.CheckoutParams) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	f.sessions = append(f.sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(f.sessions))
	return &payment.CheckoutSession{
		ID:  id,
		URL: "https://checkout.example.com/" + id,
	}, nil
}

func (f *fakeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.remote[subscriptionID]
	if !ok {
		return nil, payment.ErrSubscriptionGone
	}
	return sub, nil
}

func (f *fakeProcessor) CancelNow(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.remote[subscriptionID]
	if !ok {
		return nil, payment.ErrSubscriptionGone
	}
	f.cancelledNow = append(f.cancelledNow, subscriptionID)
	sub.Status = "canceled"
	return sub, nil
}

func (f *fakeProcessor) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.remote[subscriptionID]
	if !ok {
		return nil, payment.ErrSubscriptionGone
	}
	f.cancelledSoft = append(f.cancelledSoft, subscriptionID)
	sub.CancelAtPeriodEnd = true
	return sub, nil
}

func newTestManager(t *testing.T, store content.Store) *Manager {
	t.Helper()
	m, err := NewManager(ManagerOptions{
		DB:      newTestDB(t),
		Content: store,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	return m
}
