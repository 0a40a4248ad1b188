package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carebound/storefront/adtrack"
	"github.com/carebound/storefront/appointment"
	"github.com/carebound/storefront/catalog"
	"github.com/carebound/storefront/content"
	"github.com/carebound/storefront/crm"
	"github.com/carebound/storefront/order"
	"github.com/carebound/storefront/payment"
	"github.com/carebound/storefront/subscription"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]*content.UserSubscriptionDoc
	patches map[string][]content.Patch
}

func (f *fakeStore) GetSubscription(ctx context.Context, id string) (*catalog.Subscription, error) {
	return nil, nil
}

func (f *fakeStore) GetCouponByCode(ctx context.Context, code string) (*catalog.Coupon, error) {
	return nil, nil
}

func (f *fakeStore) SetStripeProductID(ctx context.Context, subscriptionID, productID string) error {
	return nil
}

func (f *fakeStore) SetStripePriceID(ctx context.Context, subscriptionID, variantKey, priceID string) error {
	return nil
}

func (f *fakeStore) IncrementCouponUsage(ctx context.Context, couponID string) error {
	return nil
}

func (f *fakeStore) CreateUserSubscription(ctx context.Context, doc *content.UserSubscriptionDoc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeStore) PatchUserSubscription(ctx context.Context, docID string, patch content.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches[docID] = append(f.patches[docID], patch)
	return nil
}

type fakeProcessor struct {
	remote map[string]*payment.Subscription
}

func (f *fakeProcessor) FindCustomerByEmail(ctx context.Context, email string) (*payment.Customer, error) {
	return nil, nil
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, email, userID string) (*payment.Customer, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeProcessor) CreateProduct(ctx context.Context, name, description string, metadata map[string]string) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeProcessor) CreatePrice(ctx context.Context, params payment.PriceParams) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, params payment.CheckoutParams) (*payment.CheckoutSession, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	sub, ok := f.remote[subscriptionID]
	if !ok {
		return nil, payment.ErrSubscriptionGone
	}
	return sub, nil
}

func (f *fakeProcessor) CancelNow(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeProcessor) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*payment.Subscription, error) {
	return nil, fmt.Errorf("not implemented")
}

type fixture struct {
	service      *Service
	store        *fakeStore
	processor    *fakeProcessor
	records      *subscription.Manager
	orders       *order.Manager
	appointments *appointment.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := &fakeStore{
		docs:    make(map[string]*content.UserSubscriptionDoc),
		patches: make(map[string][]content.Patch),
	}
	processor := &fakeProcessor{
		remote: make(map[string]*payment.Subscription),
	}

	records, err := subscription.NewManager(subscription.ManagerOptions{
		DB:      db,
		Content: store,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	orders, err := order.NewManager(order.ManagerOptions{
		DB:     db,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	appointments, err := appointment.NewManager(appointment.ManagerOptions{
		DB:     db,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	crmClient, err := crm.New(crm.Options{
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	adTrackClient, err := adtrack.New(adtrack.Options{
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)

	service, err := NewService(ServiceOptions{
		Records:              records,
		Processor:            processor,
		Orders:               orders,
		Appointments:         appointments,
		CRM:                  crmClient,
		AdTrack:              adTrackClient,
		Logger:               zap.NewNop(),
		StripeEndpointSecret: "whsec_test",
		ContentSecret:        "content-secret",
	})
	require.NoError(t, err)

	return &fixture{
		service:      service,
		store:        store,
		processor:    processor,
		records:      records,
		orders:       orders,
		appointments: appointments,
	}
}

func (f *fixture) seedPending(t *testing.T, sessionID string) *subscription.UserSubscription {
	t.Helper()
	rec := &subscription.UserSubscription{
		ID:              uuid.New().String(),
		UserID:          "user-1",
		UserEmail:       "patient@example.com",
		SubscriptionID:  "plan-weight",
		PlanName:        "Weight Management",
		StripeSessionID: sessionID,
		BillingAmount:   99,
	}
	doc := &content.UserSubscriptionDoc{
		ID:   "doc-" + sessionID,
		Type: content.DocTypeUserSubscription,
	}
	require.NoError(t, f.records.CreatePending(context.Background(), rec, doc))
	return rec
}

func event(t *testing.T, eventType string, payload interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_" + uuid.New().String()[:8],
		Type: eventType,
		Data: &stripe.EventData{
			Raw: raw,
		},
	}
}

func TestCheckoutCompletedLinksSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedPending(t, "cs_test_1")

	ev := event(t, "checkout.session.completed", map[string]interface{}{
		"id":           "cs_test_1",
		"subscription": "sub_123",
	})
	require.NoError(t, f.service.HandleEvent(ctx, ev))

	updated, err := f.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, updated.Status)
	require.True(t, updated.IsActive)
	require.Equal(t, "sub_123", updated.StripeSubscriptionID)

	// replaying the delivery converges on the same state
	require.NoError(t, f.service.HandleEvent(ctx, ev))
	replayed, err := f.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, replayed.Status)
	require.Equal(t, "sub_123", replayed.StripeSubscriptionID)
}

func TestCheckoutCompletedWithoutSubscriptionIgnored(t *testing.T) {
	f := newFixture(t)

	ev := event(t, "checkout.session.completed", map[string]interface{}{
		"id": "cs_one_time",
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), ev))
}

func linkSubscription(t *testing.T, f *fixture, rec *subscription.UserSubscription, subID string) {
	t.Helper()
	ev := event(t, "checkout.session.completed", map[string]interface{}{
		"id":           rec.StripeSessionID,
		"subscription": subID,
	})
	require.NoError(t, f.service.HandleEvent(context.Background(), ev))
}

func TestInvoicePaymentSucceededRenews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedPending(t, "cs_test_1")
	linkSubscription(t, f, rec, "sub_123")

	periodEnd := time.Now().Add(time.Hour * 24 * 30).Truncate(time.Second)
	f.processor.remote["sub_123"] = &payment.Subscription{
		ID:               "sub_123",
		Status:           "active",
		CurrentPeriodEnd: periodEnd,
	}

	ev := event(t, "invoice.payment_succeeded", map[string]interface{}{
		"id":           "in_1",
		"subscription": "sub_123",
	})
	require.NoError(t, f.service.HandleEvent(ctx, ev))

	updated, err := f.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, updated.Status)
	require.True(t, updated.IsActive)
	require.NotNil(t, updated.NextBillingDate)
	require.WithinDuration(t, periodEnd, *updated.NextBillingDate, time.Second)

	// deliveries are at-least-once, replaying converges on the same state
	require.NoError(t, f.service.HandleEvent(ctx, ev))
	replayed, err := f.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusActive, replayed.Status)
	require.True(t, replayed.IsActive)
	require.NotNil(t, replayed.EndDate)
	require.WithinDuration(t, *updated.EndDate, *replayed.EndDate, time.Second)
	require.WithinDuration(t, *updated.NextBillingDate, *replayed.NextBillingDate, time.Second)
}

func TestInvoicePaymentSucceededUnknownRecordRetries(t *testing.T) {
	f := newFixture(t)

	ev := event(t, "invoice.payment_succeeded", map[string]interface{}{
		"id":           "in_1",
		"subscription": "sub_unknown",
	})
	err := f.service.HandleEvent(context.Background(), ev)
	require.ErrorIs(t, err, errRecordNotFound)
}

func TestInvoicePaymentFailedUnknownRecordRetries(t *testing.T) {
	f := newFixture(t)

	ev := event(t, "invoice.payment_failed", map[string]interface{}{
		"id":           "in_2",
		"subscription": "sub_unknown",
	})
	err := f.service.HandleEvent(context.Background(), ev)
	require.ErrorIs(t, err, errRecordNotFound)
}

func TestInvoicePaymentFailedMarksPastDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedPending(t, "cs_test_1")
	linkSubscription(t, f, rec, "sub_123")

	ev := event(t, "invoice.payment_failed", map[string]interface{}{
		"id":           "in_2",
		"subscription": "sub_123",
	})
	require.NoError(t, f.service.HandleEvent(ctx, ev))

	updated, err := f.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusPastDue, updated.Status)
	// access continues during the retry window
	require.True(t, updated.IsActive)
}

func TestSubscriptionUpdatedSchedulesCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedPending(t, "cs_test_1")
	linkSubscription(t, f, rec, "sub_123")

	periodEnd := time.Now().Add(time.Hour * 24 * 12).Unix()
	ev := event(t, "customer.subscription.updated", map[string]interface{}{
		"id":                   "sub_123",
		"status":               "active",
		"cancel_at_period_end": true,
		"current_period_end":   periodEnd,
	})
	require.NoError(t, f.service.HandleEvent(ctx, ev))

	updated, err := f.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusCancelling, updated.Status)
	require.True(t, updated.IsActive)
	require.NotNil(t, updated.EndDate)
	require.WithinDuration(t, time.Unix(periodEnd, 0), *updated.EndDate, time.Second)
}

func TestSubscriptionDeletedCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedPending(t, "cs_test_1")
	linkSubscription(t, f, rec, "sub_123")

	ev := event(t, "customer.subscription.deleted", map[string]interface{}{
		"id":     "sub_123",
		"status": "canceled",
	})
	require.NoError(t, f.service.HandleEvent(ctx, ev))

	updated, err := f.records.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, subscription.StatusCancelled, updated.Status)
	require.False(t, updated.IsActive)
	require.NotNil(t, updated.CancellationDate)
}

func TestStripeEndpointRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.service.Router())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/stripe", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func contentDeletionRequest(t *testing.T, url, secret string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url+"/content", bytes.NewReader(body))
	require.NoError(t, err)
	if len(secret) > 0 {
		req.Header.Set(contentSecretHeader, secret)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func TestContentDeletionRequiresSecret(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.service.Router())
	defer srv.Close()

	res := contentDeletionRequest(t, srv.URL, "wrong", map[string]string{
		"_id":   "doc-1",
		"_type": "userSubscription",
	})
	defer res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestContentDeletionCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.seedPending(t, "cs_test_1")

	granted := &appointment.UserAppointment{
		ID:                 uuid.New().String(),
		UserID:             "user-1",
		UserSubscriptionID: rec.ID,
		ScheduledAt:        time.Now().Add(time.Hour * 48),
		Status:             appointment.StatusScheduled,
	}
	require.NoError(t, f.appointments.Create(ctx, granted))

	srv := httptest.NewServer(f.service.Router())
	defer srv.Close()

	res := contentDeletionRequest(t, srv.URL, "content-secret", map[string]string{
		"_id":   rec.DocumentID,
		"_type": "userSubscription",
	})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	remaining, err := f.records.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, remaining)

	appts, err := f.appointments.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, appts)
}

func TestContentDeletionUnknownTypeIgnored(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.service.Router())
	defer srv.Close()

	res := contentDeletionRequest(t, srv.URL, "content-secret", map[string]string{
		"_id":   "doc-x",
		"_type": "blogPost",
	})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestContentDeletionOfOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := &order.Order{
		ID:         uuid.New().String(),
		UserID:     "user-1",
		DocumentID: "doc-order-1",
		Status:     order.StatusPaid,
		Items: []order.OrderItem{
			{
				ID:          uuid.New().String(),
				ProductName: "Starter Kit",
				Quantity:    1,
				UnitPrice:   49,
			},
			{
				ID:          uuid.New().String(),
				ProductName: "Refill Pack",
				Quantity:    2,
				UnitPrice:   19,
			},
		},
	}
	require.NoError(t, f.orders.Create(ctx, o))

	srv := httptest.NewServer(f.service.Router())
	defer srv.Close()

	res := contentDeletionRequest(t, srv.URL, "content-secret", map[string]string{
		"_id":   "doc-order-1",
		"_type": "order",
	})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	remaining, err := f.orders.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, remaining)

	// line items are flagged alongside the order
	deleted, err := f.orders.GetByDocumentID(ctx, "doc-order-1")
	require.NoError(t, err)
	require.True(t, deleted.IsDeleted)
	require.Len(t, deleted.Items, 2)
	for _, item := range deleted.Items {
		require.True(t, item.IsDeleted)
	}
}
