package subscription

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/carebound/storefront/catalog"
	"github.com/carebound/storefront/content"
	"github.com/carebound/storefront/coupon"
	"github.com/carebound/storefront/payment"
	"github.com/carebound/storefront/pricing"
	"github.com/carebound/storefront/util"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const currency = "usd"

// CustomerResolver resolves the processor customer id for a user
type CustomerResolver interface {
	ResolveStripeCustomer(ctx context.Context, userID, email string) (string, error)
}

// CheckoutOptions provides initialization parameters for Checkout
type CheckoutOptions struct {
	Records   *Manager
	Content   content.Store
	Processor payment.Processor
	Coupons   *coupon.Validator
	Customers CustomerResolver
	Logger    *zap.Logger

	// SiteURL is the public base URL for the success/cancel redirects
	SiteURL string
}

// Checkout is the purchase orchestrator: it resolves pricing and coupons,
// ensures the processor-side customer/product/price exist, opens the checkout
// session and persists the paired pending records.
type Checkout struct {
	CheckoutOptions
}

// NewCheckout will return a new instance of the purchase orchestrator
func NewCheckout(option CheckoutOptions) (*Checkout, error) {
	if option.Records == nil {
		return nil, fmt.Errorf("nil Records is invalid")
	}
	if option.Content == nil {
		return nil, fmt.Errorf("nil Content is invalid")
	}
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if option.Coupons == nil {
		return nil, fmt.Errorf("nil Coupons is invalid")
	}
	if option.Customers == nil {
		return nil, fmt.Errorf("nil Customers is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.SiteURL) == 0 {
		return nil, fmt.Errorf("empty SiteURL is invalid")
	}
	return &Checkout{
		CheckoutOptions: option,
	}, nil
}

// PurchaseOptions identifies the purchaser and their selection
type PurchaseOptions struct {
	UserID     string
	UserEmail  string
	VariantKey string
	CouponCode string
}

// PurchaseMetadata echoes the resolved pricing back to the caller
type PurchaseMetadata struct {
	SubscriptionID  string  `json:"subscriptionId"`
	VariantKey      string  `json:"variantKey,omitempty"`
	Price           float64 `json:"price"`
	BillingPeriod   string  `json:"billingPeriod"`
	CouponApplied   bool    `json:"couponApplied,omitempty"`
	CouponCode      string  `json:"couponCode,omitempty"`
	OriginalPrice   float64 `json:"originalPrice,omitempty"`
	DiscountedPrice float64 `json:"discountedPrice,omitempty"`
	DiscountAmount  float64 `json:"discountAmount,omitempty"`
}

// PurchaseResult is returned on a successfully opened checkout session
type PurchaseResult struct {
	SessionID string           `json:"sessionId"`
	URL       string           `json:"url"`
	Metadata  PurchaseMetadata `json:"metadata"`
}

// Purchase runs the checkout workflow for an already-fetched catalog entry.
// Failures before the session creation leave no side effects beyond read-only
// lookups; a session or processor object created without a matching local
// record is recoverable garbage (the session expires unused).
func (c *Checkout) Purchase(ctx context.Context, sub *catalog.Subscription, opt PurchaseOptions) (*PurchaseResult, error) {
	logger := c.Logger.With(
		zap.String("UserID", opt.UserID),
		zap.String("SubscriptionID", sub.ID),
	)

	resolved, err := pricing.ResolveEffectivePrice(sub, opt.VariantKey)
	if err != nil {
		return nil, err
	}

	effectivePrice := resolved.Price
	originalPrice := resolved.Price

	var applied *coupon.Applied
	if len(opt.CouponCode) > 0 {
		if !sub.AllowCoupons {
			logger.Warn("Coupon supplied for a subscription that does not permit coupons",
				zap.String("CouponCode", opt.CouponCode),
			)
			return nil, &coupon.ValidationError{
				Reason:  coupon.ReasonNotApplicable,
				Message: "Coupons cannot be applied to this subscription",
			}
		}
		variantKey := ""
		if resolved.Variant != nil {
			variantKey = resolved.Variant.Key
		}
		applied, err = c.Coupons.Validate(ctx, opt.CouponCode, sub, variantKey, effectivePrice)
		if err != nil {
			// invalid coupons abort the purchase instead of silently charging full price
			logger.Warn("Coupon validation failed",
				zap.String("CouponCode", opt.CouponCode),
				zap.Error(err),
			)
			return nil, err
		}
		effectivePrice = applied.DiscountedPrice
	}

	stripeCustomerID, err := c.Customers.ResolveStripeCustomer(ctx, opt.UserID, opt.UserEmail)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot resolve processor customer")
	}

	stripeProductID, err := c.ensureProduct(ctx, sub, logger)
	if err != nil {
		return nil, err
	}

	stripePriceID, err := c.ensurePrice(ctx, sub, resolved, applied, effectivePrice, originalPrice, stripeProductID, logger)
	if err != nil {
		return nil, err
	}

	variantKey := ""
	if resolved.Variant != nil {
		variantKey = resolved.Variant.Key
	}

	sessionMetadata := map[string]string{
		"userId":           opt.UserID,
		"userEmail":        opt.UserEmail,
		"subscriptionId":   sub.ID,
		"variantKey":       variantKey,
		"subscriptionType": "subscription",
	}
	if applied != nil {
		sessionMetadata["couponId"] = applied.Coupon.ID
		sessionMetadata["couponCode"] = applied.Coupon.Code
		sessionMetadata["originalPrice"] = strconv.FormatFloat(originalPrice, 'f', -1, 64)
		sessionMetadata["discountedPrice"] = strconv.FormatFloat(effectivePrice, 'f', -1, 64)
	}

	session, err := c.Processor.CreateCheckoutSession(ctx, payment.CheckoutParams{
		CustomerID:        stripeCustomerID,
		PriceID:           stripePriceID,
		SuccessURL:        fmt.Sprintf("%s/appointment?subscription_success=true&session_id={CHECKOUT_SESSION_ID}", c.SiteURL),
		CancelURL:         fmt.Sprintf("%s/subscriptions?canceled=true", c.SiteURL),
		ClientReferenceID: opt.UserID,
		Metadata:          sessionMetadata,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create checkout session")
	}

	startDate := time.Now()
	doc := &content.UserSubscriptionDoc{
		ID:                            shortuuid.New(),
		Type:                          content.DocTypeUserSubscription,
		UserID:                        opt.UserID,
		UserEmail:                     opt.UserEmail,
		SubscriptionID:                sub.ID,
		VariantKey:                    variantKey,
		Status:                        string(StatusPending),
		IsActive:                      false,
		StripeCustomerID:              stripeCustomerID,
		StripeSessionID:               session.ID,
		BillingAmount:                 effectivePrice,
		BillingPeriod:                 string(resolved.BillingPeriod),
		HasAppointmentAccess:          sub.AppointmentAccess,
		AppointmentDiscountPercentage: sub.AppointmentDiscountPercentage,
		StartDate:                     startDate,
	}
	rec := &UserSubscription{
		ID:                            uuid.New().String(),
		UserID:                        opt.UserID,
		UserEmail:                     opt.UserEmail,
		SubscriptionID:                sub.ID,
		PlanName:                      sub.Title,
		VariantKey:                    variantKey,
		StripeCustomerID:              stripeCustomerID,
		StripeSessionID:               session.ID,
		BillingAmount:                 effectivePrice,
		BillingPeriod:                 resolved.BillingPeriod,
		HasAppointmentAccess:          sub.AppointmentAccess,
		AppointmentDiscountPercentage: sub.AppointmentDiscountPercentage,
		StartDate:                     startDate,
	}
	if applied != nil {
		doc.AppliedCouponID = applied.Coupon.ID
		doc.AppliedCouponCode = applied.Coupon.Code
		doc.DiscountType = string(applied.Coupon.DiscountType)
		doc.DiscountValue = applied.Coupon.DiscountValue
		doc.OriginalPrice = originalPrice
		rec.CouponCode = applied.Coupon.Code
		rec.CouponDiscountType = string(applied.Coupon.DiscountType)
		rec.CouponDiscountValue = applied.Coupon.DiscountValue
		rec.OriginalPrice = originalPrice
	}

	if err := c.Records.CreatePending(ctx, rec, doc); err != nil {
		return nil, err
	}

	if applied != nil {
		// only counted once the pending record persisted; under-counting is
		// preferred over blocking checkout
		couponID := applied.Coupon.ID
		util.Detach(logger, "coupon-usage-increment", func(ctx context.Context) error {
			return c.Content.IncrementCouponUsage(ctx, couponID)
		})
	}

	metadata := PurchaseMetadata{
		SubscriptionID: sub.ID,
		VariantKey:     variantKey,
		Price:          effectivePrice,
		BillingPeriod:  string(resolved.BillingPeriod),
	}
	if applied != nil {
		metadata.CouponApplied = true
		metadata.CouponCode = applied.Coupon.Code
		metadata.OriginalPrice = originalPrice
		metadata.DiscountedPrice = effectivePrice
		metadata.DiscountAmount = applied.DiscountAmount
	}

	return &PurchaseResult{
		SessionID: session.ID,
		URL:       session.URL,
		Metadata:  metadata,
	}, nil
}

// ensureProduct lazily creates the processor product for the catalog entry and
// caches the id back into the content store without blocking the purchase
func (c *Checkout) ensureProduct(ctx context.Context, sub *catalog.Subscription, logger *zap.Logger) (string, error) {
	if len(sub.StripeProductID) > 0 {
		return sub.StripeProductID, nil
	}
	productID, err := c.Processor.CreateProduct(ctx, sub.Title, fmt.Sprintf("%s subscription", sub.Title), map[string]string{
		"contentId": sub.ID,
	})
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot create processor product")
	}
	subID := sub.ID
	util.Detach(logger, "product-id-cache-back", func(ctx context.Context) error {
		return c.Content.SetStripeProductID(ctx, subID, productID)
	})
	return productID, nil
}

// ensurePrice picks the processor price for this purchase. Cached ids are only
// reused for undiscounted purchases; a coupon always mints a fresh one-time
// price tagged with the coupon metadata so the discount never leaks to future
// buyers through the cache.
func (c *Checkout) ensurePrice(ctx context.Context, sub *catalog.Subscription, resolved *pricing.Resolved, applied *coupon.Applied, effectivePrice, originalPrice float64, stripeProductID string, logger *zap.Logger) (string, error) {
	interval := pricing.IntervalFor(resolved.BillingPeriod, resolved.CustomMonths)
	variantKey := ""
	if resolved.Variant != nil {
		variantKey = resolved.Variant.Key
	}

	if applied != nil {
		priceID, err := c.Processor.CreatePrice(ctx, payment.PriceParams{
			ProductID:       stripeProductID,
			UnitAmountCents: pricing.ToCents(effectivePrice),
			Currency:        currency,
			IntervalUnit:    interval.Unit,
			IntervalCount:   interval.Count,
			Metadata: map[string]string{
				"contentId":     sub.ID,
				"variantKey":    variantKey,
				"billingPeriod": string(resolved.BillingPeriod),
				"couponCode":    applied.Coupon.Code,
				"originalPrice": strconv.FormatFloat(originalPrice, 'f', -1, 64),
				"tempPrice":     "true",
			},
		})
		if err != nil {
			return "", extErrors.Wrap(err, "Cannot create discounted processor price")
		}
		return priceID, nil
	}

	if resolved.Variant != nil && len(resolved.Variant.StripePriceID) > 0 {
		return resolved.Variant.StripePriceID, nil
	}
	if resolved.Variant == nil && len(sub.StripePriceID) > 0 {
		return sub.StripePriceID, nil
	}

	priceID, err := c.Processor.CreatePrice(ctx, payment.PriceParams{
		ProductID:       stripeProductID,
		UnitAmountCents: pricing.ToCents(effectivePrice),
		Currency:        currency,
		IntervalUnit:    interval.Unit,
		IntervalCount:   interval.Count,
		Metadata: map[string]string{
			"contentId":     sub.ID,
			"variantKey":    variantKey,
			"billingPeriod": string(resolved.BillingPeriod),
		},
	})
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot create processor price")
	}
	subID := sub.ID
	util.Detach(logger, "price-id-cache-back", func(ctx context.Context) error {
		return c.Content.SetStripePriceID(ctx, subID, variantKey, priceID)
	})
	return priceID, nil
}
