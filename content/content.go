package content

import (
	"context"
	"time"

	"github.com/carebound/storefront/catalog"
)

// DocTypeUserSubscription is the document type of purchase records in the
// content store. The deletion webhook maps it back to the relational table.
const DocTypeUserSubscription = "userSubscription"

// UserSubscriptionDoc is the document-store copy of a purchase record. It is
// created pending at checkout time and patched by the webhook reconciler.
type UserSubscriptionDoc struct {
	ID   string `bson:"_id"`
	Type string `bson:"_type"`

	UserID         string `bson:"userId"`
	UserEmail      string `bson:"userEmail"`
	SubscriptionID string `bson:"subscriptionId"`
	VariantKey     string `bson:"variantKey,omitempty"`

	Status   string `bson:"status"`
	IsActive bool   `bson:"isActive"`

	StripeSubscriptionID string `bson:"stripeSubscriptionId"`
	StripeCustomerID     string `bson:"stripeCustomerId"`
	StripeSessionID      string `bson:"stripeSessionId"`

	BillingAmount float64 `bson:"billingAmount"`
	BillingPeriod string  `bson:"billingPeriod"`

	HasAppointmentAccess          bool `bson:"hasAppointmentAccess"`
	AppointmentDiscountPercentage int  `bson:"appointmentDiscountPercentage"`

	AppliedCouponID   string  `bson:"appliedCouponId,omitempty"`
	AppliedCouponCode string  `bson:"appliedCouponCode,omitempty"`
	DiscountType      string  `bson:"discountType,omitempty"`
	DiscountValue     float64 `bson:"discountValue,omitempty"`
	OriginalPrice     float64 `bson:"originalPrice,omitempty"`

	StartDate        time.Time  `bson:"startDate"`
	EndDate          *time.Time `bson:"endDate,omitempty"`
	NextBillingDate  *time.Time `bson:"nextBillingDate,omitempty"`
	CancellationDate *time.Time `bson:"cancellationDate,omitempty"`
}

// Patch holds the absolute values to set on a user subscription document.
// Nil fields are left untouched.
type Patch struct {
	Status               *string
	IsActive             *bool
	StripeSubscriptionID *string
	EndDate              *time.Time
	NextBillingDate      *time.Time
	CancellationDate     *time.Time
}

// Store is the content-store capability the core depends on. The catalog side
// is read-only except for the lazy cache-back of processor ids.
type Store interface {
	// GetSubscription returns (nil, nil) when no catalog entry matches
	GetSubscription(ctx context.Context, id string) (*catalog.Subscription, error)
	// GetCouponByCode returns (nil, nil) when no active coupon matches the
	// normalized code
	GetCouponByCode(ctx context.Context, code string) (*catalog.Coupon, error)

	SetStripeProductID(ctx context.Context, subscriptionID, productID string) error
	// SetStripePriceID caches a minted price id; an empty variantKey targets
	// the base subscription price
	SetStripePriceID(ctx context.Context, subscriptionID, variantKey, priceID string) error
	// IncrementCouponUsage bumps usageCount atomically at the store level
	IncrementCouponUsage(ctx context.Context, couponID string) error

	CreateUserSubscription(ctx context.Context, doc *UserSubscriptionDoc) error
	PatchUserSubscription(ctx context.Context, docID string, patch Patch) error
}
