package catalog

import "time"

// BillingPeriod is the custom type for the billing frequency of a catalog entry
type BillingPeriod string

// Defining supported billing periods. PeriodCustom uses CustomMonths for the length
const (
	PeriodMonthly    BillingPeriod = "monthly"
	PeriodThreeMonth BillingPeriod = "three_month"
	PeriodSixMonth   BillingPeriod = "six_month"
	PeriodAnnual     BillingPeriod = "annually"
	PeriodCustom     BillingPeriod = "other"
)

// Variant is a named price/billing-interval alternative nested under a Subscription.
// It never exists independently of its parent.
type Variant struct {
	Key           string        `json:"key" bson:"key"`
	Title         string        `json:"title" bson:"title"`
	Price         float64       `json:"price" bson:"price"`
	BillingPeriod BillingPeriod `json:"billingPeriod" bson:"billingPeriod"`
	CustomMonths  int           `json:"customBillingPeriodMonths,omitempty" bson:"customBillingPeriodMonths,omitempty"`
	StripePriceID string        `json:"stripePriceId,omitempty" bson:"stripePriceId,omitempty"` // lazily populated cache of the Stripe Price
	IsDefault     bool          `json:"isDefault" bson:"isDefault"`
	IsPopular     bool          `json:"isPopular" bson:"isPopular"`
}

// Feature is a marketing bullet point shown on the plan card
type Feature struct {
	Text string `json:"featureText" bson:"featureText"`
}

// Subscription is a catalog definition in the content store. The core treats it
// as read-only except for the lazy cache-back of Stripe product/price ids.
type Subscription struct {
	ID              string        `json:"id" bson:"_id"`
	Title           string        `json:"title" bson:"title"`
	Price           float64       `json:"price" bson:"price"`
	BillingPeriod   BillingPeriod `json:"billingPeriod" bson:"billingPeriod"`
	CustomMonths    int           `json:"customBillingPeriodMonths,omitempty" bson:"customBillingPeriodMonths,omitempty"`
	StripePriceID   string        `json:"stripePriceId,omitempty" bson:"stripePriceId,omitempty"`
	StripeProductID string        `json:"stripeProductId,omitempty" bson:"stripeProductId,omitempty"`
	HasVariants     bool          `json:"hasVariants" bson:"hasVariants"`
	Variants        []Variant     `json:"variants,omitempty" bson:"variants,omitempty"`

	AppointmentAccess             bool `json:"appointmentAccess" bson:"appointmentAccess"`
	AppointmentDiscountPercentage int  `json:"appointmentDiscountPercentage" bson:"appointmentDiscountPercentage"`

	Features []Feature `json:"features,omitempty" bson:"features,omitempty"`

	AllowCoupons      bool     `json:"allowCoupons" bson:"allowCoupons"`
	ExcludedCouponIDs []string `json:"excludedCoupons,omitempty" bson:"excludedCoupons,omitempty"`

	Active  bool `json:"active" bson:"active"`
	Deleted bool `json:"deleted" bson:"deleted"`
}

// FindVariant returns the variant with the given key, or nil
func (s *Subscription) FindVariant(key string) *Variant {
	for k, v := range s.Variants {
		if v.Key == key {
			return &s.Variants[k]
		}
	}
	return nil
}

// DefaultVariant returns the variant flagged as the default selection, or nil
// if no variant carries the flag
func (s *Subscription) DefaultVariant() *Variant {
	for k, v := range s.Variants {
		if v.IsDefault {
			return &s.Variants[k]
		}
	}
	return nil
}

// Purchasable reports whether the catalog entry can still be sold
func (s *Subscription) Purchasable() bool {
	return s != nil && s.Active && !s.Deleted
}

// DiscountType is the custom type for how a Coupon discounts the price
type DiscountType string

// Defining discount types
const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// CouponTarget scopes a Coupon to a specific Subscription, optionally pinned to
// a single Variant. An empty VariantKey targets the base (no variant) purchase.
type CouponTarget struct {
	SubscriptionID string `json:"subscriptionId" bson:"subscriptionId"`
	VariantKey     string `json:"variantKey,omitempty" bson:"variantKey,omitempty"`
}

// Coupon is a discount code in the content store. An empty Targets slice means
// the coupon applies to the whole catalog.
type Coupon struct {
	ID            string         `json:"id" bson:"_id"`
	Code          string         `json:"code" bson:"code"`
	DiscountType  DiscountType   `json:"discountType" bson:"discountType"`
	DiscountValue float64        `json:"discountValue" bson:"discountValue"`
	Targets       []CouponTarget `json:"applicableSubscriptions,omitempty" bson:"applicableSubscriptions,omitempty"`
	UsageLimit    int            `json:"usageLimit,omitempty" bson:"usageLimit,omitempty"` // 0 means unlimited
	UsageCount    int            `json:"usageCount" bson:"usageCount"`
	ValidFrom     time.Time      `json:"validFrom" bson:"validFrom"`
	ValidUntil    time.Time      `json:"validUntil" bson:"validUntil"`
	IsActive      bool           `json:"isActive" bson:"isActive"`
	MinimumAmount float64        `json:"minimumPurchaseAmount,omitempty" bson:"minimumPurchaseAmount,omitempty"`
}
