package subscription

import (
	"time"

	"github.com/carebound/storefront/catalog"
)

// UserSubscription is the relational copy of a purchase record. Every record
// has a paired document-store copy referenced by DocumentID; the relational
// copy is the source of truth when the two disagree.
type UserSubscription struct {
	ID         string `json:"id" gorm:"primaryKey"`
	UserID     string `json:"userId" gorm:"index"`
	UserEmail  string `json:"userEmail" gorm:"index"`
	DocumentID string `json:"documentId" gorm:"index"` // paired content-store document

	SubscriptionID string `json:"subscriptionId" gorm:"index"` // catalog entry
	PlanName       string `json:"planName"`
	VariantKey     string `json:"variantKey,omitempty"`

	StripeCustomerID     string `json:"stripeCustomerId" gorm:"index"`
	StripeSessionID      string `json:"stripeSessionId" gorm:"index"`
	StripeSubscriptionID string `json:"stripeSubscriptionId" gorm:"index"` // empty until the processor confirms

	BillingAmount float64               `json:"billingAmount"`
	BillingPeriod catalog.BillingPeriod `json:"billingPeriod"`

	CouponCode          string  `json:"couponCode,omitempty"`
	CouponDiscountType  string  `json:"couponDiscountType,omitempty"`
	CouponDiscountValue float64 `json:"couponDiscountValue,omitempty"`
	OriginalPrice       float64 `json:"originalPrice,omitempty"`

	HasAppointmentAccess          bool `json:"hasAppointmentAccess"`
	AppointmentDiscountPercentage int  `json:"appointmentDiscountPercentage"`

	Status    Status `json:"status" gorm:"index"`
	IsActive  bool   `json:"isActive"`
	IsDeleted bool   `json:"isDeleted" gorm:"index"`

	StartDate        time.Time  `json:"startDate"`
	EndDate          *time.Time `json:"endDate,omitempty"`
	NextBillingDate  *time.Time `json:"nextBillingDate,omitempty"`
	CancellationDate *time.Time `json:"cancellationDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName pins the table name shared with the deletion-webhook mapping
func (UserSubscription) TableName() string {
	return "user_subscriptions"
}
