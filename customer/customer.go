package customer

import "time"

// Customer maps an authenticated user to their payment-processor customer.
// The row is a cache of the processor-side lookup keyed by email.
type Customer struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	UserID           string    `json:"userId" gorm:"index"`
	Email            string    `json:"email" gorm:"uniqueIndex"`
	StripeCustomerID string    `json:"stripeCustomerId" gorm:"index"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
