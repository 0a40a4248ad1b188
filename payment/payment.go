package payment

import (
	"context"
	"errors"
	"time"
)

// ErrSubscriptionGone is returned when the processor reports that the
// subscription no longer exists upstream. Callers proceed with local state
// changes instead of failing.
var ErrSubscriptionGone = errors.New("subscription no longer exists at the payment processor")

// Customer is the processor-side customer handle
type Customer struct {
	ID    string
	Email string
}

// PriceParams describes a recurring price to mint at the processor
type PriceParams struct {
	ProductID       string
	UnitAmountCents int64
	Currency        string
	IntervalUnit    string // "month" or "year"
	IntervalCount   int64
	Metadata        map[string]string
}

// CheckoutParams describes a subscription-mode checkout session. Metadata must
// carry enough context for the webhook reconciler to avoid a second lookup.
type CheckoutParams struct {
	CustomerID        string
	PriceID           string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
}

// CheckoutSession is the opened session the purchaser gets redirected to
type CheckoutSession struct {
	ID  string
	URL string
}

// Subscription is the processor-side view of a recurring subscription
type Subscription struct {
	ID                string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
}

// Processor is the external payment capability the core depends on. The
// concrete implementation wraps Stripe; tests substitute fakes.
type Processor interface {
	// FindCustomerByEmail returns (nil, nil) when no customer matches
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email, userID string) (*Customer, error)
	CreateProduct(ctx context.Context, name, description string, metadata map[string]string) (string, error)
	CreatePrice(ctx context.Context, params PriceParams) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// CancelNow cancels immediately; CancelAtPeriodEnd leaves the subscription
	// usable until the period ends. Both return ErrSubscriptionGone when the
	// subscription is already gone upstream.
	CancelNow(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)
}
