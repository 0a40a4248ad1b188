package payment

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

// StripeOptions provides initialization parameters for the Stripe-backed Processor
type StripeOptions struct {
	StripeClient *client.API
	Logger       *zap.Logger
}

type stripeProcessor struct {
	StripeOptions
}

// NewStripeProcessor returns a Processor backed by the Stripe API
func NewStripeProcessor(option StripeOptions) (Processor, error) {
	if option.StripeClient == nil {
		return nil, fmt.Errorf("nil StripeClient is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &stripeProcessor{
		StripeOptions: option,
	}, nil
}

func (p *stripeProcessor) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	listParams := &stripe.CustomerListParams{
		ListParams: stripe.ListParams{
			Context: ctx,
		},
		Email: stripe.String(email),
	}
	listParams.Filters.AddFilter("limit", "", "1")
	iter := p.StripeClient.Customers.List(listParams)
	for iter.Next() {
		c := iter.Customer()
		return &Customer{
			ID:    c.ID,
			Email: c.Email,
		}, nil
	}
	if iter.Err() != nil {
		return nil, extErrors.Wrap(iter.Err(), "Cannot list customers by email")
	}
	return nil, nil
}

func (p *stripeProcessor) CreateCustomer(ctx context.Context, email, userID string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"userId": userID,
			},
		},
		Email: stripe.String(email),
	}
	c, err := p.StripeClient.Customers.New(params)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create customer on Stripe")
	}
	return &Customer{
		ID:    c.ID,
		Email: c.Email,
	}, nil
}

func (p *stripeProcessor) CreateProduct(ctx context.Context, name, description string, metadata map[string]string) (string, error) {
	params := &stripe.ProductParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: metadata,
		},
		Active:      stripe.Bool(true),
		Name:        stripe.String(name),
		Description: stripe.String(description),
	}
	prod, err := p.StripeClient.Products.New(params)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot create product on Stripe")
	}
	return prod.ID, nil
}

func (p *stripeProcessor) CreatePrice(ctx context.Context, priceParams PriceParams) (string, error) {
	params := &stripe.PriceParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: priceParams.Metadata,
		},
		Active:     stripe.Bool(true),
		Currency:   stripe.String(priceParams.Currency),
		UnitAmount: stripe.Int64(priceParams.UnitAmountCents),
		Product:    stripe.String(priceParams.ProductID),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(priceParams.IntervalUnit),
			IntervalCount: stripe.Int64(priceParams.IntervalCount),
		},
	}
	price, err := p.StripeClient.Prices.New(params)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot create price on Stripe")
	}
	return price.ID, nil
}

func (p *stripeProcessor) CreateCheckoutSession(ctx context.Context, checkoutParams CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: checkoutParams.Metadata,
		},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Customer:           stripe.String(checkoutParams.CustomerID),
		ClientReferenceID:  stripe.String(checkoutParams.ClientReferenceID),
		SuccessURL:         stripe.String(checkoutParams.SuccessURL),
		CancelURL:          stripe.String(checkoutParams.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(checkoutParams.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	session, err := p.StripeClient.CheckoutSessions.New(params)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot create checkout session on Stripe")
	}
	return &CheckoutSession{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}

func (p *stripeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	sub, err := p.StripeClient.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, p.mapError(err, "Cannot fetch subscription from Stripe")
	}
	return fromStripeSubscription(sub), nil
}

func (p *stripeProcessor) CancelNow(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	sub, err := p.StripeClient.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, p.mapError(err, "Cannot cancel subscription on Stripe")
	}
	return fromStripeSubscription(sub), nil
}

func (p *stripeProcessor) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	sub, err := p.StripeClient.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, p.mapError(err, "Cannot mark subscription cancel at period end on Stripe")
	}
	return fromStripeSubscription(sub), nil
}

// mapError translates Stripe's resource_missing into ErrSubscriptionGone so
// callers can proceed with local cancellation when the remote side is gone
func (p *stripeProcessor) mapError(err error, msg string) error {
	if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return ErrSubscriptionGone
	}
	return extErrors.Wrap(err, msg)
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	mapped := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	// leave the zero time in place when the payload has no period end, so
	// IsZero checks downstream do not see 1970-01-01
	if sub.CurrentPeriodEnd > 0 {
		mapped.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0)
	}
	return mapped
}
