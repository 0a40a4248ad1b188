package webhook

import (
	"fmt"
	"net/http"

	"github.com/carebound/storefront/adtrack"
	"github.com/carebound/storefront/appointment"
	"github.com/carebound/storefront/crm"
	"github.com/carebound/storefront/order"
	"github.com/carebound/storefront/payment"
	"github.com/carebound/storefront/subscription"

	"github.com/go-chi/chi"
	"go.uber.org/zap"
)

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Records      *subscription.Manager
	Processor    payment.Processor
	Orders       *order.Manager
	Appointments *appointment.Manager
	CRM          *crm.Client
	AdTrack      *adtrack.Client
	Logger       *zap.Logger

	// StripeEndpointSecret verifies the Stripe-Signature header
	StripeEndpointSecret string
	// ContentSecret is the shared secret for the content store's deletion webhook
	ContentSecret string
}

// Service reconciles external events into the local records: payment processor
// webhooks drive the subscription status state machine, and the content store's
// deletion webhook drives soft-delete cascades.
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the webhook router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Records == nil {
		return nil, fmt.Errorf("nil Records is invalid")
	}
	if option.Processor == nil {
		return nil, fmt.Errorf("nil Processor is invalid")
	}
	if option.Orders == nil {
		return nil, fmt.Errorf("nil Orders is invalid")
	}
	if option.Appointments == nil {
		return nil, fmt.Errorf("nil Appointments is invalid")
	}
	if option.CRM == nil {
		return nil, fmt.Errorf("nil CRM is invalid")
	}
	if option.AdTrack == nil {
		return nil, fmt.Errorf("nil AdTrack is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if len(option.StripeEndpointSecret) == 0 {
		return nil, fmt.Errorf("empty StripeEndpointSecret is invalid")
	}
	if len(option.ContentSecret) == 0 {
		return nil, fmt.Errorf("empty ContentSecret is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// Router will return the routes under webhook API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/stripe", s.handleStripe)
	r.Post("/content", s.handleContentDeletion)

	return r
}
