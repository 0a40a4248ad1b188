package subscription

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/carebound/storefront/auth"
	"github.com/carebound/storefront/catalog"
	"github.com/carebound/storefront/content"
	"github.com/carebound/storefront/coupon"
	"github.com/carebound/storefront/limiter"
	"github.com/carebound/storefront/pricing"
	resp "github.com/carebound/storefront/response"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	Auth            *auth.Auth
	Catalog         content.Store
	Checkout        *Checkout
	Canceller       *Canceller
	Records         *Manager
	PurchaseLimiter *limiter.Limiter
	CancelLimiter   *limiter.Limiter
	Logger          *zap.Logger
}

// Service is the subscription API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.Auth == nil {
		return nil, fmt.Errorf("nil Auth is invalid")
	}
	if option.Catalog == nil {
		return nil, fmt.Errorf("nil Catalog is invalid")
	}
	if option.Checkout == nil {
		return nil, fmt.Errorf("nil Checkout is invalid")
	}
	if option.Canceller == nil {
		return nil, fmt.Errorf("nil Canceller is invalid")
	}
	if option.Records == nil {
		return nil, fmt.Errorf("nil Records is invalid")
	}
	if option.PurchaseLimiter == nil {
		return nil, fmt.Errorf("nil PurchaseLimiter is invalid")
	}
	if option.CancelLimiter == nil {
		return nil, fmt.Errorf("nil CancelLimiter is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// PurchaseRequest contains the request from client to purchase a subscription
type PurchaseRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	VariantKey     string `json:"variantKey,omitempty"`
	CouponCode     string `json:"couponCode,omitempty" validate:"omitempty,max=64"`
}

func (s *Service) purchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("subscriptionId is required"))
		return
	}

	// session verification and the catalog fetch are independent, run them
	// concurrently
	var (
		claims *auth.Claims
		sub    *catalog.Subscription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.Auth.VerifyRequest(r)
		if err != nil {
			return err
		}
		claims = c
		return nil
	})
	g.Go(func() error {
		fetched, err := s.Catalog.GetSubscription(gctx, req.SubscriptionID)
		if err != nil {
			return err
		}
		sub = fetched
		return nil
	})
	if err := g.Wait(); err != nil {
		s.Logger.Error("Unable to verify session or fetch catalog entry",
			zap.String("SubscriptionID", req.SubscriptionID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}

	if claims == nil {
		resp.WriteError(w, r, resp.ErrNoBearer())
		return
	}

	logger := s.Logger.With(
		zap.String("UserID", claims.ID),
		zap.String("SubscriptionID", req.SubscriptionID),
	)

	if sub == nil || !sub.Purchasable() {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Subscription not found or not available for purchase"))
		return
	}

	allowed, err := s.PurchaseLimiter.Allow(claims.ID)
	if err != nil {
		logger.Error("Unable to check purchase rate limit",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}
	if !allowed {
		resp.WriteError(w, r, resp.ErrTooManyRequests())
		return
	}

	result, err := s.Checkout.Purchase(ctx, sub, PurchaseOptions{
		UserID:     claims.ID,
		UserEmail:  claims.Email,
		VariantKey: req.VariantKey,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		s.writePurchaseError(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, result)
}

func (s *Service) writePurchaseError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	if vErr, ok := err.(*pricing.ErrVariantNotFound); ok {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages(vErr.Error()))
		return
	}
	if cErr := coupon.AsValidationError(err); cErr != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(cErr.Message))
		return
	}
	logger.Error("Unable to complete checkout workflow",
		zap.Error(err),
	)
	resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
}

// CancelRequest contains the request from client to cancel a subscription.
// SubscriptionID accepts both the local record id and the processor
// subscription id.
type CancelRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	Immediate      *bool  `json:"immediate,omitempty"`
}

// cancelImmediately resolves the requested cancellation mode. Omitting the
// field cancels now; clients opt in to the at-period-end wind down.
func (req *CancelRequest) cancelImmediately() bool {
	if req.Immediate == nil {
		return true
	}
	return *req.Immediate
}

func (s *Service) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(
		zap.String("UserID", claims.ID),
	)

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("subscriptionId is required"))
		return
	}

	allowed, err := s.CancelLimiter.Allow(claims.ID)
	if err != nil {
		logger.Error("Unable to check cancel rate limit",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to cancel subscription"))
		return
	}
	if !allowed {
		resp.WriteError(w, r, resp.ErrTooManyRequests())
		return
	}

	result, err := s.Canceller.Cancel(ctx, CancelOptions{
		UserID:    claims.ID,
		ID:        req.SubscriptionID,
		Immediate: req.cancelImmediately(),
	})
	switch {
	case err == ErrRecordNotFound:
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Cannot find subscription with specific ID"))
		return
	case err == ErrNotOwner:
		resp.WriteError(w, r, resp.ErrForbidden().AddMessages("Subscription belongs to another user"))
		return
	case err != nil:
		logger.Error("Unable to cancel subscription",
			zap.String("ID", req.SubscriptionID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to cancel subscription"))
		return
	}

	resp.WriteResponse(w, r, result)
}

func (s *Service) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	results, err := s.Records.ListByUser(ctx, claims.ID)
	if err != nil {
		s.Logger.Error("Unable to list subscriptions by user id",
			zap.String("UserID", claims.ID),
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Cannot get the list of subscriptions"))
		return
	}

	resp.WriteResponse(w, r, results)
}

// Router will return the routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.purchase)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.Middleware())
		r.Get("/", s.list)
		r.Post("/cancel", s.cancel)
	})

	return r
}
