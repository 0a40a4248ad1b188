package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carebound/storefront/catalog"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Reason identifies why a coupon failed validation
type Reason string

// Defining validation failure reasons
const (
	ReasonNotFound      Reason = "NotFound"
	ReasonExpired       Reason = "Expired"
	ReasonExhausted     Reason = "Exhausted"
	ReasonMinimumNotMet Reason = "MinimumNotMet"
	ReasonNotApplicable Reason = "NotApplicable"
)

// ValidationError carries the reason a coupon was rejected. The message is safe
// to surface to the purchaser.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AsValidationError unwraps err into a *ValidationError, or nil
func AsValidationError(err error) *ValidationError {
	vErr, ok := err.(*ValidationError)
	if !ok {
		return nil
	}
	return vErr
}

// Lookup fetches an active coupon by its normalized code from the content
// store. Implementations return (nil, nil) when no active coupon matches.
type Lookup interface {
	GetCouponByCode(ctx context.Context, code string) (*catalog.Coupon, error)
}

// Options provides initialization parameters for Validator
type Options struct {
	Lookup Lookup
	Logger *zap.Logger

	// Now overrides the clock for the validity-window check. Defaults to time.Now.
	Now func() time.Time
}

// Validator performs the read-only coupon checks. Incrementing usage is the
// purchase flow's responsibility, after the pending record persisted, so
// Validate can be re-called without side effects.
type Validator struct {
	Options
}

// NewValidator will return a new instance of Validator
func NewValidator(option Options) (*Validator, error) {
	if option.Lookup == nil {
		return nil, fmt.Errorf("nil Lookup is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Validator{
		Options: option,
	}, nil
}

// Applied is the result of a successful validation
type Applied struct {
	Coupon          *catalog.Coupon
	DiscountedPrice float64
	DiscountAmount  float64
}

// NormalizeCode uppercases and trims a coupon code for case-insensitive matching
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the coupon against its validity window, usage limit, minimum
// purchase amount and applicability scope, then computes the discounted price.
// The discounted price is clamped at zero; a fixed discount larger than the
// price caps the discount amount at the original price.
func (v *Validator) Validate(ctx context.Context, code string, sub *catalog.Subscription, variantKey string, currentPrice float64) (*Applied, error) {
	normalized := NormalizeCode(code)

	c, err := v.Lookup.GetCouponByCode(ctx, normalized)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot look up coupon")
	}
	if c == nil || !c.IsActive {
		return nil, &ValidationError{
			Reason:  ReasonNotFound,
			Message: "Coupon not found or inactive",
		}
	}

	now := v.Now()
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return nil, &ValidationError{
			Reason:  ReasonExpired,
			Message: "Coupon has expired or is not yet valid",
		}
	}

	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return nil, &ValidationError{
			Reason:  ReasonExhausted,
			Message: "Coupon usage limit exceeded",
		}
	}

	if c.MinimumAmount > 0 && currentPrice < c.MinimumAmount {
		return nil, &ValidationError{
			Reason:  ReasonMinimumNotMet,
			Message: fmt.Sprintf("Minimum purchase amount of $%.2f required", c.MinimumAmount),
		}
	}

	for _, excluded := range sub.ExcludedCouponIDs {
		if excluded == c.ID {
			return nil, &ValidationError{
				Reason:  ReasonNotApplicable,
				Message: "Coupon not applicable to this subscription",
			}
		}
	}

	if !applicable(c, sub.ID, variantKey) {
		return nil, &ValidationError{
			Reason:  ReasonNotApplicable,
			Message: "Coupon not applicable to this subscription",
		}
	}

	discounted, amount := discount(c, currentPrice)

	v.Logger.Debug("Coupon validated",
		zap.String("Code", c.Code),
		zap.Float64("DiscountAmount", amount),
	)

	return &Applied{
		Coupon:          c,
		DiscountedPrice: discounted,
		DiscountAmount:  amount,
	}, nil
}

// applicable checks the coupon scope. An empty target list applies everywhere.
// A target pinned to a variant only matches a purchase of that exact variant,
// and a target without a variant only matches a base (no variant) purchase.
func applicable(c *catalog.Coupon, subscriptionID, variantKey string) bool {
	if len(c.Targets) == 0 {
		return true
	}
	for _, target := range c.Targets {
		if target.SubscriptionID != subscriptionID {
			continue
		}
		if target.VariantKey == variantKey {
			return true
		}
	}
	return false
}

func discount(c *catalog.Coupon, price float64) (discounted float64, amount float64) {
	switch c.DiscountType {
	case catalog.DiscountPercentage:
		amount = price * c.DiscountValue / 100
	default:
		amount = c.DiscountValue
	}
	discounted = price - amount
	if discounted < 0 {
		discounted = 0
		amount = price
	}
	return discounted, amount
}
