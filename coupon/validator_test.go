package coupon

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/carebound/storefront/catalog"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLookup struct {
	coupons map[string]*catalog.Coupon
	err     error
	lastReq string
}

func (f *fakeLookup) GetCouponByCode(ctx context.Context, code string) (*catalog.Coupon, error) {
	f.lastReq = code
	if f.err != nil {
		return nil, f.err
	}
	return f.coupons[code], nil
}

var frozenNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T, coupons ...*catalog.Coupon) (*Validator, *fakeLookup) {
	t.Helper()
	lookup := &fakeLookup{
		coupons: make(map[string]*catalog.Coupon),
	}
	for _, c := range coupons {
		lookup.coupons[c.Code] = c
	}
	v, err := NewValidator(Options{
		Lookup: lookup,
		Logger: zap.NewNop(),
		Now: func() time.Time {
			return frozenNow
		},
	})
	require.NoError(t, err)
	return v, lookup
}

func validCoupon() *catalog.Coupon {
	return &catalog.Coupon{
		ID:            "coupon-1",
		Code:          "SAVE20",
		DiscountType:  catalog.DiscountPercentage,
		DiscountValue: 20,
		ValidFrom:     frozenNow.Add(-time.Hour * 24),
		ValidUntil:    frozenNow.Add(time.Hour * 24),
		IsActive:      true,
	}
}

func plainSub() *catalog.Subscription {
	return &catalog.Subscription{
		ID:           "plan-1",
		AllowCoupons: true,
	}
}

func TestValidateNormalizesCode(t *testing.T) {
	v, lookup := newTestValidator(t, validCoupon())

	applied, err := v.Validate(context.Background(), "  save20 ", plainSub(), "", 100)
	require.NoError(t, err)
	require.Equal(t, "SAVE20", lookup.lastReq)
	require.Equal(t, float64(80), applied.DiscountedPrice)
	require.Equal(t, float64(20), applied.DiscountAmount)
}

func TestValidateUnknownCode(t *testing.T) {
	v, _ := newTestValidator(t)

	applied, err := v.Validate(context.Background(), "NOPE", plainSub(), "", 100)
	require.Nil(t, applied)
	vErr := AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonNotFound, vErr.Reason)
}

func TestValidateWindowBoundsInclusive(t *testing.T) {
	onBoundary := validCoupon()
	onBoundary.ValidFrom = frozenNow
	onBoundary.ValidUntil = frozenNow
	v, _ := newTestValidator(t, onBoundary)

	// exactly on both boundaries still validates
	applied, err := v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	require.NoError(t, err)
	require.NotNil(t, applied)

	expired := validCoupon()
	expired.ValidUntil = frozenNow.Add(-time.Second)
	v, _ = newTestValidator(t, expired)

	_, err = v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	vErr := AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonExpired, vErr.Reason)

	early := validCoupon()
	early.ValidFrom = frozenNow.Add(time.Second)
	v, _ = newTestValidator(t, early)

	_, err = v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	vErr = AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonExpired, vErr.Reason)
}

func TestValidateUsageLimit(t *testing.T) {
	exhausted := validCoupon()
	exhausted.UsageLimit = 5
	exhausted.UsageCount = 5
	v, _ := newTestValidator(t, exhausted)

	_, err := v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	vErr := AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonExhausted, vErr.Reason)

	unlimited := validCoupon()
	unlimited.UsageLimit = 0
	unlimited.UsageCount = 10000
	v, _ = newTestValidator(t, unlimited)

	_, err = v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	require.NoError(t, err)
}

func TestValidateMinimumAmount(t *testing.T) {
	c := validCoupon()
	c.MinimumAmount = 150
	v, _ := newTestValidator(t, c)

	_, err := v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	vErr := AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonMinimumNotMet, vErr.Reason)

	_, err = v.Validate(context.Background(), "SAVE20", plainSub(), "", 150)
	require.NoError(t, err)
}

func TestValidateApplicability(t *testing.T) {
	c := validCoupon()
	c.Targets = []catalog.CouponTarget{
		{SubscriptionID: "plan-1", VariantKey: "monthly"},
		{SubscriptionID: "plan-2"},
	}
	v, _ := newTestValidator(t, c)

	// exact variant match
	_, err := v.Validate(context.Background(), "SAVE20", plainSub(), "monthly", 100)
	require.NoError(t, err)

	// a variant-pinned target does not cover the base purchase
	_, err = v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	vErr := AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonNotApplicable, vErr.Reason)

	// a base target does not cover a variant purchase
	other := &catalog.Subscription{ID: "plan-2", AllowCoupons: true}
	_, err = v.Validate(context.Background(), "SAVE20", other, "quarterly", 100)
	vErr = AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonNotApplicable, vErr.Reason)

	// both empty matches
	_, err = v.Validate(context.Background(), "SAVE20", other, "", 100)
	require.NoError(t, err)
}

func TestValidateExcludedCoupon(t *testing.T) {
	v, _ := newTestValidator(t, validCoupon())
	sub := plainSub()
	sub.ExcludedCouponIDs = []string{"coupon-1"}

	_, err := v.Validate(context.Background(), "SAVE20", sub, "", 100)
	vErr := AsValidationError(err)
	require.NotNil(t, vErr)
	require.Equal(t, ReasonNotApplicable, vErr.Reason)
}

func TestValidateFixedDiscountClampsAtZero(t *testing.T) {
	c := validCoupon()
	c.DiscountType = catalog.DiscountFixed
	c.DiscountValue = 150
	v, _ := newTestValidator(t, c)

	applied, err := v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	require.NoError(t, err)
	require.Equal(t, float64(0), applied.DiscountedPrice)
	require.Equal(t, float64(100), applied.DiscountAmount)
}

func TestValidateLookupFailurePropagates(t *testing.T) {
	v, lookup := newTestValidator(t)
	lookup.err = fmt.Errorf("content store unreachable")

	_, err := v.Validate(context.Background(), "SAVE20", plainSub(), "", 100)
	require.Error(t, err)
	require.Nil(t, AsValidationError(err))
}
