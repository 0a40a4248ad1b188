package pricing

import (
	"fmt"
	"math"

	"github.com/carebound/storefront/catalog"
)

// ErrVariantNotFound is returned when the requested variant key does not exist
// on the subscription. The resolver never falls back to the base price when an
// explicit key was supplied.
type ErrVariantNotFound struct {
	SubscriptionID string
	VariantKey     string
}

func (e *ErrVariantNotFound) Error() string {
	return fmt.Sprintf("variant %q not found on subscription %s", e.VariantKey, e.SubscriptionID)
}

// Resolved is the effective price and billing interval to charge for a purchase
type Resolved struct {
	Price         float64
	BillingPeriod catalog.BillingPeriod
	CustomMonths  int
	Variant       *catalog.Variant // nil when the base subscription was selected
}

// ResolveEffectivePrice computes the single effective price/interval for a purchase.
// If variantKey is supplied it must match exactly. If no key is supplied and the
// subscription has variants, the variant flagged default wins; without a default
// flag the base subscription price is used. Subscriptions without variants ignore
// the key argument.
func ResolveEffectivePrice(sub *catalog.Subscription, variantKey string) (*Resolved, error) {
	var selected *catalog.Variant
	if sub.HasVariants && len(sub.Variants) > 0 {
		if variantKey != "" {
			selected = sub.FindVariant(variantKey)
			if selected == nil {
				return nil, &ErrVariantNotFound{
					SubscriptionID: sub.ID,
					VariantKey:     variantKey,
				}
			}
		} else {
			selected = sub.DefaultVariant()
		}
	}

	if selected != nil {
		return &Resolved{
			Price:         selected.Price,
			BillingPeriod: selected.BillingPeriod,
			CustomMonths:  selected.CustomMonths,
			Variant:       selected,
		}, nil
	}

	return &Resolved{
		Price:         sub.Price,
		BillingPeriod: sub.BillingPeriod,
		CustomMonths:  sub.CustomMonths,
	}, nil
}

// Interval is the recurring interval configuration understood by the payment
// processor. Month intervals support counts 1-12, year intervals any count.
type Interval struct {
	Unit  string // "month" or "year"
	Count int64
}

// IntervalFor converts a catalog billing period into the processor interval.
// Custom periods over 12 months that are not whole years collapse to the
// 12-month fallback.
func IntervalFor(period catalog.BillingPeriod, customMonths int) Interval {
	switch period {
	case catalog.PeriodMonthly:
		return Interval{Unit: "month", Count: 1}
	case catalog.PeriodThreeMonth:
		return Interval{Unit: "month", Count: 3}
	case catalog.PeriodSixMonth:
		return Interval{Unit: "month", Count: 6}
	case catalog.PeriodAnnual:
		return Interval{Unit: "year", Count: 1}
	case catalog.PeriodCustom:
		months := customMonths
		if months < 1 {
			months = 1
		}
		if months <= 12 {
			return Interval{Unit: "month", Count: int64(months)}
		}
		if months%12 == 0 {
			return Interval{Unit: "year", Count: int64(months / 12)}
		}
		return Interval{Unit: "month", Count: 12}
	default:
		return Interval{Unit: "month", Count: 1}
	}
}

// ToCents converts a decimal currency amount to integer minor units, rounding
// to the nearest cent rather than truncating
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
