package plans

import (
	"slices"
	"time"
)

// Plan describes a subscription tier and its resource/feature constraints.
// Rank totally orders tiers: 0 is the free plan, higher ranks unlock more.
// ProviderPriceID maps the plan to the payment provider's price object for
// checkout and webhook correlation; it is empty for the free plan.
type Plan struct {
	ID              string
	Rank            int // 0 = free, strictly increasing per tier
	Name            string
	Description     string
	Limits          map[Resource]int64 // -1 represents unlimited
	Features        []Feature
	Price           Money
	Interval        BillingInterval
	ProviderPriceID string
}

// IsFree reports whether this is the zero-rank plan.
func (p Plan) IsFree() bool {
	return p.Rank == 0
}

// HasFeature reports whether the plan includes the given feature.
func (p Plan) HasFeature(f Feature) bool {
	return slices.Contains(p.Features, f)
}

// Quota returns the limit for a resource, or false if the plan does not
// define the resource at all.
func (p Plan) Quota(res Resource) (int64, bool) {
	limit, ok := p.Limits[res]
	return limit, ok
}

// PeriodEnd returns the end of the paid period that started at paidAt.
// For free plans the period never ends; the zero time is returned.
func (p Plan) PeriodEnd(paidAt time.Time) time.Time {
	months := p.Interval.Months()
	if months == 0 {
		return time.Time{}
	}
	return paidAt.AddDate(0, months, 0).UTC()
}
