package plans

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Catalog is an immutable, validated set of plans.
// All lookups are pure; an unknown plan ID is a programming error surfaced
// as ErrPlanNotFound so callers can fail fast.
type Catalog struct {
	byID   map[string]Plan
	byRank map[int]string
}

// NewCatalog validates the given plans and builds a catalog.
// It rejects duplicate IDs, duplicate ranks and catalogs without exactly
// one free (rank-0) plan, since every tier decision reduces to rank
// comparison against a known floor.
func NewCatalog(list ...Plan) (*Catalog, error) {
	if len(list) == 0 {
		return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("at least one plan is required"))
	}

	byID := make(map[string]Plan, len(list))
	byRank := make(map[int]string, len(list))

	for _, p := range list {
		if p.ID == "" {
			return nil, errors.Join(ErrInvalidPlanConfiguration, errors.New("plan with empty ID"))
		}
		if _, exists := byID[p.ID]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate plan ID %q", p.ID))
		}
		if p.Rank < 0 {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %q has negative rank %d", p.ID, p.Rank))
		}
		if other, exists := byRank[p.Rank]; exists {
			return nil, errors.Join(ErrDuplicateRank,
				fmt.Errorf("plans %q and %q share rank %d", other, p.ID, p.Rank))
		}
		if p.Rank > 0 && p.Interval == BillingIntervalNone {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("paid plan %q has no billing interval", p.ID))
		}

		cp := p
		cp.Limits = maps.Clone(p.Limits)
		cp.Features = slices.Clone(p.Features)
		byID[p.ID] = cp
		byRank[p.Rank] = p.ID
	}

	if _, ok := byRank[0]; !ok {
		return nil, ErrNoFreePlan
	}

	return &Catalog{byID: byID, byRank: byRank}, nil
}

// MustCatalog is like NewCatalog but panics on invalid configuration.
// Intended for static, compile-time-known plan tables wired at startup.
func MustCatalog(list ...Plan) *Catalog {
	c, err := NewCatalog(list...)
	if err != nil {
		panic(fmt.Sprintf("plans: invalid catalog: %v", err))
	}
	return c
}

// Get returns the plan with the given ID.
func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p, nil
}

// RankOf returns the rank of a plan.
func (c *Catalog) RankOf(id string) (int, error) {
	p, err := c.Get(id)
	if err != nil {
		return 0, err
	}
	return p.Rank, nil
}

// FeaturesOf returns the feature set of a plan.
func (c *Catalog) FeaturesOf(id string) ([]Feature, error) {
	p, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(p.Features), nil
}

// QuotaOf returns the quota of a resource on a plan. Unlimited is -1.
// Resources the plan does not define have an implicit quota of zero.
func (c *Catalog) QuotaOf(id string, res Resource) (int64, error) {
	p, err := c.Get(id)
	if err != nil {
		return 0, err
	}
	limit, ok := p.Quota(res)
	if !ok {
		return 0, nil
	}
	return limit, nil
}

// Free returns the rank-0 plan. The catalog guarantees it exists.
func (c *Catalog) Free() Plan {
	return c.byID[c.byRank[0]]
}

// ByProviderPrice resolves a plan from the payment provider's price ID,
// used when correlating webhook events back to a tier.
func (c *Catalog) ByProviderPrice(priceID string) (Plan, error) {
	if priceID == "" {
		return Plan{}, fmt.Errorf("%w: empty provider price ID", ErrPlanNotFound)
	}
	for _, p := range c.byID {
		if p.ProviderPriceID == priceID {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: provider price %q", ErrPlanNotFound, priceID)
}

// All returns every plan ordered by rank.
func (c *Catalog) All() []Plan {
	ranks := slices.Sorted(maps.Keys(c.byRank))
	out := make([]Plan, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, c.byID[c.byRank[r]])
	}
	return out
}
