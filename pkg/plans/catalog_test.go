package plans_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklet-app/linklet/pkg/plans"
)

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()

	c, err := plans.NewCatalog(
		plans.Plan{
			ID:   "free",
			Rank: 0,
			Name: "Free",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:   25,
				plans.ResourceQRCodes: 5,
			},
			Interval: plans.BillingIntervalNone,
		},
		plans.Plan{
			ID:   "basic",
			Rank: 1,
			Name: "Basic",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:   500,
				plans.ResourceQRCodes: 50,
			},
			Features:        []plans.Feature{plans.FeatureLinkAnalytics},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: "pri_basic_monthly",
		},
		plans.Plan{
			ID:   "plus",
			Rank: 2,
			Name: "Plus",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:   5000,
				plans.ResourceQRCodes: 500,
			},
			Features:        []plans.Feature{plans.FeatureLinkAnalytics, plans.FeatureBioPage},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: "pri_plus_monthly",
		},
		plans.Plan{
			ID:   "pro",
			Rank: 3,
			Name: "Pro",
			Limits: map[plans.Resource]int64{
				plans.ResourceLinks:   plans.Unlimited,
				plans.ResourceQRCodes: plans.Unlimited,
			},
			Features: []plans.Feature{
				plans.FeatureLinkAnalytics, plans.FeatureBioPage,
				plans.FeatureCustomDomain, plans.FeatureAPI,
			},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: "pri_pro_monthly",
		},
	)
	require.NoError(t, err)
	return c
}

func TestCatalogRanksAreUniqueAndTotal(t *testing.T) {
	t.Parallel()

	c := testCatalog(t)

	seen := make(map[int]string)
	for _, p := range c.All() {
		prev, dup := seen[p.Rank]
		require.Falsef(t, dup, "plans %s and %s share rank %d", prev, p.ID, p.Rank)
		seen[p.Rank] = p.ID
	}
	assert.Len(t, seen, 4)

	// All() is ordered by rank, so pairwise comparison must be strict.
	all := c.All()
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Rank, all[i-1].Rank)
	}
}

func TestCatalogValidation(t *testing.T) {
	t.Parallel()

	t.Run("duplicate rank rejected", func(t *testing.T) {
		t.Parallel()

		_, err := plans.NewCatalog(
			plans.Plan{ID: "free", Rank: 0, Interval: plans.BillingIntervalNone},
			plans.Plan{ID: "a", Rank: 1, Interval: plans.BillingIntervalMonthly},
			plans.Plan{ID: "b", Rank: 1, Interval: plans.BillingIntervalMonthly},
		)
		assert.ErrorIs(t, err, plans.ErrDuplicateRank)
	})

	t.Run("missing free plan rejected", func(t *testing.T) {
		t.Parallel()

		_, err := plans.NewCatalog(
			plans.Plan{ID: "a", Rank: 1, Interval: plans.BillingIntervalMonthly},
		)
		assert.ErrorIs(t, err, plans.ErrNoFreePlan)
	})

	t.Run("duplicate ID rejected", func(t *testing.T) {
		t.Parallel()

		_, err := plans.NewCatalog(
			plans.Plan{ID: "free", Rank: 0, Interval: plans.BillingIntervalNone},
			plans.Plan{ID: "free", Rank: 1, Interval: plans.BillingIntervalMonthly},
		)
		assert.ErrorIs(t, err, plans.ErrInvalidPlanConfiguration)
	})

	t.Run("paid plan without interval rejected", func(t *testing.T) {
		t.Parallel()

		_, err := plans.NewCatalog(
			plans.Plan{ID: "free", Rank: 0, Interval: plans.BillingIntervalNone},
			plans.Plan{ID: "a", Rank: 1},
		)
		assert.ErrorIs(t, err, plans.ErrInvalidPlanConfiguration)
	})
}

func TestCatalogLookups(t *testing.T) {
	t.Parallel()

	c := testCatalog(t)

	rank, err := c.RankOf("plus")
	require.NoError(t, err)
	assert.Equal(t, 2, rank)

	_, err = c.RankOf("enterprise")
	assert.ErrorIs(t, err, plans.ErrPlanNotFound)

	features, err := c.FeaturesOf("pro")
	require.NoError(t, err)
	assert.Contains(t, features, plans.FeatureCustomDomain)

	quota, err := c.QuotaOf("basic", plans.ResourceLinks)
	require.NoError(t, err)
	assert.Equal(t, int64(500), quota)

	quota, err = c.QuotaOf("pro", plans.ResourceLinks)
	require.NoError(t, err)
	assert.Equal(t, plans.Unlimited, quota)

	// Undefined resources resolve to a zero quota, not an error.
	quota, err = c.QuotaOf("free", plans.ResourceBioPages)
	require.NoError(t, err)
	assert.Zero(t, quota)

	assert.Equal(t, "free", c.Free().ID)

	p, err := c.ByProviderPrice("pri_plus_monthly")
	require.NoError(t, err)
	assert.Equal(t, "plus", p.ID)

	_, err = c.ByProviderPrice("pri_unknown")
	assert.ErrorIs(t, err, plans.ErrPlanNotFound)
}

func TestPlanPeriodEnd(t *testing.T) {
	t.Parallel()

	paidAt := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	monthly := plans.Plan{ID: "basic", Rank: 1, Interval: plans.BillingIntervalMonthly}
	assert.Equal(t, time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC), monthly.PeriodEnd(paidAt))

	annual := plans.Plan{ID: "pro", Rank: 3, Interval: plans.BillingIntervalAnnual}
	assert.Equal(t, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), annual.PeriodEnd(paidAt))

	free := plans.Plan{ID: "free", Rank: 0, Interval: plans.BillingIntervalNone}
	assert.True(t, free.PeriodEnd(paidAt).IsZero())
}
