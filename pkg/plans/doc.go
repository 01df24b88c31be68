// Package plans provides the static plan catalog: subscription tiers with
// a total rank order, feature flags and numeric resource quotas.
//
// The catalog is pure lookup with no runtime state. Every upgrade/downgrade
// decision in the entitlement engine reduces to a rank comparison between
// two catalog entries, so the catalog enforces rank uniqueness and the
// presence of exactly one free (rank-0) plan at construction time.
package plans
