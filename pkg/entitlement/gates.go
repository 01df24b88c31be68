package entitlement

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/linklet-app/linklet/pkg/logger"
	"github.com/linklet-app/linklet/pkg/plans"
)

// effectivePlan resolves the user's current plan, consulting the gate
// cache first. The cache is invalidated on every SetPlan so a hit is
// always current.
func (e *Engine) effectivePlan(ctx context.Context, userSub uuid.UUID) (plans.Plan, error) {
	if e.cache != nil {
		if planID, ok := e.cache.GetPlanID(ctx, userSub); ok {
			return e.catalog.Get(planID)
		}
	}

	rec, err := e.store.GetRecord(ctx, userSub)
	if err != nil {
		return plans.Plan{}, err
	}
	if e.cache != nil {
		e.cache.SetPlanID(ctx, userSub, rec.PlanID)
	}
	return e.catalog.Get(rec.PlanID)
}

// CanUse reports whether the user's effective plan includes the feature.
// Returns false on any error to fail closed for gated functionality.
func (e *Engine) CanUse(ctx context.Context, userSub uuid.UUID, feature plans.Feature) bool {
	plan, err := e.effectivePlan(ctx, userSub)
	if err != nil {
		e.log.WarnContext(ctx, "feature gate failed closed",
			logger.UserSub(userSub), logger.Error(err))
		return false
	}
	return plan.HasFeature(feature)
}

// CanCreate checks whether the user may create one more instance of the
// resource given their plan quota and current usage.
func (e *Engine) CanCreate(ctx context.Context, userSub uuid.UUID, res plans.Resource) error {
	plan, err := e.effectivePlan(ctx, userSub)
	if err != nil {
		return err
	}

	limit, ok := plan.Quota(res)
	if !ok {
		limit = 0
	}
	if limit == plans.Unlimited {
		return nil
	}

	counter, ok := e.counters[res]
	if !ok {
		return ErrNoCounterRegistered
	}
	used, err := counter(ctx, userSub)
	if err != nil {
		return errors.Join(ErrFailedToCountUsage, err)
	}

	if used >= limit {
		return ErrLimitExceeded
	}
	return nil
}

// GetUsage returns current usage and limit for a resource on the user's plan.
func (e *Engine) GetUsage(ctx context.Context, userSub uuid.UUID, res plans.Resource) (used, limit int64, err error) {
	plan, err := e.effectivePlan(ctx, userSub)
	if err != nil {
		return 0, 0, err
	}

	limit, ok := plan.Quota(res)
	if !ok {
		limit = 0
	}

	counter, ok := e.counters[res]
	if !ok {
		return 0, limit, ErrNoCounterRegistered
	}
	used, err = counter(ctx, userSub)
	if err != nil {
		return 0, limit, errors.Join(ErrFailedToCountUsage, err)
	}
	return used, limit, nil
}

// CanDowngrade checks whether the user's current usage fits inside the
// target plan's limits. Only shrinking limits are verified — growing a
// limit can never strand resources.
func (e *Engine) CanDowngrade(ctx context.Context, userSub uuid.UUID, targetPlanID string) error {
	target, err := e.catalog.Get(targetPlanID)
	if err != nil {
		return err
	}
	current, err := e.effectivePlan(ctx, userSub)
	if err != nil {
		return err
	}

	cmp := plans.Compare(current, target)
	for res := range cmp.DecreasedLimits {
		targetLimit := cmp.DecreasedLimits[res].To
		if targetLimit == plans.Unlimited {
			continue
		}

		counter, ok := e.counters[res]
		if !ok {
			continue
		}
		used, err := counter(ctx, userSub)
		if err != nil {
			return errors.Join(ErrFailedToCountUsage, err)
		}
		if used > targetLimit {
			return ErrDowngradeNotPossible
		}
	}
	return nil
}
