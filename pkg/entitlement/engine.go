package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linklet-app/linklet/pkg/logger"
	"github.com/linklet-app/linklet/pkg/plans"
)

// Engine is the subscription state machine. It owns every mutation of
// entitlement records and scheduled changes; callers never write to the
// Store directly.
type Engine struct {
	catalog  *plans.Catalog
	store    Store
	cache    GateCache
	counters map[plans.Resource]ResourceCounterFunc
	log      *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithGateCache enables caching of feature-gate plan lookups.
func WithGateCache(cache GateCache) Option {
	return func(e *Engine) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// WithCounter registers a usage counter for a resource.
// Panics on duplicate registration to keep wiring explicit.
func WithCounter(res plans.Resource, fn ResourceCounterFunc) Option {
	return func(e *Engine) {
		if fn == nil {
			return
		}
		if _, exists := e.counters[res]; exists {
			panic("entitlement: counter for resource " + string(res) + " already registered")
		}
		e.counters[res] = fn
	}
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates the state machine over the given catalog and store.
// Panics on nil required dependencies to fail fast during wiring.
func NewEngine(catalog *plans.Catalog, store Store, opts ...Option) *Engine {
	if catalog == nil {
		panic("entitlement: plan catalog is required")
	}
	if store == nil {
		panic("entitlement: store is required")
	}

	e := &Engine{
		catalog:  catalog,
		store:    store,
		counters: make(map[plans.Resource]ResourceCounterFunc),
		log:      slog.New(slog.DiscardHandler),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog exposes the plan catalog for read-only lookups.
func (e *Engine) Catalog() *plans.Catalog {
	return e.catalog
}

// CreateAccount initializes a Free-plan entitlement record at signup.
func (e *Engine) CreateAccount(ctx context.Context, userSub uuid.UUID) error {
	now := e.now()
	return e.store.CreateRecord(ctx, Record{
		UserSub:   userSub,
		PlanID:    e.catalog.Free().ID,
		UpdatedAt: now,
	})
}

// ConfirmUpgrade applies an immediate-effect upgrade: the new plan is
// effective synchronously, before the provider's webhook arrives. Any
// pending downgrade/cancellation is cleared first — an explicit upgrade
// always wins over a scheduled reduction.
//
// Idempotent: re-confirming the already-effective plan only refreshes
// LastPaidAt forward. A paidAt older than the stored LastPaidAt means this
// confirmation was superseded by a newer payment and is a no-op.
func (e *Engine) ConfirmUpgrade(ctx context.Context, userSub uuid.UUID, targetPlanID string, paidAt time.Time) error {
	target, err := e.catalog.Get(targetPlanID)
	if err != nil {
		return err
	}

	err = e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
		return e.applyUpgrade(ctx, tx, target, paidAt)
	})
	if err != nil {
		return err
	}

	e.invalidate(ctx, userSub)
	e.log.InfoContext(ctx, "upgrade confirmed",
		logger.UserSub(userSub), logger.PlanID(targetPlanID))
	return nil
}

// ProviderUpgradeConfirmed applies an upgrade reported by the provider's
// webhook. Unlike ConfirmUpgrade it carries the provider event id and
// deduplicates through the event log, so a redelivered confirmation can
// never re-run the transition (and in particular can never wipe a
// downgrade the user scheduled after the original upgrade landed).
func (e *Engine) ProviderUpgradeConfirmed(ctx context.Context, userSub uuid.UUID, targetPlanID string, paidAt time.Time, eventID string) error {
	target, err := e.catalog.Get(targetPlanID)
	if err != nil {
		return err
	}

	err = e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
		if seen, err := tx.EventSeen(ctx, eventID); err != nil || seen {
			return err
		}
		if err := e.applyUpgrade(ctx, tx, target, paidAt); err != nil {
			return err
		}
		return tx.MarkEvent(ctx, eventID)
	})
	if err != nil {
		return err
	}

	e.invalidate(ctx, userSub)
	e.log.InfoContext(ctx, "upgrade confirmed by provider",
		logger.UserSub(userSub), logger.PlanID(targetPlanID), logger.EventID(eventID))
	return nil
}

// applyUpgrade is the shared upgrade transition, run inside the per-user
// atomic unit by both the client confirmation and the provider webhook.
func (e *Engine) applyUpgrade(ctx context.Context, tx Tx, target plans.Plan, paidAt time.Time) error {
	rec, err := tx.Record(ctx)
	if err != nil {
		return err
	}

	if paidAt.Before(rec.LastPaidAt) {
		// A newer payment already landed; this is a late replay.
		return nil
	}

	if rec.PlanID != target.ID {
		currentRank, err := e.catalog.RankOf(rec.PlanID)
		if err != nil {
			return err
		}
		if target.Rank <= currentRank {
			return fmt.Errorf("%w: immediate move from %s to %s lowers rank",
				ErrIllegalTransition, rec.PlanID, target.ID)
		}
	}

	if err := tx.DeleteSchedule(ctx); err != nil {
		return err
	}
	return tx.SetPlan(ctx, target.ID, paidAt.UTC())
}

// ScheduleChange records a deferred downgrade/cancellation requested by the
// user. It never touches the effective plan: the user keeps current-tier
// features until the paid period ends. The effective date is estimated from
// LastPaidAt plus the current plan's billing interval and later corrected
// by the provider's schedule confirmation if the two disagree.
func (e *Engine) ScheduleChange(ctx context.Context, userSub uuid.UUID, changeType ChangeType, targetPlanID string) (*ScheduledChange, error) {
	if changeType == ChangeCancellation {
		targetPlanID = e.catalog.Free().ID
	}
	target, err := e.catalog.Get(targetPlanID)
	if err != nil {
		return nil, err
	}

	var change ScheduledChange
	err = e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
		rec, err := tx.Record(ctx)
		if err != nil {
			return err
		}

		current, err := e.catalog.Get(rec.PlanID)
		if err != nil {
			return err
		}
		if target.Rank >= current.Rank {
			return fmt.Errorf("%w: %s does not reduce %s", ErrIllegalTransition, target.ID, current.ID)
		}

		scheduledFor := current.PeriodEnd(rec.LastPaidAt)
		if scheduledFor.IsZero() || scheduledFor.Before(e.now()) {
			// No known paid period: apply on the next sweep tick.
			scheduledFor = e.now()
		}

		change = ScheduledChange{
			UserSub:      userSub,
			ChangeType:   changeType,
			TargetPlanID: target.ID,
			ScheduledFor: scheduledFor,
			CreatedAt:    e.now(),
		}
		return tx.UpsertSchedule(ctx, change)
	})
	if err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "change scheduled",
		logger.UserSub(userSub), logger.PlanID(target.ID),
		slog.String("change_type", string(changeType)),
		slog.Time("scheduled_for", change.ScheduledFor))
	return &change, nil
}

// ProviderRenewed refreshes LastPaidAt from a successful recurring payment.
// A stale paidAt (period already superseded by a newer payment or upgrade)
// is a no-op, which is how reordered deliveries stay harmless.
func (e *Engine) ProviderRenewed(ctx context.Context, userSub uuid.UUID, paidAt time.Time, eventID string) error {
	err := e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
		if seen, err := tx.EventSeen(ctx, eventID); err != nil || seen {
			return err
		}

		rec, err := tx.Record(ctx)
		if err != nil {
			return err
		}

		if paidAt.After(rec.LastPaidAt) {
			if err := tx.SetPlan(ctx, rec.PlanID, paidAt.UTC()); err != nil {
				return err
			}
		}
		return tx.MarkEvent(ctx, eventID)
	})
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "subscription renewed",
		logger.UserSub(userSub), logger.EventID(eventID))
	return nil
}

// ProviderScheduleConfirmed records the provider's authoritative deferred
// change (downgrade or cancellation) with its effective date. It supersedes
// any locally-estimated schedule for the user.
func (e *Engine) ProviderScheduleConfirmed(ctx context.Context, userSub uuid.UUID, changeType ChangeType, targetPlanID string, effectiveAt time.Time, eventID string) error {
	if changeType == ChangeCancellation {
		targetPlanID = e.catalog.Free().ID
	}
	if _, err := e.catalog.Get(targetPlanID); err != nil {
		return err
	}

	err := e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
		if seen, err := tx.EventSeen(ctx, eventID); err != nil || seen {
			return err
		}

		rec, err := tx.Record(ctx)
		if err != nil {
			return err
		}

		// Provider payloads occasionally omit the effective date; a zero
		// time would make the change due immediately and collapse the
		// deferred-effect guarantee. Fall back to the current period end.
		if effectiveAt.IsZero() {
			current, err := e.catalog.Get(rec.PlanID)
			if err != nil {
				return err
			}
			if !rec.LastPaidAt.IsZero() {
				effectiveAt = current.PeriodEnd(rec.LastPaidAt)
			}
			if effectiveAt.IsZero() {
				return fmt.Errorf("schedule confirmation %s for user %s has no usable effective date", eventID, userSub)
			}
		}

		if err := tx.UpsertSchedule(ctx, ScheduledChange{
			UserSub:        userSub,
			ChangeType:     changeType,
			TargetPlanID:   targetPlanID,
			ScheduledFor:   effectiveAt.UTC(),
			SourceEventRef: eventID,
			CreatedAt:      e.now(),
		}); err != nil {
			return err
		}
		return tx.MarkEvent(ctx, eventID)
	})
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "scheduled change confirmed by provider",
		logger.UserSub(userSub), logger.PlanID(targetPlanID),
		logger.EventID(eventID), slog.Time("scheduled_for", effectiveAt))
	return nil
}

// ProviderTerminated handles the subscription fully ending at the provider:
// the user drops to Free immediately and any pending change is discarded.
func (e *Engine) ProviderTerminated(ctx context.Context, userSub uuid.UUID, eventID string) error {
	err := e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
		if seen, err := tx.EventSeen(ctx, eventID); err != nil || seen {
			return err
		}

		if _, err := tx.Record(ctx); err != nil {
			return err
		}

		if err := tx.DeleteSchedule(ctx); err != nil {
			return err
		}
		if err := tx.SetPlan(ctx, e.catalog.Free().ID, e.now()); err != nil {
			return err
		}
		return tx.MarkEvent(ctx, eventID)
	})
	if err != nil {
		return err
	}

	e.invalidate(ctx, userSub)
	e.log.InfoContext(ctx, "subscription terminated by provider",
		logger.UserSub(userSub), logger.EventID(eventID))
	return nil
}

// RevertScheduledChange cancels a pending downgrade/cancellation that has
// not taken effect yet. Returns ErrNothingToRevert when there is no pending
// change or its effective date already passed.
func (e *Engine) RevertScheduledChange(ctx context.Context, userSub uuid.UUID) error {
	err := e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
		change, err := tx.Schedule(ctx)
		if err != nil {
			return err
		}
		if change == nil || change.Due(e.now()) {
			return ErrNothingToRevert
		}
		return tx.DeleteSchedule(ctx)
	})
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "scheduled change reverted", logger.UserSub(userSub))
	return nil
}

// ApplyDueChanges is the periodic sweep: every scheduled change whose
// effective date has passed is applied and consumed. Applying deletes the
// change in the same atomic unit, so overlapping sweeps are harmless — the
// second one finds nothing to do.
func (e *Engine) ApplyDueChanges(ctx context.Context) (int, error) {
	now := e.now()
	due, err := e.store.DueSchedules(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, userSub := range due {
		err := e.store.WithinUser(ctx, userSub, func(ctx context.Context, tx Tx) error {
			change, err := tx.Schedule(ctx)
			if err != nil {
				return err
			}
			// Gone or no longer due: another sweep or an upgrade got here first.
			if change == nil || !change.Due(now) {
				return nil
			}

			if err := tx.SetPlan(ctx, change.TargetPlanID, now); err != nil {
				return err
			}
			if err := tx.DeleteSchedule(ctx); err != nil {
				return err
			}

			applied++
			e.log.InfoContext(ctx, "scheduled change applied",
				logger.UserSub(userSub), logger.PlanID(change.TargetPlanID),
				slog.String("change_type", string(change.ChangeType)))
			return nil
		})
		if err != nil {
			// Keep sweeping other users; this change stays due and the next
			// tick retries it.
			e.log.ErrorContext(ctx, "failed to apply scheduled change",
				logger.UserSub(userSub), logger.Error(err))
			continue
		}
		e.invalidate(ctx, userSub)
	}

	return applied, nil
}

// State derives the user's current subscription state.
func (e *Engine) State(ctx context.Context, userSub uuid.UUID) (State, error) {
	rec, err := e.store.GetRecord(ctx, userSub)
	if err != nil {
		return State{}, err
	}
	change, err := e.store.GetSchedule(ctx, userSub)
	if err != nil {
		return State{}, err
	}

	st := State{
		PlanID:          rec.PlanID,
		LastPaidAt:      rec.LastPaidAt,
		ScheduledChange: change,
	}
	switch {
	case change != nil && change.ChangeType == ChangeCancellation:
		st.Kind = StateActivePendingCancel
	case change != nil:
		st.Kind = StateActivePendingDowngrade
	case rec.PlanID == e.catalog.Free().ID:
		st.Kind = StateFree
	default:
		st.Kind = StateActive
	}
	return st, nil
}

func (e *Engine) invalidate(ctx context.Context, userSub uuid.UUID) {
	if e.cache != nil {
		e.cache.Invalidate(ctx, userSub)
	}
}
