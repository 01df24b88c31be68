package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/linklet-app/linklet/pkg/billing"
)

// Tx is the per-user atomic unit handed to state-machine transitions.
// Everything done through a Tx commits or rolls back together, and all Tx
// for the same user are serialized; implementations use row locking
// (postgres) or a keyed mutex (memory).
type Tx interface {
	// Record returns the user's entitlement record or ErrRecordNotFound.
	Record(ctx context.Context) (*Record, error)

	// SetPlan atomically updates the effective plan and LastPaidAt.
	SetPlan(ctx context.Context, planID string, lastPaidAt time.Time) error

	// SetProviderRefs stores the provider's customer/subscription handles.
	SetProviderRefs(ctx context.Context, customerRef, subRef string) error

	// Schedule returns the pending scheduled change, or nil if none.
	Schedule(ctx context.Context) (*ScheduledChange, error)

	// UpsertSchedule replaces any existing scheduled change for the user.
	UpsertSchedule(ctx context.Context, change ScheduledChange) error

	// DeleteSchedule removes the pending change. Missing is a no-op.
	DeleteSchedule(ctx context.Context) error

	// EventSeen reports whether the provider event was already applied.
	EventSeen(ctx context.Context, eventID string) (bool, error)

	// MarkEvent records the provider event as applied. Committed with the
	// mutation it guards, which is what makes redelivery a provable no-op.
	MarkEvent(ctx context.Context, eventID string) error
}

// Store persists entitlement state.
type Store interface {
	// WithinUser runs fn inside the per-user atomic unit for userSub.
	// Returning an error rolls the unit back.
	WithinUser(ctx context.Context, userSub uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	// CreateRecord inserts a fresh record (account creation, Free plan).
	// Returns ErrRecordExists when one is already present.
	CreateRecord(ctx context.Context, rec Record) error

	// GetRecord is a plain read outside any atomic unit, used by feature
	// gates and status reads.
	GetRecord(ctx context.Context, userSub uuid.UUID) (*Record, error)

	// GetSchedule is a plain read of the user's pending change, nil if none.
	GetSchedule(ctx context.Context, userSub uuid.UUID) (*ScheduledChange, error)

	// DueSchedules lists users whose scheduled change is due at now.
	// The sweep re-checks inside WithinUser, so this read may be stale.
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// PruneEvents drops processed-event entries older than the cutoff.
	// Retention must exceed the provider's maximum redelivery window.
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// ParkedEventStore holds verified webhook events whose processing failed
// terminally, for manual reconciliation instead of silent loss.
type ParkedEventStore interface {
	Park(ctx context.Context, event billing.Event, reason string) error
}

// GateCache caches per-user feature-gate decisions. SetPlan invalidates.
type GateCache interface {
	GetPlanID(ctx context.Context, userSub uuid.UUID) (string, bool)
	SetPlanID(ctx context.Context, userSub uuid.UUID, planID string)
	Invalidate(ctx context.Context, userSub uuid.UUID)
}

// ResourceCounterFunc returns the current usage for a user resource.
// Supplied by the resource-owning collaborator (links, QR codes); must be
// fast as it runs on every creation attempt.
type ResourceCounterFunc func(ctx context.Context, userSub uuid.UUID) (int64, error)
