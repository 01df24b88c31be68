package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// Record is the per-user entitlement record. PlanID always reflects the
// effective plan as of "now"; scheduled changes never touch it directly.
// Mutated exclusively by the Engine under the per-user atomic unit.
type Record struct {
	UserSub             uuid.UUID
	PlanID              string
	LastPaidAt          time.Time // zero for users who never paid
	ProviderCustomerRef string
	ProviderSubRef      string
	UpdatedAt           time.Time
}

// ChangeType classifies a deferred plan transition.
type ChangeType string

const (
	ChangeDowngrade    ChangeType = "downgrade"
	ChangeCancellation ChangeType = "cancellation"
)

// ScheduledChange is a pending deferred transition. At most one exists per
// user; a new one supersedes any prior one.
type ScheduledChange struct {
	UserSub        uuid.UUID
	ChangeType     ChangeType
	TargetPlanID   string
	ScheduledFor   time.Time
	SourceEventRef string // provider event that confirmed the schedule, if any
	CreatedAt      time.Time
}

// Due reports whether the change should be applied at the given time.
func (c ScheduledChange) Due(now time.Time) bool {
	return !c.ScheduledFor.After(now)
}

// StateKind names the derived per-user subscription state.
type StateKind string

const (
	StateFree                   StateKind = "free"
	StateActive                 StateKind = "active"
	StateActivePendingDowngrade StateKind = "active_pending_downgrade"
	StateActivePendingCancel    StateKind = "active_pending_cancellation"
)

// State is derived from Record plus ScheduledChange; it is never stored.
type State struct {
	Kind            StateKind
	PlanID          string
	LastPaidAt      time.Time
	ScheduledChange *ScheduledChange
}
