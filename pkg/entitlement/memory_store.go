package entitlement

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linklet-app/linklet/pkg/billing"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
// Per-user serialization uses a keyed mutex; a Tx stages its writes and
// publishes them only when the callback returns nil, so an error mid-way
// rolls the whole unit back just like the postgres implementation.
type MemoryStore struct {
	mu        sync.Mutex
	userLocks map[uuid.UUID]*sync.Mutex
	records   map[uuid.UUID]Record
	schedules map[uuid.UUID]ScheduledChange
	events    map[string]time.Time

	nowFn func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		userLocks: make(map[uuid.UUID]*sync.Mutex),
		records:   make(map[uuid.UUID]Record),
		schedules: make(map[uuid.UUID]ScheduledChange),
		events:    make(map[string]time.Time),
		nowFn:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

func (s *MemoryStore) userLock(userSub uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.userLocks[userSub]
	if !ok {
		lock = &sync.Mutex{}
		s.userLocks[userSub] = lock
	}
	return lock
}

func (s *MemoryStore) WithinUser(ctx context.Context, userSub uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	lock := s.userLock(userSub)
	lock.Lock()
	defer lock.Unlock()

	tx := s.begin(userSub)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) begin(userSub uuid.UUID) *memoryTx {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, userSub: userSub, newEvents: make(map[string]struct{})}
	if rec, ok := s.records[userSub]; ok {
		recCopy := rec
		tx.rec = &recCopy
	}
	if sched, ok := s.schedules[userSub]; ok {
		schedCopy := sched
		tx.sched = &schedCopy
	}
	return tx
}

func (s *MemoryStore) CreateRecord(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.UserSub]; ok {
		return ErrRecordExists
	}
	s.records[rec.UserSub] = rec
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, userSub uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userSub]
	if !ok {
		return nil, ErrRecordNotFound
	}
	recCopy := rec
	return &recCopy, nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, userSub uuid.UUID) (*ScheduledChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[userSub]
	if !ok {
		return nil, nil
	}
	schedCopy := sched
	return &schedCopy, nil
}

func (s *MemoryStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type due struct {
		userSub uuid.UUID
		at      time.Time
	}
	var dues []due
	for userSub, sched := range s.schedules {
		if !sched.ScheduledFor.After(now) {
			dues = append(dues, due{userSub: userSub, at: sched.ScheduledFor})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].at.Before(dues[j].at) })

	if limit > 0 && len(dues) > limit {
		dues = dues[:limit]
	}
	result := make([]uuid.UUID, len(dues))
	for i, d := range dues {
		result[i] = d.userSub
	}
	return result, nil
}

func (s *MemoryStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for eventID, markedAt := range s.events {
		if markedAt.Before(olderThan) {
			delete(s.events, eventID)
			pruned++
		}
	}
	return pruned, nil
}

// memoryTx stages per-user mutations until commit.
type memoryTx struct {
	store   *MemoryStore
	userSub uuid.UUID

	rec          *Record
	sched        *ScheduledChange
	schedDeleted bool
	newEvents    map[string]struct{}
}

func (t *memoryTx) Record(ctx context.Context) (*Record, error) {
	if t.rec == nil {
		return nil, ErrRecordNotFound
	}
	recCopy := *t.rec
	return &recCopy, nil
}

func (t *memoryTx) SetPlan(ctx context.Context, planID string, lastPaidAt time.Time) error {
	if t.rec == nil {
		return ErrRecordNotFound
	}
	t.rec.PlanID = planID
	t.rec.LastPaidAt = lastPaidAt
	t.rec.UpdatedAt = t.store.nowFn()
	return nil
}

func (t *memoryTx) SetProviderRefs(ctx context.Context, customerRef, subRef string) error {
	if t.rec == nil {
		return ErrRecordNotFound
	}
	t.rec.ProviderCustomerRef = customerRef
	t.rec.ProviderSubRef = subRef
	t.rec.UpdatedAt = t.store.nowFn()
	return nil
}

func (t *memoryTx) Schedule(ctx context.Context) (*ScheduledChange, error) {
	if t.schedDeleted || t.sched == nil {
		return nil, nil
	}
	schedCopy := *t.sched
	return &schedCopy, nil
}

func (t *memoryTx) UpsertSchedule(ctx context.Context, change ScheduledChange) error {
	t.sched = &change
	t.schedDeleted = false
	return nil
}

func (t *memoryTx) DeleteSchedule(ctx context.Context) error {
	t.sched = nil
	t.schedDeleted = true
	return nil
}

func (t *memoryTx) EventSeen(ctx context.Context, eventID string) (bool, error) {
	if _, ok := t.newEvents[eventID]; ok {
		return true, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.events[eventID]
	return ok, nil
}

func (t *memoryTx) MarkEvent(ctx context.Context, eventID string) error {
	t.newEvents[eventID] = struct{}{}
	return nil
}

func (t *memoryTx) commit() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.rec != nil {
		t.store.records[t.userSub] = *t.rec
	}
	if t.schedDeleted {
		delete(t.store.schedules, t.userSub)
	} else if t.sched != nil {
		t.store.schedules[t.userSub] = *t.sched
	}
	now := t.store.nowFn()
	for eventID := range t.newEvents {
		t.store.events[eventID] = now
	}
}

// ParkedEvent is one webhook event set aside after terminal failure.
type ParkedEvent struct {
	Event    billing.Event
	Reason   string
	ParkedAt time.Time
}

// MemoryParkedEvents collects parked events in memory.
type MemoryParkedEvents struct {
	mu     sync.Mutex
	parked []ParkedEvent
}

// NewMemoryParkedEvents creates an empty parked-event store.
func NewMemoryParkedEvents() *MemoryParkedEvents {
	return &MemoryParkedEvents{}
}

func (s *MemoryParkedEvents) Park(ctx context.Context, event billing.Event, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parked = append(s.parked, ParkedEvent{Event: event, Reason: reason, ParkedAt: time.Now()})
	return nil
}

// Parked returns a snapshot of everything parked so far.
func (s *MemoryParkedEvents) Parked() []ParkedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ParkedEvent, len(s.parked))
	copy(out, s.parked)
	return out
}
