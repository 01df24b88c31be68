package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linklet-app/linklet/pkg/billing"
	"github.com/linklet-app/linklet/pkg/pg"
)

var (
	_ Store            = (*PostgresStore)(nil)
	_ Tx               = (*postgresTx)(nil)
	_ ParkedEventStore = (*PostgresParkedEvents)(nil)
)

// PostgresStore persists entitlement state in postgres. Per-user
// serialization comes from SELECT ... FOR UPDATE on the entitlements row:
// every WithinUser for the same user queues on that lock, and the event-log
// insert commits in the same transaction as the mutation it guards.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires the store to a connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("entitlement: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithinUser(ctx context.Context, userSub uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Take the per-user lock. No row means no lock to take; the callback
	// then observes ErrRecordNotFound on its first read.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT user_sub FROM entitlements WHERE user_sub = $1 FOR UPDATE`, userSub).Scan(&locked)
	if err != nil && !pg.IsNotFoundError(err) {
		return fmt.Errorf("failed to lock entitlement row: %w", err)
	}

	if err := fn(ctx, &postgresTx{tx: tx, userSub: userSub}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entitlements (user_sub, plan_id, last_paid_at, provider_customer_ref, provider_sub_ref, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		rec.UserSub, rec.PlanID, rec.LastPaidAt, rec.ProviderCustomerRef, rec.ProviderSubRef,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrRecordExists
		}
		return fmt.Errorf("failed to create entitlement record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, userSub uuid.UUID) (*Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, `
		SELECT user_sub, plan_id, last_paid_at, provider_customer_ref, provider_sub_ref, updated_at
		FROM entitlements WHERE user_sub = $1`, userSub))
}

func (s *PostgresStore) GetSchedule(ctx context.Context, userSub uuid.UUID) (*ScheduledChange, error) {
	return scanSchedule(s.pool.QueryRow(ctx, `
		SELECT user_sub, change_type, target_plan_id, scheduled_for, source_event_ref, created_at
		FROM scheduled_changes WHERE user_sub = $1`, userSub))
}

func (s *PostgresStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_sub FROM scheduled_changes
		WHERE scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var userSubs []uuid.UUID
	for rows.Next() {
		var userSub uuid.UUID
		if err := rows.Scan(&userSub); err != nil {
			return nil, fmt.Errorf("failed to scan due schedule: %w", err)
		}
		userSubs = append(userSubs, userSub)
	}
	return userSubs, rows.Err()
}

func (s *PostgresStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

type postgresTx struct {
	tx      pgx.Tx
	userSub uuid.UUID
}

func (t *postgresTx) Record(ctx context.Context) (*Record, error) {
	return scanRecord(t.tx.QueryRow(ctx, `
		SELECT user_sub, plan_id, last_paid_at, provider_customer_ref, provider_sub_ref, updated_at
		FROM entitlements WHERE user_sub = $1`, t.userSub))
}

func (t *postgresTx) SetPlan(ctx context.Context, planID string, lastPaidAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE entitlements SET plan_id = $2, last_paid_at = $3, updated_at = now()
		WHERE user_sub = $1`, t.userSub, planID, lastPaidAt)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (t *postgresTx) SetProviderRefs(ctx context.Context, customerRef, subRef string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE entitlements SET provider_customer_ref = $2, provider_sub_ref = $3, updated_at = now()
		WHERE user_sub = $1`, t.userSub, customerRef, subRef)
	if err != nil {
		return fmt.Errorf("failed to update provider refs: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (t *postgresTx) Schedule(ctx context.Context) (*ScheduledChange, error) {
	return scanSchedule(t.tx.QueryRow(ctx, `
		SELECT user_sub, change_type, target_plan_id, scheduled_for, source_event_ref, created_at
		FROM scheduled_changes WHERE user_sub = $1`, t.userSub))
}

func (t *postgresTx) UpsertSchedule(ctx context.Context, change ScheduledChange) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO scheduled_changes (user_sub, change_type, target_plan_id, scheduled_for, source_event_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_sub) DO UPDATE SET
			change_type = EXCLUDED.change_type,
			target_plan_id = EXCLUDED.target_plan_id,
			scheduled_for = EXCLUDED.scheduled_for,
			source_event_ref = EXCLUDED.source_event_ref,
			created_at = now()`,
		change.UserSub, change.ChangeType, change.TargetPlanID, change.ScheduledFor, change.SourceEventRef)
	if err != nil {
		return fmt.Errorf("failed to upsert scheduled change: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteSchedule(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM scheduled_changes WHERE user_sub = $1`, t.userSub); err != nil {
		return fmt.Errorf("failed to delete scheduled change: %w", err)
	}
	return nil
}

func (t *postgresTx) EventSeen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return seen, nil
}

func (t *postgresTx) MarkEvent(ctx context.Context, eventID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at) VALUES ($1, now())
		ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark processed event: %w", err)
	}
	return nil
}

type recordRow interface {
	Scan(dest ...any) error
}

func scanRecord(row recordRow) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.UserSub, &rec.PlanID, &rec.LastPaidAt, &rec.ProviderCustomerRef, &rec.ProviderSubRef, &rec.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan entitlement record: %w", err)
	}
	return &rec, nil
}

func scanSchedule(row recordRow) (*ScheduledChange, error) {
	var sched ScheduledChange
	err := row.Scan(&sched.UserSub, &sched.ChangeType, &sched.TargetPlanID, &sched.ScheduledFor, &sched.SourceEventRef, &sched.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan scheduled change: %w", err)
	}
	return &sched, nil
}

// PostgresParkedEvents stores terminally failed webhook events for manual
// reconciliation.
type PostgresParkedEvents struct {
	pool *pgxpool.Pool
}

func NewPostgresParkedEvents(pool *pgxpool.Pool) *PostgresParkedEvents {
	if pool == nil {
		panic("entitlement: pgx pool is required")
	}
	return &PostgresParkedEvents{pool: pool}
}

func (s *PostgresParkedEvents) Park(ctx context.Context, event billing.Event, reason string) error {
	payload, err := json.Marshal(event.Raw)
	if err != nil {
		return fmt.Errorf("failed to encode parked event payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO parked_events (event_id, provider_event, user_sub, payload, reason, parked_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		event.ID, event.ProviderEvent, event.UserSub, payload, reason)
	if err != nil {
		return fmt.Errorf("failed to park event: %w", err)
	}
	return nil
}
