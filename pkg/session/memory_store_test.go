package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklet-app/linklet/pkg/session"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewMemoryStore()

	sess := session.CheckoutSession{
		ID:              "txn_123",
		UserSub:         uuid.New(),
		RequestedPlanID: "pro",
		CheckoutURL:     "https://checkout.example/txn_123",
		CreatedAt:       time.Now().UTC(),
	}

	require.NoError(t, store.Put(ctx, sess, time.Hour))

	got, err := store.Get(ctx, "txn_123")
	require.NoError(t, err)
	assert.Equal(t, sess.UserSub, got.UserSub)
	assert.Equal(t, "pro", got.RequestedPlanID)

	require.NoError(t, store.Delete(ctx, "txn_123"))
	_, err = store.Get(ctx, "txn_123")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "txn_123"))
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewMemoryStore()

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.Put(ctx, session.CheckoutSession{ID: "txn_ttl", UserSub: uuid.New()}, 30*time.Minute))

	_, err := store.Get(ctx, "txn_ttl")
	require.NoError(t, err)

	now = now.Add(31 * time.Minute)
	_, err = store.Get(ctx, "txn_ttl")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestMemoryStoreValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewMemoryStore()

	assert.ErrorIs(t, store.Put(ctx, session.CheckoutSession{}, time.Minute), session.ErrEmptySessionID)
	_, err := store.Get(ctx, "")
	assert.ErrorIs(t, err, session.ErrEmptySessionID)
	assert.ErrorIs(t, store.Delete(ctx, ""), session.ErrEmptySessionID)
}
