package entitlement_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linklet-app/linklet/pkg/billing"
	"github.com/linklet-app/linklet/pkg/entitlement"
	"github.com/linklet-app/linklet/pkg/retry"
	"github.com/linklet-app/linklet/pkg/session"
	"github.com/linklet-app/linklet/pkg/token"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	args := m.Called(ctx, req)
	if checkout, ok := args.Get(0).(*billing.Checkout); ok {
		return checkout, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(ctx, payload, signature)
	if event, ok := args.Get(0).(*billing.Event); ok {
		return event, args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestCheckout(t *testing.T, provider billing.Provider) (*entitlement.Checkout, *entitlement.Engine, session.Store, *testClock) {
	t.Helper()
	engine, _, clock := newTestEngine(t)
	sessions := session.NewMemoryStore()
	confirm := token.NewConfirmService("test-secret", time.Hour)
	checkout := entitlement.NewCheckout(engine, provider, sessions, confirm, entitlement.CheckoutConfig{
		SessionTTL:       time.Hour,
		SuccessURL:       "https://app.example.com/billing/success",
		ProviderAttempts: 3,
	}, nil)
	checkout.SetBackoff(retry.FixedBackoff{Interval: time.Millisecond})
	return checkout, engine, sessions, clock
}

func TestCheckout_RequestChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("upgrade opens a provider checkout", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, sessions, _ := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))

		provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req billing.CheckoutRequest) bool {
			return req.PriceID == "pri_plus_monthly" && req.UserSub == userSub.String() && req.PlanID == "plus"
		})).Return(&billing.Checkout{SessionID: "cs_001", URL: "https://pay.example.com/cs_001"}, nil).Once()

		ticket, err := checkout.RequestChange(ctx, userSub, "plus")
		require.NoError(t, err)
		assert.Equal(t, entitlement.TicketCheckout, ticket.Kind)
		assert.Equal(t, "cs_001", ticket.SessionID)
		assert.Equal(t, "https://pay.example.com/cs_001", ticket.CheckoutURL)

		// Nothing is unlocked before payment.
		st, err := engine.State(ctx, userSub)
		require.NoError(t, err)
		assert.Equal(t, "free", st.PlanID)

		sess, err := sessions.Get(ctx, "cs_001")
		require.NoError(t, err)
		assert.Equal(t, userSub, sess.UserSub)
		assert.Equal(t, "plus", sess.RequestedPlanID)

		provider.AssertExpectations(t)
	})

	t.Run("same tier is rejected", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, _, _ := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))

		_, err := checkout.RequestChange(ctx, userSub, "free")
		require.ErrorIs(t, err, entitlement.ErrNoOpTransition)
		provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("downgrade skips payment and schedules", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, _, clock := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))
		require.NoError(t, engine.ConfirmUpgrade(ctx, userSub, "pro", clock.Now()))

		ticket, err := checkout.RequestChange(ctx, userSub, "basic")
		require.NoError(t, err)
		assert.Equal(t, entitlement.TicketScheduled, ticket.Kind)
		require.NotNil(t, ticket.ScheduledChange)
		assert.Equal(t, entitlement.ChangeDowngrade, ticket.ScheduledChange.ChangeType)
		assert.Equal(t, "basic", ticket.ScheduledChange.TargetPlanID)
		provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})

	t.Run("move to free becomes a cancellation", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, _, clock := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))
		require.NoError(t, engine.ConfirmUpgrade(ctx, userSub, "plus", clock.Now()))

		ticket, err := checkout.RequestChange(ctx, userSub, "free")
		require.NoError(t, err)
		assert.Equal(t, entitlement.TicketScheduled, ticket.Kind)
		assert.Equal(t, entitlement.ChangeCancellation, ticket.ScheduledChange.ChangeType)
	})

	t.Run("retries only provider unavailability", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, _, _ := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))

		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("gateway timeout: %w", billing.ErrProviderUnavailable)).Twice()
		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(&billing.Checkout{SessionID: "cs_retry", URL: "https://pay.example.com/cs_retry"}, nil).Once()

		ticket, err := checkout.RequestChange(ctx, userSub, "basic")
		require.NoError(t, err)
		assert.Equal(t, "cs_retry", ticket.SessionID)
		provider.AssertExpectations(t)
	})

	t.Run("exhausted retry budget surfaces the failure", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, _, _ := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))

		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(nil, billing.ErrProviderUnavailable).Times(3)

		_, err := checkout.RequestChange(ctx, userSub, "basic")
		require.ErrorIs(t, err, retry.ErrAttemptsExhausted)
		require.ErrorIs(t, err, billing.ErrProviderUnavailable)
	})
}

func TestCheckout_ConfirmCheckout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("applies the upgrade and issues a summary token", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, _, _ := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))

		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(&billing.Checkout{SessionID: "cs_confirm", URL: "https://pay.example.com/cs_confirm"}, nil).Once()
		_, err := checkout.RequestChange(ctx, userSub, "plus")
		require.NoError(t, err)

		tok, summary, err := checkout.ConfirmCheckout(ctx, "cs_confirm")
		require.NoError(t, err)
		assert.Equal(t, "free", summary.FromPlanID)
		assert.Equal(t, "plus", summary.ToPlanID)
		assert.Contains(t, summary.NewFeatures, "custom_domain")

		st, err := engine.State(ctx, userSub)
		require.NoError(t, err)
		assert.Equal(t, "plus", st.PlanID)

		parsed, err := checkout.VerifyConfirmation(tok)
		require.NoError(t, err)
		assert.Equal(t, summary.ToPlanID, parsed.ToPlanID)
		assert.Equal(t, userSub, parsed.UserSub)

		// The session is consumed.
		_, _, err = checkout.ConfirmCheckout(ctx, "cs_confirm")
		require.ErrorIs(t, err, entitlement.ErrSessionExpired)
	})

	t.Run("unknown session", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, _, _, _ := newTestCheckout(t, provider)

		_, _, err := checkout.ConfirmCheckout(ctx, "cs_nope")
		require.ErrorIs(t, err, entitlement.ErrSessionExpired)
	})

	t.Run("tampered token is rejected", func(t *testing.T) {
		t.Parallel()
		provider := &mockProvider{}
		checkout, engine, _, _ := newTestCheckout(t, provider)
		userSub := uuid.New()
		require.NoError(t, engine.CreateAccount(ctx, userSub))

		provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(&billing.Checkout{SessionID: "cs_tamper", URL: "https://pay.example.com/cs_tamper"}, nil).Once()
		_, err := checkout.RequestChange(ctx, userSub, "basic")
		require.NoError(t, err)

		tok, _, err := checkout.ConfirmCheckout(ctx, "cs_tamper")
		require.NoError(t, err)

		_, err = checkout.VerifyConfirmation(tok + "x")
		require.Error(t, err)
	})
}
