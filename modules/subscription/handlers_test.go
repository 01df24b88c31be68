package subscription_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linklet-app/linklet/modules/subscription"
	"github.com/linklet-app/linklet/pkg/billing"
	"github.com/linklet-app/linklet/pkg/entitlement"
	"github.com/linklet-app/linklet/pkg/plans"
	"github.com/linklet-app/linklet/pkg/session"
	"github.com/linklet-app/linklet/pkg/token"
)

const subjectHeader = "X-User-Sub"

// stubProvider drives checkout and webhook parsing with plain functions.
type stubProvider struct {
	createFn func(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error)
	parseFn  func(ctx context.Context, payload []byte, signature string) (*billing.Event, error)
}

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	return p.createFn(ctx, req)
}

func (p *stubProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	return p.parseFn(ctx, payload, signature)
}

type testStack struct {
	server   *httptest.Server
	engine   *entitlement.Engine
	provider *stubProvider
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	catalog := plans.MustCatalog(
		plans.Plan{
			ID:       "free",
			Rank:     0,
			Name:     "Free",
			Limits:   map[plans.Resource]int64{plans.ResourceLinks: 5},
			Interval: plans.BillingIntervalNone,
		},
		plans.Plan{
			ID:              "basic",
			Rank:            1,
			Name:            "Basic",
			Limits:          map[plans.Resource]int64{plans.ResourceLinks: 100},
			Features:        []plans.Feature{plans.FeatureLinkAnalytics},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: "pri_basic",
		},
		plans.Plan{
			ID:              "pro",
			Rank:            2,
			Name:            "Pro",
			Limits:          map[plans.Resource]int64{plans.ResourceLinks: plans.Unlimited},
			Features:        []plans.Feature{plans.FeatureLinkAnalytics, plans.FeatureAPI},
			Interval:        plans.BillingIntervalMonthly,
			ProviderPriceID: "pri_pro",
		},
	)

	store := entitlement.NewMemoryStore()
	engine := entitlement.NewEngine(catalog, store,
		entitlement.WithCounter(plans.ResourceLinks, func(context.Context, uuid.UUID) (int64, error) {
			return 2, nil
		}),
	)

	provider := &stubProvider{
		createFn: func(_ context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
			return &billing.Checkout{
				SessionID: "cs_" + req.PlanID,
				URL:       "https://pay.example.com/cs_" + req.PlanID,
			}, nil
		},
	}

	confirm := token.NewConfirmService("test-secret", time.Hour)
	checkout := entitlement.NewCheckout(engine, provider, session.NewMemoryStore(), confirm, entitlement.CheckoutConfig{
		SessionTTL: time.Hour,
		SuccessURL: "https://app.example.com/success",
	}, nil)
	reconciler := entitlement.NewReconciler(engine, provider, entitlement.NewMemoryParkedEvents(), nil)

	svc := subscription.NewService(engine, checkout, reconciler, nil)
	srv := httptest.NewServer(subscription.Router(svc, subscription.HeaderSubjectResolver(subjectHeader)))
	t.Cleanup(srv.Close)

	return &testStack{server: srv, engine: engine, provider: provider}
}

func (s *testStack) do(t *testing.T, method, path string, userSub uuid.UUID, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	if userSub != uuid.Nil {
		req.Header.Set(subjectHeader, userSub.String())
	}

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (s *testStack) newUser(t *testing.T) uuid.UUID {
	t.Helper()
	userSub := uuid.New()
	require.NoError(t, s.engine.CreateAccount(context.Background(), userSub))
	return userSub
}

func TestCheckoutEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("upgrade returns a checkout session", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		userSub := stack.newUser(t)

		resp, body := stack.do(t, http.MethodPost, "/subscription/checkout", userSub,
			map[string]string{"target_plan_id": "pro"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		data := body["data"].(map[string]any)
		assert.Equal(t, "checkout", data["kind"])
		assert.Equal(t, "cs_pro", data["session_id"])
		assert.NotEmpty(t, data["checkout_url"])
	})

	t.Run("same tier conflicts", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		userSub := stack.newUser(t)

		resp, _ := stack.do(t, http.MethodPost, "/subscription/checkout", userSub,
			map[string]string{"target_plan_id": "free"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown plan is unprocessable", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		userSub := stack.newUser(t)

		resp, _ := stack.do(t, http.MethodPost, "/subscription/checkout", userSub,
			map[string]string{"target_plan_id": "enterprise"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("anonymous request is rejected", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)

		resp, _ := stack.do(t, http.MethodPost, "/subscription/checkout", uuid.Nil,
			map[string]string{"target_plan_id": "pro"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("downgrade is scheduled without payment", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		userSub := stack.newUser(t)
		require.NoError(t, stack.engine.ConfirmUpgrade(context.Background(), userSub, "pro", time.Now()))

		resp, body := stack.do(t, http.MethodPost, "/subscription/checkout", userSub,
			map[string]string{"target_plan_id": "basic"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		data := body["data"].(map[string]any)
		assert.Equal(t, "scheduled", data["kind"])
		assert.Equal(t, "basic", data["target_plan_id"])
		assert.NotEmpty(t, data["effective_at"])
	})
}

func TestConfirmEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("confirm applies the upgrade and the token verifies", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		userSub := stack.newUser(t)

		_, _ = stack.do(t, http.MethodPost, "/subscription/checkout", userSub,
			map[string]string{"target_plan_id": "pro"})

		resp, body := stack.do(t, http.MethodPost, "/subscription/confirm", uuid.Nil,
			map[string]string{"session_id": "cs_pro"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		data := body["data"].(map[string]any)
		tok := data["token"].(string)
		require.NotEmpty(t, tok)

		st, err := stack.engine.State(context.Background(), userSub)
		require.NoError(t, err)
		assert.Equal(t, "pro", st.PlanID)

		resp, body = stack.do(t, http.MethodGet, "/subscription/confirm?token="+tok, uuid.Nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		summary := body["data"].(map[string]any)
		assert.Equal(t, "free", summary["from"])
		assert.Equal(t, "pro", summary["to"])
	})

	t.Run("unknown session is gone", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)

		resp, _ := stack.do(t, http.MethodPost, "/subscription/confirm", uuid.Nil,
			map[string]string{"session_id": "cs_missing"})
		assert.Equal(t, http.StatusGone, resp.StatusCode)
	})

	t.Run("stale session for a lower tier conflicts", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		userSub := stack.newUser(t)

		_, _ = stack.do(t, http.MethodPost, "/subscription/checkout", userSub,
			map[string]string{"target_plan_id": "basic"})

		// The user lands on a higher tier before the old session is confirmed.
		require.NoError(t, stack.engine.ConfirmUpgrade(context.Background(), userSub, "pro", time.Now()))

		resp, _ := stack.do(t, http.MethodPost, "/subscription/confirm", uuid.Nil,
			map[string]string{"session_id": "cs_basic"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		st, err := stack.engine.State(context.Background(), userSub)
		require.NoError(t, err)
		assert.Equal(t, "pro", st.PlanID)
	})

	t.Run("tampered token is a bad request", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)

		resp, _ := stack.do(t, http.MethodGet, "/subscription/confirm?token=not-a-token", uuid.Nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRevertEndpoint(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	userSub := stack.newUser(t)
	require.NoError(t, stack.engine.ConfirmUpgrade(context.Background(), userSub, "pro", time.Now()))

	_, _ = stack.do(t, http.MethodPost, "/subscription/checkout", userSub,
		map[string]string{"target_plan_id": "basic"})

	resp, _ := stack.do(t, http.MethodPost, "/subscription/revert", userSub, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Nothing left to revert.
	resp, _ = stack.do(t, http.MethodPost, "/subscription/revert", userSub, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	stack := newTestStack(t)
	userSub := stack.newUser(t)
	require.NoError(t, stack.engine.ConfirmUpgrade(context.Background(), userSub, "basic", time.Now()))

	resp, body := stack.do(t, http.MethodGet, "/subscription/status", userSub, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]any)
	assert.Equal(t, "active", data["state"])
	assert.Equal(t, "basic", data["plan_id"])
	assert.Equal(t, "Basic", data["plan_name"])

	usage := data["usage"].(map[string]any)
	links := usage["links"].(map[string]any)
	assert.Equal(t, float64(2), links["used"])
	assert.Equal(t, float64(100), links["limit"])
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		stack.provider.parseFn = func(context.Context, []byte, string) (*billing.Event, error) {
			return nil, billing.ErrBadSignature
		}

		resp, _ := stack.do(t, http.MethodPost, "/webhooks/billing", uuid.Nil,
			map[string]string{"any": "payload"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("verified upgrade is applied", func(t *testing.T) {
		t.Parallel()
		stack := newTestStack(t)
		userSub := stack.newUser(t)
		stack.provider.parseFn = func(context.Context, []byte, string) (*billing.Event, error) {
			return &billing.Event{
				ID:         fmt.Sprintf("evt_%s", userSub),
				Type:       billing.EventUpgradeConfirmed,
				UserSub:    userSub.String(),
				PriceID:    "pri_basic",
				OccurredAt: time.Now(),
			}, nil
		}

		resp, _ := stack.do(t, http.MethodPost, "/webhooks/billing", uuid.Nil,
			map[string]string{"any": "payload"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		st, err := stack.engine.State(context.Background(), userSub)
		require.NoError(t, err)
		assert.Equal(t, "basic", st.PlanID)
	})
}
