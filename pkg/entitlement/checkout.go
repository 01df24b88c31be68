package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linklet-app/linklet/pkg/billing"
	"github.com/linklet-app/linklet/pkg/logger"
	"github.com/linklet-app/linklet/pkg/plans"
	"github.com/linklet-app/linklet/pkg/retry"
	"github.com/linklet-app/linklet/pkg/session"
	"github.com/linklet-app/linklet/pkg/token"
)

// TicketKind tells the client what RequestChange produced.
type TicketKind string

const (
	// TicketCheckout means payment is required: redirect to CheckoutURL.
	TicketCheckout TicketKind = "checkout"
	// TicketScheduled means the change was recorded without payment and
	// will apply at ScheduledChange.ScheduledFor.
	TicketScheduled TicketKind = "scheduled"
)

// ChangeTicket is the result of a tier-change request.
type ChangeTicket struct {
	Kind            TicketKind
	SessionID       string
	CheckoutURL     string
	ScheduledChange *ScheduledChange
}

// CheckoutConfig tunes the orchestrator.
type CheckoutConfig struct {
	SessionTTL       time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"1h"`
	SuccessURL       string        `env:"CHECKOUT_SUCCESS_URL,required"`
	ProviderAttempts int           `env:"CHECKOUT_PROVIDER_ATTEMPTS" envDefault:"3"`
}

// Checkout orchestrates tier-change requests: it validates the transition
// against plan ranks, opens a provider checkout for upgrades, and records
// deferred changes for downgrades/cancellations.
type Checkout struct {
	engine   *Engine
	provider billing.Provider
	sessions session.Store
	confirm  *token.ConfirmService
	cfg      CheckoutConfig
	backoff  retry.BackoffStrategy
	log      *slog.Logger
}

// NewCheckout wires the orchestrator. Panics on nil dependencies.
func NewCheckout(engine *Engine, provider billing.Provider, sessions session.Store, confirm *token.ConfirmService, cfg CheckoutConfig, log *slog.Logger) *Checkout {
	if engine == nil {
		panic("entitlement: engine is required")
	}
	if provider == nil {
		panic("entitlement: billing provider is required")
	}
	if sessions == nil {
		panic("entitlement: session store is required")
	}
	if confirm == nil {
		panic("entitlement: confirmation token service is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.ProviderAttempts <= 0 {
		cfg.ProviderAttempts = 3
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Checkout{
		engine:   engine,
		provider: provider,
		sessions: sessions,
		confirm:  confirm,
		cfg:      cfg,
		backoff:  retry.DefaultBackoffStrategy(),
		log:      log,
	}
}

// SetBackoff overrides the provider retry backoff. Test hook.
func (c *Checkout) SetBackoff(b retry.BackoffStrategy) {
	if b != nil {
		c.backoff = b
	}
}

// RequestChange validates and initiates a tier change.
//
// Upgrades open a provider checkout session and return its handle; nothing
// is unlocked until the payment confirms. Downgrades and cancellations
// skip payment entirely and come back as a scheduled change — the current
// plan stays effective until the paid period ends.
func (c *Checkout) RequestChange(ctx context.Context, userSub uuid.UUID, targetPlanID string) (*ChangeTicket, error) {
	target, err := c.engine.Catalog().Get(targetPlanID)
	if err != nil {
		return nil, err
	}

	rec, err := c.engine.store.GetRecord(ctx, userSub)
	if err != nil {
		return nil, err
	}
	currentRank, err := c.engine.Catalog().RankOf(rec.PlanID)
	if err != nil {
		return nil, err
	}

	switch {
	case target.Rank == currentRank:
		return nil, ErrNoOpTransition

	case target.Rank > currentRank:
		return c.openCheckout(ctx, userSub, target)

	case target.Rank == 0:
		change, err := c.engine.ScheduleChange(ctx, userSub, ChangeCancellation, target.ID)
		if err != nil {
			return nil, err
		}
		return &ChangeTicket{Kind: TicketScheduled, ScheduledChange: change}, nil

	default:
		change, err := c.engine.ScheduleChange(ctx, userSub, ChangeDowngrade, target.ID)
		if err != nil {
			return nil, err
		}
		return &ChangeTicket{Kind: TicketScheduled, ScheduledChange: change}, nil
	}
}

// openCheckout creates the provider session with a bounded retry budget;
// only provider-availability errors are retried.
func (c *Checkout) openCheckout(ctx context.Context, userSub uuid.UUID, target plans.Plan) (*ChangeTicket, error) {
	var checkout *billing.Checkout
	err := retry.Do(ctx, c.cfg.ProviderAttempts, c.backoff,
		func(err error) bool { return errors.Is(err, billing.ErrProviderUnavailable) },
		func(ctx context.Context) error {
			var err error
			checkout, err = c.provider.CreateCheckoutSession(ctx, billing.CheckoutRequest{
				PriceID:    target.ProviderPriceID,
				UserSub:    userSub.String(),
				PlanID:     target.ID,
				SuccessURL: c.cfg.SuccessURL,
			})
			return err
		})
	if err != nil {
		return nil, err
	}

	if err := c.sessions.Put(ctx, session.CheckoutSession{
		ID:              checkout.SessionID,
		UserSub:         userSub,
		RequestedPlanID: target.ID,
		CheckoutURL:     checkout.URL,
		CreatedAt:       c.engine.now(),
	}, c.cfg.SessionTTL); err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "checkout session opened",
		logger.UserSub(userSub), logger.PlanID(target.ID),
		slog.String("session_id", checkout.SessionID))

	return &ChangeTicket{
		Kind:        TicketCheckout,
		SessionID:   checkout.SessionID,
		CheckoutURL: checkout.URL,
	}, nil
}

// ConfirmCheckout resolves a client-side confirmation callback: it applies
// the upgrade immediately and returns a signed summary token for the
// redirect page. The session is consumed; an unknown or expired session id
// yields ErrSessionExpired and the client must re-issue RequestChange.
//
// The provider's own webhook for the same payment arrives independently and
// is applied idempotently, correcting any divergence.
func (c *Checkout) ConfirmCheckout(ctx context.Context, sessionID string) (string, token.ChangeSummary, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return "", token.ChangeSummary{}, ErrSessionExpired
		}
		return "", token.ChangeSummary{}, err
	}

	rec, err := c.engine.store.GetRecord(ctx, sess.UserSub)
	if err != nil {
		return "", token.ChangeSummary{}, err
	}
	fromPlanID := rec.PlanID

	now := c.engine.now()
	if err := c.engine.ConfirmUpgrade(ctx, sess.UserSub, sess.RequestedPlanID, now); err != nil {
		return "", token.ChangeSummary{}, err
	}

	// Best effort: the TTL reclaims the session if the delete fails.
	if err := c.sessions.Delete(ctx, sessionID); err != nil {
		c.log.WarnContext(ctx, "failed to delete consumed checkout session",
			slog.String("session_id", sessionID), logger.Error(err))
	}

	summary := c.buildSummary(sess.UserSub, fromPlanID, sess.RequestedPlanID, now)
	tok, err := c.confirm.Issue(summary)
	if err != nil {
		return "", token.ChangeSummary{}, err
	}
	return tok, summary, nil
}

// VerifyConfirmation parses a confirmation token for the redirect page.
func (c *Checkout) VerifyConfirmation(tok string) (token.ChangeSummary, error) {
	return c.confirm.Verify(tok)
}

func (c *Checkout) buildSummary(userSub uuid.UUID, fromPlanID, toPlanID string, effectiveAt time.Time) token.ChangeSummary {
	summary := token.ChangeSummary{
		UserSub:     userSub,
		FromPlanID:  fromPlanID,
		ToPlanID:    toPlanID,
		EffectiveAt: effectiveAt,
	}

	from, errFrom := c.engine.Catalog().Get(fromPlanID)
	to, errTo := c.engine.Catalog().Get(toPlanID)
	if errFrom == nil && errTo == nil {
		cmp := plans.Compare(from, to)
		for _, f := range cmp.NewFeatures {
			summary.NewFeatures = append(summary.NewFeatures, string(f))
		}
		for _, f := range cmp.LostFeatures {
			summary.LostFeatures = append(summary.LostFeatures, string(f))
		}
	}
	return summary
}
