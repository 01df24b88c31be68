package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/linklet-app/linklet/pkg/billing"
	"github.com/linklet-app/linklet/pkg/logger"
)

// Reconciler feeds verified provider webhook events into the state machine.
// Delivery is at-least-once and unordered; the engine's event log and
// timestamp guards make application idempotent and order-tolerant.
type Reconciler struct {
	engine   *Engine
	provider billing.Provider
	parked   ParkedEventStore
	log      *slog.Logger
}

// NewReconciler wires the reconciler. The parked store may be nil, in which
// case terminal processing failures are surfaced to the caller (and the
// provider redelivers).
func NewReconciler(engine *Engine, provider billing.Provider, parked ParkedEventStore, log *slog.Logger) *Reconciler {
	if engine == nil {
		panic("entitlement: engine is required")
	}
	if provider == nil {
		panic("entitlement: billing provider is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{engine: engine, provider: provider, parked: parked, log: log}
}

// Handle verifies and applies one raw webhook delivery.
//
// A signature failure returns billing.ErrBadSignature with no state change;
// the endpoint must answer 4xx so the provider does not retry a forgery.
// Any failure after verification is parked for manual reconciliation and
// reported as success, so redelivery exhaustion cannot lose the event.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := r.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	if err := r.apply(ctx, event); err != nil {
		if r.parked == nil {
			return err
		}
		r.log.ErrorContext(ctx, "webhook processing failed, parking event",
			logger.EventID(event.ID), slog.String("provider_event", event.ProviderEvent),
			logger.Error(err))
		if parkErr := r.parked.Park(ctx, *event, err.Error()); parkErr != nil {
			// Could not even park: fail the delivery so the provider retries.
			return errors.Join(err, parkErr)
		}
	}
	return nil
}

// apply maps a normalized event onto a state machine transition.
func (r *Reconciler) apply(ctx context.Context, event *billing.Event) error {
	switch event.Type {
	case billing.EventIgnored:
		return nil

	case billing.EventPaymentFailed:
		// Dunning is the provider's job; surfaced here for observability only.
		r.log.WarnContext(ctx, "provider reported failed payment",
			logger.EventID(event.ID), slog.String("user_sub", event.UserSub))
		return nil
	}

	userSub, err := uuid.Parse(event.UserSub)
	if err != nil {
		// The provider may reference an account we no longer know about;
		// never fatal to the reconciler.
		r.log.WarnContext(ctx, "webhook event without resolvable user, dropped",
			logger.EventID(event.ID), slog.String("provider_event", event.ProviderEvent))
		return nil
	}

	err = r.route(ctx, userSub, event)
	if errors.Is(err, ErrRecordNotFound) {
		r.log.WarnContext(ctx, "webhook event for unknown user, dropped",
			logger.UserSub(userSub), logger.EventID(event.ID))
		return nil
	}
	return err
}

func (r *Reconciler) route(ctx context.Context, userSub uuid.UUID, event *billing.Event) error {
	switch event.Type {
	case billing.EventUpgradeConfirmed:
		plan, err := r.engine.Catalog().ByProviderPrice(event.PriceID)
		if err != nil {
			return err
		}
		return r.engine.ProviderUpgradeConfirmed(ctx, userSub, plan.ID, event.OccurredAt, event.ID)

	case billing.EventRenewed:
		return r.engine.ProviderRenewed(ctx, userSub, event.OccurredAt, event.ID)

	case billing.EventScheduleConfirmed:
		changeType := ChangeDowngrade
		targetPlanID := ""
		if event.Action == billing.ActionCancellation {
			changeType = ChangeCancellation
		} else {
			plan, err := r.engine.Catalog().ByProviderPrice(event.PriceID)
			if err != nil {
				return err
			}
			targetPlanID = plan.ID
		}
		return r.engine.ProviderScheduleConfirmed(ctx, userSub, changeType, targetPlanID, event.EffectiveAt, event.ID)

	case billing.EventTerminated:
		return r.engine.ProviderTerminated(ctx, userSub, event.ID)

	default:
		return fmt.Errorf("unhandled event type %q", event.Type)
	}
}
