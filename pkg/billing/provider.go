package billing

import (
	"context"
	"time"
)

// Provider defines the minimal interface for payment provider integrations.
// The provider handles all payment complexity through hosted checkouts, so
// the engine never touches card data. Implementations must verify webhook
// signatures before returning any event.
type Provider interface {
	// CreateCheckoutSession creates a hosted checkout session for an upgrade.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error)

	// ParseWebhook validates the signature and normalizes the raw payload.
	// Returns ErrBadSignature on verification failure; the caller must not
	// apply any state change in that case.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	PriceID    string // provider's price identifier for the target plan
	UserSub    string // our user subject, carried through provider custom data
	PlanID     string // our plan ID, carried through provider custom data
	Email      string // optional billing email
	SuccessURL string // redirect after successful payment
}

// Checkout represents a hosted checkout session at the provider.
type Checkout struct {
	SessionID string    // provider's transaction/session identifier
	URL       string    // hosted checkout URL
	ExpiresAt time.Time // link expiration
}

// EventType is the normalized billing event type. Each provider
// implementation maps its specific events to these.
type EventType string

const (
	// EventUpgradeConfirmed is an authoritative "payment captured for a new
	// plan" signal. Applied as an immediate upgrade, idempotently.
	EventUpgradeConfirmed EventType = "upgrade_confirmed"

	// EventRenewed is a successful recurring payment for the current plan.
	EventRenewed EventType = "renewed"

	// EventScheduleConfirmed is the provider acknowledging a deferred
	// downgrade or cancellation, carrying the authoritative effective date.
	EventScheduleConfirmed EventType = "schedule_confirmed"

	// EventTerminated means the subscription fully ended at the provider.
	EventTerminated EventType = "terminated"

	// EventPaymentFailed is observed for dunning visibility; it does not
	// change entitlement state by itself.
	EventPaymentFailed EventType = "payment_failed"

	// EventIgnored covers provider events with no entitlement relevance
	// (invoice line items, address updates, ...).
	EventIgnored EventType = "ignored"
)

// ScheduledAction distinguishes deferred transitions within a
// schedule-confirmed event.
type ScheduledAction string

const (
	ActionDowngrade    ScheduledAction = "downgrade"
	ActionCancellation ScheduledAction = "cancellation"
)

// Event is a normalized webhook event from the billing provider.
// Provider delivery is at-least-once and possibly reordered, so consumers
// must dedup on ID and compare OccurredAt rather than arrival order.
type Event struct {
	ID            string          // provider event id, dedup key
	Type          EventType       // normalized type
	ProviderEvent string          // original provider event name
	OccurredAt    time.Time       // when the event happened at the provider
	EffectiveAt   time.Time       // for schedule_confirmed: when the change applies
	Action        ScheduledAction // for schedule_confirmed
	UserSub       string          // our user subject from provider custom data
	PriceID       string          // provider price the event refers to
	SubID         string          // provider subscription id
	CustomerID    string          // provider customer id (ctm_xxx)
	Raw           map[string]any  // full provider payload data
}
