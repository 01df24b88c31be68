package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

// CreateCheckoutSession creates a hosted checkout transaction in Paddle.
// The user subject and target plan ride along in CustomData so webhook
// events can be correlated back without a provider-side customer mapping.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.UserSub == "" {
		return nil, ErrMissingUserSub
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_sub": req.UserSub,
			"plan_id":  req.PlanID,
		},
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &Checkout{
		SessionID: transaction.ID,
		URL:       *transaction.Checkout.URL,
		// Paddle checkout links typically expire in 24 hours.
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook validates and normalizes incoming webhook data from Paddle.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	// The Paddle verifier works on an http.Request, so wrap the raw payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrBadSignature, err)
	}
	if !valid {
		return nil, ErrBadSignature
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt time.Time      `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	return normalizePaddleEvent(paddleEvent.EventID, paddleEvent.EventType, paddleEvent.OccurredAt, paddleEvent.Data), nil
}

// normalizePaddleEvent maps raw Paddle payloads to the normalized Event.
// Kept separate from signature verification so the mapping is testable
// without a Paddle-signed fixture.
func normalizePaddleEvent(id, eventType string, occurredAt time.Time, data map[string]any) *Event {
	event := &Event{
		ID:            id,
		Type:          EventIgnored,
		ProviderEvent: eventType,
		OccurredAt:    occurredAt,
		Raw:           data,
	}

	if customData, ok := data["custom_data"].(map[string]any); ok {
		if sub, ok := customData["user_sub"].(string); ok {
			event.UserSub = sub
		}
	}
	if customerID, ok := data["customer_id"].(string); ok {
		event.CustomerID = customerID
	}
	if subID, ok := data["subscription_id"].(string); ok {
		event.SubID = subID
	} else if strings.HasPrefix(eventType, "subscription.") {
		if subID, ok := data["id"].(string); ok {
			event.SubID = subID
		}
	}
	event.PriceID = extractPaddlePriceID(data)

	switch eventType {
	case "transaction.completed":
		event.Type = EventUpgradeConfirmed

	case "transaction.payment_succeeded":
		event.Type = EventRenewed

	case "transaction.payment_failed":
		event.Type = EventPaymentFailed

	case "subscription.canceled":
		event.Type = EventTerminated

	case "subscription.updated":
		// Only updates carrying a scheduled change affect entitlement; a
		// plain item/quantity update is display-only.
		sc, ok := data["scheduled_change"].(map[string]any)
		if !ok {
			return event
		}
		event.Type = EventScheduleConfirmed
		if action, ok := sc["action"].(string); ok && action == "cancel" {
			event.Action = ActionCancellation
		} else {
			event.Action = ActionDowngrade
		}
		if at, ok := sc["effective_at"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, at); err == nil {
				event.EffectiveAt = ts.UTC()
			}
		}
	}

	return event
}

// extractPaddlePriceID digs the price ID out of the first line item.
// Subscription events nest it under items[0].price.id, transaction events
// expose items[0].price_id directly.
func extractPaddlePriceID(data map[string]any) string {
	items, ok := data["items"].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	item, ok := items[0].(map[string]any)
	if !ok {
		return ""
	}
	if priceID, ok := item["price_id"].(string); ok {
		return priceID
	}
	if price, ok := item["price"].(map[string]any); ok {
		if priceID, ok := price["id"].(string); ok {
			return priceID
		}
	}
	return ""
}
