package billing

import "errors"

var (
	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid billing provider environment")
	ErrBadSignature         = errors.New("webhook signature verification failed")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrMissingPriceID       = errors.New("price ID is required")
	ErrMissingUserSub       = errors.New("user subject is required")
	ErrProviderUnavailable  = errors.New("billing provider request failed")
)
