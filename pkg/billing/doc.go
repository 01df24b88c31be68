// Package billing abstracts the payment provider behind a small interface:
// hosted checkout creation and webhook verification/normalization.
//
// The provider is modeled strictly as an untrusted asynchronous oracle.
// Webhook delivery is at-least-once and possibly reordered, so normalized
// events carry the provider event id (for dedup) and occurrence/effective
// timestamps (for ordering) instead of relying on arrival order.
package billing
