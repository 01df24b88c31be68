// Package entitlement is the subscription entitlement engine: it decides
// which plan tier a user is on, which features that unlocks, and how the
// system transitions between tiers on upgrade, downgrade and cancellation
// while reconciling with the payment provider's authoritative event stream.
//
// The engine follows three rules:
//
//   - Upgrades take effect immediately, before the provider's asynchronous
//     confirmation arrives.
//   - Downgrades and cancellations are deferred: they are recorded as a
//     scheduled change and applied only once the paid period ends.
//   - Provider webhook events are applied idempotently and order-tolerantly;
//     a processed-event log guards against redelivery and LastPaidAt guards
//     against reordering.
//
// All state transitions for a single user are serialized through the
// Store's per-user atomic unit; different users proceed in parallel.
package entitlement
