// Package session stores ephemeral checkout sessions. A session correlates
// a client-side payment confirmation callback with the original tier-change
// request; it lives only for a bounded TTL and is consumed on confirmation.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("checkout session not found or expired")
	ErrEmptySessionID  = errors.New("checkout session ID is required")
)

// CheckoutSession correlates a provider checkout with the requesting user
// and the tier they asked for.
type CheckoutSession struct {
	ID              string    `json:"id"`
	UserSub         uuid.UUID `json:"user_sub"`
	RequestedPlanID string    `json:"requested_plan_id"`
	CheckoutURL     string    `json:"checkout_url"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists checkout sessions for their TTL.
type Store interface {
	// Put saves the session, replacing any previous value under the same ID.
	Put(ctx context.Context, s CheckoutSession, ttl time.Duration) error

	// Get returns the session or ErrSessionNotFound once the TTL elapsed.
	Get(ctx context.Context, id string) (CheckoutSession, error)

	// Delete removes the session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, id string) error
}
