package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/linklet-app/linklet/pkg/billing"
	"github.com/linklet-app/linklet/pkg/entitlement"
	"github.com/linklet-app/linklet/pkg/logger"
	"github.com/linklet-app/linklet/pkg/plans"
	"github.com/linklet-app/linklet/pkg/retry"
	"github.com/linklet-app/linklet/pkg/token"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Service exposes the subscription lifecycle over HTTP.
type Service struct {
	engine     *entitlement.Engine
	checkout   *entitlement.Checkout
	reconciler *entitlement.Reconciler
	sigHeader  string
	log        *slog.Logger
}

// NewService wires the HTTP surface. Panics on nil dependencies.
func NewService(engine *entitlement.Engine, checkout *entitlement.Checkout, reconciler *entitlement.Reconciler, log *slog.Logger) *Service {
	if engine == nil {
		panic("subscription: engine is required")
	}
	if checkout == nil {
		panic("subscription: checkout is required")
	}
	if reconciler == nil {
		panic("subscription: reconciler is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		engine:     engine,
		checkout:   checkout,
		reconciler: reconciler,
		sigHeader:  "Paddle-Signature",
		log:        log,
	}
}

type changeRequest struct {
	TargetPlanID string `json:"target_plan_id"`
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
}

type ticketResponse struct {
	Kind         string           `json:"kind"`
	SessionID    string           `json:"session_id,omitempty"`
	CheckoutURL  string           `json:"checkout_url,omitempty"`
	TargetPlanID string           `json:"target_plan_id,omitempty"`
	EffectiveAt  *time.Time       `json:"effective_at,omitempty"`
	Warnings     []usageOverlimit `json:"warnings,omitempty"`
}

type usageOverlimit struct {
	Resource string `json:"resource"`
	Used     int64  `json:"used"`
	Limit    int64  `json:"limit"`
}

type confirmResponse struct {
	Token   string              `json:"token"`
	Summary token.ChangeSummary `json:"summary"`
}

type scheduledChangeView struct {
	ChangeType   string    `json:"change_type"`
	TargetPlanID string    `json:"target_plan_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

type usageView struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

type statusResponse struct {
	State           string               `json:"state"`
	PlanID          string               `json:"plan_id"`
	PlanName        string               `json:"plan_name,omitempty"`
	LastPaidAt      *time.Time           `json:"last_paid_at,omitempty"`
	ScheduledChange *scheduledChangeView `json:"scheduled_change,omitempty"`
	Usage           map[string]usageView `json:"usage,omitempty"`
	Features        []plans.Feature      `json:"features,omitempty"`
}

// handleRequestChange opens a checkout for upgrades or records a deferred
// change for downgrades/cancellations.
func (s *Service) handleRequestChange(w http.ResponseWriter, r *http.Request) {
	userSub, ok := UserSubFromContext(r.Context())
	if !ok {
		writeError(w, errUnauthorized, "")
		return
	}

	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetPlanID == "" {
		writeError(w, errBadRequest, "target_plan_id is required")
		return
	}

	ticket, err := s.checkout.RequestChange(r.Context(), userSub, req.TargetPlanID)
	if err != nil {
		switch {
		case errors.Is(err, plans.ErrPlanNotFound):
			writeError(w, errUnprocessable, "unknown plan")
		case errors.Is(err, entitlement.ErrNoOpTransition):
			writeError(w, errConflict, "already on the requested plan")
		case errors.Is(err, entitlement.ErrIllegalTransition):
			writeError(w, errConflict, "transition not allowed")
		case errors.Is(err, entitlement.ErrRecordNotFound):
			writeError(w, errNotFound, "no subscription account")
		case errors.Is(err, billing.ErrProviderUnavailable), errors.Is(err, retry.ErrAttemptsExhausted):
			writeError(w, errBadGateway, "payment provider unavailable")
		default:
			s.log.ErrorContext(r.Context(), "change request failed",
				logger.UserSub(userSub), logger.Error(err))
			writeError(w, errInternal, "")
		}
		return
	}

	resp := ticketResponse{Kind: string(ticket.Kind)}
	switch ticket.Kind {
	case entitlement.TicketCheckout:
		resp.SessionID = ticket.SessionID
		resp.CheckoutURL = ticket.CheckoutURL
	case entitlement.TicketScheduled:
		resp.TargetPlanID = ticket.ScheduledChange.TargetPlanID
		effectiveAt := ticket.ScheduledChange.ScheduledFor
		resp.EffectiveAt = &effectiveAt
		resp.Warnings = s.overlimitWarnings(r.Context(), userSub, ticket.ScheduledChange.TargetPlanID)
	}
	writeJSON(w, http.StatusOK, "change_requested", resp)
}

// overlimitWarnings lists resources whose current usage exceeds the target
// plan's limits. Advisory only: a downgrade is never blocked by usage.
func (s *Service) overlimitWarnings(ctx context.Context, userSub uuid.UUID, targetPlanID string) []usageOverlimit {
	if err := s.engine.CanDowngrade(ctx, userSub, targetPlanID); err == nil {
		return nil
	}

	target, err := s.engine.Catalog().Get(targetPlanID)
	if err != nil {
		return nil
	}
	var warnings []usageOverlimit
	for res := range target.Limits {
		used, _, err := s.engine.GetUsage(ctx, userSub, res)
		if err != nil {
			continue
		}
		limit, _ := target.Quota(res)
		if limit != plans.Unlimited && used > limit {
			warnings = append(warnings, usageOverlimit{Resource: string(res), Used: used, Limit: limit})
		}
	}
	return warnings
}

// handleConfirmCheckout consumes a checkout session after the client-side
// payment callback and applies the upgrade.
func (s *Service) handleConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, errBadRequest, "session_id is required")
		return
	}

	tok, summary, err := s.checkout.ConfirmCheckout(r.Context(), req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, entitlement.ErrSessionExpired):
			writeError(w, errGone, "checkout session expired, request the change again")
		case errors.Is(err, entitlement.ErrIllegalTransition):
			writeError(w, errConflict, "transition not allowed")
		case errors.Is(err, entitlement.ErrRecordNotFound):
			writeError(w, errNotFound, "no subscription account")
		default:
			s.log.ErrorContext(r.Context(), "checkout confirmation failed", logger.Error(err))
			writeError(w, errInternal, "")
		}
		return
	}
	writeJSON(w, http.StatusOK, "upgrade_confirmed", confirmResponse{Token: tok, Summary: summary})
}

// handleVerifyConfirmation renders the signed change summary behind a
// confirmation link.
func (s *Service) handleVerifyConfirmation(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		writeError(w, errBadRequest, "token is required")
		return
	}

	summary, err := s.checkout.VerifyConfirmation(tok)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			writeError(w, errGone, "confirmation link expired")
			return
		}
		writeError(w, errBadRequest, "invalid confirmation token")
		return
	}
	writeJSON(w, http.StatusOK, "confirmation", summary)
}

// handleRevert cancels a pending scheduled change.
func (s *Service) handleRevert(w http.ResponseWriter, r *http.Request) {
	userSub, ok := UserSubFromContext(r.Context())
	if !ok {
		writeError(w, errUnauthorized, "")
		return
	}

	if err := s.engine.RevertScheduledChange(r.Context(), userSub); err != nil {
		switch {
		case errors.Is(err, entitlement.ErrNothingToRevert):
			writeError(w, errNotFound, "no pending change to revert")
		case errors.Is(err, entitlement.ErrRecordNotFound):
			writeError(w, errNotFound, "no subscription account")
		default:
			s.log.ErrorContext(r.Context(), "revert failed",
				logger.UserSub(userSub), logger.Error(err))
			writeError(w, errInternal, "")
		}
		return
	}
	writeJSON(w, http.StatusOK, "change_reverted", nil)
}

// handleStatus reports the derived subscription state plus usage.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	userSub, ok := UserSubFromContext(r.Context())
	if !ok {
		writeError(w, errUnauthorized, "")
		return
	}

	st, err := s.engine.State(r.Context(), userSub)
	if err != nil {
		if errors.Is(err, entitlement.ErrRecordNotFound) {
			writeError(w, errNotFound, "no subscription account")
			return
		}
		s.log.ErrorContext(r.Context(), "status read failed",
			logger.UserSub(userSub), logger.Error(err))
		writeError(w, errInternal, "")
		return
	}

	resp := statusResponse{
		State:  string(st.Kind),
		PlanID: st.PlanID,
	}
	if !st.LastPaidAt.IsZero() {
		lastPaidAt := st.LastPaidAt
		resp.LastPaidAt = &lastPaidAt
	}
	if st.ScheduledChange != nil {
		resp.ScheduledChange = &scheduledChangeView{
			ChangeType:   string(st.ScheduledChange.ChangeType),
			TargetPlanID: st.ScheduledChange.TargetPlanID,
			ScheduledFor: st.ScheduledChange.ScheduledFor,
		}
	}
	if plan, err := s.engine.Catalog().Get(st.PlanID); err == nil {
		resp.PlanName = plan.Name
		resp.Features = plan.Features
		resp.Usage = make(map[string]usageView, len(plan.Limits))
		for res := range plan.Limits {
			used, limit, err := s.engine.GetUsage(r.Context(), userSub, res)
			if err != nil {
				// No counter registered for this resource; report the limit only.
				resp.Usage[string(res)] = usageView{Used: -1, Limit: limit}
				continue
			}
			resp.Usage[string(res)] = usageView{Used: used, Limit: limit}
		}
	}
	writeJSON(w, http.StatusOK, "subscription_status", resp)
}

// handleWebhook receives raw provider deliveries. Anything verified is
// acknowledged with 200 even when processing failed, because failed events
// are parked; only signature failures tell the provider to stop retrying.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, errBadRequest, "unreadable payload")
		return
	}

	err = s.reconciler.Handle(r.Context(), payload, r.Header.Get(s.sigHeader))
	if err != nil {
		if errors.Is(err, billing.ErrBadSignature) {
			writeError(w, errBadRequest, "invalid signature")
			return
		}
		// Verified but neither applied nor parked: let the provider redeliver.
		s.log.ErrorContext(r.Context(), "webhook handling failed", logger.Error(err))
		writeError(w, errInternal, "")
		return
	}
	writeJSON(w, http.StatusOK, "accepted", nil)
}
