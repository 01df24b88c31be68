package token

import (
	"time"

	"github.com/google/uuid"
)

// ChangeSummary describes a completed plan change for display on the
// post-checkout redirect page.
type ChangeSummary struct {
	UserSub      uuid.UUID `json:"sub"`
	FromPlanID   string    `json:"from"`
	ToPlanID     string    `json:"to"`
	EffectiveAt  time.Time `json:"at"`
	NewFeatures  []string  `json:"gains,omitempty"`
	LostFeatures []string  `json:"losses,omitempty"`
	ExpiresAt    int64     `json:"exp"`
}

// ConfirmService issues and verifies short-lived confirmation tokens.
type ConfirmService struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// NewConfirmService returns a service signing summaries with the shared
// secret. A zero ttl defaults to 15 minutes, enough for a redirect page
// load plus a refresh.
func NewConfirmService(secret string, ttl time.Duration) *ConfirmService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ConfirmService{
		secret: secret,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue signs the summary with an expiry claim.
func (s *ConfirmService) Issue(summary ChangeSummary) (string, error) {
	summary.ExpiresAt = s.now().Add(s.ttl).Unix()
	return Generate(summary, s.secret)
}

// Verify parses the token and enforces its expiry.
// Returns ErrTokenExpired distinctly from signature errors so the caller
// can answer 410 vs 400.
func (s *ConfirmService) Verify(tok string) (ChangeSummary, error) {
	summary, err := Parse[ChangeSummary](tok, s.secret)
	if err != nil {
		return ChangeSummary{}, err
	}
	if s.now().Unix() > summary.ExpiresAt {
		return ChangeSummary{}, ErrTokenExpired
	}
	return summary, nil
}
