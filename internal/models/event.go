package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventClick         = "click"
	EventSignup        = "signup"
	EventConversion    = "conversion"
	EventTemplateUsage = "template_usage"
)

// Event is an immutable fact delivered by the web layer. ID is the
// idempotency key.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// ReferralTokens is ordered oldest first; ReferralToken, when set, is
	// treated as the newest.
	ReferralToken  string     `json:"referral_token,omitempty"`
	ReferralTokens []string   `json:"referral_tokens,omitempty"`
	AffiliateID    *uuid.UUID `json:"affiliate_id,omitempty"`
	SubjectID      *uuid.UUID `json:"subject_id,omitempty"`
	PlanID         string     `json:"plan_id,omitempty"`
	TemplateID     *uuid.UUID `json:"template_id,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	OccurredAt     time.Time  `json:"occurred_at"`
	ProcessedAt    time.Time  `json:"processed_at"`
}

func ValidEventType(t string) bool {
	switch t {
	case EventClick, EventSignup, EventConversion, EventTemplateUsage:
		return true
	}
	return false
}

// Monetary reports whether the event carries revenue.
func (e *Event) Monetary() bool {
	return e.Type == EventConversion || e.Type == EventTemplateUsage
}

// Tokens returns every referral token on the event, oldest first.
func (e *Event) Tokens() []string {
	out := make([]string, 0, len(e.ReferralTokens)+1)
	out = append(out, e.ReferralTokens...)
	if e.ReferralToken != "" {
		out = append(out, e.ReferralToken)
	}
	return out
}
