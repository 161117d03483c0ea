package models

import (
	"time"

	"github.com/google/uuid"
)

type ReferralToken struct {
	Token     string    `json:"token"`
	AccountID uuid.UUID `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
	// ExpiresAt is fixed at issue time from the window then in effect. It is
	// the last instant at which the token still attributes.
	ExpiresAt time.Time `json:"expires_at"`
	// AccountDisabled is filled on lookup from the owning account.
	AccountDisabled bool `json:"-"`
}

func (t *ReferralToken) Active(now time.Time) bool {
	return !now.After(t.ExpiresAt)
}
