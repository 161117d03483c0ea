package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PayoutPending  = "pending"
	PayoutApproved = "approved"
	PayoutDenied   = "denied"
	PayoutSettled  = "settled"
)

type PayoutRequest struct {
	ID              uuid.UUID  `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	RequestedCents  int64      `json:"requested_cents"`
	Status          string     `json:"status"`
	DecidedBy       *uuid.UUID `json:"decided_by,omitempty"`
	Note            string     `json:"note,omitempty"`
	DisbursementRef string     `json:"disbursement_ref,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

// Unresolved reports whether the request still reserves part of the balance:
// pending, or approved but not yet settled.
func (p *PayoutRequest) Unresolved() bool {
	return p.Status == PayoutPending || p.Status == PayoutApproved
}
