package models

import (
	"time"

	"github.com/google/uuid"
)

// Entry kinds.
const (
	EntryAccrual     = "accrual"
	EntryPayoutDebit = "payout_debit"
	EntryAdjustment  = "adjustment"
)

// Entry sources.
const (
	SourceConversion    = "conversion"
	SourceTemplateUsage = "template_usage"
	SourcePayout        = "payout"
	SourceAdjustment    = "adjustment"
)

// LedgerEntry is append-only. AmountCents is signed: accruals are positive,
// payout debits negative.
type LedgerEntry struct {
	ID                uuid.UUID  `json:"id"`
	AccountID         uuid.UUID  `json:"account_id"`
	AmountCents       int64      `json:"amount_cents"`
	Kind              string     `json:"kind"`
	Source            string     `json:"source"`
	SourceEventID     *string    `json:"source_event_id,omitempty"`
	PayoutRequestID   *uuid.UUID `json:"payout_request_id,omitempty"`
	RateBps           *int64     `json:"rate_bps,omitempty"`
	ConfigVersion     int        `json:"config_version"`
	BalanceAfterCents int64      `json:"balance_after_cents"`
	Note              string     `json:"note,omitempty"`
	CreatedBy         *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
