package models

import (
	"time"

	"github.com/google/uuid"
)

// Bucket is one period of a revenue time series.
type Bucket struct {
	Start       time.Time `json:"start"`
	AmountCents int64     `json:"amount_cents"`
}

// BalanceMismatch is an account whose stored balance differs from the sum of
// its ledger entries.
type BalanceMismatch struct {
	AccountID      uuid.UUID `json:"account_id"`
	BalanceCents   int64     `json:"balance_cents"`
	LedgerSumCents int64     `json:"ledger_sum_cents"`
}
