// Package jobs runs the payout workflow's background work on River:
// deferred settlement, disbursement, and the periodic reconcile sweep.
package jobs

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

type SettlePayoutArgs struct {
	RequestID uuid.UUID `json:"request_id"`
}

func (SettlePayoutArgs) Kind() string { return "settle_payout" }

func (SettlePayoutArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 10, UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

type DisbursePayoutArgs struct {
	RequestID uuid.UUID `json:"request_id"`
}

func (DisbursePayoutArgs) Kind() string { return "disburse_payout" }

func (DisbursePayoutArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 15, UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

type ReconcilePayoutsArgs struct{}

func (ReconcilePayoutsArgs) Kind() string { return "reconcile_payouts" }
