package payout

import (
	"errors"
	"fmt"

	"github.com/waitflo/backend/internal/money"
)

var (
	ErrBelowMinimumThreshold = errors.New("below minimum payout threshold")
	ErrAmountExceedsBalance  = errors.New("amount exceeds balance")
	ErrRequestAlreadyPending = errors.New("a payout request is already pending")
	ErrAlreadyDecided        = errors.New("payout request already decided")
	ErrNotApproved           = errors.New("payout request is not approved")
	ErrNotFound              = errors.New("payout request not found")
	ErrAccountDisabled       = errors.New("account is disabled")
)

// ThresholdError carries what the dashboard needs to render "$X more needed".
type ThresholdError struct {
	MinimumCents   int64
	RequestedCents int64
	BalanceCents   int64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("%s: minimum %s, %s more needed",
		ErrBelowMinimumThreshold, money.Format(e.MinimumCents), money.Format(e.ShortfallCents()))
}

func (e *ThresholdError) Is(target error) bool { return target == ErrBelowMinimumThreshold }

// ShortfallCents is how far the balance (or, when the balance is enough,
// the requested amount) is below the minimum.
func (e *ThresholdError) ShortfallCents() int64 {
	if e.BalanceCents < e.MinimumCents {
		return e.MinimumCents - e.BalanceCents
	}
	if e.RequestedCents < e.MinimumCents {
		return e.MinimumCents - e.RequestedCents
	}
	return 0
}

type BalanceError struct {
	RequestedCents int64
	BalanceCents   int64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("%s: requested %s, balance %s",
		ErrAmountExceedsBalance, money.Format(e.RequestedCents), money.Format(e.BalanceCents))
}

func (e *BalanceError) Is(target error) bool { return target == ErrAmountExceedsBalance }
