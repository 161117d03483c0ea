package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/disbursement"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/payout"
)

const reconcileBatch = 100

// PayoutService is the part of the payout workflow the workers drive.
type PayoutService interface {
	Settle(ctx context.Context, rates config.Rates, requestID uuid.UUID) (*models.PayoutRequest, error)
	Disburse(ctx context.Context, requestID uuid.UUID) (*models.PayoutRequest, error)
	ReconcileApproved(ctx context.Context, rates config.Rates, olderThan time.Duration, limit int) (int, error)
}

type RatesSource interface {
	Current() config.Rates
}

// Register adds every payout worker to workers.
func Register(workers *river.Workers, payouts PayoutService, rates RatesSource, reconcileAfter time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	river.AddWorker(workers, NewSettleWorker(payouts, rates, log))
	river.AddWorker(workers, NewDisburseWorker(payouts, log))
	river.AddWorker(workers, NewReconcileWorker(payouts, rates, reconcileAfter, log))
}

type SettleWorker struct {
	river.WorkerDefaults[SettlePayoutArgs]
	payouts PayoutService
	rates   RatesSource
	log     *slog.Logger
}

func NewSettleWorker(payouts PayoutService, rates RatesSource, log *slog.Logger) *SettleWorker {
	return &SettleWorker{payouts: payouts, rates: rates, log: log}
}

// Work settles the request. States that no retry can fix (denied, missing,
// balance too low) cancel the job instead of retrying it.
func (w *SettleWorker) Work(ctx context.Context, job *river.Job[SettlePayoutArgs]) error {
	id := job.Args.RequestID
	_, err := w.payouts.Settle(ctx, w.rates.Current(), id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payout.ErrNotApproved),
		errors.Is(err, payout.ErrNotFound),
		errors.Is(err, payout.ErrAmountExceedsBalance):
		w.log.Error("settlement cancelled", "payout_request_id", id, "error", err)
		return river.JobCancel(err)
	default:
		return fmt.Errorf("settle payout %s: %w", id, err)
	}
}

type DisburseWorker struct {
	river.WorkerDefaults[DisbursePayoutArgs]
	payouts PayoutService
	log     *slog.Logger
}

func NewDisburseWorker(payouts PayoutService, log *slog.Logger) *DisburseWorker {
	return &DisburseWorker{payouts: payouts, log: log}
}

func (w *DisburseWorker) Work(ctx context.Context, job *river.Job[DisbursePayoutArgs]) error {
	id := job.Args.RequestID
	_, err := w.payouts.Disburse(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payout.ErrNotApproved),
		errors.Is(err, payout.ErrNotFound),
		errors.Is(err, disbursement.ErrNoDestination):
		w.log.Error("disbursement cancelled", "payout_request_id", id, "error", err)
		return river.JobCancel(err)
	default:
		return fmt.Errorf("disburse payout %s: %w", id, err)
	}
}

func (w *DisburseWorker) Timeout(*river.Job[DisbursePayoutArgs]) time.Duration {
	return 60 * time.Second
}

type ReconcileWorker struct {
	river.WorkerDefaults[ReconcilePayoutsArgs]
	payouts PayoutService
	rates   RatesSource
	after   time.Duration
	log     *slog.Logger
}

func NewReconcileWorker(payouts PayoutService, rates RatesSource, after time.Duration, log *slog.Logger) *ReconcileWorker {
	return &ReconcileWorker{payouts: payouts, rates: rates, after: after, log: log}
}

func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[ReconcilePayoutsArgs]) error {
	n, err := w.payouts.ReconcileApproved(ctx, w.rates.Current(), w.after, reconcileBatch)
	if err != nil {
		return fmt.Errorf("reconcile payouts: %w", err)
	}
	if n > 0 {
		w.log.Info("reconciled approved payouts", "settled", n)
	}
	return nil
}
