package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/disbursement"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/payout"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakePayouts struct {
	settleErr    error
	disburseErr  error
	reconciled   int
	settled      []uuid.UUID
	disbursed    []uuid.UUID
	gotOlderThan time.Duration
	gotVersion   int
}

func (f *fakePayouts) Settle(_ context.Context, rates config.Rates, id uuid.UUID) (*models.PayoutRequest, error) {
	f.gotVersion = rates.Version
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	f.settled = append(f.settled, id)
	return &models.PayoutRequest{ID: id, Status: models.PayoutSettled}, nil
}

func (f *fakePayouts) Disburse(_ context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	if f.disburseErr != nil {
		return nil, f.disburseErr
	}
	f.disbursed = append(f.disbursed, id)
	return &models.PayoutRequest{ID: id, Status: models.PayoutSettled}, nil
}

func (f *fakePayouts) ReconcileApproved(_ context.Context, _ config.Rates, olderThan time.Duration, _ int) (int, error) {
	f.gotOlderThan = olderThan
	return f.reconciled, nil
}

type staticRates struct{ r config.Rates }

func (s staticRates) Current() config.Rates { return s.r }

func rates(version int) staticRates {
	r := config.DefaultRates()
	r.Version = version
	return staticRates{r}
}

// ---------------------------------------------------------------------------
// 1. TestSettleWorker
// ---------------------------------------------------------------------------

func TestSettleWorker_Settles(t *testing.T) {
	fp := &fakePayouts{}
	w := NewSettleWorker(fp, rates(4), discardLogger())
	id := uuid.New()

	if err := w.Work(context.Background(), &river.Job[SettlePayoutArgs]{Args: SettlePayoutArgs{RequestID: id}}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(fp.settled) != 1 || fp.settled[0] != id {
		t.Errorf("settled: %v", fp.settled)
	}
	if fp.gotVersion != 4 {
		t.Errorf("rates version: got %d, want 4", fp.gotVersion)
	}
}

func TestSettleWorker_CancelsPermanentFailures(t *testing.T) {
	for _, cause := range []error{payout.ErrNotApproved, payout.ErrNotFound, payout.ErrAmountExceedsBalance} {
		fp := &fakePayouts{settleErr: cause}
		w := NewSettleWorker(fp, rates(1), discardLogger())
		err := w.Work(context.Background(), &river.Job[SettlePayoutArgs]{Args: SettlePayoutArgs{RequestID: uuid.New()}})
		if err == nil {
			t.Fatalf("%v: expected error", cause)
		}
		if !errors.Is(err, cause) {
			t.Errorf("%v: cause lost: %v", cause, err)
		}
		if !isCancel(err) {
			t.Errorf("%v: expected JobCancel, got %T", cause, err)
		}
	}
}

func TestSettleWorker_RetriesTransientFailures(t *testing.T) {
	fp := &fakePayouts{settleErr: errors.New("connection reset")}
	w := NewSettleWorker(fp, rates(1), discardLogger())
	err := w.Work(context.Background(), &river.Job[SettlePayoutArgs]{Args: SettlePayoutArgs{RequestID: uuid.New()}})
	if err == nil || isCancel(err) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 2. TestDisburseWorker
// ---------------------------------------------------------------------------

func TestDisburseWorker(t *testing.T) {
	fp := &fakePayouts{}
	w := NewDisburseWorker(fp, discardLogger())
	id := uuid.New()
	if err := w.Work(context.Background(), &river.Job[DisbursePayoutArgs]{Args: DisbursePayoutArgs{RequestID: id}}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(fp.disbursed) != 1 {
		t.Errorf("disbursed: %v", fp.disbursed)
	}

	fp.disburseErr = disbursement.ErrNoDestination
	err := w.Work(context.Background(), &river.Job[DisbursePayoutArgs]{Args: DisbursePayoutArgs{RequestID: id}})
	if !isCancel(err) {
		t.Errorf("missing destination should cancel, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 3. TestReconcileWorker
// ---------------------------------------------------------------------------

func TestReconcileWorker(t *testing.T) {
	fp := &fakePayouts{reconciled: 3}
	w := NewReconcileWorker(fp, rates(1), 10*time.Minute, discardLogger())
	if err := w.Work(context.Background(), &river.Job[ReconcilePayoutsArgs]{}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if fp.gotOlderThan != 10*time.Minute {
		t.Errorf("olderThan: got %v", fp.gotOlderThan)
	}
}

// ---------------------------------------------------------------------------
// 4. TestEnqueuer
// ---------------------------------------------------------------------------

func TestEnqueuer_Unbound(t *testing.T) {
	e := NewEnqueuer()
	if err := e.EnqueueSettlement(context.Background(), nil, uuid.New()); !errors.Is(err, ErrNotWired) {
		t.Fatalf("expected ErrNotWired, got %v", err)
	}
}

func TestEnqueuer_Bound(t *testing.T) {
	e := NewEnqueuer()
	var kinds []string
	e.Bind(func(_ context.Context, _ pgx.Tx, args river.JobArgs) error {
		kinds = append(kinds, args.Kind())
		return nil
	})
	id := uuid.New()
	if err := e.EnqueueSettlement(context.Background(), nil, id); err != nil {
		t.Fatal(err)
	}
	if err := e.EnqueueDisbursement(context.Background(), nil, id); err != nil {
		t.Fatal(err)
	}
	if len(kinds) != 2 || kinds[0] != "settle_payout" || kinds[1] != "disburse_payout" {
		t.Errorf("kinds: %v", kinds)
	}
}

// ---------------------------------------------------------------------------
// 5. TestPeriodicJobs
// ---------------------------------------------------------------------------

func TestPeriodicJobs(t *testing.T) {
	jobs, err := PeriodicJobs("*/15 * * * *")
	if err != nil {
		t.Fatalf("PeriodicJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs: got %d, want 1", len(jobs))
	}
	if _, err := PeriodicJobs("every quarter hour"); err == nil {
		t.Error("expected parse error for a bad schedule")
	}
}

func isCancel(err error) bool {
	return errors.Is(err, river.JobCancel(errors.New("cancelled")))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
