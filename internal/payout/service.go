// Package payout implements the payout request workflow: an account with
// enough accrued balance asks for a payout, an admin approves or denies it,
// and an approved request is settled by exactly one ledger debit.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/disbursement"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/metrics"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error
	UnresolvedTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.PayoutRequest, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.PayoutRequest, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.PayoutRequest, error)
	ListApprovedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.PayoutRequest, error)
	SetDisbursementRef(ctx context.Context, id uuid.UUID, ref string) error
}

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
}

// Enqueuer schedules background work inside the caller's transaction, so a
// job exists if and only if the state change that needs it committed.
type Enqueuer interface {
	EnqueueSettlement(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) error
	EnqueueDisbursement(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) error
}

// Invalidator drops cached report views for an account.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, accountID uuid.UUID)
}

type Options struct {
	// SettleOnApprove posts the debit in the approving transaction. When
	// false, approval enqueues a settlement job instead.
	SettleOnApprove bool
}

type Service struct {
	ledger   ledger.Service
	store    Store
	accounts AccountStore
	enqueue  Enqueuer
	gateway  disbursement.Gateway
	cache    Invalidator
	opts     Options
	now      func() time.Time
	log      *slog.Logger
}

func NewService(l ledger.Service, store Store, accounts AccountStore, enqueue Enqueuer, gateway disbursement.Gateway, cache Invalidator, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if gateway == nil {
		gateway = disbursement.Manual{}
	}
	return &Service{
		ledger:   l,
		store:    store,
		accounts: accounts,
		enqueue:  enqueue,
		gateway:  gateway,
		cache:    cache,
		opts:     opts,
		now:      time.Now,
		log:      log,
	}
}

// RequestPayout opens a Pending request. Checks run under a lock on the
// account row in this order: an unresolved request exists, amount invalid,
// below the minimum, more than the balance.
func (s *Service) RequestPayout(ctx context.Context, rates config.Rates, accountID uuid.UUID, amountCents int64) (*models.PayoutRequest, error) {
	var created *models.PayoutRequest
	err := s.ledger.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		acc, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
		if errors.Is(err, repository.ErrNotFound) {
			return ledger.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if acc.Disabled() {
			return ErrAccountDisabled
		}

		_, err = s.store.UnresolvedTx(ctx, tx, accountID)
		if err == nil {
			return ErrRequestAlreadyPending
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if amountCents <= 0 {
			return fmt.Errorf("%w: payout amount %d", ledger.ErrInvalidAmount, amountCents)
		}
		if amountCents < rates.MinimumPayoutCents || acc.BalanceCents < rates.MinimumPayoutCents {
			return &ThresholdError{MinimumCents: rates.MinimumPayoutCents, RequestedCents: amountCents, BalanceCents: acc.BalanceCents}
		}
		if amountCents > acc.BalanceCents {
			return &BalanceError{RequestedCents: amountCents, BalanceCents: acc.BalanceCents}
		}

		p := &models.PayoutRequest{AccountID: accountID, RequestedCents: amountCents, Status: models.PayoutPending}
		if err := s.store.CreateTx(ctx, tx, p); err != nil {
			if errors.Is(err, repository.ErrUnresolvedPayoutExists) {
				return ErrRequestAlreadyPending
			}
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		metrics.PayoutRequests.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	metrics.PayoutRequests.WithLabelValues("created").Inc()
	s.log.Info("payout requested", "payout_request_id", created.ID, "account_id", accountID, "amount_cents", amountCents)
	s.invalidate(ctx, accountID)
	return created, nil
}

// Decide approves or denies a Pending request. An Approved request that was
// never settled may still be denied, which releases the account; any other
// re-decision is ErrAlreadyDecided.
func (s *Service) Decide(ctx context.Context, rates config.Rates, requestID uuid.UUID, approve bool, actor uuid.UUID, note string) (*models.PayoutRequest, error) {
	var decided *models.PayoutRequest
	err := s.ledger.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err := s.store.GetForUpdateTx(ctx, tx, requestID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		switch {
		case p.Status == models.PayoutPending:
		case p.Status == models.PayoutApproved && !approve:
		default:
			return fmt.Errorf("%w: status is %s", ErrAlreadyDecided, p.Status)
		}

		now := s.now().UTC()
		p.DecidedAt = &now
		p.DecidedBy = &actor
		if note != "" {
			p.Note = note
		}

		if !approve {
			p.Status = models.PayoutDenied
			decided = p
			return s.store.UpdateTx(ctx, tx, p)
		}

		p.Status = models.PayoutApproved
		if s.opts.SettleOnApprove {
			decided = p
			return s.settleTx(ctx, tx, rates, p)
		}
		if err := s.store.UpdateTx(ctx, tx, p); err != nil {
			return err
		}
		if s.enqueue != nil {
			if err := s.enqueue.EnqueueSettlement(ctx, tx, p.ID); err != nil {
				return fmt.Errorf("enqueue settlement: %w", err)
			}
		}
		decided = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	decision := "denied"
	if approve {
		decision = "approved"
	}
	metrics.PayoutDecisions.WithLabelValues(decision).Inc()
	if decided.Status == models.PayoutSettled {
		s.settled(decided)
	}
	s.log.Info("payout decided",
		"payout_request_id", decided.ID,
		"account_id", decided.AccountID,
		"decision", decision,
		"status", decided.Status,
		"actor", actor,
	)
	s.invalidate(ctx, decided.AccountID)
	return decided, nil
}

// Settle posts the debit for an Approved request. Settling an already
// settled request returns it unchanged. If the balance no longer covers the
// amount, the request is denied in the same transaction so the account is not
// left holding an approved request that can never settle; the returned error
// then wraps ErrAmountExceedsBalance alongside the denied request.
func (s *Service) Settle(ctx context.Context, rates config.Rates, requestID uuid.UUID) (*models.PayoutRequest, error) {
	var settled *models.PayoutRequest
	already, rejected := false, false
	err := s.ledger.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err := s.store.GetForUpdateTx(ctx, tx, requestID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		settled = p
		already, rejected = false, false
		switch p.Status {
		case models.PayoutSettled:
			already = true
			return nil
		case models.PayoutApproved:
			err := s.settleTx(ctx, tx, rates, p)
			if !errors.Is(err, ErrAmountExceedsBalance) {
				return err
			}
			rejected = true
			p.Status = models.PayoutDenied
			reason := "settlement failed: " + err.Error()
			if p.Note != "" {
				reason = p.Note + "; " + reason
			}
			p.Note = reason
			return s.store.UpdateTx(ctx, tx, p)
		default:
			return fmt.Errorf("%w: status is %s", ErrNotApproved, p.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if already {
		return settled, nil
	}
	s.invalidate(ctx, settled.AccountID)
	if rejected {
		metrics.PayoutDecisions.WithLabelValues("denied_at_settlement").Inc()
		s.log.Warn("payout denied at settlement", "payout_request_id", settled.ID, "account_id", settled.AccountID, "amount_cents", settled.RequestedCents)
		return settled, fmt.Errorf("%w: request %s denied at settlement", ErrAmountExceedsBalance, settled.ID)
	}
	s.settled(settled)
	return settled, nil
}

func (s *Service) settled(p *models.PayoutRequest) {
	metrics.PaidOutCents.Add(float64(p.RequestedCents))
	s.log.Info("payout settled", "payout_request_id", p.ID, "account_id", p.AccountID, "amount_cents", p.RequestedCents)
}

// settleTx is the only path by which a payout reduces a balance.
func (s *Service) settleTx(ctx context.Context, tx pgx.Tx, rates config.Rates, p *models.PayoutRequest) error {
	requestID := p.ID
	debit := &models.LedgerEntry{
		AccountID:       p.AccountID,
		AmountCents:     -p.RequestedCents,
		Kind:            models.EntryPayoutDebit,
		Source:          models.SourcePayout,
		PayoutRequestID: &requestID,
		ConfigVersion:   rates.Version,
		CreatedBy:       p.DecidedBy,
	}
	if err := s.ledger.Post(ctx, tx, debit); err != nil {
		if errors.Is(err, ledger.ErrNegativeBalance) {
			return fmt.Errorf("%w: %w", ErrAmountExceedsBalance, err)
		}
		return err
	}

	now := s.now().UTC()
	p.Status = models.PayoutSettled
	p.SettledAt = &now
	if err := s.store.UpdateTx(ctx, tx, p); err != nil {
		return err
	}
	if s.enqueue != nil {
		if err := s.enqueue.EnqueueDisbursement(ctx, tx, p.ID); err != nil {
			return fmt.Errorf("enqueue disbursement: %w", err)
		}
	}
	return nil
}

// ReconcileApproved settles approved requests decided more than olderThan
// ago. It returns how many were settled; individual failures are logged and
// skipped.
func (s *Service) ReconcileApproved(ctx context.Context, rates config.Rates, olderThan time.Duration, limit int) (int, error) {
	pending, err := s.store.ListApprovedBefore(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range pending {
		if _, err := s.Settle(ctx, rates, p.ID); err != nil {
			s.log.Error("reconcile settle failed", "payout_request_id", p.ID, "error", err)
			continue
		}
		settled++
	}
	if len(pending) > 0 {
		s.log.Info("reconcile finished", "candidates", len(pending), "settled", settled)
	}
	return settled, nil
}

// Disburse sends a settled payout through the gateway once and records the
// external reference.
func (s *Service) Disburse(ctx context.Context, requestID uuid.UUID) (*models.PayoutRequest, error) {
	p, err := s.store.GetByID(ctx, requestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Status != models.PayoutSettled {
		return nil, fmt.Errorf("%w: status is %s", ErrNotApproved, p.Status)
	}
	if p.DisbursementRef != "" {
		return p, nil
	}
	acc, err := s.accounts.GetByID(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	ref, err := s.gateway.Send(ctx, disbursement.Transfer{
		RequestID:   p.ID,
		AccountID:   p.AccountID,
		Destination: acc.PayoutDestination,
		AmountCents: p.RequestedCents,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDisbursementRef(ctx, p.ID, ref); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	p.DisbursementRef = ref
	s.log.Info("payout disbursed", "payout_request_id", p.ID, "ref", ref)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	p, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Service) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.PayoutRequest, error) {
	return s.store.ListByAccountID(ctx, accountID)
}

func (s *Service) ListByStatus(ctx context.Context, status string, limit int) ([]*models.PayoutRequest, error) {
	return s.store.ListByStatus(ctx, status, limit)
}

func (s *Service) invalidate(ctx context.Context, accountID uuid.UUID) {
	if s.cache != nil {
		s.cache.InvalidateAccount(ctx, accountID)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrRequestAlreadyPending):
		return "already_pending"
	case errors.Is(err, ErrBelowMinimumThreshold):
		return "below_minimum"
	case errors.Is(err, ErrAmountExceedsBalance):
		return "exceeds_balance"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "error"
	}
}
