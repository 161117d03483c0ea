package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

// AccountStore is the subset of the account repository the ledger needs.
type AccountStore interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ApplyDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, version, delta int64) (balance, newVersion int64, err error)
}

type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

// ReservationStore reports the cents held back by an account's unresolved
// payout requests. ReservedCentsTx locks the account row first, so it
// serializes with payout request creation.
type ReservationStore interface {
	ReservedCentsTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxFunc runs inside a ledger transaction. It may be called more than once.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

type Service interface {
	// InTx runs fn in a transaction under the storage timeout, retrying the
	// whole transaction on ErrStorageConflict.
	InTx(ctx context.Context, fn TxFunc) error
	// Post applies e to its account balance and appends it, inside tx.
	Post(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	// Adjust posts an admin correction as its own transaction.
	Adjust(ctx context.Context, rates config.Rates, accountID uuid.UUID, amountCents int64, note string, actor uuid.UUID) (*models.LedgerEntry, error)
}

type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	// Backoff is multiplied by the attempt number between conflict retries.
	Backoff time.Duration
	// Reservations, when set, stops a negative adjustment from taking the
	// balance below what unresolved payout requests have reserved.
	Reservations ReservationStore
}

// OptionsFromConfig takes the retry policy and storage timeout from cfg.
func OptionsFromConfig(cfg *config.Config, reservations ReservationStore) Options {
	return Options{
		MaxAttempts:  cfg.LedgerMaxAttempts,
		Timeout:      cfg.StorageTimeout,
		Backoff:      cfg.LedgerRetryBackoff,
		Reservations: reservations,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	return o
}

type service struct {
	db       TxBeginner
	accounts AccountStore
	entries  EntryStore
	opts     Options
	log      *slog.Logger
}

func NewService(db TxBeginner, accounts AccountStore, entries EntryStore, opts Options, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, accounts: accounts, entries: entries, opts: opts.withDefaults(), log: log}
}

var _ Service = (*service)(nil)

func (s *service) InTx(ctx context.Context, fn TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStorageConflict) {
			return err
		}
		lastErr = err
		s.log.Warn("ledger transaction conflict", "attempt", attempt, "max_attempts", s.opts.MaxAttempts, "error", err)
		if attempt < s.opts.MaxAttempts && s.opts.Backoff > 0 {
			select {
			case <-ctx.Done():
				return classify(ctx.Err())
			case <-time.After(s.opts.Backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, s.opts.MaxAttempts, lastErr)
}

func (s *service) runOnce(ctx context.Context, fn TxFunc) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		if c := classify(err); c != err {
			return c
		}
		return fmt.Errorf("%w: commit: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *service) Post(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	if e.AmountCents == 0 {
		return fmt.Errorf("%w: zero-amount entry", ErrInvalidAmount)
	}
	acc, err := s.accounts.GetTx(ctx, tx, e.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, e.AccountID)
	}
	if err != nil {
		return err
	}
	if e.AmountCents > 0 && acc.BalanceCents > math.MaxInt64-e.AmountCents {
		return fmt.Errorf("%w: balance overflow", ErrInvalidAmount)
	}
	if acc.BalanceCents+e.AmountCents < 0 {
		return fmt.Errorf("%w: balance %d, entry %d", ErrNegativeBalance, acc.BalanceCents, e.AmountCents)
	}

	balance, _, err := s.accounts.ApplyDelta(ctx, tx, acc.ID, acc.Version, e.AmountCents)
	if err != nil {
		return classify(err)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.BalanceAfterCents = balance
	return s.entries.CreateTx(ctx, tx, e)
}

func (s *service) Adjust(ctx context.Context, rates config.Rates, accountID uuid.UUID, amountCents int64, note string, actor uuid.UUID) (*models.LedgerEntry, error) {
	if amountCents == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
	}
	var posted *models.LedgerEntry
	err := s.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if amountCents < 0 && s.opts.Reservations != nil {
			if err := s.checkReserved(ctx, tx, accountID, amountCents); err != nil {
				return err
			}
		}
		e := &models.LedgerEntry{
			AccountID:     accountID,
			AmountCents:   amountCents,
			Kind:          models.EntryAdjustment,
			Source:        models.SourceAdjustment,
			ConfigVersion: rates.Version,
			Note:          note,
			CreatedBy:     &actor,
		}
		if err := s.Post(ctx, tx, e); err != nil {
			return err
		}
		posted = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("ledger adjustment posted", "account_id", accountID, "amount_cents", amountCents, "actor", actor)
	return posted, nil
}

func (s *service) checkReserved(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amountCents int64) error {
	reserved, err := s.opts.Reservations.ReservedCentsTx(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if reserved == 0 {
		return nil
	}
	acc, err := s.accounts.GetTx(ctx, tx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return err
	}
	if after := acc.BalanceCents + amountCents; after < reserved {
		return fmt.Errorf("%w: balance would be %d, %d reserved", ErrReservedFunds, after, reserved)
	}
	return nil
}
