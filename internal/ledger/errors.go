package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/waitflo/backend/internal/repository"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrNegativeBalance = errors.New("posting would make the balance negative")
	ErrAccountNotFound = errors.New("account not found")
	// ErrReservedFunds rejects an adjustment that would leave less than an
	// unresolved payout request needs.
	ErrReservedFunds = errors.New("funds are reserved by an unresolved payout request")

	// ErrStorageConflict is a lost race on an account's version or a
	// serialization failure. Transactions run through InTx retry it.
	ErrStorageConflict = errors.New("storage conflict")
	// ErrRetryExhausted wraps the last ErrStorageConflict once the retry
	// budget is spent.
	ErrRetryExhausted     = errors.New("retry exhausted")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// classify maps driver failures onto the storage error taxonomy. Domain
// errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageConflict) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return fmt.Errorf("%w: %w", ErrStorageConflict, err)
	}
	if errors.Is(err, repository.ErrBalanceCheck) {
		return fmt.Errorf("%w: %w", ErrNegativeBalance, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", ErrStorageConflict, err)
		}
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}
