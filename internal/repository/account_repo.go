package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitflo/backend/internal/models"
)

// ErrDuplicateEmail is returned by Create when the email is taken.
var ErrDuplicateEmail = fmt.Errorf("%w: email already registered", ErrDuplicate)

const accountColumns = `id, email, name, password_hash, roles, commission_rate_bps, payout_destination, balance_cents, version, disabled_at, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Roles, &a.CommissionRateBps, &a.PayoutDestination,
		&a.BalanceCents, &a.Version, &a.DisabledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Roles == nil {
		a.Roles = []string{}
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, name, password_hash, roles, commission_rate_bps, payout_destination)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING balance_cents, version, created_at, updated_at
	`, a.ID, a.Email, a.Name, a.PasswordHash, a.Roles, a.CommissionRateBps, a.PayoutDestination).
		Scan(&a.BalanceCents, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if IsUniqueViolation(err, "accounts_email_key") {
		return ErrDuplicateEmail
	}
	return err
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

func (r *AccountRepo) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// GetTx reads the account inside tx without locking it.
func (r *AccountRepo) GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetByIDForUpdate locks the account row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

// ApplyDelta adds delta to the balance if the row is still at version.
// A moved version returns ErrVersionConflict.
func (r *AccountRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, version, delta int64) (balance, newVersion int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance_cents = balance_cents + $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING balance_cents, version
	`, id, version, delta).Scan(&balance, &newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrVersionConflict
	}
	if IsCheckViolation(err) {
		return 0, 0, fmt.Errorf("%w: %w", ErrBalanceCheck, err)
	}
	return balance, newVersion, err
}

// UpdateProfile saves the user-editable fields.
func (r *AccountRepo) UpdateProfile(ctx context.Context, a *models.Account) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET name = $2, payout_destination = $3, updated_at = now() WHERE id = $1
	`, a.ID, a.Name, a.PayoutDestination)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCommissionRate sets or clears (nil) the per-account commission override.
func (r *AccountRepo) SetCommissionRate(ctx context.Context, id uuid.UUID, bps *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET commission_rate_bps = $2, updated_at = now() WHERE id = $1`, id, bps)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDisabled soft-disables or re-enables an account. Accounts are never deleted.
func (r *AccountRepo) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET disabled_at = CASE WHEN $2 THEN COALESCE(disabled_at, now()) ELSE NULL END, updated_at = now()
		WHERE id = $1
	`, id, disabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRole grants role if the account does not already have it.
func (r *AccountRepo) AddRole(ctx context.Context, id uuid.UUID, role string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET roles = array_append(roles, $2), updated_at = now()
		WHERE id = $1 AND NOT ($2 = ANY(roles))
	`, id, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
