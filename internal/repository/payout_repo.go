package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitflo/backend/internal/models"
)

// ErrUnresolvedPayoutExists is returned when the one-unresolved-request index
// rejects a new request.
var ErrUnresolvedPayoutExists = fmt.Errorf("%w: account already has an unresolved payout request", ErrDuplicate)

const payoutColumns = `id, account_id, requested_cents, status, decided_by, note, disbursement_ref, created_at, decided_at, settled_at`

type PayoutRepo struct {
	pool *pgxpool.Pool
}

func NewPayoutRepo(pool *pgxpool.Pool) *PayoutRepo {
	return &PayoutRepo{pool: pool}
}

func scanPayout(row pgx.Row) (*models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := row.Scan(&p.ID, &p.AccountID, &p.RequestedCents, &p.Status, &p.DecidedBy, &p.Note, &p.DisbursementRef,
		&p.CreatedAt, &p.DecidedAt, &p.SettledAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func collectPayouts(rows pgx.Rows) ([]*models.PayoutRequest, error) {
	defer rows.Close()
	list := []*models.PayoutRequest{}
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *PayoutRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO payout_requests (id, account_id, requested_cents, status, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, p.ID, p.AccountID, p.RequestedCents, p.Status, p.Note).Scan(&p.CreatedAt)
	if IsUniqueViolation(err, "payout_requests_one_unresolved") {
		return ErrUnresolvedPayoutExists
	}
	return err
}

// GetForUpdateTx locks the request row. Call within a transaction.
func (r *PayoutRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error) {
	return scanPayout(tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, id))
}

func (r *PayoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	return scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1`, id))
}

// UpdateTx persists the decision and settlement fields.
func (r *PayoutRepo) UpdateTx(ctx context.Context, tx pgx.Tx, p *models.PayoutRequest) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payout_requests
		SET status = $2, decided_by = $3, note = $4, decided_at = $5, settled_at = $6, disbursement_ref = $7
		WHERE id = $1
	`, p.ID, p.Status, p.DecidedBy, p.Note, p.DecidedAt, p.SettledAt, p.DisbursementRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnresolvedTx returns the account's pending or approved-unsettled request, or
// ErrNotFound.
func (r *PayoutRepo) UnresolvedTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (*models.PayoutRequest, error) {
	return scanPayout(tx.QueryRow(ctx, `
		SELECT `+payoutColumns+` FROM payout_requests
		WHERE account_id = $1 AND status IN ('pending', 'approved')
	`, accountID))
}

// ReservedCentsTx locks the account row and sums the amounts reserved by its
// unresolved requests.
func (r *PayoutRepo) ReservedCentsTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	if _, err := tx.Exec(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, accountID); err != nil {
		return 0, err
	}
	var sum int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(requested_cents), 0)::BIGINT FROM payout_requests
		WHERE account_id = $1 AND status IN ('pending', 'approved')
	`, accountID).Scan(&sum)
	return sum, err
}

// UnresolvedCents sums the amounts reserved by unresolved requests.
func (r *PayoutRepo) UnresolvedCents(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(requested_cents), 0)::BIGINT FROM payout_requests
		WHERE account_id = $1 AND status IN ('pending', 'approved')
	`, accountID).Scan(&sum)
	return sum, err
}

func (r *PayoutRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// ListByStatus returns requests in status, oldest first.
func (r *PayoutRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*models.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+` FROM payout_requests WHERE status = $1 ORDER BY created_at LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// ListApprovedBefore returns approved requests decided before cutoff; these
// are the ones the reconcile job settles.
func (r *PayoutRepo) ListApprovedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.PayoutRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+` FROM payout_requests
		WHERE status = 'approved' AND decided_at < $1
		ORDER BY decided_at LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectPayouts(rows)
}

// SetDisbursementRef records the external transfer reference once.
func (r *PayoutRepo) SetDisbursementRef(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payout_requests SET disbursement_ref = $2
		WHERE id = $1 AND status = 'settled' AND disbursement_ref = ''
	`, id, ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
