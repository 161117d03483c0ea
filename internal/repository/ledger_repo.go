package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitflo/backend/internal/models"
)

// ErrPayoutAlreadyDebited is returned when a second debit is posted for the
// same payout request.
var ErrPayoutAlreadyDebited = fmt.Errorf("%w: payout request already debited", ErrDuplicate)

const ledgerColumns = `id, account_id, amount_cents, kind, source, source_event_id, payout_request_id, rate_bps, config_version, balance_after_cents, note, created_by, created_at`

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.AmountCents, &e.Kind, &e.Source, &e.SourceEventID, &e.PayoutRequestID,
		&e.RateBps, &e.ConfigVersion, &e.BalanceAfterCents, &e.Note, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	defer rows.Close()
	list := []*models.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// CreateTx appends an entry inside the given transaction. Entries are never
// updated or deleted.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount_cents, kind, source, source_event_id, payout_request_id, rate_bps, config_version, balance_after_cents, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, e.ID, e.AccountID, e.AmountCents, e.Kind, e.Source, e.SourceEventID, e.PayoutRequestID, e.RateBps,
		e.ConfigVersion, e.BalanceAfterCents, e.Note, e.CreatedBy).Scan(&e.CreatedAt)
	if IsUniqueViolation(err, "ledger_entries_one_debit_per_payout") {
		return ErrPayoutAlreadyDebited
	}
	return err
}

// ListBySourceEventTx returns the entries a previously processed event produced.
func (r *LedgerRepo) ListBySourceEventTx(ctx context.Context, tx pgx.Tx, eventID string) ([]*models.LedgerEntry, error) {
	rows, err := tx.Query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE source_event_id = $1 ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListByAccountID returns the newest entries first. limit <= 0 returns all.
func (r *LedgerRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	q := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC, id`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}
