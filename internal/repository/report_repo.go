package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitflo/backend/internal/models"
)

// ReportRepo runs the aggregate queries behind the reporting views.
type ReportRepo struct {
	pool *pgxpool.Pool
}

func NewReportRepo(pool *pgxpool.Pool) *ReportRepo {
	return &ReportRepo{pool: pool}
}

// SumBySource returns the signed ledger total per entry source.
func (r *ReportRepo) SumBySource(ctx context.Context, accountID uuid.UUID) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT source, COALESCE(SUM(amount_cents), 0)::BIGINT
		FROM ledger_entries WHERE account_id = $1
		GROUP BY source
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var source string
		var sum int64
		if err := rows.Scan(&source, &sum); err != nil {
			return nil, err
		}
		out[source] = sum
	}
	return out, rows.Err()
}

// CountEvents counts events by type in [from, to). A nil affiliateID counts
// platform-wide.
func (r *ReportRepo) CountEvents(ctx context.Context, affiliateID *uuid.UUID, from, to time.Time) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_type, COUNT(*)
		FROM events
		WHERE ($1::UUID IS NULL OR affiliate_id = $1)
		  AND occurred_at >= $2 AND occurred_at < $3
		GROUP BY event_type
	`, affiliateID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var typ string
		var n int64
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}

// AccrualBuckets sums accruals per period ("day", "week" or "month") in
// [from, to). Empty periods are omitted.
func (r *ReportRepo) AccrualBuckets(ctx context.Context, accountID uuid.UUID, period string, from, to time.Time) ([]models.Bucket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc($2, created_at AT TIME ZONE 'UTC') AS bucket, SUM(amount_cents)::BIGINT
		FROM ledger_entries
		WHERE account_id = $1 AND kind = 'accrual' AND created_at >= $3 AND created_at < $4
		GROUP BY bucket ORDER BY bucket
	`, accountID, period, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Bucket{}
	for rows.Next() {
		var b models.Bucket
		if err := rows.Scan(&b.Start, &b.AmountCents); err != nil {
			return nil, err
		}
		b.Start = time.Date(b.Start.Year(), b.Start.Month(), b.Start.Day(), 0, 0, 0, 0, time.UTC)
		list = append(list, b)
	}
	return list, rows.Err()
}

// PlatformTotals returns gross monetary event volume and the accruals posted
// for those events in [from, to).
func (r *ReportRepo) PlatformTotals(ctx context.Context, from, to time.Time) (gross, accrued int64, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount_cents) FROM events
			          WHERE event_type IN ('conversion', 'template_usage') AND occurred_at >= $1 AND occurred_at < $2), 0)::BIGINT,
			COALESCE((SELECT SUM(le.amount_cents) FROM ledger_entries le
			          INNER JOIN events e ON e.id = le.source_event_id
			          WHERE le.kind = 'accrual' AND e.occurred_at >= $1 AND e.occurred_at < $2), 0)::BIGINT
	`, from, to).Scan(&gross, &accrued)
	return gross, accrued, err
}

// AuditBalances lists accounts whose stored balance disagrees with their entries.
func (r *ReportRepo) AuditBalances(ctx context.Context) ([]models.BalanceMismatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.balance_cents, COALESCE(SUM(le.amount_cents), 0)::BIGINT AS ledger_sum
		FROM accounts a
		LEFT JOIN ledger_entries le ON le.account_id = a.id
		GROUP BY a.id, a.balance_cents
		HAVING a.balance_cents <> COALESCE(SUM(le.amount_cents), 0)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.BalanceMismatch{}
	for rows.Next() {
		var m models.BalanceMismatch
		if err := rows.Scan(&m.AccountID, &m.BalanceCents, &m.LedgerSumCents); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
