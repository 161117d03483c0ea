package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitflo/backend/internal/models"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// InsertTx records the event. It returns false, with no error, when an event
// with the same id was already recorded.
func (r *EventRepo) InsertTx(ctx context.Context, tx pgx.Tx, e *models.Event) (bool, error) {
	var token *string
	if e.ReferralToken != "" {
		token = &e.ReferralToken
	}
	var plan *string
	if e.PlanID != "" {
		plan = &e.PlanID
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO events (id, event_type, referral_token, affiliate_id, subject_id, plan_id, template_id, amount_cents, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
		RETURNING processed_at
	`, e.ID, e.Type, token, e.AffiliateID, e.SubjectID, plan, e.TemplateID, e.AmountCents, e.OccurredAt).Scan(&e.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

const eventColumns = `id, event_type, COALESCE(referral_token, ''), affiliate_id, subject_id, COALESCE(plan_id, ''), template_id, amount_cents, occurred_at, processed_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Type, &e.ReferralToken, &e.AffiliateID, &e.SubjectID, &e.PlanID, &e.TemplateID,
		&e.AmountCents, &e.OccurredAt, &e.ProcessedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ListRecentByAffiliate returns the newest events of eventType attributed to
// the affiliate.
func (r *EventRepo) ListRecentByAffiliate(ctx context.Context, affiliateID uuid.UUID, eventType string, limit int) ([]*models.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE affiliate_id = $1 AND event_type = $2
		ORDER BY occurred_at DESC LIMIT $3
	`, affiliateID, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}
