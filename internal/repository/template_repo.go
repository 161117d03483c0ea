package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitflo/backend/internal/models"
)

type TemplateRepo struct {
	pool *pgxpool.Pool
}

func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

func (r *TemplateRepo) Create(ctx context.Context, t *models.Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO templates (id, creator_id, name, price_cents)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, t.ID, t.CreatorID, t.Name, t.PriceCents).Scan(&t.CreatedAt)
}

// GetByIDTx looks the template up inside the accrual transaction.
func (r *TemplateRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Template, error) {
	var t models.Template
	err := tx.QueryRow(ctx, `
		SELECT id, creator_id, name, price_cents, created_at FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.CreatorID, &t.Name, &t.PriceCents, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *TemplateRepo) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, creator_id, name, price_cents, created_at FROM templates
		WHERE creator_id = $1 ORDER BY created_at DESC
	`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Template{}
	for rows.Next() {
		var t models.Template
		if err := rows.Scan(&t.ID, &t.CreatorID, &t.Name, &t.PriceCents, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
