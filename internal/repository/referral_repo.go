package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/waitflo/backend/internal/models"
)

var ErrTokenTaken = fmt.Errorf("%w: referral token already issued", ErrDuplicate)

type ReferralRepo struct {
	pool *pgxpool.Pool
}

func NewReferralRepo(pool *pgxpool.Pool) *ReferralRepo {
	return &ReferralRepo{pool: pool}
}

func (r *ReferralRepo) Create(ctx context.Context, t *models.ReferralToken) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO referral_tokens (token, account_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING issued_at, expires_at
	`, t.Token, t.AccountID, t.IssuedAt, t.ExpiresAt).Scan(&t.IssuedAt, &t.ExpiresAt)
	if IsUniqueViolation(err, "") {
		return ErrTokenTaken
	}
	return err
}

// GetByToken returns the token with its owner's disabled flag.
func (r *ReferralRepo) GetByToken(ctx context.Context, token string) (*models.ReferralToken, error) {
	var t models.ReferralToken
	err := r.pool.QueryRow(ctx, `
		SELECT rt.token, rt.account_id, rt.issued_at, rt.expires_at, ac.disabled_at IS NOT NULL
		FROM referral_tokens rt
		INNER JOIN accounts ac ON ac.id = rt.account_id
		WHERE rt.token = $1
	`, token).Scan(&t.Token, &t.AccountID, &t.IssuedAt, &t.ExpiresAt, &t.AccountDisabled)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *ReferralRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.ReferralToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token, account_id, issued_at, expires_at FROM referral_tokens
		WHERE account_id = $1 ORDER BY issued_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.ReferralToken{}
	for rows.Next() {
		var t models.ReferralToken
		if err := rows.Scan(&t.Token, &t.AccountID, &t.IssuedAt, &t.ExpiresAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
