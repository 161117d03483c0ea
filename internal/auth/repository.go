package auth

import (
	"context"

	"github.com/waitflo/backend/internal/models"
)

// Repository is the account storage auth needs. *repository.AccountRepo
// satisfies it.
type Repository interface {
	Create(ctx context.Context, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}
