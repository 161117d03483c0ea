package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/auth"
	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Principal, error)
}

// AccountLookup loads the caller's account on every request, so a disabled
// account loses access before its token expires.
type AccountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// RequireUser validates the bearer JWT and loads the active account.
func RequireUser(tokens TokenValidator, accounts AccountLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
				return
			}
			p, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			acc, err := accounts.GetByID(r.Context(), p.AccountID)
			if errors.Is(err, repository.ErrNotFound) {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "account no longer exists")
				return
			}
			if err != nil {
				httpx.Error(w, r, nil, err)
				return
			}
			if acc.Disabled() {
				httpx.WriteError(w, http.StatusForbidden, "account_disabled", "account is disabled")
				return
			}
			// Roles come from the account row, not the token, so grants and
			// revocations apply immediately.
			p.Roles = acc.Roles
			ctx := WithPrincipal(r.Context(), p)
			ctx = WithAccount(ctx, acc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after RequireUser.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromCtx(r.Context())
			if p == nil {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if !p.HasRole(role) {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "requires role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func PrincipalFromCtx(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(ctxPrincipalKey).(*auth.Principal)
	return p
}

func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey, p)
}

// AccountFromCtx returns the authenticated account or nil.
func AccountFromCtx(ctx context.Context) *models.Account {
	acc, _ := ctx.Value(ctxAccountKey).(*models.Account)
	return acc
}

// WithAccount returns a context carrying the given account.
func WithAccount(ctx context.Context, acc *models.Account) context.Context {
	return context.WithValue(ctx, ctxAccountKey, acc)
}
