package middleware

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/models"
)

type contextKey string

const (
	ctxAPIKeyKey    contextKey = "api_key"
	ctxPrincipalKey contextKey = "principal"
	ctxAccountKey   contextKey = "account"
)

// APIKeyRepo is the interface used by API key auth middleware.
type APIKeyRepo interface {
	FindByKeyHash(ctx context.Context, keyHash string) (*models.APIKey, error)
}

// APIKeyAuth authenticates event deliveries by hashing the Bearer token
// (SHA-256) and looking it up among the active api_keys.
func APIKeyAuth(apiKeyRepo APIKeyRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header")
				return
			}
			key, err := apiKeyRepo.FindByKeyHash(r.Context(), HashKey(raw))
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAPIKey(r.Context(), key)))
		})
	}
}

// APIKeyFromCtx returns the authenticated ingestion key or nil.
func APIKeyFromCtx(ctx context.Context) *models.APIKey {
	k, _ := ctx.Value(ctxAPIKeyKey).(*models.APIKey)
	return k
}

func WithAPIKey(ctx context.Context, k *models.APIKey) context.Context {
	return context.WithValue(ctx, ctxAPIKeyKey, k)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// HashKey is how raw API keys are stored.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey mints an ingestion key. Only the hash and a short display prefix
// are stored; raw is shown once to the operator.
func NewAPIKey(label string) (k *models.APIKey, raw string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}
	raw = "wf_" + hex.EncodeToString(buf)
	return &models.APIKey{
		ID:        uuid.New(),
		Label:     label,
		KeyHash:   HashKey(raw),
		KeyPrefix: raw[:11],
		IsActive:  true,
	}, raw, nil
}
