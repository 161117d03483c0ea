package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubAPIKeyRepo struct {
	result   *models.APIKey
	err      error
	lastHash string
}

func (s *stubAPIKeyRepo) FindByKeyHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	s.lastHash = keyHash
	return s.result, s.err
}

// okHandler writes 200 and the key label (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if k := APIKeyFromCtx(r.Context()); k != nil {
		w.Write([]byte(k.Label))
	}
	w.WriteHeader(http.StatusOK)
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	repo := &stubAPIKeyRepo{
		result: &models.APIKey{ID: uuid.New(), Label: "web", IsActive: true},
	}
	mw := APIKeyAuth(repo)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer wf_valid-test-key")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != "web" {
		t.Errorf("expected key label in body, got %q", body)
	}
	if repo.lastHash != HashKey("wf_valid-test-key") {
		t.Errorf("repo looked up %q, want the sha256 of the raw key", repo.lastHash)
	}
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	mw := APIKeyAuth(&stubAPIKeyRepo{})(okHandler)

	for _, h := range []string{"", "Basic abc", "Bearer", "Bearer "} {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
		if h != "" {
			req.Header.Set("Authorization", h)
		}
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", h, rec.Code)
		}
	}
}

func TestAPIKeyAuth_UnknownKey(t *testing.T) {
	repo := &stubAPIKeyRepo{err: repository.ErrNotFound}
	mw := APIKeyAuth(repo)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer revoked")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuth_RepoFailureIsUnauthorized(t *testing.T) {
	repo := &stubAPIKeyRepo{err: errors.New("connection refused")}
	mw := APIKeyAuth(repo)(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	req.Header.Set("Authorization", "bearer anything")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHashKey_Deterministic(t *testing.T) {
	if HashKey("a") != HashKey("a") || HashKey("a") == HashKey("b") {
		t.Fatal("HashKey must be deterministic and distinguish inputs")
	}
	if len(HashKey("a")) != 64 {
		t.Errorf("expected hex sha256, got %d chars", len(HashKey("a")))
	}
}

func TestNewAPIKey(t *testing.T) {
	k, raw, err := NewAPIKey("web")
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, "wf_") || len(raw) != 67 {
		t.Errorf("unexpected raw key %q", raw)
	}
	if k.KeyHash != HashKey(raw) || k.KeyHash == raw {
		t.Error("only the hash of the raw key may be stored")
	}
	if !strings.HasPrefix(raw, k.KeyPrefix) || !k.IsActive || k.Label != "web" {
		t.Errorf("unexpected key %+v", k)
	}
}
