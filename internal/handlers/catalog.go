package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/middleware"
	"github.com/waitflo/backend/internal/models"
)

type TokenIssuer interface {
	Issue(ctx context.Context, accountID uuid.UUID, window time.Duration) (*models.ReferralToken, error)
}

type TokenLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.ReferralToken, error)
}

// ReferralHandler serves /api/v1/referral-tokens for affiliates. New tokens
// take the referral window from the current rates.
type ReferralHandler struct {
	Issuer TokenIssuer
	Tokens TokenLister
	Rates  RatesSource
	Logger *slog.Logger
	Now    func() time.Time
}

type tokenResponse struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

func toTokenResponse(t *models.ReferralToken, now time.Time) tokenResponse {
	return tokenResponse{Token: t.Token, IssuedAt: t.IssuedAt, ExpiresAt: t.ExpiresAt, Active: t.Active(now)}
}

func (h *ReferralHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Issue handles POST /api/v1/referral-tokens.
func (h *ReferralHandler) Issue(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	t, err := h.Issuer.Issue(r.Context(), acc.ID, h.Rates.Current().ReferralWindow())
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toTokenResponse(t, h.now()))
}

// List handles GET /api/v1/referral-tokens.
func (h *ReferralHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	tokens, err := h.Tokens.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	now := h.now()
	out := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toTokenResponse(t, now))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tokens": out})
}

type TemplateStore interface {
	Create(ctx context.Context, t *models.Template) error
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Template, error)
}

// TemplateHandler serves /api/v1/templates for creators.
type TemplateHandler struct {
	Templates TemplateStore
	Logger    *slog.Logger
}

type createTemplateBody struct {
	Name       string `json:"name" validate:"required,max=200"`
	PriceCents int64  `json:"price_cents" validate:"min=0"`
}

// Create handles POST /api/v1/templates. The caller becomes the creator that
// usage revenue is shared with.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var body createTemplateBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	t := &models.Template{CreatorID: acc.ID, Name: body.Name, PriceCents: body.PriceCents}
	if err := h.Templates.Create(r.Context(), t); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

// List handles GET /api/v1/templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	list, err := h.Templates.ListByCreator(r.Context(), acc.ID)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"templates": list})
}
