package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/middleware"
	"github.com/waitflo/backend/internal/models"
)

// PayoutService is the subset of *payout.Service the HTTP layer drives.
type PayoutService interface {
	RequestPayout(ctx context.Context, rates config.Rates, accountID uuid.UUID, amountCents int64) (*models.PayoutRequest, error)
	Decide(ctx context.Context, rates config.Rates, requestID uuid.UUID, approve bool, actor uuid.UUID, note string) (*models.PayoutRequest, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.PayoutRequest, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.PayoutRequest, error)
}

type RatesSource interface {
	Current() config.Rates
}

// PayoutHandler serves the affiliate payout endpoints and the admin queue.
type PayoutHandler struct {
	Payouts PayoutService
	Rates   RatesSource
	Logger  *slog.Logger
}

// --- POST /api/v1/payouts ---

type payoutRequestBody struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// Request handles POST /api/v1/payouts.
func (h *PayoutHandler) Request(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	var body payoutRequestBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	p, err := h.Payouts.RequestPayout(r.Context(), h.Rates.Current(), acc.ID, body.AmountCents)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

// List handles GET /api/v1/payouts.
func (h *PayoutHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	list, err := h.Payouts.ListForAccount(r.Context(), acc.ID)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payouts": list})
}

// --- admin ---

// Queue handles GET /api/v1/admin/payouts?status=pending.
func (h *PayoutHandler) Queue(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.PayoutPending
	}
	switch status {
	case models.PayoutPending, models.PayoutApproved, models.PayoutDenied, models.PayoutSettled:
	default:
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "status must be pending, approved, denied or settled")
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	list, err := h.Payouts.ListByStatus(r.Context(), status, min(max(limit, 1), 500))
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"payouts": list})
}

type decisionBody struct {
	Decision string `json:"decision" validate:"required,oneof=approve deny"`
	Note     string `json:"note" validate:"max=500"`
}

// Decide handles POST /api/v1/admin/payouts/{id}/decision.
func (h *PayoutHandler) Decide(w http.ResponseWriter, r *http.Request) {
	admin := middleware.AccountFromCtx(r.Context())
	if admin == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	var body decisionBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	p, err := h.Payouts.Decide(r.Context(), h.Rates.Current(), id, body.Decision == "approve", admin.ID, body.Note)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}
