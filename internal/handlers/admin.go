package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/middleware"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/reporting"
)

type AccountAdmin interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	SetCommissionRate(ctx context.Context, id uuid.UUID, bps *int64) error
	SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error
}

type Adjuster interface {
	Adjust(ctx context.Context, rates config.Rates, accountID uuid.UUID, amountCents int64, note string, actor uuid.UUID) (*models.LedgerEntry, error)
}

type PlatformReports interface {
	Funnel(ctx context.Context, affiliateID *uuid.UUID, from, to time.Time) ([]reporting.FunnelStage, error)
	PlatformRevenue(ctx context.Context, from, to time.Time) (*reporting.PlatformRevenue, error)
}

type Invalidator interface {
	InvalidateAccount(ctx context.Context, accountID uuid.UUID)
}

// AdminHandler serves /api/v1/admin account actions and platform reports.
// Every route is behind RequireRole(admin).
type AdminHandler struct {
	Accounts AccountAdmin
	Ledger   Adjuster
	Reports  PlatformReports
	Rates    RatesSource
	Cache    Invalidator
	Logger   *slog.Logger
	Now      func() time.Time
}

func (h *AdminHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *AdminHandler) log() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AdminHandler) invalidate(ctx context.Context, id uuid.UUID) {
	if h.Cache != nil {
		h.Cache.InvalidateAccount(ctx, id)
	}
}

// ListAccounts handles GET /api/v1/admin/accounts.
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Accounts.List(r.Context())
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"accounts": list})
}

// --- PATCH /api/v1/admin/accounts/{id}/commission ---

// A null rate clears the override and the account falls back to the default.
type commissionBody struct {
	CommissionRateBps *int64 `json:"commission_rate_bps" validate:"omitnil,min=0,max=10000"`
}

func (h *AdminHandler) SetCommission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	var body commissionBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	if err := h.Accounts.SetCommissionRate(r.Context(), id, body.CommissionRateBps); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	h.log().Info("commission override set", "account_id", id, "bps", body.CommissionRateBps, "actor", actorID(r))
	h.respondAccount(w, r, id)
}

// --- POST /api/v1/admin/accounts/{id}/disable ---

type disableBody struct {
	Disabled *bool `json:"disabled"`
}

// Disable soft-disables an account; {"disabled": false} re-enables it. The
// body is optional.
func (h *AdminHandler) Disable(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	disabled := true
	if r.ContentLength != 0 {
		var body disableBody
		if err := httpx.Decode(r, &body); err != nil {
			httpx.Error(w, r, h.Logger, err)
			return
		}
		if body.Disabled != nil {
			disabled = *body.Disabled
		}
	}
	if admin := middleware.AccountFromCtx(r.Context()); admin != nil && admin.ID == id && disabled {
		httpx.WriteError(w, http.StatusConflict, "cannot_disable_self", "admins cannot disable their own account")
		return
	}
	if err := h.Accounts.SetDisabled(r.Context(), id, disabled); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	h.invalidate(r.Context(), id)
	h.log().Info("account disabled state changed", "account_id", id, "disabled", disabled, "actor", actorID(r))
	h.respondAccount(w, r, id)
}

// --- POST /api/v1/admin/accounts/{id}/adjustments ---

type adjustmentBody struct {
	AmountCents int64  `json:"amount_cents" validate:"required,ne=0"`
	Note        string `json:"note" validate:"required,max=500"`
}

func (h *AdminHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathUUID(r, "id")
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	var body adjustmentBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	entry, err := h.Ledger.Adjust(r.Context(), h.Rates.Current(), id, body.AmountCents, body.Note, actorID(r))
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	h.invalidate(r.Context(), id)
	httpx.WriteJSON(w, http.StatusCreated, entry)
}

func (h *AdminHandler) respondAccount(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	acc, err := h.Accounts.GetByID(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, acc)
}

// --- reports ---

// Funnel handles GET /api/v1/admin/reports/funnel, platform-wide unless
// affiliate_id is given.
func (h *AdminHandler) Funnel(w http.ResponseWriter, r *http.Request) {
	from, to, err := httpx.TimeRange(r, 30*24*time.Hour, h.now())
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	affiliate, err := httpx.QueryUUID(r, "affiliate_id")
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	stages, err := h.Reports.Funnel(r.Context(), affiliate, from, to)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "stages": stages})
}

// PlatformRevenue handles GET /api/v1/admin/reports/platform-revenue.
func (h *AdminHandler) PlatformRevenue(w http.ResponseWriter, r *http.Request) {
	from, to, err := httpx.TimeRange(r, 30*24*time.Hour, h.now())
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	rev, err := h.Reports.PlatformRevenue(r.Context(), from, to)
	if err != nil {
		httpx.Error(w, r, h.Logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rev)
}

func actorID(r *http.Request) uuid.UUID {
	if acc := middleware.AccountFromCtx(r.Context()); acc != nil {
		return acc.ID
	}
	return uuid.Nil
}
