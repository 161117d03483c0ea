package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/middleware"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/reporting"
)

type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateProfile(ctx context.Context, a *models.Account) error
	AddRole(ctx context.Context, id uuid.UUID, role string) error
}

// Reports is the read side the dashboard renders; *reporting.Service
// satisfies it.
type Reports interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*reporting.Balance, error)
	Summary(ctx context.Context, rates config.Rates, accountID uuid.UUID) (*reporting.Summary, error)
	Funnel(ctx context.Context, affiliateID *uuid.UUID, from, to time.Time) ([]reporting.FunnelStage, error)
	TimeSeries(ctx context.Context, accountID uuid.UUID, period string, from, to time.Time) ([]models.Bucket, error)
	Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
	Statement(ctx context.Context, accountID uuid.UUID, w io.Writer) error
}

type RatesSource interface {
	Current() config.Rates
}

type KeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	List(ctx context.Context) ([]*models.APIKey, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

// Invalidator drops an account's cached report views.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, accountID uuid.UUID)
}

type Handler struct {
	accounts AccountStore
	reports  Reports
	keys     KeyStore
	rates    RatesSource
	cache    Invalidator
	now      func() time.Time
	log      *slog.Logger
}

func NewHandler(accounts AccountStore, reports Reports, keys KeyStore, rates RatesSource, cache Invalidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accounts: accounts,
		reports:  reports,
		keys:     keys,
		rates:    rates,
		cache:    cache,
		now:      time.Now,
		log:      log,
	}
}

// current returns the account RequireUser loaded, or writes 401.
func current(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return nil, false
	}
	return acc, true
}

type meResponse struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"display_name"`
	Roles             []string  `json:"roles"`
	CommissionRateBps int64     `json:"commission_rate_bps"`
	PayoutDestination string    `json:"payout_destination,omitempty"`
	BalanceCents      int64     `json:"balance_cents"`
	AvailableCents    int64     `json:"available_cents"`
	MinimumPayout     int64     `json:"minimum_payout_cents"`
	CreatedAt         time.Time `json:"created_at"`
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	bal, err := h.reports.Balance(r.Context(), acc.ID)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	rates := h.rates.Current()
	httpx.WriteJSON(w, http.StatusOK, meResponse{
		ID:                acc.ID,
		Email:             acc.Email,
		DisplayName:       acc.Name,
		Roles:             acc.Roles,
		CommissionRateBps: acc.EffectiveCommissionBps(rates.CommissionBps),
		PayoutDestination: acc.PayoutDestination,
		BalanceCents:      bal.BalanceCents,
		AvailableCents:    bal.AvailableCents,
		MinimumPayout:     rates.MinimumPayoutCents,
		CreatedAt:         acc.CreatedAt,
	})
}

type settingsBody struct {
	DisplayName *string `json:"display_name" validate:"omitnil,min=1,max=100"`
	// Stripe connected account id; an empty string clears it.
	PayoutDestination *string `json:"payout_destination" validate:"omitnil,max=255"`
}

// PATCH /api/v1/account/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	var body settingsBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	updated := *acc
	if body.DisplayName != nil {
		updated.Name = *body.DisplayName
	}
	if body.PayoutDestination != nil {
		dest := strings.TrimSpace(*body.PayoutDestination)
		if dest != "" && !strings.HasPrefix(dest, "acct_") {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", "payout_destination must be a Stripe connected account id (acct_...)")
			return
		}
		updated.PayoutDestination = dest
	}
	if err := h.accounts.UpdateProfile(r.Context(), &updated); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type roleBody struct {
	Role string `json:"role" validate:"required,oneof=affiliate creator buyer"`
}

// POST /api/v1/account/roles: roles are non-exclusive, so a buyer can opt
// into the affiliate program later.
func (h *Handler) AddRole(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	var body roleBody
	if err := httpx.Decode(r, &body); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	if err := h.accounts.AddRole(r.Context(), acc.ID, body.Role); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	h.log.Info("role added", "account_id", acc.ID, "role", body.Role)
	if h.cache != nil {
		h.cache.InvalidateAccount(r.Context(), acc.ID)
	}
	updated, err := h.accounts.GetByID(r.Context(), acc.ID)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"roles": updated.Roles})
}

// GET /api/v1/ledger
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	entries, err := h.reports.Entries(r.Context(), acc.ID, limit)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GET /api/v1/reports/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	bal, err := h.reports.Balance(r.Context(), acc.ID)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bal)
}

// GET /api/v1/reports/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	sum, err := h.reports.Summary(r.Context(), h.rates.Current(), acc.ID)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sum)
}

// GET /api/v1/reports/funnel?from=&to=
func (h *Handler) Funnel(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	from, to, err := httpx.TimeRange(r, 30*24*time.Hour, h.now())
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	stages, err := h.reports.Funnel(r.Context(), &acc.ID, from, to)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "stages": stages})
}

// GET /api/v1/reports/timeseries?period=day|week|month&from=&to=
func (h *Handler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = reporting.PeriodDay
	}
	from, to, err := httpx.TimeRange(r, 30*24*time.Hour, h.now())
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	buckets, err := h.reports.TimeSeries(r.Context(), acc.ID, period, from, to)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"period": period, "buckets": buckets})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// GET /api/v1/reports/statement.xlsx
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	acc, ok := current(w, r)
	if !ok {
		return
	}
	// Buffered so a failure halfway through still gets a JSON error.
	var buf bytes.Buffer
	if err := h.reports.Statement(r.Context(), acc.ID, &buf); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	name := fmt.Sprintf("waitflo-statement-%s.xlsx", h.now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
