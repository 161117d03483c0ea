package router

import (
	"net/http"
	"time"

	"github.com/waitflo/backend/internal/auth"
	"github.com/waitflo/backend/internal/dashboard"
	"github.com/waitflo/backend/internal/handlers"
	"github.com/waitflo/backend/internal/httpx"
	"github.com/waitflo/backend/internal/metrics"
	"github.com/waitflo/backend/internal/middleware"
	"github.com/waitflo/backend/internal/models"
)

// Deps is everything the HTTP surface is assembled from.
type Deps struct {
	Auth      *auth.Handler
	Dashboard *dashboard.Handler
	Events    *handlers.EventHandler
	Payouts   *handlers.PayoutHandler
	Admin     *handlers.AdminHandler
	Referrals *handlers.ReferralHandler
	Templates *handlers.TemplateHandler

	Tokens      middleware.TokenValidator
	Accounts    middleware.AccountLookup
	APIKeys     middleware.APIKeyRepo
	IngestLimit *middleware.RateLimiter
	Deadline    time.Duration
}

// New returns an http.Handler serving the dashboard API under /api/v1 and
// event ingestion under /v1.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	user := middleware.RequireUser(d.Tokens, d.Accounts)
	role := func(r string, h http.HandlerFunc) http.Handler {
		return user(middleware.RequireRole(r)(h))
	}
	authed := func(h http.HandlerFunc) http.Handler { return user(h) }

	mux.HandleFunc("POST "+base+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)

	mux.Handle("GET "+base+"/account/me", authed(d.Dashboard.GetMe))
	mux.Handle("PATCH "+base+"/account/settings", authed(d.Dashboard.UpdateSettings))
	mux.Handle("POST "+base+"/account/roles", authed(d.Dashboard.AddRole))

	mux.Handle("POST "+base+"/referral-tokens", role(models.RoleAffiliate, d.Referrals.Issue))
	mux.Handle("GET "+base+"/referral-tokens", role(models.RoleAffiliate, d.Referrals.List))
	mux.Handle("POST "+base+"/templates", role(models.RoleCreator, d.Templates.Create))
	mux.Handle("GET "+base+"/templates", role(models.RoleCreator, d.Templates.List))

	mux.Handle("POST "+base+"/payouts", authed(d.Payouts.Request))
	mux.Handle("GET "+base+"/payouts", authed(d.Payouts.List))
	mux.Handle("GET "+base+"/ledger", authed(d.Dashboard.ListLedger))

	mux.Handle("GET "+base+"/reports/balance", authed(d.Dashboard.Balance))
	mux.Handle("GET "+base+"/reports/summary", authed(d.Dashboard.Summary))
	mux.Handle("GET "+base+"/reports/funnel", authed(d.Dashboard.Funnel))
	mux.Handle("GET "+base+"/reports/timeseries", authed(d.Dashboard.TimeSeries))
	mux.Handle("GET "+base+"/reports/statement.xlsx", authed(d.Dashboard.Statement))

	admin := base + "/admin"
	mux.Handle("GET "+admin+"/payouts", role(models.RoleAdmin, d.Payouts.Queue))
	mux.Handle("POST "+admin+"/payouts/{id}/decision", role(models.RoleAdmin, d.Payouts.Decide))
	mux.Handle("GET "+admin+"/accounts", role(models.RoleAdmin, d.Admin.ListAccounts))
	mux.Handle("PATCH "+admin+"/accounts/{id}/commission", role(models.RoleAdmin, d.Admin.SetCommission))
	mux.Handle("POST "+admin+"/accounts/{id}/disable", role(models.RoleAdmin, d.Admin.Disable))
	mux.Handle("POST "+admin+"/accounts/{id}/adjustments", role(models.RoleAdmin, d.Admin.Adjust))
	mux.Handle("GET "+admin+"/reports/funnel", role(models.RoleAdmin, d.Admin.Funnel))
	mux.Handle("GET "+admin+"/reports/platform-revenue", role(models.RoleAdmin, d.Admin.PlatformRevenue))
	mux.Handle("GET "+admin+"/api-keys", role(models.RoleAdmin, d.Dashboard.ListAPIKeys))
	mux.Handle("POST "+admin+"/api-keys", role(models.RoleAdmin, d.Dashboard.CreateAPIKey))
	mux.Handle("DELETE "+admin+"/api-keys/{id}", role(models.RoleAdmin, d.Dashboard.RevokeAPIKey))

	// Ingestion: authenticate first so the limiter buckets per key.
	var ingest http.Handler = http.HandlerFunc(d.Events.Ingest)
	if d.IngestLimit != nil {
		ingest = d.IngestLimit.Middleware(ingest)
	}
	mux.Handle("POST /v1/events", middleware.APIKeyAuth(d.APIKeys)(ingest))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// metrics sits directly on the mux so it sees the matched pattern.
	return middleware.Deadline(d.Deadline)(metrics.Middleware(mux))
}
