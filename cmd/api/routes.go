package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/waitflo/backend/internal/accrual"
	"github.com/waitflo/backend/internal/attribution"
	"github.com/waitflo/backend/internal/auth"
	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/dashboard"
	"github.com/waitflo/backend/internal/disbursement"
	"github.com/waitflo/backend/internal/handlers"
	"github.com/waitflo/backend/internal/ingest"
	"github.com/waitflo/backend/internal/jobs"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/middleware"
	"github.com/waitflo/backend/internal/payout"
	"github.com/waitflo/backend/internal/reporting"
	"github.com/waitflo/backend/internal/repository"
	"github.com/waitflo/backend/internal/router"
)

// app holds the long-lived pieces main starts and stops.
type app struct {
	handler http.Handler
	river   *river.Client[pgx.Tx]
	limiter *middleware.RateLimiter
	cache   *reporting.Cache
}

func buildApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rates *config.RatesStore, logger *slog.Logger) (*app, error) {
	accountRepo := repository.NewAccountRepo(pool)
	referralRepo := repository.NewReferralRepo(pool)
	templateRepo := repository.NewTemplateRepo(pool)
	eventRepo := repository.NewEventRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	payoutRepo := repository.NewPayoutRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	reportRepo := repository.NewReportRepo(pool)

	// Reporting cache is optional; without Redis every view reads Postgres.
	var cache *reporting.Cache
	if cfg.RedisURL != "" {
		c, err := reporting.NewCache(ctx, cfg.RedisURL, cfg.ReportCacheTTL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, report cache disabled", "error", err)
		} else {
			cache = c
			logger.Info("Report cache enabled", "ttl", cfg.ReportCacheTTL)
		}
	}

	ledgerSvc := ledger.NewService(pool, accountRepo, ledgerRepo, ledger.OptionsFromConfig(cfg, payoutRepo), logger)

	resolver := attribution.NewResolver(referralRepo, logger)
	engine := accrual.NewEngine(ledgerSvc, eventRepo, ledgerRepo, accountRepo, templateRepo, logger)
	pipeline := ingest.NewPipeline(resolver, engine, rates, cache, logger)
	schema, err := ingest.NewSchema()
	if err != nil {
		return nil, fmt.Errorf("event schema: %w", err)
	}

	var gateway disbursement.Gateway = disbursement.Manual{}
	if cfg.StripeSecretKey != "" {
		gateway = disbursement.NewStripe(cfg.StripeSecretKey, cfg.PayoutCurrency)
		logger.Info("Stripe disbursement enabled", "currency", cfg.PayoutCurrency)
	}

	// Jobs: the enqueuer is bound once the River client exists (its workers
	// need the payout service, which needs the enqueuer).
	enqueuer := jobs.NewEnqueuer()
	payoutSvc := payout.NewService(ledgerSvc, payoutRepo, accountRepo, enqueuer, gateway, cache,
		payout.Options{SettleOnApprove: cfg.SettleOnApprove}, logger)

	workers := river.NewWorkers()
	jobs.Register(workers, payoutSvc, rates, cfg.ReconcileAfter, logger)
	periodic, err := jobs.PeriodicJobs(cfg.SettlementSchedule)
	if err != nil {
		return nil, err
	}
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	enqueuer.BindClient(riverClient)

	reportSvc := reporting.NewService(reportRepo, accountRepo, payoutRepo, eventRepo, ledgerRepo, cache, logger)
	authSvc := auth.NewService(accountRepo, cfg.JWTSecret)
	limiter := middleware.NewRateLimiter(cfg.IngestRatePerMinute, cfg.IngestBurst)

	handler := router.New(router.Deps{
		Auth:      auth.NewHandler(authSvc, logger),
		Dashboard: dashboard.NewHandler(accountRepo, reportSvc, apiKeyRepo, rates, cache, logger),
		Events:    &handlers.EventHandler{Schema: schema, Pipeline: pipeline, Logger: logger},
		Payouts:   &handlers.PayoutHandler{Payouts: payoutSvc, Rates: rates, Logger: logger},
		Admin: &handlers.AdminHandler{
			Accounts: accountRepo,
			Ledger:   ledgerSvc,
			Reports:  reportSvc,
			Rates:    rates,
			Cache:    cache,
			Logger:   logger,
		},
		Referrals: &handlers.ReferralHandler{Issuer: attribution.NewIssuer(referralRepo), Tokens: referralRepo, Rates: rates, Logger: logger},
		Templates: &handlers.TemplateHandler{Templates: templateRepo, Logger: logger},

		Tokens:      authSvc,
		Accounts:    accountRepo,
		APIKeys:     apiKeyRepo,
		IngestLimit: limiter,
		Deadline:    2 * cfg.StorageTimeout,
	})

	return &app{handler: handler, river: riverClient, limiter: limiter, cache: cache}, nil
}
