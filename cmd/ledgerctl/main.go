// Command ledgerctl runs operator tasks against the ledger database:
// migrations, payout reconciliation, balance audits and credential setup.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/spf13/cobra"

	"github.com/waitflo/backend/internal/auth"
	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/disbursement"
	"github.com/waitflo/backend/internal/jobs"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/middleware"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/money"
	"github.com/waitflo/backend/internal/payout"
	"github.com/waitflo/backend/internal/reporting"
	"github.com/waitflo/backend/internal/repository"
)

// errAuditFailed makes `ledgerctl audit` exit non-zero for cron alerting.
var errAuditFailed = errors.New("balance audit found mismatches")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		databaseURL string
		logLevel    string
	)
	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tools for the Waitflo ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			switch strings.ToLower(logLevel) {
			case "debug":
				level = slog.LevelDebug
			case "warn":
				level = slog.LevelWarn
			case "error":
				level = slog.LevelError
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (default $DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	connect := func(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if databaseURL != "" {
			cfg.DatabaseURL = databaseURL
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping: %w", err)
		}
		return cfg, pool, nil
	}

	cmd.AddCommand(
		migrateCmd(connect),
		reconcileCmd(connect),
		adjustCmd(connect),
		auditCmd(connect),
		createAdminCmd(connect),
		issueKeyCmd(connect),
		ratesCmd(),
	)
	return cmd
}

type connectFunc func(ctx context.Context) (*config.Config, *pgxpool.Pool, error)

func migrateCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema and River queue migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.Migrate(ctx, pool, slog.Default()); err != nil {
				return err
			}
			migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
			if err != nil {
				return err
			}
			res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
			if err != nil {
				return fmt.Errorf("river migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%d river versions applied)\n", len(res.Versions))
			return nil
		},
	}
}

func reconcileCmd(connect connectFunc) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle approved payouts that were never settled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			accounts := repository.NewAccountRepo(pool)
			payouts := repository.NewPayoutRepo(pool)
			ledgerSvc := ledger.NewService(pool, accounts, repository.NewLedgerRepo(pool), ledger.OptionsFromConfig(cfg, payouts), slog.Default())

			// Insert-only client: settlement here enqueues disbursement
			// jobs for the API process's workers.
			client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{Logger: slog.Default()})
			if err != nil {
				return err
			}
			enqueuer := jobs.NewEnqueuer()
			enqueuer.BindClient(client)

			svc := payout.NewService(ledgerSvc, payouts, accounts, enqueuer, disbursement.Manual{}, nil,
				payout.Options{SettleOnApprove: true}, slog.Default())
			n, err := svc.ReconcileApproved(ctx, cfg.Rates, olderThan, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "settled %d payout request(s)\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 10*time.Minute, "Only settle requests approved at least this long ago")
	cmd.Flags().IntVar(&limit, "limit", 500, "Maximum requests to settle")
	return cmd
}

type adjustment struct {
	account     uuid.UUID
	actor       uuid.UUID
	amountCents int64
}

func parseAdjustment(account, actor, amount string) (adjustment, error) {
	var a adjustment
	var err error
	if a.account, err = uuid.Parse(account); err != nil {
		return a, fmt.Errorf("--account: %w", err)
	}
	if a.actor, err = uuid.Parse(actor); err != nil {
		return a, fmt.Errorf("--actor: %w", err)
	}
	if a.amountCents, err = money.ParseDollars(amount); err != nil {
		return a, fmt.Errorf("--amount: %w", err)
	}
	if a.amountCents == 0 {
		return a, errors.New("--amount must be non-zero")
	}
	return a, nil
}

func adjustCmd(connect connectFunc) *cobra.Command {
	var account, actor, amount, note string
	cmd := &cobra.Command{
		Use:     "adjust",
		Short:   "Post an admin correction to an account balance",
		Example: `  ledgerctl adjust --account <id> --actor <admin id> --amount -12.50 --note "duplicate sale"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			adj, err := parseAdjustment(account, actor, amount)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			ledgerSvc := ledger.NewService(pool, repository.NewAccountRepo(pool), repository.NewLedgerRepo(pool),
				ledger.OptionsFromConfig(cfg, repository.NewPayoutRepo(pool)), slog.Default())
			entry, err := ledgerSvc.Adjust(ctx, cfg.Rates, adj.account, adj.amountCents, note, adj.actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entry %s: %s, balance now %s\n",
				entry.ID, money.Format(entry.AmountCents), money.Format(entry.BalanceAfterCents))
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Account to adjust")
	cmd.Flags().StringVar(&actor, "actor", "", "Admin account recorded as the author")
	cmd.Flags().StringVar(&amount, "amount", "", "Signed dollar amount, e.g. 25 or -12.50")
	cmd.Flags().StringVar(&note, "note", "", "Reason shown in the account history")
	for _, f := range []string{"account", "actor", "amount", "note"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func auditCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Compare every account balance with the sum of its ledger entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := reporting.NewService(repository.NewReportRepo(pool), repository.NewAccountRepo(pool),
				repository.NewPayoutRepo(pool), repository.NewEventRepo(pool), repository.NewLedgerRepo(pool), nil, slog.Default())
			mismatches, err := svc.Audit(ctx)
			if err != nil {
				return err
			}
			return printAudit(cmd.OutOrStdout(), mismatches)
		},
	}
}

func printAudit(w io.Writer, mismatches []models.BalanceMismatch) error {
	if len(mismatches) == 0 {
		fmt.Fprintln(w, "OK: all balances match their ledger entries")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %14s  %14s  %14s\n", "ACCOUNT", "BALANCE", "LEDGER SUM", "DIFF")
	for _, m := range mismatches {
		fmt.Fprintf(w, "%-36s  %14s  %14s  %14s\n", m.AccountID,
			money.Format(m.BalanceCents), money.Format(m.LedgerSumCents), money.Format(m.BalanceCents-m.LedgerSumCents))
	}
	return fmt.Errorf("%w: %d account(s)", errAuditFailed, len(mismatches))
}

func createAdminCmd(connect connectFunc) *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account (password read from $LEDGERCTL_ADMIN_PASSWORD)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := os.Getenv("LEDGERCTL_ADMIN_PASSWORD")
			if len(password) < 8 {
				return errors.New("LEDGERCTL_ADMIN_PASSWORD must be set to at least 8 characters")
			}
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := auth.NewService(repository.NewAccountRepo(pool), cfg.JWTSecret)
			acc, err := svc.CreateAdmin(ctx, email, password, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s created (%s)\n", acc.Email, acc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&name, "name", "Administrator", "Display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func issueKeyCmd(connect connectFunc) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "issue-ingest-key",
		Short: "Create an API key for the web layer to deliver events with",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			k, raw, err := middleware.NewAPIKey(label)
			if err != nil {
				return err
			}
			if err := repository.NewAPIKeyRepo(pool).Create(ctx, k); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key %s (%s)\n%s\nStore it now; it cannot be shown again.\n", k.ID, k.Label, raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "web", "Label shown in the admin key list")
	return cmd
}

func ratesCmd() *cobra.Command {
	rates := &cobra.Command{Use: "rates", Short: "Inspect rates files"}
	rates.AddCommand(&cobra.Command{
		Use:   "check FILE",
		Short: "Validate a rates YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := config.LoadRates(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d: commission %s, creator share %s, minimum payout %s, referral window %d days\n",
				r.Version, money.FormatBps(r.CommissionBps), money.FormatBps(r.CreatorShareBps),
				money.Format(r.MinimumPayoutCents), r.ReferralWindowDays)
			return nil
		},
	})
	return rates
}
