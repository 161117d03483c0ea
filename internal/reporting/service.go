// Package reporting serves read-only projections over the ledger: balances,
// earnings summaries, the referral funnel and revenue time series.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

var (
	ErrInvalidPeriod   = errors.New("period must be day, week or month")
	ErrInvalidRange    = errors.New("from must be before to")
	ErrRangeTooLarge   = errors.New("range has too many buckets")
	ErrAccountNotFound = errors.New("account not found")
)

const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"

	maxBuckets         = 400
	summaryWindow      = 30 * 24 * time.Hour
	recentSignupsLimit = 10
	statementLimit     = 10000
)

type Reader interface {
	SumBySource(ctx context.Context, accountID uuid.UUID) (map[string]int64, error)
	CountEvents(ctx context.Context, affiliateID *uuid.UUID, from, to time.Time) (map[string]int64, error)
	AccrualBuckets(ctx context.Context, accountID uuid.UUID, period string, from, to time.Time) ([]models.Bucket, error)
	PlatformTotals(ctx context.Context, from, to time.Time) (gross, accrued int64, err error)
	AuditBalances(ctx context.Context) ([]models.BalanceMismatch, error)
}

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type PayoutReader interface {
	UnresolvedCents(ctx context.Context, accountID uuid.UUID) (int64, error)
}

type EventReader interface {
	ListRecentByAffiliate(ctx context.Context, affiliateID uuid.UUID, eventType string, limit int) ([]*models.Event, error)
}

type EntryReader interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// Balance is the payable position of one account. Pending is the amount held
// by an unresolved payout request.
type Balance struct {
	AccountID      uuid.UUID `json:"account_id"`
	BalanceCents   int64     `json:"balance_cents"`
	PendingCents   int64     `json:"pending_cents"`
	AvailableCents int64     `json:"available_cents"`
}

type FunnelStage struct {
	Name                   string  `json:"name"`
	Count                  int64   `json:"count"`
	Percent                float64 `json:"percent"`
	ConversionFromPrevious float64 `json:"conversion_from_previous"`
}

type Signup struct {
	EventID    string     `json:"event_id"`
	SubjectID  *uuid.UUID `json:"subject_id,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Summary is the dashboard earnings card.
type Summary struct {
	AccountID              uuid.UUID     `json:"account_id"`
	TotalEarningsCents     int64         `json:"total_earnings_cents"`
	AffiliateEarningsCents int64         `json:"affiliate_earnings_cents"`
	TemplateEarningsCents  int64         `json:"template_earnings_cents"`
	AdjustmentsCents       int64         `json:"adjustments_cents"`
	PaidOutCents           int64         `json:"paid_out_cents"`
	BalanceCents           int64         `json:"balance_cents"`
	PendingCents           int64         `json:"pending_cents"`
	AvailableCents         int64         `json:"available_cents"`
	MinimumPayoutCents     int64         `json:"minimum_payout_cents"`
	ShortfallCents         int64         `json:"shortfall_cents"`
	CommissionRateBps      int64         `json:"commission_rate_bps"`
	ConfigVersion          int           `json:"config_version"`
	RecentSignups          []Signup      `json:"recent_signups"`
	Funnel                 []FunnelStage `json:"funnel"`
}

// PlatformRevenue is derived at read time: the platform keeps whatever part
// of gross volume was not accrued to an account.
type PlatformRevenue struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	GrossCents   int64     `json:"gross_cents"`
	AccruedCents int64     `json:"accrued_cents"`
	NetCents     int64     `json:"net_cents"`
}

type Service struct {
	reader   Reader
	accounts AccountReader
	payouts  PayoutReader
	events   EventReader
	entries  EntryReader
	cache    *Cache
	now      func() time.Time
	log      *slog.Logger
}

func NewService(reader Reader, accounts AccountReader, payouts PayoutReader, events EventReader, entries EntryReader, cache *Cache, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		reader:   reader,
		accounts: accounts,
		payouts:  payouts,
		events:   events,
		entries:  entries,
		cache:    cache,
		now:      time.Now,
		log:      log,
	}
}

func (s *Service) account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	acc, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	return cached(ctx, s.cache, accountKey(accountID, "balance"), func() (*Balance, error) {
		acc, err := s.account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		pending, err := s.payouts.UnresolvedCents(ctx, accountID)
		if err != nil {
			return nil, err
		}
		return &Balance{
			AccountID:      accountID,
			BalanceCents:   acc.BalanceCents,
			PendingCents:   pending,
			AvailableCents: max(acc.BalanceCents-pending, 0),
		}, nil
	})
}

// Summary builds the dashboard view. The funnel covers the last 30 days.
func (s *Service) Summary(ctx context.Context, rates config.Rates, accountID uuid.UUID) (*Summary, error) {
	key := accountKey(accountID, fmt.Sprintf("summary:v%d", rates.Version))
	return cached(ctx, s.cache, key, func() (*Summary, error) {
		acc, err := s.account(ctx, accountID)
		if err != nil {
			return nil, err
		}
		sums, err := s.reader.SumBySource(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("sum by source: %w", err)
		}
		pending, err := s.payouts.UnresolvedCents(ctx, accountID)
		if err != nil {
			return nil, err
		}

		sum := &Summary{
			AccountID:              accountID,
			AffiliateEarningsCents: sums[models.SourceConversion],
			TemplateEarningsCents:  sums[models.SourceTemplateUsage],
			AdjustmentsCents:       sums[models.SourceAdjustment],
			PaidOutCents:           -sums[models.SourcePayout],
			BalanceCents:           acc.BalanceCents,
			PendingCents:           pending,
			AvailableCents:         max(acc.BalanceCents-pending, 0),
			MinimumPayoutCents:     rates.MinimumPayoutCents,
			ShortfallCents:         max(rates.MinimumPayoutCents-acc.BalanceCents, 0),
			CommissionRateBps:      acc.EffectiveCommissionBps(rates.CommissionBps),
			ConfigVersion:          rates.Version,
			RecentSignups:          []Signup{},
		}
		sum.TotalEarningsCents = sum.AffiliateEarningsCents + sum.TemplateEarningsCents

		if acc.HasRole(models.RoleAffiliate) {
			signups, err := s.events.ListRecentByAffiliate(ctx, accountID, models.EventSignup, recentSignupsLimit)
			if err != nil {
				return nil, fmt.Errorf("recent signups: %w", err)
			}
			for _, e := range signups {
				sum.RecentSignups = append(sum.RecentSignups, Signup{EventID: e.ID, SubjectID: e.SubjectID, OccurredAt: e.OccurredAt})
			}
		}

		to := s.now().UTC()
		sum.Funnel, err = s.funnel(ctx, &accountID, to.Add(-summaryWindow), to)
		if err != nil {
			return nil, err
		}
		return sum, nil
	})
}

// Funnel counts clicks, signups and conversions in [from, to). A nil
// affiliateID gives the platform-wide funnel.
func (s *Service) Funnel(ctx context.Context, affiliateID *uuid.UUID, from, to time.Time) ([]FunnelStage, error) {
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	owner := "platform"
	if affiliateID != nil {
		owner = affiliateID.String()
	}
	key := fmt.Sprintf("%s%s:funnel:%d:%d", keyPrefix, owner, from.Unix(), to.Unix())
	return cached(ctx, s.cache, key, func() ([]FunnelStage, error) {
		return s.funnel(ctx, affiliateID, from, to)
	})
}

func (s *Service) funnel(ctx context.Context, affiliateID *uuid.UUID, from, to time.Time) ([]FunnelStage, error) {
	counts, err := s.reader.CountEvents(ctx, affiliateID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return buildFunnel(counts), nil
}

func buildFunnel(counts map[string]int64) []FunnelStage {
	names := []string{models.EventClick, models.EventSignup, models.EventConversion}
	stages := make([]FunnelStage, len(names))
	first := counts[names[0]]
	for i, name := range names {
		n := counts[name]
		st := FunnelStage{Name: name, Count: n, Percent: percent(n, first)}
		if i == 0 {
			if n > 0 {
				st.ConversionFromPrevious = 100
			}
		} else {
			st.ConversionFromPrevious = percent(n, stages[i-1].Count)
		}
		stages[i] = st
	}
	return stages
}

func percent(n, of int64) float64 {
	if of == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(of)*10000) / 100
}

// TimeSeries returns accrued revenue per period in [from, to), one bucket per
// period including empty ones.
func (s *Service) TimeSeries(ctx context.Context, accountID uuid.UUID, period string, from, to time.Time) ([]models.Bucket, error) {
	if !validPeriod(period) {
		return nil, ErrInvalidPeriod
	}
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	from, to = from.UTC(), to.UTC()
	start := truncate(from, period)
	if countBuckets(start, to, period) > maxBuckets {
		return nil, ErrRangeTooLarge
	}

	key := accountKey(accountID, fmt.Sprintf("series:%s:%d:%d", period, start.Unix(), to.Unix()))
	return cached(ctx, s.cache, key, func() ([]models.Bucket, error) {
		rows, err := s.reader.AccrualBuckets(ctx, accountID, period, start, to)
		if err != nil {
			return nil, fmt.Errorf("accrual buckets: %w", err)
		}
		return fillBuckets(rows, period, start, to), nil
	})
}

func validPeriod(p string) bool {
	return p == PeriodDay || p == PeriodWeek || p == PeriodMonth
}

// truncate matches Postgres date_trunc: weeks start on Monday.
func truncate(t time.Time, period string) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

func next(t time.Time, period string) time.Time {
	switch period {
	case PeriodWeek:
		return t.AddDate(0, 0, 7)
	case PeriodMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

func countBuckets(start, to time.Time, period string) int {
	n := 0
	for t := start; t.Before(to); t = next(t, period) {
		n++
		if n > maxBuckets {
			break
		}
	}
	return n
}

func fillBuckets(rows []models.Bucket, period string, start, to time.Time) []models.Bucket {
	byStart := make(map[int64]int64, len(rows))
	for _, b := range rows {
		byStart[truncate(b.Start, period).Unix()] += b.AmountCents
	}
	out := []models.Bucket{}
	for t := start; t.Before(to); t = next(t, period) {
		out = append(out, models.Bucket{Start: t, AmountCents: byStart[t.Unix()]})
	}
	return out
}

func (s *Service) PlatformRevenue(ctx context.Context, from, to time.Time) (*PlatformRevenue, error) {
	if !from.Before(to) {
		return nil, ErrInvalidRange
	}
	key := fmt.Sprintf("%splatform:revenue:%d:%d", keyPrefix, from.Unix(), to.Unix())
	return cached(ctx, s.cache, key, func() (*PlatformRevenue, error) {
		gross, accrued, err := s.reader.PlatformTotals(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("platform totals: %w", err)
		}
		return &PlatformRevenue{
			From:         from.UTC(),
			To:           to.UTC(),
			GrossCents:   gross,
			AccruedCents: accrued,
			NetCents:     gross - accrued,
		}, nil
	})
}

// Entries returns the newest ledger entries for an account.
func (s *Service) Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.entries.ListByAccountID(ctx, accountID, limit)
}

// Audit lists accounts whose stored balance differs from the sum of their
// entries. An empty result means the ledger is consistent.
func (s *Service) Audit(ctx context.Context) ([]models.BalanceMismatch, error) {
	list, err := s.reader.AuditBalances(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		s.log.Error("balance mismatch", "account_id", m.AccountID, "balance_cents", m.BalanceCents, "ledger_sum_cents", m.LedgerSumCents)
	}
	return list, nil
}
