// Package ingest turns inbound events into ledger entries: schema check,
// attribution, accrual, then cache invalidation.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/accrual"
	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/metrics"
	"github.com/waitflo/backend/internal/models"
)

const (
	StatusAccepted  = "accepted"
	StatusDuplicate = "duplicate"
)

type Attributor interface {
	ResolveLast(ctx context.Context, tokens []string, now time.Time) (uuid.UUID, string, bool)
}

type Accruer interface {
	Accrue(ctx context.Context, rates config.Rates, ev *models.Event) (*accrual.Result, error)
}

type RatesSource interface {
	Current() config.Rates
}

type Invalidator interface {
	InvalidateAccount(ctx context.Context, accountID uuid.UUID)
}

// Outcome is the result of processing one event.
type Outcome struct {
	Status      string                `json:"status"`
	EventID     string                `json:"event_id"`
	AffiliateID *uuid.UUID            `json:"affiliate_id,omitempty"`
	Entries     []*models.LedgerEntry `json:"entries"`
	// PlatformCents is what the platform keeps from a monetary event.
	PlatformCents int64 `json:"platform_cents,omitempty"`
}

type Pipeline struct {
	attr   Attributor
	accrue Accruer
	rates  RatesSource
	cache  Invalidator
	now    func() time.Time
	log    *slog.Logger
}

func NewPipeline(attr Attributor, accrue Accruer, rates RatesSource, cache Invalidator, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{attr: attr, accrue: accrue, rates: rates, cache: cache, now: time.Now, log: log}
}

// Process attributes ev and accrues it under the current rates. Tokens are
// evaluated at ingestion time, newest valid token wins, and an affiliate
// never earns from their own signup or purchase.
func (p *Pipeline) Process(ctx context.Context, ev *models.Event) (*Outcome, error) {
	rates := p.rates.Current()

	ev.AffiliateID = nil
	result := "unattributed"
	if tokens := ev.Tokens(); len(tokens) > 0 {
		if id, token, ok := p.attr.ResolveLast(ctx, tokens, p.now()); ok {
			if ev.SubjectID != nil && *ev.SubjectID == id {
				result = "self_referral"
				p.log.Info("self referral ignored", "event_id", ev.ID, "account_id", id)
			} else {
				ev.AffiliateID = &id
				result = "attributed"
				p.log.Debug("event attributed", "event_id", ev.ID, "token", token, "affiliate_id", id)
			}
		}
	}

	res, err := p.accrue.Accrue(ctx, rates, ev)
	if err != nil {
		metrics.EventsIngested.WithLabelValues(ev.Type, "rejected").Inc()
		p.log.Warn("event rejected", "event_id", ev.ID, "type", ev.Type, "error", err)
		return nil, err
	}

	out := &Outcome{Status: StatusAccepted, EventID: ev.ID, AffiliateID: ev.AffiliateID, Entries: res.Entries}
	if ev.Monetary() {
		out.PlatformCents = accrual.PlatformShare(ev, res.Entries)
	}
	if res.Duplicate {
		out.Status = StatusDuplicate
		metrics.EventsIngested.WithLabelValues(ev.Type, StatusDuplicate).Inc()
		return out, nil
	}

	metrics.EventsIngested.WithLabelValues(ev.Type, StatusAccepted).Inc()
	metrics.EventsAttributed.WithLabelValues(result).Inc()
	for _, e := range res.Entries {
		metrics.AccruedCents.WithLabelValues(e.Source).Add(float64(e.AmountCents))
	}
	if out.PlatformCents > 0 {
		metrics.PlatformRetainedCents.WithLabelValues(ev.Type).Add(float64(out.PlatformCents))
	}
	p.invalidate(ctx, ev, res.Entries)
	return out, nil
}

func (p *Pipeline) invalidate(ctx context.Context, ev *models.Event, entries []*models.LedgerEntry) {
	if p.cache == nil {
		return
	}
	seen := map[uuid.UUID]bool{}
	if ev.AffiliateID != nil {
		seen[*ev.AffiliateID] = true
		p.cache.InvalidateAccount(ctx, *ev.AffiliateID)
	}
	for _, e := range entries {
		if !seen[e.AccountID] {
			seen[e.AccountID] = true
			p.cache.InvalidateAccount(ctx, e.AccountID)
		}
	}
}
