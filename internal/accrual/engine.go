// Package accrual turns events into ledger accruals. Processing is keyed by
// event id: a replayed event produces no new entries.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

var (
	ErrInvalidEvent     = errors.New("invalid event")
	ErrTemplateNotFound = errors.New("template not found")
)

type EventStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, e *models.Event) (bool, error)
}

type EntryLister interface {
	ListBySourceEventTx(ctx context.Context, tx pgx.Tx, eventID string) ([]*models.LedgerEntry, error)
}

type AccountReader interface {
	GetTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
}

type TemplateReader interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Template, error)
}

// Result is what one Accrue call produced. For a duplicate event Entries are
// the ones recorded the first time.
type Result struct {
	Entries   []*models.LedgerEntry `json:"entries"`
	Duplicate bool                  `json:"duplicate"`
}

type Engine struct {
	ledger    ledger.Service
	events    EventStore
	entries   EntryLister
	accounts  AccountReader
	templates TemplateReader
	log       *slog.Logger
}

func NewEngine(l ledger.Service, events EventStore, entries EntryLister, accounts AccountReader, templates TemplateReader, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{ledger: l, events: events, entries: entries, accounts: accounts, templates: templates, log: log}
}

// Validate checks an event before anything is written.
func Validate(ev *models.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if !models.ValidEventType(ev.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if ev.AmountCents < 0 {
		return fmt.Errorf("%w: %d", ledger.ErrInvalidAmount, ev.AmountCents)
	}
	if ev.Monetary() && ev.AmountCents == 0 {
		return fmt.Errorf("%w: %s requires a positive amount", ledger.ErrInvalidAmount, ev.Type)
	}
	if ev.Type == models.EventTemplateUsage && ev.TemplateID == nil {
		return fmt.Errorf("%w: template_usage requires template_id", ErrInvalidEvent)
	}
	return nil
}

// Accrue records ev and posts its accruals in one transaction. Invalid
// events are rejected before the event is recorded, so a corrected retry
// with the same id is still processed.
func (e *Engine) Accrue(ctx context.Context, rates config.Rates, ev *models.Event) (*Result, error) {
	if err := Validate(ev); err != nil {
		return nil, err
	}

	var res *Result
	err := e.ledger.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		res = &Result{}

		var tpl *models.Template
		if ev.Type == models.EventTemplateUsage {
			t, err := e.templates.GetByIDTx(ctx, tx, *ev.TemplateID)
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrTemplateNotFound, *ev.TemplateID)
			}
			if err != nil {
				return err
			}
			tpl = t
		}

		inserted, err := e.events.InsertTx(ctx, tx, ev)
		if err != nil {
			return err
		}
		if !inserted {
			prior, err := e.entries.ListBySourceEventTx(ctx, tx, ev.ID)
			if err != nil {
				return err
			}
			res.Entries = prior
			res.Duplicate = true
			return nil
		}

		var affiliate *models.Account
		if ev.Type == models.EventConversion && ev.AffiliateID != nil {
			a, err := e.accounts.GetTx(ctx, tx, *ev.AffiliateID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			affiliate = a
		}

		planned, err := Split(ev, rates, affiliate, tpl)
		if err != nil {
			return err
		}
		for _, entry := range planned {
			if err := e.ledger.Post(ctx, tx, entry); err != nil {
				return err
			}
		}
		res.Entries = planned
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Entries == nil {
		res.Entries = []*models.LedgerEntry{}
	}

	if res.Duplicate {
		e.log.Info("duplicate event ignored", "event_id", ev.ID, "type", ev.Type)
	} else {
		for _, entry := range res.Entries {
			e.log.Info("accrual posted",
				"event_id", ev.ID,
				"account_id", entry.AccountID,
				"source", entry.Source,
				"amount_cents", entry.AmountCents,
				"rate_bps", *entry.RateBps,
				"config_version", entry.ConfigVersion,
			)
		}
	}
	return res, nil
}
