package accrual

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/money"
)

// Split computes the accruals an event produces under rates. affiliate is
// the resolved affiliate account for a conversion (nil when unattributed);
// tpl is the template for a template usage event. The platform keeps the
// remainder, which is never written as an entry.
func Split(ev *models.Event, rates config.Rates, affiliate *models.Account, tpl *models.Template) ([]*models.LedgerEntry, error) {
	switch ev.Type {
	case models.EventConversion:
		if affiliate == nil || affiliate.Disabled() {
			return nil, nil
		}
		bps := affiliate.EffectiveCommissionBps(rates.CommissionBps)
		return single(ev, rates, affiliate.ID, models.SourceConversion, bps)
	case models.EventTemplateUsage:
		if tpl == nil {
			return nil, ErrTemplateNotFound
		}
		return single(ev, rates, tpl.CreatorID, models.SourceTemplateUsage, rates.CreatorShareBps)
	}
	return nil, nil
}

func single(ev *models.Event, rates config.Rates, accountID uuid.UUID, source string, bps int64) ([]*models.LedgerEntry, error) {
	amount, err := money.ApplyRate(ev.AmountCents, bps)
	if err != nil {
		return nil, fmt.Errorf("%w: %s share for %s: %w", ledger.ErrInvalidAmount, source, accountID, err)
	}
	if amount == 0 {
		return nil, nil
	}
	eventID := ev.ID
	rate := bps
	e := &models.LedgerEntry{
		AccountID:     accountID,
		AmountCents:   amount,
		Kind:          models.EntryAccrual,
		Source:        source,
		SourceEventID: &eventID,
		RateBps:       &rate,
		ConfigVersion: rates.Version,
	}
	return []*models.LedgerEntry{e}, nil
}

// PlatformShare returns what the platform retains from a monetary event
// after its accruals.
func PlatformShare(ev *models.Event, entries []*models.LedgerEntry) int64 {
	share := ev.AmountCents
	for _, e := range entries {
		share -= e.AmountCents
	}
	return share
}
