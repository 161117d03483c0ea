package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waitflo/backend/internal/accrual"
	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/models"
)

func TestSchema_Decode(t *testing.T) {
	s, err := NewSchema()
	require.NoError(t, err)

	tpl := uuid.New()
	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{"click", `{"id":"e1","type":"click","referral_token":"ref_00112233445566778899aabb","occurred_at":"2026-03-01T10:00:00Z"}`, true},
		{"conversion", `{"id":"e2","type":"conversion","plan_id":"pro","amount_cents":2900,"occurred_at":"2026-03-01T10:00:00Z"}`, true},
		{"template usage", `{"id":"e3","type":"template_usage","template_id":"` + tpl.String() + `","amount_cents":99,"occurred_at":"2026-03-01T10:00:00Z"}`, true},
		{"token list", `{"id":"e4","type":"signup","referral_tokens":["a","b"],"occurred_at":"2026-03-01T10:00:00Z"}`, true},
		{"negative amount is left to the engine", `{"id":"e5","type":"conversion","amount_cents":-1,"occurred_at":"2026-03-01T10:00:00Z"}`, true},
		{"not json", `{"id":`, false},
		{"missing id", `{"type":"click","occurred_at":"2026-03-01T10:00:00Z"}`, false},
		{"unknown type", `{"id":"e6","type":"refund","occurred_at":"2026-03-01T10:00:00Z"}`, false},
		{"extra field", `{"id":"e7","type":"click","affiliate_id":"` + uuid.NewString() + `","occurred_at":"2026-03-01T10:00:00Z"}`, false},
		{"bad timestamp", `{"id":"e8","type":"click","occurred_at":"yesterday"}`, false},
		{"bad subject", `{"id":"e9","type":"signup","subject_id":"42","occurred_at":"2026-03-01T10:00:00Z"}`, false},
		{"conversion without amount", `{"id":"e10","type":"conversion","occurred_at":"2026-03-01T10:00:00Z"}`, false},
		{"template usage without template", `{"id":"e11","type":"template_usage","amount_cents":99,"occurred_at":"2026-03-01T10:00:00Z"}`, false},
		{"fractional amount", `{"id":"e12","type":"conversion","amount_cents":29.5,"occurred_at":"2026-03-01T10:00:00Z"}`, false},
		{"trailing document", `{"id":"e13","type":"click","occurred_at":"2026-03-01T10:00:00Z"} {"id":"e14"}`, false},
		{"array body", `[]`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := s.Decode([]byte(tc.body))
			if tc.ok {
				require.NoError(t, err)
				assert.NotEmpty(t, ev.ID)
				assert.False(t, ev.OccurredAt.IsZero())
			} else {
				assert.ErrorIs(t, err, ErrInvalidPayload)
			}
		})
	}
}

func TestSchema_DecodeKeepsLargeAmountsExact(t *testing.T) {
	s, err := NewSchema()
	require.NoError(t, err)

	// 2^53 + 1 is not representable as a float64.
	ev, err := s.Decode([]byte(`{"id":"big","type":"conversion","amount_cents":9007199254740993,"occurred_at":"2026-03-01T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), ev.AmountCents)
	assert.Equal(t, models.EventConversion, ev.Type)
}

type fakeAttributor struct {
	owners map[string]uuid.UUID
	at     time.Time
}

func (f *fakeAttributor) ResolveLast(_ context.Context, tokens []string, now time.Time) (uuid.UUID, string, bool) {
	f.at = now
	for i := len(tokens) - 1; i >= 0; i-- {
		if id, ok := f.owners[tokens[i]]; ok {
			return id, tokens[i], true
		}
	}
	return uuid.Nil, "", false
}

type fakeAccruer struct {
	got     *models.Event
	rates   config.Rates
	entries []*models.LedgerEntry
	dup     bool
	err     error
}

func (f *fakeAccruer) Accrue(_ context.Context, rates config.Rates, ev *models.Event) (*accrual.Result, error) {
	cp := *ev
	f.got, f.rates = &cp, rates
	if f.err != nil {
		return nil, f.err
	}
	return &accrual.Result{Entries: f.entries, Duplicate: f.dup}, nil
}

type staticRates config.Rates

func (s staticRates) Current() config.Rates { return config.Rates(s) }

type recordingCache struct{ ids []uuid.UUID }

func (r *recordingCache) InvalidateAccount(_ context.Context, id uuid.UUID) {
	r.ids = append(r.ids, id)
}

func newPipeline() (*Pipeline, *fakeAttributor, *fakeAccruer, *recordingCache) {
	attr := &fakeAttributor{owners: map[string]uuid.UUID{}}
	acc := &fakeAccruer{}
	cache := &recordingCache{}
	return NewPipeline(attr, acc, staticRates(config.DefaultRates()), cache, nil), attr, acc, cache
}

func TestProcess_AttributesAndAccrues(t *testing.T) {
	p, attr, acc, cache := newPipeline()
	affiliate := uuid.New()
	attr.owners["ref_a"] = affiliate
	acc.entries = []*models.LedgerEntry{{AccountID: affiliate, AmountCents: 870, Source: models.SourceConversion}}

	out, err := p.Process(context.Background(), &models.Event{ID: "e1", Type: models.EventConversion, ReferralToken: "ref_a", AmountCents: 2900})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, out.Status)
	require.NotNil(t, out.AffiliateID)
	assert.Equal(t, affiliate, *out.AffiliateID)
	assert.Equal(t, affiliate, *acc.got.AffiliateID)
	assert.False(t, attr.at.IsZero(), "tokens are resolved at ingestion time")
	assert.Equal(t, []uuid.UUID{affiliate}, cache.ids)
	assert.Len(t, out.Entries, 1)
	assert.Equal(t, int64(2030), out.PlatformCents)
}

func TestProcess_LastValidTokenWins(t *testing.T) {
	p, attr, acc, _ := newPipeline()
	older, newer := uuid.New(), uuid.New()
	attr.owners["ref_old"] = older
	attr.owners["ref_new"] = newer

	_, err := p.Process(context.Background(), &models.Event{
		ID: "e1", Type: models.EventSignup,
		ReferralTokens: []string{"ref_old", "ref_new", "ref_unknown"},
	})
	require.NoError(t, err)
	require.NotNil(t, acc.got.AffiliateID)
	assert.Equal(t, newer, *acc.got.AffiliateID)
}

func TestProcess_SelfReferralNotAttributed(t *testing.T) {
	p, attr, acc, _ := newPipeline()
	self := uuid.New()
	attr.owners["ref_me"] = self

	out, err := p.Process(context.Background(), &models.Event{ID: "e1", Type: models.EventConversion, ReferralToken: "ref_me", SubjectID: &self, AmountCents: 2900})
	require.NoError(t, err)
	assert.Nil(t, out.AffiliateID)
	assert.Nil(t, acc.got.AffiliateID)
}

func TestProcess_ClientSuppliedAffiliateIgnored(t *testing.T) {
	p, _, acc, _ := newPipeline()
	forged := uuid.New()

	_, err := p.Process(context.Background(), &models.Event{ID: "e1", Type: models.EventConversion, AffiliateID: &forged, AmountCents: 2900})
	require.NoError(t, err)
	assert.Nil(t, acc.got.AffiliateID)
}

func TestProcess_Duplicate(t *testing.T) {
	p, _, acc, cache := newPipeline()
	acc.dup = true
	acc.entries = []*models.LedgerEntry{{AccountID: uuid.New(), AmountCents: 870}}

	out, err := p.Process(context.Background(), &models.Event{ID: "e1", Type: models.EventConversion, AmountCents: 2900})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, out.Status)
	assert.Len(t, out.Entries, 1)
	assert.Empty(t, cache.ids)
}

func TestProcess_Rejected(t *testing.T) {
	p, _, acc, cache := newPipeline()
	acc.err = ledger.ErrInvalidAmount

	_, err := p.Process(context.Background(), &models.Event{ID: "e1", Type: models.EventConversion})
	assert.True(t, errors.Is(err, ledger.ErrInvalidAmount))
	assert.Empty(t, cache.ids)
}

func TestProcess_InvalidatesCreatorOnTemplateUsage(t *testing.T) {
	p, _, acc, cache := newPipeline()
	creator := uuid.New()
	acc.entries = []*models.LedgerEntry{{AccountID: creator, AmountCents: 69, Source: models.SourceTemplateUsage}}

	out, err := p.Process(context.Background(), &models.Event{ID: "e1", Type: models.EventTemplateUsage, AmountCents: 99})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{creator}, cache.ids)
	assert.Equal(t, int64(30), out.PlatformCents)
}

func TestProcess_NonMonetaryHasNoPlatformShare(t *testing.T) {
	p, _, _, _ := newPipeline()
	out, err := p.Process(context.Background(), &models.Event{ID: "e1", Type: models.EventClick})
	require.NoError(t, err)
	assert.Zero(t, out.PlatformCents)
}
