package payout

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waitflo/backend/internal/config"
	"github.com/waitflo/backend/internal/disbursement"
	"github.com/waitflo/backend/internal/ledger"
	"github.com/waitflo/backend/internal/models"
	"github.com/waitflo/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.Account
}

func (f *fakeAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeAccounts) balance(id uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id].BalanceCents
}

// fakeLedger runs transactions inline and posts straight to fakeAccounts.
type fakeLedger struct {
	accounts *fakeAccounts
	mu       sync.Mutex
	entries  []*models.LedgerEntry
}

func (f *fakeLedger) InTx(ctx context.Context, fn ledger.TxFunc) error { return fn(ctx, nil) }

func (f *fakeLedger) Post(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	f.accounts.mu.Lock()
	defer f.accounts.mu.Unlock()
	a := f.accounts.accounts[e.AccountID]
	if a.BalanceCents+e.AmountCents < 0 {
		return ledger.ErrNegativeBalance
	}
	a.BalanceCents += e.AmountCents
	e.ID = uuid.New()
	e.BalanceAfterCents = a.BalanceCents
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	return nil
}

func (f *fakeLedger) Adjust(context.Context, config.Rates, uuid.UUID, int64, string, uuid.UUID) (*models.LedgerEntry, error) {
	return nil, errors.New("not used")
}

func (f *fakeLedger) debits(requestID uuid.UUID) []*models.LedgerEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range f.entries {
		if e.PayoutRequestID != nil && *e.PayoutRequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.PayoutRequest
}

func (f *fakeStore) CreateTx(_ context.Context, _ pgx.Tx, p *models.PayoutRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.AccountID == p.AccountID && r.Unresolved() {
			return repository.ErrUnresolvedPayoutExists
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	f.requests[p.ID] = &cp
	return nil
}

func (f *fakeStore) GetForUpdateTx(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.PayoutRequest, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeStore) UpdateTx(_ context.Context, _ pgx.Tx, p *models.PayoutRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[p.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *p
	f.requests[p.ID] = &cp
	return nil
}

func (f *fakeStore) UnresolvedTx(_ context.Context, _ pgx.Tx, accountID uuid.UUID) (*models.PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.AccountID == accountID && r.Unresolved() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListByAccountID(_ context.Context, accountID uuid.UUID) ([]*models.PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PayoutRequest
	for _, r := range f.requests {
		if r.AccountID == accountID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByStatus(_ context.Context, status string, _ int) ([]*models.PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PayoutRequest
	for _, r := range f.requests {
		if r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) ListApprovedBefore(_ context.Context, cutoff time.Time, _ int) ([]*models.PayoutRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PayoutRequest
	for _, r := range f.requests {
		if r.Status == models.PayoutApproved && r.DecidedAt != nil && r.DecidedAt.Before(cutoff) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) SetDisbursementRef(_ context.Context, id uuid.UUID, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.requests[id]
	if !ok || r.DisbursementRef != "" {
		return repository.ErrNotFound
	}
	r.DisbursementRef = ref
	return nil
}

type recordingEnqueuer struct {
	settlements   []uuid.UUID
	disbursements []uuid.UUID
}

func (r *recordingEnqueuer) EnqueueSettlement(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.settlements = append(r.settlements, id)
	return nil
}

func (r *recordingEnqueuer) EnqueueDisbursement(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	r.disbursements = append(r.disbursements, id)
	return nil
}

type countingGateway struct{ sent int }

func (g *countingGateway) Send(_ context.Context, t disbursement.Transfer) (string, error) {
	g.sent++
	return "tr_" + t.RequestID.String()[:8], nil
}

type fixture struct {
	svc      *Service
	accounts *fakeAccounts
	ledger   *fakeLedger
	store    *fakeStore
	enqueue  *recordingEnqueuer
	gateway  *countingGateway
	account  uuid.UUID
	admin    uuid.UUID
}

func newFixture(balance int64, opts Options) *fixture {
	id := uuid.New()
	accounts := &fakeAccounts{accounts: map[uuid.UUID]*models.Account{
		id: {ID: id, BalanceCents: balance, PayoutDestination: "acct_test"},
	}}
	l := &fakeLedger{accounts: accounts}
	store := &fakeStore{requests: map[uuid.UUID]*models.PayoutRequest{}}
	enq := &recordingEnqueuer{}
	gw := &countingGateway{}
	return &fixture{
		svc:      NewService(l, store, accounts, enq, gw, nil, opts, nil),
		accounts: accounts,
		ledger:   l,
		store:    store,
		enqueue:  enq,
		gateway:  gw,
		account:  id,
		admin:    uuid.New(),
	}
}

var rates = config.DefaultRates()

// ---------------------------------------------------------------------------
// 1. TestRequestPayout: eligibility rules
// ---------------------------------------------------------------------------

func TestRequestPayout_Threshold(t *testing.T) {
	ctx := context.Background()

	low := newFixture(4999, Options{})
	_, err := low.svc.RequestPayout(ctx, rates, low.account, 4999)
	if !errors.Is(err, ErrBelowMinimumThreshold) {
		t.Fatalf("balance 4999: expected ErrBelowMinimumThreshold, got %v", err)
	}
	var te *ThresholdError
	if !errors.As(err, &te) || te.ShortfallCents() != 1 {
		t.Errorf("expected shortfall of 1 cent, got %+v", te)
	}

	ok := newFixture(5000, Options{})
	p, err := ok.svc.RequestPayout(ctx, rates, ok.account, 5000)
	if err != nil {
		t.Fatalf("balance 5000: %v", err)
	}
	if p.Status != models.PayoutPending || p.RequestedCents != 5000 {
		t.Errorf("unexpected request: %+v", p)
	}
	if got := ok.accounts.balance(ok.account); got != 5000 {
		t.Errorf("request must not touch the balance, got %d", got)
	}
}

func TestRequestPayout_AmountBelowMinimum(t *testing.T) {
	f := newFixture(20000, Options{})
	_, err := f.svc.RequestPayout(context.Background(), rates, f.account, 1000)
	var te *ThresholdError
	if !errors.As(err, &te) {
		t.Fatalf("expected ThresholdError, got %v", err)
	}
	if te.ShortfallCents() != 4000 {
		t.Errorf("shortfall: got %d, want 4000", te.ShortfallCents())
	}
}

func TestRequestPayout_ExceedsBalance(t *testing.T) {
	f := newFixture(6000, Options{})
	_, err := f.svc.RequestPayout(context.Background(), rates, f.account, 6001)
	if !errors.Is(err, ErrAmountExceedsBalance) {
		t.Fatalf("expected ErrAmountExceedsBalance, got %v", err)
	}
}

func TestRequestPayout_InvalidAmount(t *testing.T) {
	f := newFixture(6000, Options{})
	for _, amount := range []int64{0, -100} {
		if _, err := f.svc.RequestPayout(context.Background(), rates, f.account, amount); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestRequestPayout_AlreadyPendingRegardlessOfAmount(t *testing.T) {
	f := newFixture(50000, Options{})
	ctx := context.Background()
	if _, err := f.svc.RequestPayout(ctx, rates, f.account, 10000); err != nil {
		t.Fatalf("first request: %v", err)
	}
	for _, amount := range []int64{10000, 5000, 1, 0, -5, 999999} {
		_, err := f.svc.RequestPayout(ctx, rates, f.account, amount)
		if !errors.Is(err, ErrRequestAlreadyPending) {
			t.Errorf("amount %d: expected ErrRequestAlreadyPending, got %v", amount, err)
		}
	}
}

func TestRequestPayout_ConcurrentRequestsOnlyOneWins(t *testing.T) {
	f := newFixture(50000, Options{})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestPayout(ctx, rates, f.account, 10000)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrRequestAlreadyPending):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("created: got %d, want 1", created)
	}
}

func TestRequestPayout_DisabledAccount(t *testing.T) {
	f := newFixture(50000, Options{})
	now := time.Now()
	f.accounts.accounts[f.account].DisabledAt = &now
	if _, err := f.svc.RequestPayout(context.Background(), rates, f.account, 10000); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 2. TestPayoutLifecycle
// ---------------------------------------------------------------------------

func TestPayoutLifecycle_ApproveSettles(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: true})
	ctx := context.Background()

	req, err := f.svc.RequestPayout(ctx, rates, f.account, 10000)
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}

	decided, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.Status != models.PayoutSettled {
		t.Errorf("status: got %s, want settled", decided.Status)
	}
	if decided.DecidedBy == nil || *decided.DecidedBy != f.admin || decided.SettledAt == nil {
		t.Errorf("decision fields not recorded: %+v", decided)
	}
	if got := f.accounts.balance(f.account); got != 2834 {
		t.Errorf("balance: got %d, want 2834", got)
	}

	debits := f.ledger.debits(req.ID)
	if len(debits) != 1 {
		t.Fatalf("debits: got %d, want 1", len(debits))
	}
	if debits[0].AmountCents != -10000 || debits[0].Kind != models.EntryPayoutDebit {
		t.Errorf("unexpected debit: %+v", debits[0])
	}
	if len(f.enqueue.disbursements) != 1 || f.enqueue.disbursements[0] != req.ID {
		t.Errorf("disbursement not enqueued: %v", f.enqueue.disbursements)
	}

	_, err = f.svc.Decide(ctx, rates, req.ID, true, f.admin, "")
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second decide: expected ErrAlreadyDecided, got %v", err)
	}
	_, err = f.svc.Decide(ctx, rates, req.ID, false, f.admin, "")
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("deny after settle: expected ErrAlreadyDecided, got %v", err)
	}
	if got := f.accounts.balance(f.account); got != 2834 {
		t.Errorf("balance moved after re-decide: %d", got)
	}

	// Settled request no longer blocks a new one once the balance allows it.
	if _, err := f.svc.RequestPayout(ctx, rates, f.account, 2834); !errors.Is(err, ErrBelowMinimumThreshold) {
		t.Errorf("expected threshold error on the remaining balance, got %v", err)
	}
}

func TestPayoutLifecycle_DenyReturnsToNoPending(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: true})
	ctx := context.Background()

	req, err := f.svc.RequestPayout(ctx, rates, f.account, 10000)
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	denied, err := f.svc.Decide(ctx, rates, req.ID, false, f.admin, "destination not verified")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if denied.Status != models.PayoutDenied || denied.Note != "destination not verified" {
		t.Errorf("unexpected: %+v", denied)
	}
	if got := f.accounts.balance(f.account); got != 12834 {
		t.Errorf("deny must not touch balance, got %d", got)
	}
	if len(f.ledger.debits(req.ID)) != 0 {
		t.Error("deny must not post a debit")
	}

	if _, err := f.svc.RequestPayout(ctx, rates, f.account, 12834); err != nil {
		t.Errorf("new request after deny: %v", err)
	}
}

func TestDecide_NotFound(t *testing.T) {
	f := newFixture(0, Options{})
	if _, err := f.svc.Decide(context.Background(), rates, uuid.New(), true, f.admin, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDecide_ApproveWhenBalanceShrankStaysPending(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: true})
	ctx := context.Background()
	req, _ := f.svc.RequestPayout(ctx, rates, f.account, 10000)

	f.accounts.accounts[f.account].BalanceCents = 9000

	if _, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, ""); !errors.Is(err, ErrAmountExceedsBalance) {
		t.Fatalf("expected ErrAmountExceedsBalance, got %v", err)
	}
	p, _ := f.store.GetByID(ctx, req.ID)
	if p.Status != models.PayoutPending {
		t.Errorf("status: got %s, want pending", p.Status)
	}
}

// ---------------------------------------------------------------------------
// 3. Deferred settlement, reconcile, disbursement
// ---------------------------------------------------------------------------

func TestDeferredSettlement(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: false})
	ctx := context.Background()

	req, _ := f.svc.RequestPayout(ctx, rates, f.account, 10000)
	approved, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, "")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if approved.Status != models.PayoutApproved {
		t.Fatalf("status: got %s, want approved", approved.Status)
	}
	if len(f.enqueue.settlements) != 1 {
		t.Fatalf("settlement not enqueued")
	}
	if got := f.accounts.balance(f.account); got != 12834 {
		t.Errorf("approval alone must not debit, balance %d", got)
	}

	// Approved-but-unsettled still blocks a second request.
	if _, err := f.svc.RequestPayout(ctx, rates, f.account, 2834); !errors.Is(err, ErrRequestAlreadyPending) {
		t.Errorf("expected ErrRequestAlreadyPending, got %v", err)
	}

	for i := 0; i < 2; i++ {
		settled, err := f.svc.Settle(ctx, rates, req.ID)
		if err != nil {
			t.Fatalf("Settle #%d: %v", i+1, err)
		}
		if settled.Status != models.PayoutSettled {
			t.Errorf("Settle #%d status: %s", i+1, settled.Status)
		}
	}
	if len(f.ledger.debits(req.ID)) != 1 {
		t.Errorf("settling twice must post one debit")
	}
	if got := f.accounts.balance(f.account); got != 2834 {
		t.Errorf("balance: got %d, want 2834", got)
	}
}

// An approved request whose balance shrank before the settlement job ran is
// denied at settlement, and the account can request again.
func TestSettle_InsufficientBalanceDeniesAndReleasesAccount(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: false})
	ctx := context.Background()

	req, err := f.svc.RequestPayout(ctx, rates, f.account, 10000)
	if err != nil {
		t.Fatalf("RequestPayout: %v", err)
	}
	if _, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, "looks good"); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	f.accounts.accounts[f.account].BalanceCents = 5000

	p, err := f.svc.Settle(ctx, rates, req.ID)
	if !errors.Is(err, ErrAmountExceedsBalance) {
		t.Fatalf("expected ErrAmountExceedsBalance, got %v", err)
	}
	if p == nil || p.Status != models.PayoutDenied {
		t.Fatalf("request should be denied, got %+v", p)
	}
	stored, _ := f.store.GetByID(ctx, req.ID)
	if stored.Status != models.PayoutDenied {
		t.Errorf("stored status: got %s, want denied", stored.Status)
	}
	if !strings.HasPrefix(stored.Note, "looks good; settlement failed") {
		t.Errorf("note should keep the admin note and add the reason: %q", stored.Note)
	}
	if len(f.ledger.debits(req.ID)) != 0 {
		t.Error("no debit may be posted")
	}
	if got := f.accounts.balance(f.account); got != 5000 {
		t.Errorf("balance: got %d, want 5000", got)
	}

	// A retried job sees a terminal request.
	if _, err := f.svc.Settle(ctx, rates, req.ID); !errors.Is(err, ErrNotApproved) {
		t.Errorf("second settle: expected ErrNotApproved, got %v", err)
	}

	f.accounts.accounts[f.account].BalanceCents = 9000
	if _, err := f.svc.RequestPayout(ctx, rates, f.account, 6000); err != nil {
		t.Errorf("account should accept a new request, got %v", err)
	}
}

// conflictOnceLedger fails the first attempt of every transaction with a
// serialization conflict, rolling the fakes back before retrying.
type conflictOnceLedger struct {
	*fakeLedger
	store    *fakeStore
	attempts int
}

func (c *conflictOnceLedger) InTx(ctx context.Context, fn ledger.TxFunc) error {
	balances := map[uuid.UUID]int64{}
	for id, a := range c.accounts.accounts {
		balances[id] = a.BalanceCents
	}
	requests := map[uuid.UUID]models.PayoutRequest{}
	for id, p := range c.store.requests {
		requests[id] = *p
	}
	entries := len(c.entries)

	c.attempts++
	if err := fn(ctx, nil); err != nil {
		return err
	}
	for id, b := range balances {
		c.accounts.accounts[id].BalanceCents = b
	}
	for id, p := range requests {
		cp := p
		c.store.requests[id] = &cp
	}
	c.entries = c.entries[:entries]

	c.attempts++
	return fn(ctx, nil)
}

func TestSettle_LogsOnceAcrossRetries(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: false})
	ctx := context.Background()
	req, _ := f.svc.RequestPayout(ctx, rates, f.account, 10000)
	if _, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	var logs bytes.Buffer
	l := &conflictOnceLedger{fakeLedger: f.ledger, store: f.store}
	svc := NewService(l, f.store, f.accounts, f.enqueue, f.gateway, nil, Options{}, slog.New(slog.NewTextHandler(&logs, nil)))

	p, err := svc.Settle(ctx, rates, req.ID)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if l.attempts != 2 {
		t.Fatalf("attempts: got %d, want 2", l.attempts)
	}
	if p.Status != models.PayoutSettled {
		t.Errorf("status: got %s, want settled", p.Status)
	}
	if n := len(f.ledger.debits(req.ID)); n != 1 {
		t.Errorf("debits: got %d, want 1", n)
	}
	if n := strings.Count(logs.String(), "payout settled"); n != 1 {
		t.Errorf("settled log lines: got %d, want 1\n%s", n, logs.String())
	}
}

func TestDecide_DenyApprovedUnsettled(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: false})
	ctx := context.Background()

	req, _ := f.svc.RequestPayout(ctx, rates, f.account, 10000)
	if _, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("re-approve: expected ErrAlreadyDecided, got %v", err)
	}

	denied, err := f.svc.Decide(ctx, rates, req.ID, false, f.admin, "bank rejected destination")
	if err != nil {
		t.Fatalf("deny approved: %v", err)
	}
	if denied.Status != models.PayoutDenied {
		t.Errorf("status: got %s, want denied", denied.Status)
	}

	// The queued settlement job now finds nothing to settle.
	if _, err := f.svc.Settle(ctx, rates, req.ID); !errors.Is(err, ErrNotApproved) {
		t.Errorf("settle after deny: expected ErrNotApproved, got %v", err)
	}
	if got := f.accounts.balance(f.account); got != 12834 {
		t.Errorf("balance: got %d, want 12834", got)
	}
	if _, err := f.svc.RequestPayout(ctx, rates, f.account, 6000); err != nil {
		t.Errorf("new request after deny: %v", err)
	}
}

func TestSettle_RejectsPending(t *testing.T) {
	f := newFixture(12834, Options{})
	req, _ := f.svc.RequestPayout(context.Background(), rates, f.account, 10000)
	if _, err := f.svc.Settle(context.Background(), rates, req.ID); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
}

func TestReconcileApproved(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: false})
	ctx := context.Background()
	req, _ := f.svc.RequestPayout(ctx, rates, f.account, 10000)
	if _, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	n, err := f.svc.ReconcileApproved(ctx, rates, time.Hour, 100)
	if err != nil || n != 0 {
		t.Fatalf("fresh approval should wait: n=%d err=%v", n, err)
	}

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = f.svc.ReconcileApproved(ctx, rates, time.Hour, 100)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 settled, got n=%d err=%v", n, err)
	}
	if got := f.accounts.balance(f.account); got != 2834 {
		t.Errorf("balance: got %d, want 2834", got)
	}
}

func TestDisburse(t *testing.T) {
	f := newFixture(12834, Options{SettleOnApprove: true})
	ctx := context.Background()
	req, _ := f.svc.RequestPayout(ctx, rates, f.account, 10000)

	if _, err := f.svc.Disburse(ctx, req.ID); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("pending disburse: expected ErrNotApproved, got %v", err)
	}

	if _, err := f.svc.Decide(ctx, rates, req.ID, true, f.admin, ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	p, err := f.svc.Disburse(ctx, req.ID)
	if err != nil {
		t.Fatalf("Disburse: %v", err)
	}
	if p.DisbursementRef == "" {
		t.Error("reference not recorded")
	}
	if _, err := f.svc.Disburse(ctx, req.ID); err != nil {
		t.Fatalf("second Disburse: %v", err)
	}
	if f.gateway.sent != 1 {
		t.Errorf("gateway calls: got %d, want 1", f.gateway.sent)
	}
}
