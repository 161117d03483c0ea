// Package disbursement moves settled payout money out of the platform.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/transfer"
)

var ErrNoDestination = errors.New("account has no payout destination")

// Transfer is one settled payout to send.
type Transfer struct {
	RequestID   uuid.UUID
	AccountID   uuid.UUID
	Destination string
	AmountCents int64
}

// Gateway sends a transfer and returns the external reference. Sending the
// same RequestID twice must not move money twice.
type Gateway interface {
	Send(ctx context.Context, t Transfer) (string, error)
}

// Manual records that finance pays the transfer out of band.
type Manual struct{}

func (Manual) Send(_ context.Context, t Transfer) (string, error) {
	return "manual:" + t.RequestID.String(), nil
}

// newTransfer is swapped in tests.
var newTransfer = transfer.New

// Stripe pays out to a Stripe connected account ("acct_...").
type Stripe struct {
	currency string
}

// NewStripe sets the global Stripe key, the way the stripe-go client expects.
func NewStripe(secretKey, currency string) *Stripe {
	stripe.Key = secretKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &Stripe{currency: strings.ToLower(currency)}
}

func (s *Stripe) Send(ctx context.Context, t Transfer) (string, error) {
	if !strings.HasPrefix(t.Destination, "acct_") {
		return "", fmt.Errorf("%w: %s", ErrNoDestination, t.AccountID)
	}
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(t.AmountCents),
		Currency:      stripe.String(s.currency),
		Destination:   stripe.String(t.Destination),
		TransferGroup: stripe.String("payout_" + t.RequestID.String()),
	}
	params.Context = ctx
	params.SetIdempotencyKey("payout-" + t.RequestID.String())
	params.AddMetadata("payout_request_id", t.RequestID.String())
	params.AddMetadata("account_id", t.AccountID.String())

	tr, err := newTransfer(params)
	if err != nil {
		return "", fmt.Errorf("stripe transfer: %w", err)
	}
	return tr.ID, nil
}
