package disbursement

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestManual(t *testing.T) {
	id := uuid.New()
	ref, err := Manual{}.Send(context.Background(), Transfer{RequestID: id, AmountCents: 10000})
	require.NoError(t, err)
	assert.Equal(t, "manual:"+id.String(), ref)
}

func TestStripe_Send(t *testing.T) {
	var got *stripe.TransferParams
	orig := newTransfer
	newTransfer = func(p *stripe.TransferParams) (*stripe.Transfer, error) {
		got = p
		return &stripe.Transfer{ID: "tr_123"}, nil
	}
	defer func() { newTransfer = orig }()

	req := Transfer{RequestID: uuid.New(), AccountID: uuid.New(), Destination: "acct_abc", AmountCents: 10000}
	ref, err := NewStripe("sk_test_x", "USD").Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tr_123", ref)

	require.NotNil(t, got)
	assert.Equal(t, int64(10000), *got.Amount)
	assert.Equal(t, "usd", *got.Currency)
	assert.Equal(t, "acct_abc", *got.Destination)
	require.NotNil(t, got.IdempotencyKey)
	assert.Equal(t, "payout-"+req.RequestID.String(), *got.IdempotencyKey)
}

func TestStripe_RequiresConnectedAccount(t *testing.T) {
	_, err := NewStripe("sk_test_x", "").Send(context.Background(), Transfer{RequestID: uuid.New(), Destination: ""})
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestStripe_PropagatesFailure(t *testing.T) {
	orig := newTransfer
	newTransfer = func(*stripe.TransferParams) (*stripe.Transfer, error) {
		return nil, errors.New("insufficient platform balance")
	}
	defer func() { newTransfer = orig }()

	_, err := NewStripe("sk_test_x", "usd").Send(context.Background(), Transfer{RequestID: uuid.New(), Destination: "acct_abc", AmountCents: 1})
	assert.Error(t, err)
}
