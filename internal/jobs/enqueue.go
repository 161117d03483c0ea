package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

var ErrNotWired = errors.New("job insert not wired")

// InsertTxFunc enqueues a job within tx. Provided by main using
// river.Client.InsertTx.
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error

// Enqueuer is created before the River client exists (the client's workers
// need the services that enqueue), so the insert function is bound later.
type Enqueuer struct {
	mu     sync.Mutex
	insert InsertTxFunc
}

func NewEnqueuer() *Enqueuer {
	return &Enqueuer{}
}

func (e *Enqueuer) Bind(fn InsertTxFunc) {
	e.mu.Lock()
	e.insert = fn
	e.mu.Unlock()
}

// BindClient binds the enqueuer to a River client.
func (e *Enqueuer) BindClient(client *river.Client[pgx.Tx]) {
	e.Bind(func(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
		_, err := client.InsertTx(ctx, tx, args, nil)
		return err
	})
}

func (e *Enqueuer) enqueue(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
	e.mu.Lock()
	fn := e.insert
	e.mu.Unlock()
	if fn == nil {
		return ErrNotWired
	}
	return fn(ctx, tx, args)
}

func (e *Enqueuer) EnqueueSettlement(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) error {
	return e.enqueue(ctx, tx, SettlePayoutArgs{RequestID: requestID})
}

func (e *Enqueuer) EnqueueDisbursement(ctx context.Context, tx pgx.Tx, requestID uuid.UUID) error {
	return e.enqueue(ctx, tx, DisbursePayoutArgs{RequestID: requestID})
}
