package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/puddle/v2"

	"github.com/vidshare/backend/internal/db"
	"github.com/vidshare/backend/internal/events"
	"github.com/vidshare/backend/internal/logging"
)

// ErrUnavailable indicates no transactional handle could be checked out of
// the pool in time, or the pool is closed.
var ErrUnavailable = errors.New("transaction handle unavailable")

// DefaultAcquireTimeout bounds how long Do waits for a pooled connection
// before failing with ErrUnavailable. Commands never queue past it; the
// short wait absorbs a connection being handed back mid-burst.
const DefaultAcquireTimeout = 2 * time.Second

// Outbox collects events emitted by transaction steps. They are published only
// after the transaction commits and discarded on rollback.
type Outbox struct {
	events []events.Event
}

// Emit queues an event for post-commit publication.
func (o *Outbox) Emit(event events.Event) {
	o.events = append(o.events, event)
}

// Executor runs multi-step writes as one transaction. S is the set of
// transaction-bound stores handed to each step function.
type Executor[S any] struct {
	pool           db.Pool
	bind           func(db.Querier) S
	sink           events.Sink
	acquireTimeout time.Duration
	now            func() time.Time
}

// Config tunes an Executor.
type Config struct {
	AcquireTimeout time.Duration
	// Now stamps events lacking OccurredAt. Defaults to time.Now in UTC.
	Now func() time.Time
}

// New constructs an Executor. bind turns an open transaction into stores.
func New[S any](pool db.Pool, bind func(db.Querier) S, sink events.Sink, cfg Config) *Executor[S] {
	if pool == nil {
		panic("txn: pool must not be nil")
	}
	if bind == nil {
		panic("txn: bind must not be nil")
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Executor[S]{
		pool:           pool,
		bind:           bind,
		sink:           sink,
		acquireTimeout: cfg.AcquireTimeout,
		now:            cfg.Now,
	}
}

// Run executes fn inside a transaction. See Do.
func (e *Executor[S]) Run(ctx context.Context, fn func(ctx context.Context, stores S, out *Outbox) error) error {
	_, err := Do(ctx, e, func(ctx context.Context, stores S, out *Outbox) (struct{}, error) {
		return struct{}{}, fn(ctx, stores, out)
	})
	return err
}

// Do checks out a dedicated connection, begins a transaction and runs fn
// against stores bound to it. If fn succeeds the transaction commits and the
// queued events are published; otherwise it rolls back and fn's error is
// returned unchanged. The connection is released exactly once on every path.
func Do[S, T any](ctx context.Context, e *Executor[S], fn func(ctx context.Context, stores S, out *Outbox) (T, error)) (T, error) {
	var zero T

	ctx, span := logging.StartSpan(ctx, "txn")
	defer span.End()
	logger := logging.FromContext(ctx)

	conn, err := e.acquire(ctx)
	if err != nil {
		logger.Error("acquire transaction handle", "error", err)
		return zero, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Error("rollback transaction", "error", rbErr)
		}
	}()

	var out Outbox
	result, err := fn(ctx, e.bind(tx), &out)
	if err != nil {
		logger.Debug("transaction rolled back", "error", err)
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("commit transaction: %w", err)
	}
	committed = true

	e.publish(ctx, logger, out.events)
	return result, nil
}

func (e *Executor[S]) acquire(ctx context.Context) (db.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	defer cancel()

	conn, err := e.pool.Acquire(acquireCtx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, puddle.ErrClosedPool) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil, fmt.Errorf("acquire connection: %w", err)
}

func (e *Executor[S]) publish(ctx context.Context, logger *slog.Logger, queued []events.Event) {
	if e.sink == nil || len(queued) == 0 {
		return
	}
	publishCtx := context.WithoutCancel(ctx)
	for _, event := range queued {
		if event.OccurredAt.IsZero() {
			event.OccurredAt = e.now()
		}
		if err := e.sink.Publish(publishCtx, event); err != nil {
			logger.Warn("publish committed event", "event_type", event.Type, "aggregate_id", event.AggregateID, "error", err)
		}
	}
}
