package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DispatcherConfig controls the concurrency characteristics of the dispatcher.
type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	PublishTimeout time.Duration
}

// Dispatcher delivers events to a downstream Sink on a background worker pool
// so request handlers never wait on the broker.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	jobs   chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

// ErrDispatcherClosed is returned for events offered after Shutdown.
var ErrDispatcherClosed = errors.New("event dispatcher closed")

// ErrQueueFull is returned when the bounded queue cannot accept an event.
var ErrQueueFull = errors.New("event queue full")

// NewDispatcher starts the worker pool.
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		sink:    sink,
		logger:  logger,
		timeout: cfg.PublishTimeout,
		jobs:    make(chan Event, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	return d
}

// Publish enqueues the event without blocking. A full queue drops the event.
func (d *Dispatcher) Publish(_ context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.jobs <- event:
		return nil
	default:
		d.logger.Warn("event dropped, queue full", "event_type", event.Type, "aggregate_id", event.AggregateID)
		return ErrQueueFull
	}
}

// Shutdown stops accepting events and waits for queued ones to drain.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	case <-done:
		d.cancel()
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for event := range d.jobs {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	if d.sink == nil {
		d.logger.Error("event dispatcher missing sink", "event_type", event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	if err := d.sink.Publish(ctx, event); err != nil {
		d.logger.Error("event delivery failed", "event_type", event.Type, "aggregate_id", event.AggregateID, "error", err)
	}
}
