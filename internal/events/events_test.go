package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (s *recordingSink) Publish(ctx context.Context, event Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &recordingSink{}
	dispatcher := NewDispatcher(sink, DispatcherConfig{QueueSize: 8, Workers: 2}, discardLogger())

	for i := 0; i < 5; i++ {
		if err := dispatcher.Publish(context.Background(), Event{Type: TypeVideoIngested, AggregateID: "video"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 delivered events got %d", got)
	}

	if err := dispatcher.Publish(context.Background(), Event{Type: TypeVideoIngested}); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed got %v", err)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	dispatcher := NewDispatcher(sink, DispatcherConfig{QueueSize: 1, Workers: 1}, discardLogger())

	var dropped int
	for i := 0; i < 10; i++ {
		if err := dispatcher.Publish(context.Background(), Event{Type: TypeAccountCreated}); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatal("expected at least one event to be dropped")
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestDispatcherSurvivesSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	dispatcher := NewDispatcher(sink, DispatcherConfig{}, discardLogger())

	if err := dispatcher.Publish(context.Background(), Event{Type: TypeAccountCreated}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := dispatcher.Publish(context.Background(), Event{Type: TypeAccountCreated}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := sink.count(); got != 2 {
		t.Fatalf("expected both events attempted got %d", got)
	}
}

func TestLogSinkPublish(t *testing.T) {
	sink := LogSink{Logger: discardLogger()}
	if err := sink.Publish(context.Background(), Event{Type: TypeAccountCreated, AggregateID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestRedisStreamSinkPublish(t *testing.T) {
	addr := os.Getenv("VIDSHARE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VIDSHARE_TEST_REDIS_ADDR not set")
	}

	stream := "vidshare:test:" + time.Now().UTC().Format("150405.000000")
	sink, err := NewRedisStreamSink(RedisStreamConfig{Addr: addr, Stream: stream})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	ctx := context.Background()
	if err := sink.Publish(ctx, Event{Type: TypeVideoIngested, AggregateID: "video-1", OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		_ = client.Del(ctx, stream).Err()
		_ = client.Close()
	})

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 || entries[0].Values["type"] != TypeVideoIngested {
		t.Fatalf("unexpected stream entries: %+v", entries)
	}
}

func TestRedisStreamSinkRequiresType(t *testing.T) {
	sink := NewRedisStreamSinkWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "s", 10)
	t.Cleanup(func() { _ = sink.Close() })
	if err := sink.Publish(context.Background(), Event{}); err == nil {
		t.Fatal("expected error for missing event type")
	}
}
