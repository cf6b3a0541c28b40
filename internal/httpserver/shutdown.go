package httpserver

import (
	"context"
	"time"
)

// DefaultShutdownTimeout is used when the caller does not configure one.
const DefaultShutdownTimeout = 10 * time.Second

// ShutdownContext derives a context for graceful shutdown. It is detached
// from parent cancellation, since shutdown usually starts because the parent
// was cancelled, but keeps its values so loggers still resolve.
func ShutdownContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
