package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Timeouts bounds how long an ordinary request may take to read and write.
// Handlers that move large bodies extend their own connection deadlines
// through http.ResponseController.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
}

// Server wraps the http.Server with sensible defaults.
type Server struct {
	inner *http.Server
}

// New constructs a server listening on the provided port.
func New(port int, handler http.Handler, timeouts Timeouts) *Server {
	if timeouts.Read <= 0 {
		timeouts.Read = 30 * time.Second
	}
	if timeouts.Write <= 0 {
		timeouts.Write = 5 * time.Minute
	}
	return &Server{
		inner: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeouts.Read,
			WriteTimeout:      timeouts.Write,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Addr reports the configured listen address.
func (s *Server) Addr() string {
	return s.inner.Addr
}

// Start begins serving HTTP traffic. It returns nil after Shutdown.
func (s *Server) Start() error {
	return s.Serve(nil)
}

// Serve accepts connections on ln, or listens on the configured address when
// ln is nil. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	if ln == nil {
		err = s.inner.ListenAndServe()
	} else {
		err = s.inner.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully terminates the HTTP server, waiting for in-flight
// requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
