package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// Option adjusts the server before it is returned.
type Option func(*http.Server)

// WithErrorLogger routes net/http's internal errors (TLS handshakes,
// malformed requests, handler panics) through logger, so they pass the same
// redacting handler as application logs.
func WithErrorLogger(logger *slog.Logger) Option {
	return func(s *http.Server) {
		if logger != nil {
			s.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)
		}
	}
}

// WithWriteTimeout overrides the response write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		if d > 0 {
			s.WriteTimeout = d
		}
	}
}

// New builds the gateway's HTTP server. Request bodies are small JSON
// documents, so read limits are tight.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}
