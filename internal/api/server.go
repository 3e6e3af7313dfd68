// SPDX-License-Identifier: MIT

// Package api exposes the bridge's HTTP surface: the send endpoint, the
// pairing status endpoints, and the operational probes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caioferrari/zapbridge/internal/bridge"
	"github.com/caioferrari/zapbridge/internal/health"
)

// StatusProvider yields the current connection snapshot.
type StatusProvider interface {
	Status() bridge.Status
}

// Sender submits one outbound text and returns the provider message ID.
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Options configures the HTTP server.
type Options struct {
	// ListenAddr is the bind address, e.g. ":3000".
	ListenAddr string

	// RateLimitRPS caps /send-message requests per second per client IP.
	// Zero disables rate limiting.
	RateLimitRPS int

	// RateLimitBurst is extra headroom on top of the steady rate.
	RateLimitBurst int

	// TracingService enables OpenTelemetry HTTP spans when non-empty.
	TracingService string
}

// Server is the HTTP surface of the bridge.
type Server struct {
	status    StatusProvider
	sender    Sender
	readiness *health.Manager
	opts      Options
	startedAt time.Time
}

// New creates the HTTP server. The readiness manager may carry any number of
// registered checkers; probes answer from it directly.
func New(status StatusProvider, sender Sender, readiness *health.Manager, opts Options) *Server {
	return &Server{
		status:    status,
		sender:    sender,
		readiness: readiness,
		opts:      opts,
		startedAt: time.Now(),
	}
}

// Handler builds the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(httpMetrics)
	if s.opts.TracingService != "" {
		r.Use(tracing(s.opts.TracingService))
	}
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.readiness.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/qr", s.handlePairingPage)
	r.Get("/api/qr-status", s.handleQRStatus)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(s.opts.RateLimitRPS, s.opts.RateLimitBurst))
		r.Post("/send-message", s.handleSendMessage)
	})

	return r
}

// HTTPServer returns a configured http.Server ready to listen.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
