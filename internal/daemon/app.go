// SPDX-License-Identifier: MIT

// Package daemon owns the long-lived runtime lifecycle: it starts the
// connection supervisor, the queue drainer, and the HTTP server, and tears
// them down together when the context is cancelled or one of them fails
// fatally.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runner is a long-running subsystem that stops when its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// App orchestrates the daemon's subsystems.
type App struct {
	logger          zerolog.Logger
	httpServer      *http.Server
	supervisor      Runner
	drainer         Runner
	shutdownTimeout time.Duration
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, httpServer *http.Server, supervisor, drainer Runner) *App {
	return &App{
		logger:          logger,
		httpServer:      httpServer,
		supervisor:      supervisor,
		drainer:         drainer,
		shutdownTimeout: 10 * time.Second,
	}
}

// Run starts all owned subsystems and blocks until ctx is cancelled or a
// fatal error occurs. A terminal session close is fatal: the supervisor's
// error cancels the group and propagates to the caller.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// HTTP server lifecycle. ListenAndServe blocks until Shutdown; the
	// companion goroutine translates ctx cancellation into a graceful stop.
	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Str("event", "http.shutdown_failed").Msg("HTTP server shutdown failed")
		}
		return <-errCh
	})

	// Connection supervisor. Returns only on ctx cancellation or a terminal
	// (logged out) close; the latter is fatal for the whole process.
	g.Go(func() error {
		return a.supervisor.Run(ctx)
	})

	// Queue drainer (stops via ctx).
	if a.drainer != nil {
		g.Go(func() error {
			return a.drainer.Run(ctx)
		})
	}

	a.logger.Info().Str("event", "daemon.started").Msg("daemon running")

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
