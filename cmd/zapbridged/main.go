// SPDX-License-Identifier: MIT

// Command zapbridged runs the WhatsApp bridge daemon: it keeps one session
// alive through a protocol gateway, serves the HTTP send/status surface,
// drains the durable outbound queue, and relays inbound messages to a
// webhook.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/caioferrari/zapbridge/internal/api"
	"github.com/caioferrari/zapbridge/internal/bridge"
	"github.com/caioferrari/zapbridge/internal/config"
	"github.com/caioferrari/zapbridge/internal/credstore"
	"github.com/caioferrari/zapbridge/internal/daemon"
	"github.com/caioferrari/zapbridge/internal/health"
	zblog "github.com/caioferrari/zapbridge/internal/log"
	"github.com/caioferrari/zapbridge/internal/outbox"
	"github.com/caioferrari/zapbridge/internal/relay"
	"github.com/caioferrari/zapbridge/internal/session"
	"github.com/caioferrari/zapbridge/internal/telemetry"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	zblog.Configure(zblog.Config{
		Level:   "info",
		Service: "zapbridge",
		Version: version,
	})

	logger := zblog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration with precedence: ENV > File > Defaults
	loader := config.NewLoader(strings.TrimSpace(*configPath), version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	// Re-configure logger with loaded configuration
	zblog.Configure(zblog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version).
		Str("listen_addr", cfg.ListenAddr).
		Str("gateway_url", cfg.GatewayURL).
		Msg("starting zapbridge")

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, bridge.ErrLoggedOut) {
			logger.Error().
				Str("event", "daemon.logged_out").
				Msg("session was logged out; relink the device and restart")
		} else {
			logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
		}
		os.Exit(1)
	}

	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	// Tracing is a no-op unless an OTLP endpoint is configured.
	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   cfg.TraceSample,
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Str("event", "telemetry.shutdown_failed").Msg("tracer shutdown failed")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	creds, err := credstore.Open(cfg.CredentialDir())
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}
	defer func() {
		if err := creds.Close(); err != nil {
			logger.Warn().Err(err).Str("event", "credstore.close_failed").Msg("credential store close failed")
		}
	}()

	factory := func() session.Client {
		return session.NewGatewayClient(cfg.GatewayURL, creds,
			session.WithSendTimeout(cfg.SendTimeout))
	}

	sup := bridge.NewSupervisor(factory, creds,
		bridge.WithRetryDelay(cfg.ReconnectDelay))
	dispatcher := bridge.NewDispatcher(sup, cfg.DefaultCountryCode)

	// Inbound messages flow to the webhook; a reply in the webhook response
	// goes straight back out through the dispatcher.
	inbound := relay.New(cfg.WebhookURL,
		relay.WithReply(dispatcher.Send),
		relay.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout}))
	sup.OnMessage(inbound.HandleMessage)

	slot := outbox.NewSlot(cfg.OutboxPath)
	drainer := outbox.NewDrainer(slot, dispatcher.Send,
		outbox.WithPollInterval(cfg.PollInterval))

	readiness := health.NewManager(cfg.Version)
	readiness.RegisterChecker(health.NewConnectionChecker(func() bool {
		return sup.Status().IsOpen()
	}))
	readiness.RegisterChecker(health.NewDirChecker("data", cfg.DataDir))

	server := api.New(sup, dispatcher, readiness, api.Options{
		ListenAddr:     cfg.ListenAddr,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		TracingService: cfg.LogService,
	})

	app := daemon.NewApp(zblog.WithComponent("lifecycle"), server.HTTPServer(), sup, drainer)
	return app.Run(ctx)
}
