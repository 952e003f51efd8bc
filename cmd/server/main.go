// Posrelay - Resilient Vehicle Position Relay
// Copyright 2026 Posrelay contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openfleet/posrelay

// Command server runs the position relay: it polls the upstream feed for
// the latest position sample, reconciles it against the last accepted
// entry, and publishes accepted positions to the downstream store, while
// exposing health probes and Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openfleet/posrelay/internal/api"
	"github.com/openfleet/posrelay/internal/config"
	"github.com/openfleet/posrelay/internal/feed"
	"github.com/openfleet/posrelay/internal/logging"
	"github.com/openfleet/posrelay/internal/relay"
	"github.com/openfleet/posrelay/internal/store"
	"github.com/openfleet/posrelay/internal/supervisor"
	"github.com/openfleet/posrelay/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings. Missing required
	// credentials fail here, never at first cycle.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("upstream_channel", cfg.Upstream.ChannelID).
		Str("downstream_path", cfg.Downstream.Path).
		Dur("base_interval", cfg.Poll.BaseInterval).
		Msg("Starting posrelay")

	// Upstream fetcher behind a circuit breaker, downstream writer, engine.
	fetcher := feed.NewCircuitBreakerFetcher(feed.NewClient(&cfg.Upstream))
	writer := store.NewClient(&cfg.Downstream)
	engine := relay.NewEngine(fetcher, writer, &cfg.Poll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	slogLogger := logging.NewSlogLogger()

	tree := supervisor.NewTree(slogLogger, supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownGrace,
	})

	tree.AddRelayService(engine)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(api.NewHandler(engine)),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownGrace))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Signal handling: first signal starts the orderly shutdown, repeats
	// are absorbed. The grace timer forces exit if draining hangs.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		engine.BeginShutdown()
		cancel()

		// Absorb further signals so a second Ctrl-C does not kill the
		// process before the grace period runs out.
		for range sigCh {
		}
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// The grace period bounds the total drain; a hung service cannot keep
	// the process alive past it.
	graceTimer := time.AfterFunc(cfg.Server.ShutdownGrace+time.Second, func() {
		logging.Error().
			Dur("grace", cfg.Server.ShutdownGrace).
			Msg("Shutdown grace period exceeded, forcing exit")
		os.Exit(1)
	})
	defer graceTimer.Stop()

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Relay stopped gracefully")
}
