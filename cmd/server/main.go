// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/beacon/internal/app"
	"github.com/tomtom215/beacon/internal/config"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/supervisor"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// closeTimeout bounds the final audit flush and store close.
const closeTimeout = 15 * time.Second

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging)

	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Str("store", cfg.Store.Backend).
		Msg("Starting beacon with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg, version)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
		defer closeCancel()
		if err := application.Close(closeCtx); err != nil {
			logging.Error().Err(err).Msg("Error closing application")
		}
	}()

	// Create structured logger for supervisor using our slog adapter
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
		// Close before fatal exit, which skips deferred calls
		if closeErr := application.Close(ctx); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing application")
		}
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	application.Register(tree, true)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for the supervisor to finish (either from signal or error).
	// errCh yields exactly one value and is never closed.
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
		err = <-errCh
	case err = <-errCh:
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
