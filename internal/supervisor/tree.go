// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64 `koanf:"failure_threshold"`

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64 `koanf:"failure_decay"`

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration `koanf:"failure_backoff"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Intervals of the maintenance jobs whose owners have no interval of
	// their own.
	LimiterSweepInterval time.Duration `koanf:"limiter_sweep_interval"`
	StoreCleanupInterval time.Duration `koanf:"store_cleanup_interval"`
}

// DefaultTreeConfig returns production defaults. The failure parameters
// match suture's built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold:     5.0,
		FailureDecay:         30.0,
		FailureBackoff:       15 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		LimiterSweepInterval: time.Minute,
		StoreCleanupInterval: 5 * time.Minute,
	}
}

// SupervisorTree manages the hierarchical supervisor structure for beacon.
//
// The tree is organized into three layers:
//   - jobs: audit flush, limiter and lockout sweeps, store cleanup
//   - messaging: websocket hub, event bus, scheduled delivery
//   - api: HTTP server
//
// A crash in the messaging layer does not stop the API from answering, and
// a stuck maintenance job never blocks delivery.
type SupervisorTree struct {
	root      *suture.Supervisor
	jobs      *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
	logger    *slog.Logger
	config    TreeConfig
}

// NewSupervisorTree creates a new supervisor tree with the given configuration.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	def := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = def.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = def.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.LimiterSweepInterval <= 0 {
		config.LimiterSweepInterval = def.LimiterSweepInterval
	}
	if config.StoreCleanupInterval <= 0 {
		config.StoreCleanupInterval = def.StoreCleanupInterval
	}

	// MustHook has a pointer receiver
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Children inherit the EventHook when added to the root
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("beacon", rootSpec)
	jobs := suture.New("jobs-layer", childSpec)
	messaging := suture.New("messaging-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(jobs)
	root.Add(messaging)
	root.Add(api)

	return &SupervisorTree{
		root:      root,
		jobs:      jobs,
		messaging: messaging,
		api:       api,
		logger:    logger,
		config:    config,
	}, nil
}

// Config returns the effective configuration after defaults.
func (t *SupervisorTree) Config() TreeConfig {
	return t.config
}

// Root returns the root supervisor for direct access if needed.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddJobService adds a periodic maintenance job.
func (t *SupervisorTree) AddJobService(svc suture.Service) suture.ServiceToken {
	return t.jobs.Add(svc)
}

// AddMessagingService adds the hub, the event bus or the delivery sweep.
func (t *SupervisorTree) AddMessagingService(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

// AddAPIService adds the HTTP server.
func (t *SupervisorTree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve starts the supervisor tree and blocks until the context is canceled.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// The returned channel receives the error (or nil) when the supervisor stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that did not stop within the
// shutdown timeout.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
