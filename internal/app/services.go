// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package app

import (
	"context"
	"fmt"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/supervisor"
	"github.com/tomtom215/beacon/internal/supervisor/services"
)

// Job names as they appear in logs and the beacon_job_* metrics.
const (
	JobAuditFlush        = "audit-flush"
	JobLimiterSweep      = "limiter-sweep"
	JobLockoutSweep      = "lockout-sweep"
	JobStoreCleanup      = "store-cleanup"
	JobScheduledDelivery = "scheduled-delivery"
)

// Register adds every background service to the tree:
//
//	jobs:      audit flush, limiter and lockout sweeps, store cleanup
//	messaging: websocket hub, event bus, scheduled delivery
//	api:       the HTTP server, when addAPI is set
//
// Tests pass addAPI=false and drive Handler directly.
func (a *App) Register(tree *supervisor.SupervisorTree, addAPI bool) {
	treeCfg := tree.Config()

	tree.AddJobService(services.NewTickerService(JobAuditFlush, a.Audit.FlushInterval(), a.flushAudit))
	tree.AddJobService(services.NewTickerService(JobLimiterSweep, treeCfg.LimiterSweepInterval, a.sweepLimiter))
	tree.AddJobService(services.NewTickerService(JobLockoutSweep, a.Lockout.SweepInterval(), a.sweepLockouts))
	tree.AddJobService(services.NewTickerService(JobStoreCleanup, treeCfg.StoreCleanupInterval, a.cleanupStore))

	tree.AddMessagingService(services.NewRunnerService("websocket-hub", a.Hub.RunWithContext))
	if a.Bus != nil {
		tree.AddMessagingService(services.NewRunnerService("event-bus", a.Bus.Run))
	}
	tree.AddMessagingService(services.NewTickerService(JobScheduledDelivery, a.Engine.SweepInterval(),
		a.processScheduled, services.WithRunOnStart()))

	if addAPI {
		server := a.HTTPServer()
		tree.AddAPIService(services.NewHTTPServerService(server, a.Config.Server.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	}
}

func (a *App) flushAudit(ctx context.Context) (int, error) {
	return 0, a.Audit.Flush(ctx)
}

func (a *App) sweepLimiter(context.Context) (int, error) {
	return a.Limiter.Sweep() + a.Router.SweepLimits(), nil
}

func (a *App) sweepLockouts(ctx context.Context) (int, error) {
	return a.Lockout.Sweep(ctx), nil
}

func (a *App) processScheduled(ctx context.Context) (int, error) {
	return a.Engine.ProcessScheduled(ctx), nil
}

// cleanupStore drops expired records, then lets badger reclaim the space.
func (a *App) cleanupStore(ctx context.Context) (int, error) {
	removed := a.Store.Cleanup(ctx)
	if a.badger != nil {
		if err := a.badger.RunGC(); err != nil {
			return removed, fmt.Errorf("badger value log gc: %w", err)
		}
	}
	return removed, nil
}
