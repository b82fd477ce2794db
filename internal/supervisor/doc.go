// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package supervisor runs beacon's long-lived services under a suture v4 tree.

	RootSupervisor ("beacon")
	├── jobs-layer
	│   ├── audit-flush       TickerService, audit FlushInterval
	│   ├── limiter-sweep     TickerService, LimiterSweepInterval
	│   ├── lockout-sweep     TickerService, lockout SweepInterval
	│   └── store-cleanup     TickerService, StoreCleanupInterval
	├── messaging-layer
	│   ├── websocket-hub     RunnerService
	│   ├── event-bus         RunnerService
	│   └── scheduled-delivery TickerService, notification SweepInterval
	└── api-layer
	    └── http-server       HTTPServerService

Each layer restarts independently. A job that keeps failing only logs; a
runner that returns is restarted with suture's failure decay and backoff
(TreeConfig). Supervisor events are logged through sutureslog, bridged to
zerolog with logging.NewSlogLogger.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.Supervisor)
	if err != nil {
	    return err
	}
	tree.AddMessagingService(services.NewRunnerService("websocket-hub", hub.RunWithContext))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	return tree.Serve(ctx)
*/
package supervisor
