// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package services adapts beacon components to suture.Service.

  - HTTPServerService turns ListenAndServe/Shutdown into Serve.
  - RunnerService names a component that already runs until its context
    ends, such as the websocket hub or the event bus router.
  - TickerService runs a periodic job: audit flush, limiter and lockout
    sweeps, scheduled delivery and store cleanup.

Job failures are logged and never returned, so a failing sink cannot make
suture back off the whole layer. Long-running services return their error
and let suture restart them.
*/
package services
