// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package metrics provides Prometheus collectors for beacon.

# Overview

The package instruments:
  - Persistent store operations and TTL evictions
  - Rate limiter decisions and active windows
  - Audit buffer depth, flush outcomes and dropped entries
  - Notification creation, status transitions and channel deliveries
  - Account lockouts, login attempts and permission denials
  - Background job runs and HTTP request latency

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format:

	curl http://localhost:8787/metrics

All collectors are registered with promauto on the default registry. Tests read
them with prometheus/testutil and compare deltas, since collectors are shared
across the test binary.
*/
package metrics
