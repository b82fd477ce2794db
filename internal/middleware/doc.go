// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package middleware provides the infrastructure HTTP middleware shared by the
API router.

All middleware has the chi signature func(http.Handler) http.Handler:

  - RequestID: accepts or generates X-Request-ID and a correlation id and
    puts both in the logging context
  - AccessLog: one zerolog line per request with method, route, status,
    bytes and duration
  - PrometheusMetrics: request count, latency and in-flight gauge labelled
    by chi route pattern
  - SecurityHeaders: nosniff, frame denial, referrer policy, no-store and
    HSTS behind TLS

The router installs them in this order:

	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.SecurityHeaders)

Route labels come from chi's route pattern, so /notifications/{id}/read is a
single series no matter how many ids are requested.
*/
package middleware
