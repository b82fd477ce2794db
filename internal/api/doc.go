// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package api provides the HTTP surface of beacon.

Every response uses the same envelope:

	{"success": true,  "data": {...}, "meta": {"requestId": "...", "timestamp": "...", "durationMs": 1}}
	{"success": false, "error": {"code": "VALIDATION_FAILED", "message": "...", "details": {...}}, "meta": {...}}

Errors returned by the components are mapped to status codes in one place,
WriteError, keyed on their apperr kind:

	RateLimited        429 (Retry-After)
	NotFound           404
	ValidationFailed   400 (details carry per-field messages)
	PersistenceFailure 500
	DeliveryFailure    502

Authentication is a bearer token from POST /api/v1/auth/login. Every other
route except /health and /metrics requires a live session and a role that
grants the route's resource and action. The notification stream
(/api/v1/notifications/stream) is a websocket that accepts the token as the
access_token query parameter.
*/
package api
