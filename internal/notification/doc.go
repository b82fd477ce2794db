// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package notification creates, schedules and tracks user notifications.

A notification is rendered from a per-type Template whose title and body
patterns contain {name} placeholders. Values come from the send request's
data map; placeholders without a value are left in the output unchanged.

Lifecycle:

	pending ──► sent ──► delivered ──► read
	   │          │                     ▲
	   │          └─────────────────────┘
	   └────► failed ◄── sent

Send stores a pending notification. ProcessScheduled, run periodically by
the supervisor, hands every due notification to the channel adapters and
marks it sent when at least one channel delivered it, failed otherwise.
MarkRead and MarkAllRead are idempotent: reading an already read
notification changes nothing, including its read time.

High-frequency types (task assignments, comments) are rate limited per
type and recipient. A rejected send returns an apperr.KindRateLimited error
carrying the window reset time.

The Repository keeps the authoritative in-memory index and writes every
change through to the "notification" store namespace. Store writes happen
outside the index lock and carry a version so that a slow write can never
replace a newer one.
*/
package notification
