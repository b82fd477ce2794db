// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package events is the in-process ingress for application events.
//
// Producers publish an AppEvent to the Bus (a watermill gochannel pub/sub).
// A single router handler decodes it and hands it to the Classifier, which
// looks up a Rule by event type and then:
//
//   - sends a notification to the listed recipients, the actor, or every
//     member of the event's scope (bulk)
//   - writes an audit entry when the rule names an audit action
//
// Unknown event types are acked and counted as ignored. Malformed or invalid
// events are permanent failures and are dropped; persistence failures are
// retried with backoff.
//
// The bus gives at-most-once delivery within one process. Nothing is
// persisted between restarts.
package events
