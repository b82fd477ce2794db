// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package audit records security-relevant actions as an append-only trail.
//
// # Architecture
//
//	Logger.Log() -> in-memory buffer --(full or every 30s)--> Sink
//	      |
//	      +-- critical action --> backup Sink (synchronous)
//
// Entries are appended to a bounded buffer tagged with the process session id.
// When the buffer reaches its capacity it is swapped out and written to the
// Sink in the background; the supervisor also flushes on a fixed interval.
// A failed write puts the batch back at the front of the buffer, so delivery
// to the Sink is at-least-once: repeated failures can produce duplicates,
// which StoreSink absorbs because each entry has a deterministic key.
//
// A configurable allowlist of critical actions (auth.*, incident.report,
// consent.grant, consent.revoke by default) is also written to a separate,
// bounded backup Sink before Log returns.
//
// # Sinks
//
//   - MemorySink: capped in-memory slice, for tests and ephemeral deployments
//   - StoreSink: one store record per entry, ordered by timestamp, capped
//
// # Queries and Export
//
// Logger.Entries merges the Sink with entries not yet flushed and returns
// them newest first. Read failures never propagate: they are recorded as a
// system.read_failure entry at medium severity and an empty or partial result
// is returned.
//
// Export formats:
//   - json: indented array
//   - csv: one row per entry, details as a JSON column
//   - cef: Common Event Format for SIEM ingestion
//
// # Usage
//
//	sink := audit.NewStoreSink(st.Namespace("audit_log"), 10000)
//	backup := audit.NewStoreSink(st.Namespace("audit_backup"), 500)
//	logger := audit.NewLogger(sink, backup, audit.DefaultConfig())
//	defer logger.Close(ctx)
//
//	logger.Record(ctx, userID, audit.ActionLogin, audit.ResourceAccount, userID, nil, nil)
package audit
