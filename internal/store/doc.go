// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package store provides the namespaced key/value store every beacon component
persists through.

Each value is wrapped in a record before it is written:

	{"value": <json>, "writtenAt": <epoch-ms>, "ttl": <ms>, "obfuscated": true}

ttl and obfuscated are omitted when unset. A read of a record whose
writtenAt + ttl has passed returns absent and deletes the record.

# Backends

BadgerBackend (github.com/dgraph-io/badger/v4) is used in production. The
record TTL is authoritative; badger's entry TTL is set a little past it so the
LSM tree eventually drops abandoned items even if Cleanup never runs.
MemoryBackend serves tests.

# Obfuscation

SetOptions.Obfuscate masks the serialized record with a reversible XOR
keystream. It keeps values from being readable at a glance in the data
directory and nothing more: it is not encryption and offers no confidentiality.

# Failure Semantics

Set, Remove and Clear return false on failure; Get and Exists report absent.
Nothing in this package returns a storage error to the caller. Failures are
logged with zerolog and counted in beacon_store_operations_total.
*/
package store
