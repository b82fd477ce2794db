// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
)

// namespaceSeparator joins a namespace and a key. Namespaces may not contain it.
const namespaceSeparator = ":"

// gcGrace is added to the whole-second record TTL passed to the backend.
// Badger expiry has one-second resolution and truncation drops up to another
// second, so the backend never drops an item before the record has expired.
const gcGrace = 2 * time.Second

// Config configures a Store.
type Config struct {
	// Namespace prefixes every key. Default: "beacon"
	Namespace string `koanf:"namespace"`

	// ObfuscationKey seeds the reversible mask used when SetOptions.Obfuscate is set.
	ObfuscationKey string `koanf:"obfuscation_key"`
}

// SetOptions controls how a value is written.
type SetOptions struct {
	// TTL expires the value after the duration. Zero means no expiry.
	TTL time.Duration

	// Obfuscate masks the serialized record. See Obfuscator.
	Obfuscate bool
}

// record is the serialized form of every stored value.
type record struct {
	Value      json.RawMessage `json:"value"`
	WrittenAt  int64           `json:"writtenAt"`
	TTL        int64           `json:"ttl,omitempty"`
	Obfuscated bool            `json:"obfuscated,omitempty"`
}

func (r *record) expired(now time.Time) bool {
	return r.TTL > 0 && now.UnixMilli() >= r.WrittenAt+r.TTL
}

// lookup is the outcome of reading one key.
type lookup int

const (
	lookupHit lookup = iota
	lookupMiss
	lookupExpired
	lookupError
)

// Store is a namespaced key/value store with per-item TTL and optional
// obfuscation on top of a Backend.
//
// Writes report success as a bool and reads fall back to defaults: a storage
// failure is logged and counted, never returned to the caller.
type Store struct {
	backend   Backend
	namespace string
	obf       *Obfuscator
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a Store over backend.
func New(backend Backend, cfg Config) *Store {
	if cfg.Namespace == "" {
		cfg.Namespace = "beacon"
	}
	return newStore(backend, cfg.Namespace, NewObfuscator(cfg.ObfuscationKey), time.Now)
}

func newStore(backend Backend, namespace string, obf *Obfuscator, now func() time.Time) *Store {
	namespace = strings.ReplaceAll(namespace, namespaceSeparator, ".")
	return &Store{
		backend:   backend,
		namespace: namespace,
		obf:       obf,
		logger:    logging.With().Str("component", "store").Str("namespace", namespace).Logger(),
		now:       now,
	}
}

// Namespace returns a Store sharing the backend and mask under "<ns>.<name>".
func (s *Store) Namespace(name string) *Store {
	return newStore(s.backend, s.namespace+"."+name, s.obf, s.now)
}

// Name returns the namespace of the store.
func (s *Store) Name() string {
	return s.namespace
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

func (s *Store) prefix() string {
	return s.namespace + namespaceSeparator
}

func (s *Store) fullKey(key string) string {
	return s.prefix() + key
}

// Set serializes value and writes it under key. It returns false on
// serialization or write failure.
func (s *Store) Set(ctx context.Context, key string, value interface{}, opts SetOptions) bool {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to serialize value")
		metrics.RecordStoreOp(s.namespace, "set", "error")
		return false
	}

	rec := record{
		Value:      payload,
		WrittenAt:  s.now().UnixMilli(),
		Obfuscated: opts.Obfuscate,
	}
	var backendTTL time.Duration
	if opts.TTL > 0 {
		rec.TTL = opts.TTL.Milliseconds()
		if rec.TTL == 0 {
			rec.TTL = 1
		}
		backendTTL = opts.TTL.Truncate(time.Second) + gcGrace
	}

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to serialize record")
		metrics.RecordStoreOp(s.namespace, "set", "error")
		return false
	}
	if opts.Obfuscate {
		data = s.obf.Conceal(data)
	}

	if err := s.backend.Set(ctx, s.fullKey(key), data, backendTTL); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to write value")
		metrics.RecordStoreOp(s.namespace, "set", "error")
		return false
	}
	metrics.RecordStoreOp(s.namespace, "set", "ok")
	return true
}

// Get decodes the value under key into dst. It returns false, leaving dst
// untouched, when the key is absent, expired or unreadable.
func (s *Store) Get(ctx context.Context, key string, dst interface{}) bool {
	rec, res := s.load(ctx, key)
	if res != lookupHit {
		return false
	}
	if err := json.Unmarshal(rec.Value, dst); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("stored value does not match destination type")
		metrics.RecordStoreOp(s.namespace, "get", "error")
		return false
	}
	return true
}

// GetOr returns the value under key or def when it is absent, expired or unreadable.
func GetOr[T any](ctx context.Context, s *Store, key string, def T) T {
	var v T
	if !s.Get(ctx, key, &v) {
		return def
	}
	return v
}

// Remove deletes key. It returns false only when the backend fails.
func (s *Store) Remove(ctx context.Context, key string) bool {
	if err := s.backend.Delete(ctx, s.fullKey(key)); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to remove value")
		metrics.RecordStoreOp(s.namespace, "remove", "error")
		return false
	}
	metrics.RecordStoreOp(s.namespace, "remove", "ok")
	return true
}

// Exists reports whether key holds an unexpired value.
func (s *Store) Exists(ctx context.Context, key string) bool {
	_, res := s.load(ctx, key)
	return res == lookupHit
}

// Keys returns the keys in this namespace that start with prefix, without the
// namespace, in ascending order. Expired items not yet cleaned up may be listed.
func (s *Store) Keys(ctx context.Context, prefix string) []string {
	full, err := s.backend.Keys(ctx, s.prefix()+prefix)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list keys")
		metrics.RecordStoreOp(s.namespace, "keys", "error")
		return nil
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, s.prefix()))
	}
	return keys
}

// Count returns the number of unexpired values in this namespace.
func (s *Store) Count(ctx context.Context) int {
	n := 0
	for _, key := range s.Keys(ctx, "") {
		if s.Exists(ctx, key) {
			n++
		}
	}
	return n
}

// Clear removes every key in this namespace. Keys outside the namespace are
// never touched. It returns false if any delete failed.
func (s *Store) Clear(ctx context.Context) bool {
	full, err := s.backend.Keys(ctx, s.prefix())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list keys for clear")
		return false
	}

	ok := true
	for _, k := range full {
		if err := s.backend.Delete(ctx, k); err != nil {
			s.logger.Error().Err(err).Str("key", k).Msg("failed to clear key")
			ok = false
		}
	}
	s.logger.Debug().Int("keys", len(full)).Bool("ok", ok).Msg("namespace cleared")
	return ok
}

// Cleanup reads every key in the namespace, evicting the expired ones, and
// returns how many were evicted.
func (s *Store) Cleanup(ctx context.Context) int {
	evicted := 0
	for _, key := range s.Keys(ctx, "") {
		if ctx.Err() != nil {
			break
		}
		if _, res := s.load(ctx, key); res == lookupExpired {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("expired items cleaned up")
	}
	return evicted
}

// load reads and decodes the record under key, evicting it when expired.
func (s *Store) load(ctx context.Context, key string) (record, lookup) {
	raw, err := s.backend.Get(ctx, s.fullKey(key))
	if errors.Is(err, ErrKeyNotFound) {
		metrics.RecordStoreOp(s.namespace, "get", "miss")
		return record{}, lookupMiss
	}
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to read value")
		metrics.RecordStoreOp(s.namespace, "get", "error")
		return record{}, lookupError
	}

	data, _ := s.obf.Reveal(raw)

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || (rec.Value == nil && rec.WrittenAt == 0) {
		// Values written without the record wrapper are read as-is with no expiry.
		if !json.Valid(data) {
			s.logger.Warn().Str("key", key).Msg("stored value is not valid JSON")
			metrics.RecordStoreOp(s.namespace, "get", "error")
			return record{}, lookupError
		}
		rec = record{Value: data}
	}
	if rec.Value == nil {
		rec.Value = json.RawMessage("null")
	}

	if rec.expired(s.now()) {
		if err := s.backend.Delete(ctx, s.fullKey(key)); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to evict expired value")
		}
		metrics.RecordStoreOp(s.namespace, "get", "expired")
		metrics.StoreEvictions.WithLabelValues(s.namespace).Inc()
		return record{}, lookupExpired
	}

	metrics.RecordStoreOp(s.namespace, "get", "ok")
	return rec, lookupHit
}
