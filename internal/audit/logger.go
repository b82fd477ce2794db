// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
)

// ErrClosed is returned when Close is called twice.
var ErrClosed = errors.New("audit logger closed")

// Config holds configuration for the audit logger.
type Config struct {
	// BufferSize is the number of entries that triggers an automatic flush.
	BufferSize int `koanf:"buffer_size"`

	// FlushInterval is how often the background job flushes the buffer.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// FlushTimeout bounds a single write to the sink.
	FlushTimeout time.Duration `koanf:"flush_timeout"`

	// MaxPending caps the buffer while the sink keeps failing. Oldest entries
	// are dropped beyond it.
	MaxPending int `koanf:"max_pending"`

	// CriticalActions are written through to the backup log at call time.
	// A pattern ending in ".*" matches the whole prefix.
	CriticalActions []string `koanf:"critical_actions"`

	// LogToStdout also writes entries to the application log.
	LogToStdout bool `koanf:"log_to_stdout"`

	// MaxRetained caps the entries kept by the durable sink.
	MaxRetained int `koanf:"max_retained"`
}

// DefaultCriticalActions lists the actions written through by default.
func DefaultCriticalActions() []string {
	return []string{"auth.*", ActionIncidentReport, ActionConsentGrant, ActionConsentRevoke}
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:      100,
		FlushInterval:   30 * time.Second,
		FlushTimeout:    5 * time.Second,
		MaxPending:      1000,
		CriticalActions: DefaultCriticalActions(),
		MaxRetained:     10000,
	}
}

// Logger buffers audit entries in memory and flushes them to a Sink in
// batches. Critical actions are also appended to a backup Sink synchronously.
type Logger struct {
	cfg       Config
	sink      Sink
	backup    Sink
	sessionID string
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	buffer   []Entry
	inflight map[string][]Entry // batches handed to the sink, by flush id

	closed bool
	wg     sync.WaitGroup
}

// NewLogger creates an audit logger. backup may be nil, in which case
// critical entries only follow the regular flush path.
func NewLogger(sink Sink, backup Sink, cfg Config) *Logger {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	if cfg.MaxPending < cfg.BufferSize {
		cfg.MaxPending = cfg.BufferSize * 10
	}
	if cfg.CriticalActions == nil {
		cfg.CriticalActions = def.CriticalActions
	}

	return &Logger{
		cfg:       cfg,
		sink:      sink,
		backup:    backup,
		sessionID: uuid.New().String(),
		logger:    logging.WithComponent("audit"),
		now:       time.Now,
		buffer:    make([]Entry, 0, cfg.BufferSize),
		inflight:  make(map[string][]Entry),
	}
}

// SessionID returns the id stamped on every entry logged by this process.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// FlushInterval returns the configured background flush interval.
func (l *Logger) FlushInterval() time.Duration {
	return l.cfg.FlushInterval
}

// IsCritical reports whether action is on the write-through allowlist.
func (l *Logger) IsCritical(action string) bool {
	for _, pattern := range l.cfg.CriticalActions {
		if matchAction(pattern, action) {
			return true
		}
	}
	return false
}

// Log records an entry and returns it as stored. ID, timestamp, session and
// severity are filled in when empty. Only critical entries touch storage
// synchronously; a full buffer is swapped out and written in the background.
func (l *Logger) Log(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	e.SessionID = l.sessionID
	critical := l.IsCritical(e.Action)
	if e.Severity == "" {
		e.Severity = defaultSeverity(&e, critical)
	}
	e.Details = logging.RedactDetails(e.Details)
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		if e.Details == nil {
			e.Details = make(map[string]interface{}, 1)
		}
		e.Details["request_id"] = reqID
	}

	metrics.AuditEntriesLogged.WithLabelValues(strconv.FormatBool(critical)).Inc()

	if l.cfg.LogToStdout {
		l.logToStdout(&e)
	}
	if critical && l.backup != nil {
		l.writeBackup(ctx, e)
	}

	l.mu.Lock()
	l.buffer = append(l.buffer, e)
	// Once closed nothing flushes, so the pending cap is all that bounds it.
	l.buffer = l.capPendingLocked(l.buffer)
	var (
		flushID string
		batch   []Entry
	)
	if len(l.buffer) >= l.cfg.BufferSize && !l.closed {
		flushID, batch = l.takeBatchLocked()
		l.wg.Add(1)
	}
	metrics.AuditBufferSize.Set(float64(len(l.buffer)))
	l.mu.Unlock()

	if batch != nil {
		go func() {
			defer l.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.FlushTimeout)
			defer cancel()
			if err := l.writeBatch(ctx, flushID, batch); err != nil {
				l.logger.Warn().Err(err).Msg("automatic audit flush failed, entries requeued")
			}
		}()
	}
	return e
}

// Record is a convenience wrapper around Log. A non-nil err marks the entry
// as failed and carries its message.
func (l *Logger) Record(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]interface{}, err error) Entry {
	e := Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Success:      err == nil,
	}
	if err != nil {
		e.ErrorMessage = err.Error()
	}
	return l.Log(ctx, e)
}

func defaultSeverity(e *Entry, critical bool) Severity {
	switch {
	case critical && !e.Success:
		return SeverityHigh
	case critical:
		return SeverityMedium
	case !e.Success:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (l *Logger) writeBackup(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.FlushTimeout)
	defer cancel()
	if err := l.backup.Append(ctx, []Entry{e}); err != nil {
		l.logger.Error().Err(err).Str("action", e.Action).Str("id", e.ID).Msg("critical audit write-through failed")
	}
}

func (l *Logger) logToStdout(e *Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to marshal audit entry")
		return
	}
	l.logger.Info().RawJSON("entry", data).Msg("audit entry")
}

// Flush writes the buffered entries to the sink within FlushTimeout. The
// buffer is swapped out before the write so Log is never held up by sink I/O.
// On failure the batch is put back at the front of the buffer for the next
// attempt, so an entry may be written more than once but is never silently
// lost unless the pending cap overflows.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.Lock()
	if len(l.buffer) == 0 {
		l.mu.Unlock()
		return nil
	}
	flushID, batch := l.takeBatchLocked()
	metrics.AuditBufferSize.Set(0)
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.FlushTimeout)
	defer cancel()
	return l.writeBatch(ctx, flushID, batch)
}

// takeBatchLocked empties the buffer into a tracked in-flight batch.
func (l *Logger) takeBatchLocked() (string, []Entry) {
	batch := l.buffer
	l.buffer = make([]Entry, 0, l.cfg.BufferSize)
	flushID := uuid.New().String()
	l.inflight[flushID] = batch
	return flushID, batch
}

func (l *Logger) writeBatch(ctx context.Context, flushID string, batch []Entry) error {
	start := time.Now()
	err := l.sink.Append(ctx, batch)
	metrics.RecordAuditFlush(time.Since(start), err)

	l.mu.Lock()
	delete(l.inflight, flushID)
	if err != nil {
		l.requeueLocked(batch)
	}
	metrics.AuditBufferSize.Set(float64(len(l.buffer)))
	l.mu.Unlock()

	if err != nil {
		return apperr.Wrap(apperr.KindPersistenceFailure, "audit.flush",
			fmt.Errorf("append %d entries: %w", len(batch), err))
	}
	l.logger.Debug().Int("entries", len(batch)).Msg("audit buffer flushed")
	return nil
}

// requeueLocked puts batch in front of entries logged since it was taken.
func (l *Logger) requeueLocked(batch []Entry) {
	merged := make([]Entry, 0, len(batch)+len(l.buffer))
	merged = append(merged, batch...)
	merged = append(merged, l.buffer...)
	l.buffer = l.capPendingLocked(merged)
}

// capPendingLocked drops the oldest entries beyond MaxPending.
func (l *Logger) capPendingLocked(entries []Entry) []Entry {
	over := len(entries) - l.cfg.MaxPending
	if over <= 0 {
		return entries
	}
	metrics.AuditEntriesDropped.Add(float64(over))
	l.logger.Error().Int("dropped", over).Msg("audit pending buffer overflow, oldest entries dropped")
	return entries[over:]
}

// BufferLen returns the number of entries waiting to be flushed.
func (l *Logger) BufferLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// pending returns copies of buffered and in-flight entries.
func (l *Logger) pending() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.buffer))
	out = append(out, l.buffer...)
	for _, batch := range l.inflight {
		out = append(out, batch...)
	}
	return out
}

// Entries returns entries matching filter, newest first, across the sink and
// entries not yet flushed. A sink failure is audited and the unflushed
// entries are still returned.
func (l *Logger) Entries(ctx context.Context, filter Filter) []Entry {
	// Pagination must run over the merged view
	stored, err := l.sink.Query(ctx, filter.unpaged())
	if err != nil {
		l.reportReadFailure(ctx, "entries", err)
		stored = nil
	}

	seen := make(map[string]struct{}, len(stored))
	merged := make([]Entry, 0, len(stored))
	for i := range stored {
		seen[stored[i].ID] = struct{}{}
		merged = append(merged, stored[i])
	}
	for _, e := range l.pending() {
		if _, dup := seen[e.ID]; dup || !filter.Matches(&e) {
			continue
		}
		seen[e.ID] = struct{}{}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return paginate(merged, filter.Offset, filter.Limit)
}

func paginate(entries []Entry, offset, limit int) []Entry {
	if offset >= len(entries) {
		return []Entry{}
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}

// BackupEntries returns the write-through copies of critical entries.
func (l *Logger) BackupEntries(ctx context.Context, filter Filter) []Entry {
	if l.backup == nil {
		return []Entry{}
	}
	entries, err := l.backup.Query(ctx, filter)
	if err != nil {
		l.reportReadFailure(ctx, "backup", err)
		return []Entry{}
	}
	return entries
}

func (l *Logger) reportReadFailure(ctx context.Context, what string, err error) {
	l.logger.Warn().Err(err).Str("query", what).Msg("audit read failed")
	l.Log(ctx, Entry{
		Action:       ActionReadFailure,
		ResourceType: ResourceAuditLog,
		ResourceID:   what,
		Success:      false,
		ErrorMessage: err.Error(),
		Severity:     SeverityMedium,
	})
}

// Export serializes the entries matching filter.
func (l *Logger) Export(ctx context.Context, format Format, filter Filter) ([]byte, string, error) {
	exporter := ExporterFor(format)
	if exporter == nil {
		err := apperr.New(apperr.KindValidationFailed, "audit.export", "unsupported export format")
		err.Fields = map[string]string{"format": string(format)}
		return nil, "", err
	}
	entries := l.Entries(ctx, filter)
	data, err := exporter.Export(entries)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindUnknown, "audit.export", err)
	}
	return data, exporter.ContentType(), nil
}

// Stats summarizes every retained and buffered entry.
func (l *Logger) Stats(ctx context.Context) Stats {
	entries := l.Entries(ctx, Filter{})
	stats := Stats{
		TotalEntries:     len(entries),
		BufferedEntries:  l.BufferLen(),
		EntriesByAction:  make(map[string]int),
		EntriesByOutcome: make(map[string]int),
		EntriesBySev:     make(map[Severity]int),
	}
	for i := range entries {
		e := &entries[i]
		stats.EntriesByAction[e.Action]++
		if e.Success {
			stats.EntriesByOutcome["success"]++
		} else {
			stats.EntriesByOutcome["failure"]++
		}
		stats.EntriesBySev[e.Severity]++
	}
	if n := len(entries); n > 0 {
		newest := entries[0].Timestamp
		oldest := entries[n-1].Timestamp
		stats.NewestEntry = &newest
		stats.OldestEntry = &oldest
	}
	return stats
}

// Close waits for automatic flushes and flushes what is left. Entries logged
// after Close stay in memory, capped at MaxPending.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	l.wg.Wait()
	return l.Flush(ctx)
}
