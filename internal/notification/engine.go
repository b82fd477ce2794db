// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
	"github.com/tomtom215/beacon/internal/ratelimit"
	"github.com/tomtom215/beacon/internal/security"
	"github.com/tomtom215/beacon/internal/validation"
)

// errUnchanged aborts an update that would be a no-op.
var errUnchanged = errors.New("unchanged")

// Config holds Notification Engine settings.
type Config struct {
	// BatchSize caps how many due notifications one sweep delivers.
	BatchSize int `koanf:"batch_size"`

	// DeliveryTimeout bounds a single adapter call.
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`

	// SweepInterval is how often the scheduled-delivery job runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// RateLimitMax and RateLimitWindow apply per type and recipient to
	// high-frequency types.
	RateLimitMax    int           `koanf:"rate_limit_max"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       50,
		DeliveryTimeout: 10 * time.Second,
		SweepInterval:   5 * time.Second,
		RateLimitMax:    10,
		RateLimitWindow: time.Minute,
	}
}

// Auditor records audit entries. *audit.Logger implements it.
type Auditor interface {
	Record(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]interface{}, err error) audit.Entry
}

// Engine creates, schedules and tracks notifications.
type Engine struct {
	cfg       Config
	templates *Registry
	repo      *Repository
	adapters  AdapterSource
	limiter   *ratelimit.Limiter
	auditor   Auditor
	sanitizer *security.Sanitizer
	logger    zerolog.Logger
	now       func() time.Time

	// sweepMu keeps scheduled-delivery sweeps from overlapping.
	sweepMu sync.Mutex
}

// NewEngine creates an engine over a template registry and repository.
func NewEngine(cfg Config, templates *Registry, repo *Repository) *Engine {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = def.DeliveryTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = def.RateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	return &Engine{
		cfg:       cfg,
		templates: templates,
		repo:      repo,
		logger:    logging.WithComponent("notification"),
		now:       time.Now,
	}
}

// WithAdapters sets the channel adapters used by ProcessScheduled.
func (e *Engine) WithAdapters(a AdapterSource) *Engine {
	e.adapters = a
	return e
}

// WithLimiter enables rate limiting of high-frequency types.
func (e *Engine) WithLimiter(l *ratelimit.Limiter) *Engine {
	e.limiter = l
	return e
}

// WithAuditor records sends, reads and rejections.
func (e *Engine) WithAuditor(a Auditor) *Engine {
	e.auditor = a
	return e
}

// WithSanitizer cleans string values of SendRequest.Data before they are
// rendered and stored.
func (e *Engine) WithSanitizer(s *security.Sanitizer) *Engine {
	e.sanitizer = s
	return e
}

// SweepInterval returns the configured scheduled-delivery interval.
func (e *Engine) SweepInterval() time.Duration {
	return e.cfg.SweepInterval
}

// Templates returns the template registry.
func (e *Engine) Templates() *Registry {
	return e.templates
}

func (e *Engine) record(ctx context.Context, action, resourceID string, details map[string]interface{}, err error) {
	if e.auditor == nil {
		return
	}
	e.auditor.Record(ctx, "", action, audit.ResourceNotification, resourceID, details, err)
}

// Send renders and stores a pending notification for one recipient.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*Notification, error) {
	n, err := e.send(ctx, req)
	if err != nil {
		e.record(ctx, audit.ActionNotificationRejected, "", map[string]interface{}{
			"type":      string(req.Type),
			"recipient": req.RecipientID,
			"kind":      apperr.KindOf(err).String(),
		}, err)
		return nil, err
	}
	e.record(ctx, audit.ActionNotificationSend, n.ID, map[string]interface{}{
		"type":      string(n.Type),
		"recipient": n.RecipientID,
	}, nil)
	return n, nil
}

func (e *Engine) send(ctx context.Context, req SendRequest) (*Notification, error) {
	const op = "notification.send"

	n, err := e.build(op, req)
	if err != nil {
		metrics.NotificationsRejected.WithLabelValues(apperr.KindOf(err).String()).Inc()
		return nil, err
	}

	stored, err := e.repo.Insert(ctx, n)
	if err != nil {
		metrics.NotificationsRejected.WithLabelValues(apperr.KindPersistenceFailure.String()).Inc()
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, op, err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(stored.Type)).Inc()
	return stored, nil
}

// build validates req, checks the rate limit and renders the notification.
func (e *Engine) build(op string, req SendRequest) (*Notification, error) {
	if err := validation.Check(op, &req); err != nil {
		return nil, err
	}

	tmpl, ok := e.templates.Get(req.Type)
	if !ok {
		return nil, &apperr.Error{
			Kind:    apperr.KindNotFound,
			Op:      op,
			Message: fmt.Sprintf("no active template for type %q", req.Type),
			Err:     ErrTemplateNotFound,
		}
	}

	if tmpl.HighFrequency && e.limiter != nil {
		key := string(req.Type) + ":" + req.RecipientID
		if !e.limiter.IsAllowed(key, e.cfg.RateLimitMax, e.cfg.RateLimitWindow) {
			retryAt, _ := e.limiter.ResetTime(key)
			return nil, apperr.RateLimited(op, retryAt, nil)
		}
	}

	data := cloneData(req.Data)
	if e.sanitizer != nil && data != nil {
		data = e.sanitizer.Map(data)
	}

	now := e.now().UTC()
	n := &Notification{
		ID:          uuid.New().String(),
		RecipientID: req.RecipientID,
		ScopeID:     req.ScopeID,
		Type:        req.Type,
		Priority:    tmpl.DefaultPriority,
		Title:       Render(tmpl.TitlePattern, data),
		Body:        Render(tmpl.BodyPattern, data),
		Channels:    tmpl.DefaultChannels,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	if req.Overrides.Priority != "" {
		n.Priority = req.Overrides.Priority
	}
	if len(req.Overrides.Channels) > 0 {
		n.Channels = dedupeChannels(req.Overrides.Channels)
	}
	if req.Overrides.ScheduledFor != nil {
		at := req.Overrides.ScheduledFor.UTC()
		n.ScheduledFor = &at
	}
	if len(data) > 0 {
		n.Payload = data
	}
	return n, nil
}

// cloneData copies m and any nested maps so sanitizing never touches the
// caller's values.
func cloneData(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			v = cloneData(nested)
		}
		out[k] = v
	}
	return out
}

func dedupeChannels(channels []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(channels))
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// SendBulk sends one notification per recipient. A failure for one recipient
// is recorded in the result and never stops the batch. The returned error is
// non-nil only when the request itself is unusable.
func (e *Engine) SendBulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	const op = "notification.bulk_send"

	if req.Recipients == nil {
		return BulkResult{}, apperr.New(apperr.KindValidationFailed, op, "recipients are required")
	}
	recipients, err := req.Recipients.Recipients(ctx, req.ScopeID)
	if err != nil {
		// An unknown scope keeps its own kind.
		if apperr.KindOf(err) != apperr.KindUnknown {
			return BulkResult{}, err
		}
		return BulkResult{}, apperr.Wrap(apperr.KindPersistenceFailure, op, fmt.Errorf("resolve recipients: %w", err))
	}

	seen := make(map[string]struct{}, len(recipients))
	var result BulkResult
	for _, recipient := range recipients {
		if _, dup := seen[recipient]; dup {
			continue
		}
		seen[recipient] = struct{}{}
		if ctx.Err() != nil {
			break
		}

		result.Attempted++
		_, err := e.send(ctx, SendRequest{
			RecipientID: recipient,
			ScopeID:     req.ScopeID,
			Type:        req.Type,
			Data:        req.Data,
			Overrides:   req.Overrides,
		})
		if err != nil {
			result.Failures = append(result.Failures, BulkFailure{
				RecipientID: recipient,
				Kind:        apperr.KindOf(err).String(),
				Error:       err.Error(),
			})
			continue
		}
		result.Succeeded++
	}

	e.record(ctx, audit.ActionNotificationBulk, req.ScopeID, map[string]interface{}{
		"type":      string(req.Type),
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
	}, nil)
	e.logger.Info().
		Str("type", string(req.Type)).
		Int("attempted", result.Attempted).
		Int("succeeded", result.Succeeded).
		Msg("bulk send completed")
	return result, nil
}

// ProcessScheduled delivers pending notifications that are due and returns
// how many were processed. Each notification ends up sent when at least one
// channel delivered it and failed otherwise; failures are not retried here.
// A sweep already in progress makes this call return 0 immediately.
func (e *Engine) ProcessScheduled(ctx context.Context) int {
	if !e.sweepMu.TryLock() {
		e.logger.Debug().Msg("scheduled delivery sweep already running")
		return 0
	}
	defer e.sweepMu.Unlock()

	due := e.repo.Due(e.now(), e.cfg.BatchSize)
	processed := 0
	for _, n := range due {
		if ctx.Err() != nil {
			break
		}
		e.deliver(ctx, n)
		processed++
	}
	if processed > 0 {
		e.logger.Debug().Int("processed", processed).Msg("scheduled delivery sweep completed")
	}
	return processed
}

// deliver runs every channel adapter for n, then records the outcome.
func (e *Engine) deliver(ctx context.Context, n *Notification) {
	delivered := 0
	var failures []string
	for _, ch := range n.Channels {
		var adapter Adapter
		ok := false
		if e.adapters != nil {
			adapter, ok = e.adapters.Get(ch)
		}
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: no adapter", ch))
			metrics.RecordDelivery(string(ch), false, 0)
			continue
		}

		start := time.Now()
		res := e.callAdapter(ctx, adapter, n)
		metrics.RecordDelivery(string(ch), res.Delivered, time.Since(start))
		if res.Delivered {
			delivered++
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", ch, res.Error))
	}

	now := e.now().UTC()
	updated, err := e.repo.Update(context.WithoutCancel(ctx), n.ID, func(cur *Notification) error {
		if cur.Status != StatusPending {
			return errUnchanged
		}
		cur.Error = strings.Join(failures, "; ")
		if delivered > 0 {
			cur.Status = StatusSent
			cur.SentAt = &now
		} else {
			cur.Status = StatusFailed
		}
		return nil
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("id", n.ID).Msg("delivery outcome not recorded")
		return
	}
	metrics.NotificationTransitions.WithLabelValues(string(updated.Status)).Inc()

	var deliveryErr error
	if updated.Status == StatusFailed {
		deliveryErr = apperr.New(apperr.KindDeliveryFailure, "notification.deliver", updated.Error)
	}
	e.record(ctx, audit.ActionNotificationDeliver, n.ID, map[string]interface{}{
		"channels":  len(n.Channels),
		"delivered": delivered,
	}, deliveryErr)
}

// callAdapter bounds one delivery with the configured timeout and turns a
// panicking adapter into a failed result.
func (e *Engine) callAdapter(ctx context.Context, adapter Adapter, n *Notification) (res DeliveryResult) {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("channel", string(adapter.Channel())).Msg("delivery adapter panicked")
			res = DeliveryResult{Error: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()
	return adapter.Deliver(dctx, n.clone())
}

// MarkRead marks a sent or delivered notification read. Marking an already
// read notification again changes nothing.
func (e *Engine) MarkRead(ctx context.Context, id string) (*Notification, error) {
	n, changed, err := e.transition(ctx, "notification.mark_read", id, StatusRead)
	if err != nil {
		return nil, err
	}
	if changed {
		e.record(ctx, audit.ActionNotificationRead, id, nil, nil)
	}
	return n, nil
}

// MarkDelivered acknowledges a sent notification as delivered to the client.
func (e *Engine) MarkDelivered(ctx context.Context, id string) (*Notification, error) {
	n, _, err := e.transition(ctx, "notification.mark_delivered", id, StatusDelivered)
	return n, err
}

// transition moves id to status "to". Reaching a state at or past "to" along
// the happy path is a no-op.
func (e *Engine) transition(ctx context.Context, op, id string, to Status) (*Notification, bool, error) {
	now := e.now().UTC()
	n, err := e.repo.Update(ctx, id, func(cur *Notification) error {
		if cur.Status == to || (to == StatusDelivered && cur.Status == StatusRead) {
			return errUnchanged
		}
		if !CanTransition(cur.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur.Status, to)
		}
		cur.Status = to
		switch to {
		case StatusRead:
			cur.ReadAt = &now
		case StatusDelivered:
			cur.DeliveredAt = &now
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return n, false, nil
	case errors.Is(err, ErrNotificationNotFound):
		return nil, false, &apperr.Error{Kind: apperr.KindNotFound, Op: op, Message: "notification " + id, Err: err}
	case errors.Is(err, ErrInvalidTransition):
		return nil, false, apperr.Wrap(apperr.KindValidationFailed, op, err)
	case err != nil:
		return nil, false, apperr.Wrap(apperr.KindUnknown, op, err)
	}
	metrics.NotificationTransitions.WithLabelValues(string(to)).Inc()
	return n, true, nil
}

// MarkAllRead marks every unread notification of a recipient read and
// returns how many changed.
func (e *Engine) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	const op = "notification.mark_all_read"
	if recipientID == "" {
		return 0, apperr.New(apperr.KindValidationFailed, op, "recipient id is required")
	}

	marked := 0
	for _, id := range e.repo.IDs(recipientID, Filter{UnreadOnly: true}) {
		// A concurrent MarkRead may have won; that is not an error here
		if _, changed, err := e.transition(ctx, op, id, StatusRead); err == nil && changed {
			marked++
		}
	}
	if marked > 0 {
		e.record(ctx, audit.ActionNotificationReadAll, recipientID, map[string]interface{}{"count": marked}, nil)
	}
	return marked, nil
}

// Retry re-enqueues a failed notification as a new pending one.
func (e *Engine) Retry(ctx context.Context, id string) (*Notification, error) {
	const op = "notification.retry"
	failed, ok := e.repo.Get(id)
	if !ok {
		return nil, &apperr.Error{Kind: apperr.KindNotFound, Op: op, Message: "notification " + id, Err: ErrNotificationNotFound}
	}
	if failed.Status != StatusFailed {
		return nil, apperr.Wrap(apperr.KindValidationFailed, op,
			fmt.Errorf("%w: only failed notifications can be retried, status is %s", ErrInvalidTransition, failed.Status))
	}

	retry := failed.clone()
	retry.ID = uuid.New().String()
	retry.Status = StatusPending
	retry.ScheduledFor = nil
	retry.SentAt = nil
	retry.DeliveredAt = nil
	retry.ReadAt = nil
	retry.Error = ""
	retry.CreatedAt = e.now().UTC()
	if retry.Payload == nil {
		retry.Payload = make(map[string]interface{}, 1)
	}
	retry.Payload["retryOf"] = id

	stored, err := e.repo.Insert(ctx, retry)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistenceFailure, op, err)
	}
	e.record(ctx, audit.ActionNotificationSend, stored.ID, map[string]interface{}{"retryOf": id}, nil)
	return stored, nil
}

// Get returns one notification.
func (e *Engine) Get(_ context.Context, id string) (*Notification, error) {
	n, ok := e.repo.Get(id)
	if !ok {
		return nil, &apperr.Error{Kind: apperr.KindNotFound, Op: "notification.get", Message: "notification " + id, Err: ErrNotificationNotFound}
	}
	return n, nil
}

// GetNotifications returns a recipient's notifications, newest first.
func (e *Engine) GetNotifications(_ context.Context, recipientID string, f Filter) []*Notification {
	return e.repo.List(recipientID, f)
}

// GetUnreadCount returns how many sent or delivered notifications a recipient has.
func (e *Engine) GetUnreadCount(_ context.Context, recipientID string) int {
	return e.repo.Count(recipientID, Filter{UnreadOnly: true})
}
