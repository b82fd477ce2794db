// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package audit

import (
	"context"
	"strings"
	"time"
)

// Well-known actions. Any string is accepted; these are the ones beacon emits.
const (
	// Authentication
	ActionLogin          = "auth.login"
	ActionLoginFailed    = "auth.login_failed"
	ActionLogout         = "auth.logout"
	ActionLockout        = "auth.lockout"
	ActionUnlock         = "auth.unlock"
	ActionPasswordChange = "auth.password_change"
	ActionSessionExpired = "auth.session_expired"

	// Authorization
	ActionPermissionDenied = "permission.denied"

	// Compliance
	ActionIncidentReport = "incident.report"
	ActionConsentGrant   = "consent.grant"
	ActionConsentRevoke  = "consent.revoke"

	// Notifications
	ActionNotificationSend     = "notification.send"
	ActionNotificationBulk     = "notification.bulk_send"
	ActionNotificationDeliver  = "notification.deliver"
	ActionNotificationRead     = "notification.read"
	ActionNotificationReadAll  = "notification.read_all"
	ActionNotificationRejected = "notification.rejected"

	// Data access
	ActionDataExport  = "data.export"
	ActionReadFailure = "system.read_failure"
)

// Resource types used by beacon.
const (
	ResourceAccount      = "account"
	ResourceSession      = "session"
	ResourceNotification = "notification"
	ResourceAuditLog     = "audit_log"
	ResourceIncident     = "incident"
	ResourceConsent      = "consent"
	ResourceStore        = "store"
)

// Severity grades an entry for export to SIEM tooling.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry is one immutable audit record.
type Entry struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	SessionID    string                 `json:"sessionId"`
	ActorID      string                 `json:"actorId,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Severity     Severity               `json:"severity,omitempty"`
}

// Filter selects entries. Zero-valued fields match everything.
type Filter struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	SessionID    string
	Success      *bool
	FromTime     *time.Time
	ToTime       *time.Time

	// Pagination, applied newest first
	Limit  int
	Offset int
}

// DefaultFilter returns a filter with sensible defaults.
func DefaultFilter() Filter {
	return Filter{Limit: 100}
}

// Matches reports whether e satisfies every criterion in f.
func (f *Filter) Matches(e *Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && !matchAction(f.Action, e.Action) {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if f.FromTime != nil && e.Timestamp.Before(*f.FromTime) {
		return false
	}
	if f.ToTime != nil && e.Timestamp.After(*f.ToTime) {
		return false
	}
	return true
}

// unpaged returns f without pagination.
func (f Filter) unpaged() Filter {
	f.Limit = 0
	f.Offset = 0
	return f
}

// matchAction matches an action against a pattern. A pattern ending in ".*"
// matches every action with that prefix.
func matchAction(pattern, action string) bool {
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(action, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == action
}

// Sink is durable storage for audit entries.
type Sink interface {
	// Append writes entries. On error, any subset may have been written.
	Append(ctx context.Context, entries []Entry) error

	// Query returns matching entries, newest first.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// Count returns the number of retained entries.
	Count(ctx context.Context) (int, error)
}

// Stats summarizes the audit trail.
type Stats struct {
	TotalEntries     int              `json:"total_entries"`
	BufferedEntries  int              `json:"buffered_entries"`
	EntriesByAction  map[string]int   `json:"entries_by_action"`
	EntriesByOutcome map[string]int   `json:"entries_by_outcome"`
	EntriesBySev     map[Severity]int `json:"entries_by_severity"`
	OldestEntry      *time.Time       `json:"oldest_entry,omitempty"`
	NewestEntry      *time.Time       `json:"newest_entry,omitempty"`
}
