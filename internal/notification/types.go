// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package notification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTemplateNotFound is returned when no active template exists for a type.
	ErrTemplateNotFound = errors.New("notification template not found")

	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid notification status transition")

	// ErrNotificationNotFound is returned for an unknown notification id.
	ErrNotificationNotFound = errors.New("notification not found")
)

// Type names a kind of notification and selects its template.
type Type string

const (
	TypeAssessmentDue       Type = "assessment_due"
	TypeAssessmentCompleted Type = "assessment_completed"
	TypeIncidentReported    Type = "incident_reported"
	TypeConsentExpiring     Type = "consent_expiring"
	TypeConsentChanged      Type = "consent_changed"
	TypeSecurityAlert       Type = "security_alert"
	TypeTaskAssigned        Type = "task_assigned"
	TypeCommentAdded        Type = "comment_added"
	TypeSystemUpdate        Type = "system_update"
	TypeWelcome             Type = "welcome"
)

// Priority orders notifications for presentation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Channel is a delivery route.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

// Status is the delivery state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// transitions lists the allowed next states for each status.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusRead, StatusFailed},
	StatusDelivered: {StatusRead},
}

// CanTransition reports whether a notification may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsUnread reports whether s counts toward a recipient's unread total.
func (s Status) IsUnread() bool {
	return s == StatusSent || s == StatusDelivered
}

// Template describes how a notification type is rendered and routed.
type Template struct {
	Type            Type      `json:"type"`
	TitlePattern    string    `json:"titlePattern"`
	BodyPattern     string    `json:"bodyPattern"`
	DefaultChannels []Channel `json:"defaultChannels"`
	DefaultPriority Priority  `json:"defaultPriority"`
	Active          bool      `json:"active"`

	// HighFrequency types are rate limited per recipient.
	HighFrequency bool `json:"highFrequency,omitempty"`
}

// Notification is a rendered message for one recipient.
type Notification struct {
	ID           string                 `json:"id"`
	RecipientID  string                 `json:"recipientId"`
	ScopeID      string                 `json:"scopeId,omitempty"`
	Type         Type                   `json:"type"`
	Priority     Priority               `json:"priority"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	Channels     []Channel              `json:"channels"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Status       Status                 `json:"status"`
	ScheduledFor *time.Time             `json:"scheduledFor,omitempty"`
	SentAt       *time.Time             `json:"sentAt,omitempty"`
	DeliveredAt  *time.Time             `json:"deliveredAt,omitempty"`
	ReadAt       *time.Time             `json:"readAt,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	Error        string                 `json:"error,omitempty"`

	// Seq orders notifications created by this process; Version counts updates.
	Seq     uint64 `json:"seq"`
	Version uint64 `json:"version"`
}

// dueAt is when a pending notification becomes eligible for delivery.
func (n *Notification) dueAt() time.Time {
	if n.ScheduledFor != nil {
		return *n.ScheduledFor
	}
	return n.CreatedAt
}

// clone returns a deep copy safe to hand outside the repository lock.
func (n *Notification) clone() *Notification {
	c := *n
	if n.Channels != nil {
		c.Channels = append([]Channel(nil), n.Channels...)
	}
	if n.Payload != nil {
		c.Payload = make(map[string]interface{}, len(n.Payload))
		for k, v := range n.Payload {
			c.Payload[k] = v
		}
	}
	c.ScheduledFor = cloneTime(n.ScheduledFor)
	c.SentAt = cloneTime(n.SentAt)
	c.DeliveredAt = cloneTime(n.DeliveredAt)
	c.ReadAt = cloneTime(n.ReadAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Overrides replace template defaults for a single send.
type Overrides struct {
	Priority     Priority   `json:"priority,omitempty" validate:"omitempty,oneof=low normal high urgent"`
	Channels     []Channel  `json:"channels,omitempty" validate:"omitempty,max=3,dive,oneof=in_app email webhook"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

// SendRequest asks for one notification to be created.
type SendRequest struct {
	RecipientID string                 `json:"recipientId" validate:"required,identifier"`
	ScopeID     string                 `json:"scopeId,omitempty" validate:"omitempty,identifier"`
	Type        Type                   `json:"type" validate:"required,max=64"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Overrides   Overrides              `json:"overrides"`
}

// RecipientSource resolves the recipients of a bulk send.
type RecipientSource interface {
	Recipients(ctx context.Context, scopeID string) ([]string, error)
}

// RecipientList is a fixed set of recipients.
type RecipientList []string

// Recipients implements RecipientSource.
func (l RecipientList) Recipients(context.Context, string) ([]string, error) {
	return l, nil
}

// BulkRequest fans one notification out to many recipients.
type BulkRequest struct {
	ScopeID    string                 `json:"scopeId,omitempty"`
	Type       Type                   `json:"type"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Overrides  Overrides              `json:"overrides"`
	Recipients RecipientSource        `json:"-"`
}

// BulkFailure records why one recipient was not notified.
type BulkFailure struct {
	RecipientID string `json:"recipientId"`
	Kind        string `json:"kind"`
	Error       string `json:"error"`
}

// BulkResult summarizes a bulk send.
type BulkResult struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failures  []BulkFailure `json:"failures,omitempty"`
}

// Filter narrows GetNotifications.
type Filter struct {
	Status     Status
	Type       Type
	UnreadOnly bool
	Limit      int
}

// Matches reports whether n satisfies f, ignoring Limit.
func (f *Filter) Matches(n *Notification) bool {
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.UnreadOnly && !n.Status.IsUnread() {
		return false
	}
	return true
}

// DeliveryResult is the outcome of one adapter delivery.
type DeliveryResult struct {
	Delivered bool
	Error     string
	Transient bool
}

// Adapter delivers notifications over one channel. Implementations must
// honour ctx and never panic.
type Adapter interface {
	Channel() Channel
	Deliver(ctx context.Context, n *Notification) DeliveryResult
}

// AdapterSource looks up the adapter for a channel.
type AdapterSource interface {
	Get(channel Channel) (Adapter, bool)
}
