// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/validation"
)

// Notifier is the part of the notification engine the classifier drives.
type Notifier interface {
	Send(ctx context.Context, req notification.SendRequest) (*notification.Notification, error)
	SendBulk(ctx context.Context, req notification.BulkRequest) (notification.BulkResult, error)
}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]interface{}, err error) audit.Entry
}

// Rule says what an event type turns into. Either half may be empty.
type Rule struct {
	// AuditAction, when set, writes an audit entry.
	AuditAction string

	// ResourceType is used when the event does not name one.
	ResourceType string

	// Notify, when set, sends a notification of this type.
	Notify notification.Type

	// NotifyActor sends to the acting user when the event lists no recipients.
	NotifyActor bool
}

// DefaultRules maps the built-in event types.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		EventIncidentReported: {
			AuditAction:  audit.ActionIncidentReport,
			ResourceType: audit.ResourceIncident,
			Notify:       notification.TypeIncidentReported,
		},
		EventConsentGranted: {
			AuditAction:  audit.ActionConsentGrant,
			ResourceType: audit.ResourceConsent,
			Notify:       notification.TypeConsentChanged,
		},
		EventConsentRevoked: {
			AuditAction:  audit.ActionConsentRevoke,
			ResourceType: audit.ResourceConsent,
			Notify:       notification.TypeConsentChanged,
		},
		EventConsentExpiring:     {Notify: notification.TypeConsentExpiring},
		EventAssessmentDue:       {Notify: notification.TypeAssessmentDue},
		EventAssessmentCompleted: {Notify: notification.TypeAssessmentCompleted},
		EventTaskAssigned:        {Notify: notification.TypeTaskAssigned},
		EventCommentAdded:        {Notify: notification.TypeCommentAdded},
		EventSystemUpdate:        {Notify: notification.TypeSystemUpdate},
		EventAccountCreated:      {Notify: notification.TypeWelcome, NotifyActor: true},
		EventPasswordChanged: {
			AuditAction:  audit.ActionPasswordChange,
			ResourceType: audit.ResourceAccount,
			Notify:       notification.TypeSecurityAlert,
			NotifyActor:  true,
		},
		EventDataExported: {
			AuditAction:  audit.ActionDataExport,
			ResourceType: audit.ResourceStore,
		},
		EventSecurityAlert: {Notify: notification.TypeSecurityAlert, NotifyActor: true},
	}
}

// Outcome of classifying one event.
type Outcome string

const (
	OutcomeHandled Outcome = "handled"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// Classifier turns application events into audit entries and notifications.
type Classifier struct {
	rules      map[string]Rule
	notifier   Notifier
	auditor    Auditor
	recipients notification.RecipientSource
	logger     zerolog.Logger
}

// NewClassifier builds a classifier over rules; nil rules means DefaultRules.
func NewClassifier(rules map[string]Rule, notifier Notifier, auditor Auditor) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{
		rules:    rules,
		notifier: notifier,
		auditor:  auditor,
		logger:   logging.WithComponent("events"),
	}
}

// WithRecipients resolves scope members for events that carry a scope but no
// explicit recipients.
func (c *Classifier) WithRecipients(src notification.RecipientSource) *Classifier {
	c.recipients = src
	return c
}

// Handle classifies one event. Returned errors are either permanent or worth
// retrying; nothing is audited until notifications have been accepted, so a
// retry never writes a second audit entry.
func (c *Classifier) Handle(ctx context.Context, evt *AppEvent) (Outcome, error) {
	if err := validation.Check("events.Handle", evt); err != nil {
		return OutcomeFailed, NewPermanentError("invalid event", err)
	}

	rule, ok := c.rules[evt.Type]
	if !ok {
		logging.Ctx(ctx).Debug().Str("component", "events").Str("type", evt.Type).Msg("no rule for event type")
		return OutcomeIgnored, nil
	}

	if rule.Notify != "" && c.notifier != nil {
		if err := c.notify(ctx, evt, rule); err != nil {
			if retryable(err) {
				return OutcomeFailed, err
			}
			c.logger.Warn().Err(err).Str("type", evt.Type).Msg("event notification rejected")
		}
	}

	if rule.AuditAction != "" && c.auditor != nil {
		resourceType := evt.ResourceType
		if resourceType == "" {
			resourceType = rule.ResourceType
		}
		c.auditor.Record(ctx, evt.ActorID, rule.AuditAction, resourceType, evt.ResourceID, evt.Data, evt.Err())
	}
	return OutcomeHandled, nil
}

func (c *Classifier) notify(ctx context.Context, evt *AppEvent, rule Rule) error {
	recipients := evt.RecipientIDs
	if len(recipients) == 0 && rule.NotifyActor && evt.ActorID != "" {
		recipients = []string{evt.ActorID}
	}

	switch {
	case len(recipients) == 1:
		_, err := c.notifier.Send(ctx, notification.SendRequest{
			RecipientID: recipients[0],
			ScopeID:     evt.ScopeID,
			Type:        rule.Notify,
			Data:        evt.Data,
		})
		return err
	case len(recipients) > 1:
		return c.bulk(ctx, evt, rule, notification.RecipientList(recipients))
	case evt.ScopeID != "" && c.recipients != nil:
		return c.bulk(ctx, evt, rule, c.recipients)
	default:
		c.logger.Debug().Str("type", evt.Type).Msg("event has no recipients")
		return nil
	}
}

func (c *Classifier) bulk(ctx context.Context, evt *AppEvent, rule Rule, src notification.RecipientSource) error {
	res, err := c.notifier.SendBulk(ctx, notification.BulkRequest{
		ScopeID:    evt.ScopeID,
		Type:       rule.Notify,
		Data:       evt.Data,
		Recipients: src,
	})
	if err != nil {
		return err
	}
	if len(res.Failures) > 0 {
		c.logger.Warn().
			Str("type", evt.Type).
			Int("attempted", res.Attempted).
			Int("failed", len(res.Failures)).
			Msg("bulk notification partially failed")
	}
	return nil
}

// retryable reports whether a notification error may succeed on redelivery.
func retryable(err error) bool {
	return apperr.IsKind(err, apperr.KindPersistenceFailure)
}

// HandleMessage is the router handler: decode, classify, count.
func (c *Classifier) HandleMessage(msg *message.Message) error {
	evt, err := Decode(msg)
	if err != nil {
		return err
	}
	outcome, err := c.Handle(messageContext(msg), evt)
	if err != nil {
		return err
	}
	metrics.EventsReceived.WithLabelValues(string(outcome)).Inc()
	return nil
}
