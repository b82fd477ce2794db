// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/beacon/internal/logging"
)

// Topic is the single ingress topic for application events.
const Topic = "app.events"

// Message metadata keys.
const (
	MetadataCorrelationID = "correlation_id"
	MetadataRequestID     = "request_id"
	MetadataEventType     = "event_type"
)

// Event types understood by DefaultRules.
const (
	EventIncidentReported    = "incident.reported"
	EventConsentGranted      = "consent.granted"
	EventConsentRevoked      = "consent.revoked"
	EventConsentExpiring     = "consent.expiring"
	EventAssessmentDue       = "assessment.due"
	EventAssessmentCompleted = "assessment.completed"
	EventTaskAssigned        = "task.assigned"
	EventCommentAdded        = "comment.added"
	EventSystemUpdate        = "system.update"
	EventAccountCreated      = "account.created"
	EventPasswordChanged     = "account.password_changed"
	EventDataExported        = "data.exported"
	EventSecurityAlert       = "security.alert"
)

// AppEvent is something that happened in the host application.
type AppEvent struct {
	Type         string                 `json:"type" validate:"required,max=64"`
	ActorID      string                 `json:"actorId,omitempty" validate:"omitempty,identifier"`
	ScopeID      string                 `json:"scopeId,omitempty" validate:"omitempty,identifier"`
	RecipientIDs []string               `json:"recipientIds,omitempty" validate:"omitempty,max=1000,dive,identifier"`
	ResourceType string                 `json:"resourceType,omitempty" validate:"omitempty,max=64"`
	ResourceID   string                 `json:"resourceId,omitempty" validate:"omitempty,max=256"`
	Data         map[string]interface{} `json:"data,omitempty"`

	// Success defaults to true when omitted.
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty" validate:"max=1024"`
}

// Succeeded reports the outcome carried by the event.
func (e *AppEvent) Succeeded() bool {
	return e.Success == nil || *e.Success
}

// Err returns the event's failure as an error, or nil for a success.
func (e *AppEvent) Err() error {
	if e.Succeeded() {
		return nil
	}
	if e.Error == "" {
		return errors.New("failed")
	}
	return errors.New(e.Error)
}

// NewMessage encodes evt as a watermill message. Request and correlation ids
// from ctx travel as metadata; a correlation id is generated when absent.
func NewMessage(ctx context.Context, evt *AppEvent) (*message.Message, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)

	corr := logging.CorrelationIDFromContext(ctx)
	if corr == "" {
		corr = msg.UUID
	}
	msg.Metadata.Set(MetadataCorrelationID, corr)
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		msg.Metadata.Set(MetadataRequestID, reqID)
	}
	msg.Metadata.Set(MetadataEventType, evt.Type)
	return msg, nil
}

// Decode parses a message payload. A malformed payload is permanent.
func Decode(msg *message.Message) (*AppEvent, error) {
	var evt AppEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, NewPermanentError("malformed event payload", err)
	}
	return &evt, nil
}

// messageContext restores the ids carried in msg metadata.
func messageContext(msg *message.Message) context.Context {
	ctx := msg.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if corr := msg.Metadata.Get(MetadataCorrelationID); corr != "" {
		ctx = logging.ContextWithCorrelationID(ctx, corr)
	}
	if reqID := msg.Metadata.Get(MetadataRequestID); reqID != "" {
		ctx = logging.ContextWithRequestID(ctx, reqID)
	}
	return ctx
}
