// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/websocket"
)

// Pusher sends a message to the live connections of one recipient and
// returns how many accepted it. *websocket.Hub implements it.
type Pusher interface {
	SendTo(recipientID string, msg websocket.Message) int
}

// InAppAdapter delivers to the in-app inbox. The notification is already
// stored, so delivery always succeeds; connected clients additionally get
// a live push.
type InAppAdapter struct {
	pusher Pusher
	logger zerolog.Logger
}

// NewInAppAdapter creates the in-app adapter. pusher may be nil when no
// websocket hub is running.
func NewInAppAdapter(pusher Pusher) *InAppAdapter {
	return &InAppAdapter{
		pusher: pusher,
		logger: logging.WithComponent("delivery-inapp"),
	}
}

// Channel implements notification.Adapter.
func (a *InAppAdapter) Channel() notification.Channel {
	return notification.ChannelInApp
}

// Deliver implements notification.Adapter.
func (a *InAppAdapter) Deliver(ctx context.Context, n *notification.Notification) notification.DeliveryResult {
	if err := ctx.Err(); err != nil {
		return failed(true, "in-app delivery canceled: %v", err)
	}
	if a.pusher != nil {
		pushed := a.pusher.SendTo(n.RecipientID, websocket.Message{
			Type: websocket.MessageTypeNotification,
			Data: n,
		})
		a.logger.Debug().Str("id", n.ID).Int("connections", pushed).Msg("in-app notification pushed")
	}
	return notification.DeliveryResult{Delivered: true}
}
