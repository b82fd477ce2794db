// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path.
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypeNotification = "notification"
	MessageTypeUnreadCount  = "unread_count"
	MessageTypeSystem       = "system"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// broadcastMessage is a queued message with an optional recipient filter.
type broadcastMessage struct {
	recipientID string
	message     Message
}

// Hub maintains the set of active clients. Messages are either broadcast to
// every client or addressed to the clients of a single recipient.
type Hub struct {
	clients     map[*Client]bool
	byRecipient map[string]map[*Client]struct{}
	broadcast   chan broadcastMessage
	Register    chan *Client
	Unregister  chan *Client
	mu          sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:   make(chan broadcastMessage, 256),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		clients:     make(map[*Client]bool),
		byRecipient: make(map[string]map[*Client]struct{}),
	}
}

// RunWithContext runs the hub until ctx is canceled, then closes every
// client and returns ctx.Err(). It is meant to run under a supervisor.
//
// Context cancellation is checked first, then client lifecycle events, then
// broadcasts, so client state is consistent before messages are routed.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case bm := <-h.broadcast:
			if bm.recipientID == "" {
				h.broadcastToClients(bm.message)
			} else {
				h.sendToRecipient(bm.recipientID, bm.message)
			}
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if client.recipientID != "" {
		set, ok := h.byRecipient[client.recipientID]
		if !ok {
			set = make(map[*Client]struct{})
			h.byRecipient[client.recipientID] = set
		}
		set[client] = struct{}{}
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Str("recipient", client.recipientID).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		h.dropLocked(client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// dropLocked removes client from every index and closes its send channel.
func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	if set := h.byRecipient[client.recipientID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byRecipient, client.recipientID)
		}
	}
	close(client.send)
}

// logGracefulShutdown closes all clients and logs the shutdown reason.
// ctx.Err() is not logged as an error because cancellation is expected.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// sortedClients returns clients ordered by id so delivery order is stable.
func sortedClients(set map[*Client]bool) []*Client {
	clients := make([]*Client, 0, len(set))
	for client := range set {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients sends a message to all connected clients in id order.
// A client whose buffer is full is disconnected.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range sortedClients(h.clients) {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		h.dropLocked(client)
	}
}

// sendToRecipient delivers message to every client of one recipient and
// returns how many clients accepted it.
func (h *Hub) sendToRecipient(recipientID string, message Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.byRecipient[recipientID]
	if len(set) == 0 {
		return 0
	}
	clients := make(map[*Client]bool, len(set))
	for c := range set {
		clients[c] = true
	}

	sent := 0
	var toRemove []*Client
	for _, client := range sortedClients(clients) {
		select {
		case client.send <- message:
			sent++
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		h.dropLocked(client)
	}
	return sent
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range sortedClients(h.clients) {
		h.dropLocked(client)
	}
}

// SendTo delivers message synchronously to the connected clients of
// recipientID and returns how many accepted it. Zero means the recipient
// has no live connection.
func (h *Hub) SendTo(recipientID string, message Message) int {
	return h.sendToRecipient(recipientID, message)
}

// IsConnected reports whether recipientID has at least one live client.
func (h *Hub) IsConnected(recipientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRecipient[recipientID]) > 0
}

// BroadcastJSON queues a message for all connected clients.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	h.enqueue(broadcastMessage{message: Message{Type: messageType, Data: data}})
}

// PublishTo queues a message for one recipient without waiting.
func (h *Hub) PublishTo(recipientID, messageType string, data interface{}) {
	h.enqueue(broadcastMessage{recipientID: recipientID, message: Message{Type: messageType, Data: data}})
}

func (h *Hub) enqueue(bm broadcastMessage) {
	select {
	case h.broadcast <- bm:
	default:
		logging.Warn().Str("message_type", bm.message.Type).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastRaw decodes a JSON message and broadcasts it unchanged. Payloads
// without a type are sent as system messages.
func (h *Hub) BroadcastRaw(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.Warn().Err(err).Msg("failed to unmarshal raw message for broadcast")
		return
	}
	if msg.Type == "" {
		msg.Type = MessageTypeSystem
	}
	h.enqueue(broadcastMessage{message: msg})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
