// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

/*
Package websocket pushes notifications to connected clients in real time.

It uses gorilla/websocket with a hub-client architecture. Every client is
bound to one recipient, so the hub can address a message to all of a
recipient's open connections (SendTo, PublishTo) as well as broadcast to
everyone (BroadcastJSON).

Key Components:

  - Hub: tracks clients, indexes them by recipient and routes messages
  - Client: one connection with a read pump and a write pump
  - Message: {"type": ..., "data": ...} envelope

Message Types:

  - notification: a notification became available to the recipient
  - unread_count: the recipient's unread total changed
  - system: operator broadcast
  - ping / pong: application-level keepalive

Usage:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	client := websocket.NewClient(hub, conn, recipientID)
	hub.Register <- client
	client.Start()

	hub.SendTo(recipientID, websocket.Message{Type: websocket.MessageTypeNotification, Data: n})

A client that cannot keep up (its 256-message buffer is full) is
disconnected rather than allowed to block delivery to others.

Connection settings:
  - writeWait: 10 seconds
  - pongWait: 60 seconds
  - pingPeriod: 54 seconds
  - maxMessageSize: 64 KB
*/
package websocket
