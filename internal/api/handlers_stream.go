// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/beacon/internal/logging"
	ws "github.com/tomtom215/beacon/internal/websocket"
)

func (rt *Router) upgrader() gorillaws.Upgrader {
	return gorillaws.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      rt.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin accepts configured origins only. Browsers always send Origin on
// a websocket handshake, so a missing header is rejected.
func (rt *Router) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Ctx(r.Context()).Warn().Msg("websocket rejected: missing Origin header")
		return false
	}
	for _, allowed := range rt.cfg.CORSAllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	logging.Ctx(r.Context()).Warn().Str("origin", sanitizeLogValue(origin)).Msg("websocket rejected: origin not allowed")
	return false
}

// stream upgrades to a websocket that receives the caller's in-app
// notifications. The current unread count is pushed on connect.
func (rt *Router) stream(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Hub == nil {
		NewResponseWriter(w, r).ServiceUnavailable("notification stream unavailable")
		return
	}

	upgrader := rt.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	recipient := actorOf(r)
	client := ws.NewClient(rt.deps.Hub, conn, recipient)
	rt.deps.Hub.Register <- client
	client.Start()

	rt.deps.Hub.PublishTo(recipient, ws.MessageTypeUnreadCount, map[string]int{
		"count": rt.deps.Engine.GetUnreadCount(r.Context(), recipient),
	})
}

// sanitizeLogValue strips control characters and bounds length.
func sanitizeLogValue(s string) string {
	const maxLen = 256
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
