// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/beacon/internal/events"
)

// RateLimitCheckRequest is the body of POST /ratelimit/check. Keys are
// scoped to the caller, so one user cannot spend another's budget.
type RateLimitCheckRequest struct {
	Key      string `json:"key" validate:"required,max=128"`
	Max      int    `json:"max" validate:"required,min=1,max=100000"`
	WindowMs int64  `json:"windowMs" validate:"required,min=1,max=86400000"`
}

// RateLimitCheckResponse reports the decision and what is left.
type RateLimitCheckResponse struct {
	Allowed   bool       `json:"allowed"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"resetAt,omitempty"`
}

func (rt *Router) rateLimitCheck(w http.ResponseWriter, r *http.Request) {
	var req RateLimitCheckRequest
	if !rt.decode(w, r, &req) || !validate(w, r, "api.rateLimitCheck", &req) {
		return
	}

	key := "user:" + actorOf(r) + ":" + req.Key
	res := RateLimitCheckResponse{
		Allowed: rt.deps.Limiter.IsAllowed(key, req.Max, time.Duration(req.WindowMs)*time.Millisecond),
	}
	res.Remaining = rt.deps.Limiter.Remaining(key)
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if resetAt, ok := rt.deps.Limiter.ResetTime(key); ok {
		res.ResetAt = &resetAt
	}
	WriteSuccess(w, r, res)
}

// publishEvent puts an application event on the ingress. The actor is always
// the caller.
func (rt *Router) publishEvent(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Events == nil {
		NewResponseWriter(w, r).ServiceUnavailable("event ingress not running")
		return
	}
	if err := rt.allowEvent(actorOf(r)); err != nil {
		WriteError(w, r, err)
		return
	}
	var evt events.AppEvent
	if !rt.decode(w, r, &evt) {
		return
	}
	evt.ActorID = actorOf(r)

	if err := rt.deps.Events.Publish(r.Context(), &evt); err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Accepted(map[string]string{"type": evt.Type})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version,omitempty"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	AuditBuffered  int    `json:"auditBuffered"`
	LimiterWindows int    `json:"limiterWindows"`
	StreamClients  int    `json:"streamClients"`
	EventIngress   bool   `json:"eventIngress"`
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	res := HealthResponse{
		Status:        "ok",
		Version:       rt.deps.Version,
		UptimeSeconds: int64(time.Since(rt.started).Seconds()),
		EventIngress:  rt.deps.Events != nil,
	}
	if rt.deps.Audit != nil {
		res.AuditBuffered = rt.deps.Audit.BufferLen()
	}
	if rt.deps.Limiter != nil {
		res.LimiterWindows = rt.deps.Limiter.Len()
	}
	if rt.deps.Hub != nil {
		res.StreamClients = rt.deps.Hub.GetClientCount()
	}
	WriteSuccess(w, r, res)
}
