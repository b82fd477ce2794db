// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/security"
)

// recipientFor returns whose notifications the caller is asking about. Only
// callers allowed to manage notifications may name someone else.
func (rt *Router) recipientFor(r *http.Request) (string, error) {
	actor := actorOf(r)
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" || recipient == actor {
		return actor, nil
	}
	if !rt.allowed(r, security.ResourceNotification, security.ActionManage) {
		return "", security.ErrPermissionDenied
	}
	return recipient, nil
}

func (rt *Router) listNotifications(w http.ResponseWriter, r *http.Request) {
	recipient, err := rt.recipientFor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	q := newQueryParams("api.listNotifications", r)
	f := notification.Filter{
		Status: notification.Status(q.str("status")),
		Type:   notification.Type(q.str("type")),
		Limit:  q.intIn("limit", 50, 1, 500),
	}
	if unread := q.boolPtr("unread"); unread != nil {
		f.UnreadOnly = *unread
	}
	if err := q.err(); err != nil {
		WriteError(w, r, err)
		return
	}

	list := rt.deps.Engine.GetNotifications(r.Context(), recipient, f)
	NewResponseWriter(w, r).List(list, len(list))
}

func (rt *Router) unreadCount(w http.ResponseWriter, r *http.Request) {
	recipient, err := rt.recipientFor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]int{"count": rt.deps.Engine.GetUnreadCount(r.Context(), recipient)})
}

func (rt *Router) sendNotification(w http.ResponseWriter, r *http.Request) {
	var req notification.SendRequest
	if !rt.decode(w, r, &req) {
		return
	}
	n, err := rt.deps.Engine.Send(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Created(n)
}

// BulkSendRequest is the body of POST /notifications/bulk. Without explicit
// recipients the scope's members are notified.
type BulkSendRequest struct {
	ScopeID      string                 `json:"scopeId,omitempty" validate:"omitempty,identifier"`
	Type         notification.Type      `json:"type" validate:"required,max=64"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Overrides    notification.Overrides `json:"overrides"`
	RecipientIDs []string               `json:"recipientIds,omitempty" validate:"omitempty,max=1000"`
}

func (rt *Router) sendBulk(w http.ResponseWriter, r *http.Request) {
	const op = "api.sendBulk"
	var req BulkSendRequest
	if !rt.decode(w, r, &req) || !validate(w, r, op, &req) {
		return
	}

	var src notification.RecipientSource
	switch {
	case len(req.RecipientIDs) > 0:
		src = notification.RecipientList(req.RecipientIDs)
	case req.ScopeID != "" && rt.deps.Recipients != nil:
		src = rt.deps.Recipients
	default:
		e := apperr.New(apperr.KindValidationFailed, op, "invalid input")
		e.Fields = map[string]string{"recipientIds": "recipientIds or a known scopeId is required"}
		WriteError(w, r, e)
		return
	}

	res, err := rt.deps.Engine.SendBulk(r.Context(), notification.BulkRequest{
		ScopeID:    req.ScopeID,
		Type:       req.Type,
		Data:       req.Data,
		Overrides:  req.Overrides,
		Recipients: src,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, res)
}

// owned loads a notification the caller may change. Someone else's
// notification answers 404 unless the caller manages notifications.
func (rt *Router) owned(r *http.Request) (*notification.Notification, error) {
	id := chi.URLParam(r, "id")
	n, err := rt.deps.Engine.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != actorOf(r) && !rt.allowed(r, security.ResourceNotification, security.ActionManage) {
		return nil, apperr.Wrap(apperr.KindNotFound, "api.notification", notification.ErrNotificationNotFound)
	}
	return n, nil
}

func (rt *Router) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := rt.owned(r)
	if err == nil {
		n, err = rt.deps.Engine.MarkRead(r.Context(), n.ID)
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, n)
}

func (rt *Router) markDelivered(w http.ResponseWriter, r *http.Request) {
	n, err := rt.owned(r)
	if err == nil {
		n, err = rt.deps.Engine.MarkDelivered(r.Context(), n.ID)
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, n)
}

func (rt *Router) markAllRead(w http.ResponseWriter, r *http.Request) {
	recipient, err := rt.recipientFor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	count, err := rt.deps.Engine.MarkAllRead(r.Context(), recipient)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]int{"updated": count})
}
