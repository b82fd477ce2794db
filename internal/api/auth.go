// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/tomtom215/beacon/internal/security"
)

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the authenticated caller, or nil.
func ClaimsFromContext(ctx context.Context) *security.Claims {
	claims, _ := ctx.Value(claimsKey).(*security.Claims)
	return claims
}

// actorOf returns the authenticated subject; handlers behind authenticate
// always have one.
func actorOf(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket handshake, so upgrade requests may pass access_token instead.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// authenticate rejects requests without a live session token.
func (rt *Router) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.deps.Auth == nil {
			NewResponseWriter(w, r).ServiceUnavailable("authentication not configured")
			return
		}
		claims, err := rt.deps.Auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// require checks the caller's role against resource and action. Denials are
// audited by Permissions.
func (rt *Router) require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rt.allowed(r, resource, action) {
				WriteError(w, r, security.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rt *Router) allowed(r *http.Request, resource, action string) bool {
	if rt.deps.Permissions == nil {
		return false
	}
	return rt.deps.Permissions.CheckPermission(r.Context(), actorOf(r), resource, action)
}

// clientOrigin is the caller's IP as seen after RealIP.
func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rt *Router) login(w http.ResponseWriter, r *http.Request) {
	if rt.deps.Auth == nil {
		NewResponseWriter(w, r).ServiceUnavailable("authentication not configured")
		return
	}
	var req security.LoginRequest
	if !rt.decode(w, r, &req) {
		return
	}
	req.Origin = clientOrigin(r)

	res, err := rt.deps.Auth.Login(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, r, res)
}

func (rt *Router) logout(w http.ResponseWriter, r *http.Request) {
	revoked := rt.deps.Auth.Logout(r.Context(), ClaimsFromContext(r.Context()))
	WriteSuccess(w, r, map[string]bool{"revoked": revoked})
}

// PasswordCheckRequest is the body of POST /auth/password/check.
type PasswordCheckRequest struct {
	Password string `json:"password" validate:"required,max=1024"`
	Username string `json:"username,omitempty" validate:"max=128"`
}

func (rt *Router) passwordCheck(w http.ResponseWriter, r *http.Request) {
	var req PasswordCheckRequest
	if !rt.decode(w, r, &req) || !validate(w, r, "api.passwordCheck", &req) {
		return
	}
	WriteSuccess(w, r, rt.deps.Passwords.Report(req.Password, req.Username))
}
