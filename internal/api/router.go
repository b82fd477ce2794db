// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/events"
	"github.com/tomtom215/beacon/internal/middleware"
	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/ratelimit"
	"github.com/tomtom215/beacon/internal/security"
	"github.com/tomtom215/beacon/internal/websocket"
)

// Config holds HTTP surface settings.
type Config struct {
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Per-IP request budget for the whole API.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// Stricter per-IP budget for /auth.
	AuthRateLimitRequests int `koanf:"auth_rate_limit_requests"`

	// Per-caller budget for POST /events over a sliding window. Zero
	// disables it.
	EventRateLimit  int           `koanf:"event_rate_limit"`
	EventRateWindow time.Duration `koanf:"event_rate_window"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// DefaultConfig returns production defaults. CORS origins are empty and must
// be configured explicitly.
func DefaultConfig() Config {
	return Config{
		CORSAllowedOrigins:    []string{},
		RateLimitRequests:     300,
		RateLimitWindow:       time.Minute,
		AuthRateLimitRequests: 20,
		EventRateLimit:        120,
		EventRateWindow:       time.Minute,
		MaxBodyBytes:          1 << 20,
	}
}

// EventPublisher accepts application events for the ingress.
type EventPublisher interface {
	Publish(ctx context.Context, evt *events.AppEvent) error
}

// Deps are the components the handlers call. Events, Hub and Recipients are
// optional; their endpoints answer 503 when absent.
type Deps struct {
	Engine      *notification.Engine
	Audit       *audit.Logger
	Limiter     *ratelimit.Limiter
	Auth        *security.Authenticator
	Permissions *security.Permissions
	Passwords   security.PasswordPolicy
	Events      EventPublisher
	Hub         *websocket.Hub
	Recipients  notification.RecipientSource
	Version     string
}

// Router builds the chi handler tree.
type Router struct {
	cfg     Config
	deps    Deps
	started time.Time

	eventLimiter *ratelimit.SlidingLimiter
}

// NewRouter creates a router; call Handler to build the http.Handler.
func NewRouter(cfg Config, deps Deps) *Router {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	rt := &Router{cfg: cfg, deps: deps, started: time.Now()}
	if cfg.EventRateLimit > 0 {
		rt.eventLimiter = ratelimit.NewSlidingLimiter("events", cfg.EventRateWindow, 10)
	}
	return rt
}

// SweepLimits drops idle per-caller event budgets and returns how many.
func (rt *Router) SweepLimits() int {
	if rt.eventLimiter == nil {
		return 0
	}
	return rt.eventLimiter.Sweep()
}

// allowEvent spends one unit of the caller's event budget.
func (rt *Router) allowEvent(actor string) error {
	if rt.eventLimiter == nil || rt.eventLimiter.IsAllowed(actor, rt.cfg.EventRateLimit) {
		return nil
	}
	return apperr.RateLimited("api.publishEvent", rt.eventLimiter.RetryAt(actor), nil)
}

// Handler returns the complete route tree:
//
//	/api/v1/health, /api/v1/metrics          public
//	/api/v1/auth/login, /auth/password/check  public, strict per-IP budget
//	everything else                           bearer token + permission check
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.HeaderRequestID, middleware.HeaderCorrelationID},
		ExposedHeaders: []string{middleware.HeaderRequestID, "Retry-After"},
		MaxAge:         86400,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.rateLimit(rt.cfg.RateLimitRequests))

		r.Get("/health", rt.health)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/auth", func(r chi.Router) {
			r.Use(rt.rateLimit(rt.cfg.AuthRateLimitRequests))
			r.Post("/login", rt.login)
			r.Post("/password/check", rt.passwordCheck)
			r.With(rt.authenticate).Post("/logout", rt.logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(rt.authenticate)

			r.Route("/notifications", func(r chi.Router) {
				r.With(rt.require(security.ResourceNotification, security.ActionRead)).Get("/", rt.listNotifications)
				r.With(rt.require(security.ResourceNotification, security.ActionRead)).Get("/unread-count", rt.unreadCount)
				r.With(rt.require(security.ResourceNotification, security.ActionRead)).Get("/stream", rt.stream)
				r.With(rt.require(security.ResourceNotification, security.ActionSend)).Post("/", rt.sendNotification)
				r.With(rt.require(security.ResourceNotification, security.ActionBulkSend)).Post("/bulk", rt.sendBulk)
				r.With(rt.require(security.ResourceNotification, security.ActionUpdate)).Post("/read-all", rt.markAllRead)
				r.With(rt.require(security.ResourceNotification, security.ActionUpdate)).Post("/{id}/read", rt.markRead)
				r.With(rt.require(security.ResourceNotification, security.ActionUpdate)).Post("/{id}/delivered", rt.markDelivered)
			})

			r.Route("/audit", func(r chi.Router) {
				r.With(rt.require(security.ResourceAuditLog, security.ActionRead)).Get("/", rt.auditEntries)
				r.With(rt.require(security.ResourceAuditLog, security.ActionRead)).Get("/stats", rt.auditStats)
				r.With(
					rt.require(security.ResourceAuditLog, security.ActionExport),
					chimiddleware.Compress(5, "application/json", "text/csv", "text/plain"),
				).Get("/export", rt.auditExport)
			})

			r.With(rt.require(security.ResourceRateLimit, security.ActionCheck)).Post("/ratelimit/check", rt.rateLimitCheck)
			r.With(rt.require(security.ResourceEvent, security.ActionPublish)).Post("/events", rt.publishEvent)
		})
	})

	return r
}

// rateLimit is a per-IP httprate budget; disabled or non-positive budgets
// pass through.
func (rt *Router) rateLimit(requests int) func(http.Handler) http.Handler {
	if rt.cfg.RateLimitDisabled || requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := rt.cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).Error(http.StatusTooManyRequests, ErrCodeTooManyRequests, "too many requests")
		}),
	)
}
