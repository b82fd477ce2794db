// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/beacon/internal/api"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/config"
	"github.com/tomtom215/beacon/internal/events"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/notification/delivery"
	"github.com/tomtom215/beacon/internal/ratelimit"
	"github.com/tomtom215/beacon/internal/security"
	"github.com/tomtom215/beacon/internal/store"
	"github.com/tomtom215/beacon/internal/websocket"
)

// Store namespaces owned by each component.
const (
	nsNotifications = "notifications"
	nsSessions      = "sessions"
	nsLockout       = "lockout"
	nsRateLimit     = "ratelimit"
	nsAuditLog      = "audit_log"
	nsAuditBackup   = "audit_backup"
)

// backupRetention caps the write-through copies of critical audit entries.
const backupRetention = 5000

// App holds every long-lived component, built once from the configuration.
type App struct {
	Config *config.Config

	Store   *store.Store
	badger  *store.BadgerBackend
	backend store.Backend

	Limiter     *ratelimit.Limiter
	Audit       *audit.Logger
	Engine      *notification.Engine
	Permissions *security.Permissions
	Lockout     *security.Lockout
	Sessions    *security.Sessions
	Auth        *security.Authenticator
	Hub         *websocket.Hub
	Bus         *events.Bus
	Router      *api.Router
	Webhook     *delivery.WebhookAdapter

	closed bool
}

// New builds the application. Persisted notifications, lockouts and limiter
// windows are restored before it returns. On error everything opened so far
// is closed again.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	a := &App{Config: cfg}
	if err := a.init(ctx, version); err != nil {
		if closeErr := a.Close(ctx); closeErr != nil {
			logging.Error().Err(closeErr).Msg("cleanup after failed startup")
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, version string) error {
	cfg := a.Config

	if err := a.openStore(); err != nil {
		return err
	}

	// Audit first: every other component records through it.
	a.Audit = audit.NewLogger(
		audit.NewStoreSink(a.Store.Namespace(nsAuditLog), cfg.Audit.MaxRetained),
		audit.NewStoreSink(a.Store.Namespace(nsAuditBackup), backupRetention),
		cfg.Audit,
	)

	a.Limiter = ratelimit.NewLimiter(cfg.RateLimit).WithStore(a.Store.Namespace(nsRateLimit))
	a.Limiter.Restore(ctx)

	if err := a.initSecurity(ctx); err != nil {
		return err
	}

	a.Hub = websocket.NewHub()

	adapters, err := a.buildAdapters()
	if err != nil {
		return err
	}
	repo := notification.NewRepository(a.Store.Namespace(nsNotifications))
	loaded := repo.Load(ctx)
	a.Engine = notification.NewEngine(cfg.Notification,
		notification.NewRegistry(notification.DefaultTemplates()...), repo).
		WithAdapters(adapters).
		WithLimiter(a.Limiter).
		WithAuditor(a.Audit).
		WithSanitizer(security.NewSanitizer())

	var recipients notification.RecipientSource
	if len(cfg.Scopes) > 0 {
		recipients = newScopeDirectory(cfg.Scopes)
	}

	deps := api.Deps{
		Engine:      a.Engine,
		Audit:       a.Audit,
		Limiter:     a.Limiter,
		Auth:        a.Auth,
		Permissions: a.Permissions,
		Passwords:   cfg.Security.Password,
		Hub:         a.Hub,
		Recipients:  recipients,
		Version:     version,
	}

	if cfg.Events.Enabled {
		classifier := events.NewClassifier(nil, a.Engine, a.Audit)
		if recipients != nil {
			classifier.WithRecipients(recipients)
		}
		bus, err := events.NewBus(cfg.Events.Bus, classifier.HandleMessage)
		if err != nil {
			return fmt.Errorf("create event bus: %w", err)
		}
		a.Bus = bus
		// Set only here: a nil *events.Bus in the interface would not read as absent.
		deps.Events = bus
	}

	a.Router = api.NewRouter(cfg.Server.API, deps)

	logging.Info().
		Str("store", cfg.Store.Backend).
		Int("notifications_loaded", loaded).
		Int("users", len(cfg.Security.Auth.Users)).
		Bool("webhook", a.Webhook != nil).
		Bool("email", cfg.EmailEnabled()).
		Bool("events", a.Bus != nil).
		Msg("application initialized")
	return nil
}

func (a *App) openStore() error {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.StoreBackendMemory:
		a.backend = store.NewMemoryBackend()
	default:
		b, err := store.OpenBadger(cfg.Badger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.badger = b
		a.backend = b
	}
	a.Store = store.New(a.backend, store.Config{
		Namespace:      cfg.Namespace,
		ObfuscationKey: cfg.ObfuscationKey,
	})
	return nil
}

func (a *App) initSecurity(ctx context.Context) error {
	sec := a.Config.Security

	perms, err := security.NewPermissions(sec.Permissions)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	a.Permissions = perms.WithAuditor(a.Audit)

	a.Lockout = security.NewLockout(sec.Lockout, a.Store.Namespace(nsLockout)).
		WithLimiter(a.Limiter).
		WithAuditor(a.Audit)
	a.Lockout.Restore(ctx)

	a.Sessions = security.NewSessions(sec.Sessions, a.Store.Namespace(nsSessions))

	tokens, err := security.NewTokenIssuer(sec.Tokens)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}

	auth, err := security.NewAuthenticator(sec.Auth, a.Lockout, a.Sessions, tokens, a.Permissions)
	if err != nil {
		return fmt.Errorf("create authenticator: %w", err)
	}
	a.Auth = auth.WithAuditor(a.Audit)
	return nil
}

// buildAdapters always includes in-app delivery; webhook and email are added
// when configured.
func (a *App) buildAdapters() (*delivery.Registry, error) {
	cfg := a.Config
	adapters := []notification.Adapter{delivery.NewInAppAdapter(a.Hub)}

	if cfg.WebhookEnabled() {
		wh, err := delivery.NewWebhookAdapter(cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("create webhook adapter: %w", err)
		}
		a.Webhook = wh
		adapters = append(adapters, wh)
	}

	if cfg.EmailEnabled() {
		em, err := delivery.NewEmailAdapter(cfg.Email, delivery.StaticAddresses(cfg.Email.Addresses))
		if err != nil {
			return nil, fmt.Errorf("create email adapter: %w", err)
		}
		adapters = append(adapters, em)
	}

	return delivery.NewRegistry(adapters...), nil
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.Router.Handler()
}

// HTTPServer returns a server for the configured listener.
func (a *App) HTTPServer() *http.Server {
	srv := a.Config.Server
	return &http.Server{
		Addr:              srv.Addr(),
		Handler:           a.Handler(),
		ReadTimeout:       srv.ReadTimeout,
		ReadHeaderTimeout: srv.ReadTimeout,
		WriteTimeout:      srv.WriteTimeout,
		IdleTimeout:       srv.IdleTimeout,
	}
}

// Close stops the event bus, flushes the audit log and closes the store.
// It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if a.Lockout != nil {
		a.Lockout.Close()
	}
	if a.Audit != nil {
		if err := a.Audit.Close(ctx); err != nil && !errors.Is(err, audit.ErrClosed) {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
