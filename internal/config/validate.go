// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package config

import (
	"errors"
	"fmt"

	"github.com/tomtom215/beacon/internal/logging"
)

// minSecretLength matches the HS256 key size.
const minSecretLength = 32

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		add("server.environment must be development or production, got %q", c.Server.Environment)
	}
	if c.Server.API.MaxBodyBytes <= 0 {
		add("server.api.max_body_bytes must be positive")
	}
	if c.IsProduction() {
		for _, origin := range c.Server.API.CORSAllowedOrigins {
			if origin == "*" {
				add("server.api.cors_allowed_origins must not contain * in production")
			}
		}
	}

	// Logging
	if !logging.ValidLevel(c.Logging.Level) {
		add("logging.level %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}

	// Store
	switch c.Store.Backend {
	case StoreBackendBadger:
		if c.Store.Badger.Path == "" && !c.Store.Badger.InMemory {
			add("store.badger.path is required unless store.badger.in_memory is set")
		}
	case StoreBackendMemory:
	default:
		add("store.backend must be %s or %s, got %q", StoreBackendBadger, StoreBackendMemory, c.Store.Backend)
	}

	// Audit and notification
	if c.Audit.BufferSize <= 0 {
		add("audit.buffer_size must be positive")
	}
	if c.Audit.FlushInterval <= 0 {
		add("audit.flush_interval must be positive")
	}
	if c.Audit.MaxPending < c.Audit.BufferSize {
		add("audit.max_pending must be at least audit.buffer_size")
	}
	if c.Notification.BatchSize <= 0 {
		add("notification.batch_size must be positive")
	}
	if c.Notification.SweepInterval <= 0 {
		add("notification.sweep_interval must be positive")
	}

	// Delivery channels
	if c.WebhookEnabled() {
		if err := validateHTTPURL(c.Webhook.URL, "webhook.url"); err != nil {
			errs = append(errs, err)
		}
	}
	if c.EmailEnabled() {
		if err := c.Email.Validate(); err != nil {
			add("email: %w", err)
		}
	}

	// Events
	if c.Events.Enabled && c.Events.Bus.BufferSize <= 0 {
		add("events.bus.buffer_size must be positive")
	}

	// Security
	if len(c.Security.Tokens.Secret) < minSecretLength {
		add("security.tokens.secret must be at least %d characters (set JWT_SECRET)", minSecretLength)
	}
	if c.Security.Tokens.TTL <= 0 {
		add("security.tokens.ttl must be positive")
	}
	if c.Security.Password.MinLength < 8 {
		add("security.password.min_length must be at least 8, got %d", c.Security.Password.MinLength)
	}
	if c.Security.Lockout.Threshold <= 0 {
		add("security.lockout.threshold must be positive")
	}
	seen := make(map[string]bool, len(c.Security.Auth.Users))
	for i, u := range c.Security.Auth.Users {
		if u.Username == "" || u.PasswordHash == "" || u.Role == "" {
			add("security.auth.users[%d] needs username, password_hash and role", i)
			continue
		}
		if seen[u.Username] {
			add("security.auth.users[%d]: duplicate username %q", i, u.Username)
		}
		seen[u.Username] = true
	}

	for scope, members := range c.Scopes {
		if len(members) == 0 {
			add("scopes.%s has no members", scope)
		}
	}

	return errors.Join(errs...)
}
