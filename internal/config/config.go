// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package config

import (
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/beacon/internal/api"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/events"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/notification/delivery"
	"github.com/tomtom215/beacon/internal/ratelimit"
	"github.com/tomtom215/beacon/internal/security"
	"github.com/tomtom215/beacon/internal/store"
	"github.com/tomtom215/beacon/internal/supervisor"
)

// Store backends
const (
	StoreBackendBadger = "badger"
	StoreBackendMemory = "memory"
)

// Config is the complete application configuration. Each section is the
// owning component's own config type where one exists.
type Config struct {
	Server       ServerConfig           `koanf:"server"`
	Logging      logging.Config         `koanf:"logging"`
	Store        StoreConfig            `koanf:"store"`
	RateLimit    ratelimit.Config       `koanf:"ratelimit"`
	Audit        audit.Config           `koanf:"audit"`
	Notification notification.Config    `koanf:"notification"`
	Webhook      delivery.WebhookConfig `koanf:"webhook"`
	Email        delivery.EmailConfig   `koanf:"email"`
	Events       EventsConfig           `koanf:"events"`
	Security     SecurityConfig         `koanf:"security"`
	Supervisor   supervisor.TreeConfig  `koanf:"supervisor"`

	// Scopes maps a scope id to its member recipient ids for bulk sends
	// and scoped events.
	Scopes map[string][]string `koanf:"scopes"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Environment is development or production. Production forbids
	// wildcard CORS and insecure defaults.
	Environment string `koanf:"environment"`

	API api.Config `koanf:"api"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is badger (default) or memory.
	Backend        string             `koanf:"backend"`
	Namespace      string             `koanf:"namespace"`
	ObfuscationKey string             `koanf:"obfuscation_key"`
	Badger         store.BadgerConfig `koanf:"badger"`
}

// EventsConfig enables the application event ingress.
type EventsConfig struct {
	Enabled bool          `koanf:"enabled"`
	Bus     events.Config `koanf:"bus"`
}

// SecurityConfig groups the authentication and authorization settings.
type SecurityConfig struct {
	Password    security.PasswordPolicy    `koanf:"password"`
	Lockout     security.LockoutConfig     `koanf:"lockout"`
	Sessions    security.SessionConfig     `koanf:"sessions"`
	Tokens      security.TokenConfig       `koanf:"tokens"`
	Auth        security.AuthConfig        `koanf:"auth"`
	Permissions security.PermissionsConfig `koanf:"permissions"`
}

// IsProduction reports whether production checks apply.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// WebhookEnabled reports whether a webhook endpoint is configured.
func (c *Config) WebhookEnabled() bool {
	return c.Webhook.URL != ""
}

// EmailEnabled reports whether an SMTP relay is configured.
func (c *Config) EmailEnabled() bool {
	return c.Email.Host != ""
}

// Default returns the built-in defaults without the file and environment
// layers. The result does not validate until a token secret is set.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns every default. The file and environment layers
// override it.
func defaultConfig() *Config {
	apiCfg := api.DefaultConfig()
	apiCfg.CORSAllowedOrigins = []string{}

	logCfg := logging.DefaultConfig()
	logCfg.Output = nil

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
			API:             apiCfg,
		},
		Logging: logCfg,
		Store: StoreConfig{
			Backend:   StoreBackendBadger,
			Namespace: "beacon",
			Badger:    store.DefaultBadgerConfig(),
		},
		RateLimit:    ratelimit.DefaultConfig(),
		Audit:        audit.DefaultConfig(),
		Notification: notification.DefaultConfig(),
		Webhook:      delivery.DefaultWebhookConfig(),
		Email: delivery.EmailConfig{
			Port:        587,
			FromName:    "Beacon",
			UseTLS:      true,
			DialTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			Enabled: true,
			Bus:     events.DefaultConfig(),
		},
		Security: SecurityConfig{
			Password: security.DefaultPasswordPolicy(),
			Lockout:  security.DefaultLockoutConfig(),
			Sessions: security.DefaultSessionConfig(),
			Tokens: security.TokenConfig{
				Issuer: "beacon",
				TTL:    time.Hour,
			},
			Auth: security.AuthConfig{BcryptCost: 12},
		},
		Supervisor: supervisor.DefaultTreeConfig(),
	}
}
