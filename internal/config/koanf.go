// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/beacon/config.yaml",
	"/etc/beacon/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from three layers, later ones winning:
//  1. Defaults from defaultConfig
//  2. The YAML file named by CONFIG_PATH, or the first of DefaultConfigPaths
//  3. Environment variables listed in envMappings
//
// The result is validated before it is returned.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// LOG_LEVEL -> logging.level, JWT_SECRET -> security.tokens.secret
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns CONFIG_PATH when it exists, else the first default
// path that exists, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated environment values.
var sliceConfigPaths = []string{
	"server.api.cors_allowed_origins",
	"audit.critical_actions",
}

// processSliceFields splits comma-separated strings for known slice fields.
// Values that are already lists (from YAML) are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// API
	"cors_origins":             "server.api.cors_allowed_origins",
	"rate_limit_requests":      "server.api.rate_limit_requests",
	"rate_limit_window":        "server.api.rate_limit_window",
	"disable_rate_limit":       "server.api.rate_limit_disabled",
	"auth_rate_limit_requests": "server.api.auth_rate_limit_requests",
	"event_rate_limit":         "server.api.event_rate_limit",
	"max_body_bytes":           "server.api.max_body_bytes",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Store
	"store_backend":         "store.backend",
	"store_namespace":       "store.namespace",
	"store_obfuscation_key": "store.obfuscation_key",
	"badger_path":           "store.badger.path",
	"badger_in_memory":      "store.badger.in_memory",
	"badger_sync_writes":    "store.badger.sync_writes",

	// Rate limiter
	"ratelimit_default_max":    "ratelimit.default_max",
	"ratelimit_default_window": "ratelimit.default_window",
	"ratelimit_max_keys":       "ratelimit.max_keys",
	"ratelimit_persist":        "ratelimit.persist",

	// Audit
	"audit_buffer_size":      "audit.buffer_size",
	"audit_flush_interval":   "audit.flush_interval",
	"audit_max_pending":      "audit.max_pending",
	"audit_max_retained":     "audit.max_retained",
	"audit_critical_actions": "audit.critical_actions",
	"audit_log_to_stdout":    "audit.log_to_stdout",

	// Notification engine
	"notification_batch_size":       "notification.batch_size",
	"notification_delivery_timeout": "notification.delivery_timeout",
	"notification_sweep_interval":   "notification.sweep_interval",
	"notification_rate_limit_max":   "notification.rate_limit_max",

	// Webhook delivery
	"webhook_url":             "webhook.url",
	"webhook_secret":          "webhook.secret",
	"webhook_timeout":         "webhook.timeout",
	"webhook_rate_per_second": "webhook.rate_per_second",
	"webhook_burst":           "webhook.burst",

	// Email delivery
	"smtp_host":      "email.host",
	"smtp_port":      "email.port",
	"smtp_from":      "email.from",
	"smtp_from_name": "email.from_name",
	"smtp_username":  "email.username",
	"smtp_password":  "email.password",
	"smtp_use_tls":   "email.use_tls",

	// Event ingress
	"events_enabled":     "events.enabled",
	"events_buffer_size": "events.bus.buffer_size",
	"events_max_retries": "events.bus.retry_max_retries",

	// Security
	"jwt_secret":                  "security.tokens.secret",
	"jwt_issuer":                  "security.tokens.issuer",
	"token_ttl":                   "security.tokens.ttl",
	"session_idle_timeout":        "security.sessions.idle_timeout",
	"session_max_lifetime":        "security.sessions.max_lifetime",
	"lockout_threshold":           "security.lockout.threshold",
	"lockout_duration":            "security.lockout.duration",
	"lockout_max_duration":        "security.lockout.max_duration",
	"lockout_attempts_per_window": "security.lockout.attempts_per_window",
	"bcrypt_cost":                 "security.auth.bcrypt_cost",
	"password_min_length":         "security.password.min_length",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
	"limiter_sweep_interval":       "supervisor.limiter_sweep_interval",
	"store_cleanup_interval":       "supervisor.store_cleanup_interval",
}

// envTransformFunc maps an environment variable to its koanf path, or ""
// so that unrelated variables never reach the config.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
