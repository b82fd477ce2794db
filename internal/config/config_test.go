// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/beacon/internal/security"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// clearEnv unsets every mapped variable for the duration of the test so the
// host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range envMappings {
		name := strings.ToUpper(key)
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv(ConfigPathEnvVar, "")
	os.Unsetenv(ConfigPathEnvVar)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Environment != "development" {
		t.Errorf("Server.Environment = %q, want development", cfg.Server.Environment)
	}
	if cfg.Store.Backend != StoreBackendBadger || cfg.Store.Namespace != "beacon" {
		t.Errorf("Store = %+v, want badger backend in namespace beacon", cfg.Store)
	}
	if len(cfg.Server.API.CORSAllowedOrigins) != 0 {
		t.Errorf("CORS origins should be empty by default, got %v", cfg.Server.API.CORSAllowedOrigins)
	}
	if cfg.Security.Tokens.Secret != "" {
		t.Error("token secret must have no default")
	}
	if cfg.Security.Auth.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.Security.Auth.BcryptCost)
	}
	if cfg.WebhookEnabled() || cfg.EmailEnabled() {
		t.Error("external delivery channels should be disabled by default")
	}
	if !cfg.Events.Enabled {
		t.Error("event ingress should be enabled by default")
	}
	if cfg.Logging.Output != nil {
		t.Error("logging output should be left to logging.Init")
	}
	if got := cfg.Server.Addr(); got != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8080", got)
	}
}

func TestLoad_DefaultsRequireSecret(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile("")
	if err == nil {
		t.Fatal("expected validation error without a token secret")
	}
	if !strings.Contains(err.Error(), "security.tokens.secret") {
		t.Errorf("error should name the secret, got: %v", err)
	}
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("AUDIT_FLUSH_INTERVAL", "5s")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/beacon")
	t.Setenv("LOCKOUT_THRESHOLD", "7")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Security.Tokens.Secret != testSecret {
		t.Error("JWT_SECRET was not applied")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Store.Backend != StoreBackendMemory {
		t.Errorf("Store.Backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Audit.FlushInterval != 5*time.Second {
		t.Errorf("Audit.FlushInterval = %v, want 5s", cfg.Audit.FlushInterval)
	}
	wantOrigins := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(cfg.Server.API.CORSAllowedOrigins, wantOrigins) {
		t.Errorf("CORS origins = %v, want %v", cfg.Server.API.CORSAllowedOrigins, wantOrigins)
	}
	if !cfg.WebhookEnabled() {
		t.Error("webhook should be enabled when WEBHOOK_URL is set")
	}
	if cfg.Security.Lockout.Threshold != 7 {
		t.Errorf("Lockout.Threshold = %d, want 7", cfg.Security.Lockout.Threshold)
	}

	// Untouched sections keep their defaults.
	if cfg.Notification.BatchSize != 50 {
		t.Errorf("Notification.BatchSize = %d, want default 50", cfg.Notification.BatchSize)
	}
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 7000
  environment: production
  api:
    cors_allowed_origins:
      - https://app.example.com
store:
  backend: badger
  badger:
    path: /var/lib/beacon
audit:
  critical_actions: ["auth.*", "data.export"]
security:
  tokens:
    secret: file-secret-file-secret-file-secret
  auth:
    users:
      - username: alice
        password_hash: $2a$12$abcdefghijklmnopqrstuv
        role: admin
  permissions:
    assignments:
      svc-reporting: viewer
supervisor:
  store_cleanup_interval: 2m
scopes:
  team-a: [alice, bob]
`)
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "7001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7001 {
		t.Errorf("environment should override the file: port = %d", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("environment from file not applied")
	}
	if cfg.Store.Badger.Path != "/var/lib/beacon" {
		t.Errorf("Badger.Path = %q", cfg.Store.Badger.Path)
	}
	if !cfg.Store.Badger.SyncWrites {
		t.Error("unset nested fields should keep defaults")
	}
	if want := []string{"auth.*", "data.export"}; !reflect.DeepEqual(cfg.Audit.CriticalActions, want) {
		t.Errorf("CriticalActions = %v, want %v", cfg.Audit.CriticalActions, want)
	}
	wantUsers := []security.UserConfig{{Username: "alice", PasswordHash: "$2a$12$abcdefghijklmnopqrstuv", Role: "admin"}}
	if !reflect.DeepEqual(cfg.Security.Auth.Users, wantUsers) {
		t.Errorf("Users = %+v, want %+v", cfg.Security.Auth.Users, wantUsers)
	}
	if cfg.Security.Permissions.Assignments["svc-reporting"] != "viewer" {
		t.Errorf("Assignments = %v", cfg.Security.Permissions.Assignments)
	}
	if want := []string{"alice", "bob"}; !reflect.DeepEqual(cfg.Scopes["team-a"], want) {
		t.Errorf("Scopes = %v, want team-a: %v", cfg.Scopes, want)
	}
	if cfg.Supervisor.StoreCleanupInterval != 2*time.Minute {
		t.Errorf("StoreCleanupInterval = %v, want 2m", cfg.Supervisor.StoreCleanupInterval)
	}
}

func TestLoad_FileErrors(t *testing.T) {
	clearEnv(t)

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing explicit file")
	}

	bad := writeConfig(t, "server: [unclosed")
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestFindConfigFile(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, "server:\n  port: 8081\n")
	t.Setenv(ConfigPathEnvVar, path)
	if got := findConfigFile(); got != path {
		t.Errorf("findConfigFile() = %q, want %q", got, path)
	}

	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "nope.yaml"))
	orig := DefaultConfigPaths
	DefaultConfigPaths = []string{filepath.Join(t.TempDir(), "also-missing.yaml")}
	t.Cleanup(func() { DefaultConfigPaths = orig })
	if got := findConfigFile(); got != "" {
		t.Errorf("findConfigFile() = %q, want empty", got)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HTTP_PORT", "server.port"},
		{"JWT_SECRET", "security.tokens.secret"},
		{"CORS_ORIGINS", "server.api.cors_allowed_origins"},
		{"SMTP_HOST", "email.host"},
		{"BADGER_PATH", "store.badger.path"},
		{"log_level", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := envTransformFunc(tt.input); got != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.Tokens.Secret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"unknown environment", func(c *Config) { c.Server.Environment = "staging" }, "server.environment"},
		{"wildcard cors in production", func(c *Config) {
			c.Server.Environment = "production"
			c.Server.API.CORSAllowedOrigins = []string{"*"}
		}, "cors_allowed_origins"},
		{"wildcard cors in development", func(c *Config) { c.Server.API.CORSAllowedOrigins = []string{"*"} }, ""},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"badger without path", func(c *Config) { c.Store.Badger.Path = "" }, "store.badger.path"},
		{"in-memory badger without path", func(c *Config) {
			c.Store.Badger.Path = ""
			c.Store.Badger.InMemory = true
		}, ""},
		{"short secret", func(c *Config) { c.Security.Tokens.Secret = "short" }, "security.tokens.secret"},
		{"weak password policy", func(c *Config) { c.Security.Password.MinLength = 4 }, "min_length"},
		{"webhook with bad scheme", func(c *Config) { c.Webhook.URL = "ftp://hooks.example.com" }, "webhook.url"},
		{"webhook with query", func(c *Config) { c.Webhook.URL = "https://hooks.example.com/x?token=1" }, "query"},
		{"webhook with path", func(c *Config) { c.Webhook.URL = "https://hooks.example.com/beacon/in" }, ""},
		{"email without from", func(c *Config) { c.Email.Host = "smtp.example.com" }, "email"},
		{"zero batch size", func(c *Config) { c.Notification.BatchSize = 0 }, "batch_size"},
		{"pending below buffer", func(c *Config) { c.Audit.MaxPending = 10 }, "max_pending"},
		{"incomplete user", func(c *Config) {
			c.Security.Auth.Users = []security.UserConfig{{Username: "alice", Role: "admin"}}
		}, "users[0]"},
		{"empty scope", func(c *Config) { c.Scopes = map[string][]string{"team-a": {}} }, "scopes.team-a"},
		{"duplicate user", func(c *Config) {
			u := security.UserConfig{Username: "alice", PasswordHash: "h", Role: "admin"}
			c.Security.Auth.Users = []security.UserConfig{u, u}
		}, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.port", "logging.level", "security.tokens.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s: %v", want, err)
		}
	}
}
