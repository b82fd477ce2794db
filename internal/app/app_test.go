// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/audit"
	"github.com/tomtom215/beacon/internal/config"
	"github.com/tomtom215/beacon/internal/events"
	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/security"
	"github.com/tomtom215/beacon/internal/supervisor"
)

const testPassword = "Correct-Horse-42"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	cfg := config.Default()
	cfg.Store.Backend = config.StoreBackendMemory
	cfg.Server.API.RateLimitDisabled = true
	cfg.Security.Tokens.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Security.Auth.BcryptCost = bcrypt.MinCost
	cfg.Security.Auth.Users = []security.UserConfig{
		{Username: "alice", PasswordHash: string(hash), Role: "admin"},
		{Username: "bob", PasswordHash: string(hash), Role: "manager"},
		{Username: "mia", PasswordHash: string(hash), Role: "member"},
	}
	cfg.Scopes = map[string][]string{"team-a": {"bob", "mia"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func welcome(recipient string) notification.SendRequest {
	return notification.SendRequest{
		RecipientID: recipient,
		Type:        notification.TypeWelcome,
		Data:        map[string]interface{}{"name": "Mia", "organization": "Acme"},
		Overrides:   notification.Overrides{Channels: []notification.Channel{notification.ChannelInApp}},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "",
		security.LoginRequest{Username: username, Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var env struct {
		Data security.LoginResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return env.Data.Token
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestApp_SendSanitizesData(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	req := welcome("mia")
	req.Data["name"] = `<script>alert(1)</script><a href="javascript:evil()">x</a>`
	n, err := a.Engine.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if strings.ContainsAny(n.Title, "<>") || strings.Contains(n.Title, "javascript:") {
		t.Errorf("Title not sanitized: %q", n.Title)
	}
}

func TestNew_WiresComponents(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	if a.Store == nil || a.Audit == nil || a.Engine == nil || a.Auth == nil || a.Hub == nil || a.Router == nil {
		t.Fatalf("missing component: %+v", a)
	}
	if a.Bus == nil {
		t.Error("event bus should be created when events are enabled")
	}
	if a.Webhook != nil {
		t.Error("webhook adapter should not exist without a URL")
	}
	if a.badger != nil {
		t.Error("memory backend should not open badger")
	}
	if role, ok := a.Permissions.RoleOf("bob"); !ok || role != "manager" {
		t.Errorf("RoleOf(bob) = %q, %v", role, ok)
	}

	srv := a.HTTPServer()
	if srv.Addr != "0.0.0.0:8080" || srv.Handler == nil {
		t.Errorf("HTTPServer() = addr %q handler %v", srv.Addr, srv.Handler)
	}

	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNew_OptionalComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Events.Enabled = false
	cfg.Webhook.URL = "https://hooks.example.com/beacon"
	a := newTestApp(t, cfg)

	if a.Bus != nil {
		t.Error("event bus should be absent when disabled")
	}
	if a.Webhook == nil {
		t.Error("webhook adapter should be created when a URL is set")
	}

	mia := login(t, a.Handler(), "mia")
	rec := doJSON(t, a.Handler(), http.MethodPost, "/api/v1/events", mia, events.AppEvent{Type: events.EventSystemUpdate})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("publish without bus: status %d, want 503", rec.Code)
	}
}

func TestNew_FailuresCleanUp(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"invalid bcrypt hash", func(c *config.Config) {
			c.Security.Auth.Users = []security.UserConfig{{Username: "eve", PasswordHash: "plain", Role: "admin"}}
		}},
		{"unknown role", func(c *config.Config) {
			c.Security.Auth.Users[0].Role = "superuser"
		}},
		{"short token secret", func(c *config.Config) { c.Security.Tokens.Secret = "short" }},
		{"unusable badger path", func(c *config.Config) {
			c.Store.Backend = config.StoreBackendBadger
			c.Store.Badger.Path = ""
			c.Store.Badger.InMemory = false
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if a, err := New(context.Background(), cfg, "test"); err == nil {
				_ = a.Close(context.Background())
				t.Fatal("expected New to fail")
			}
		})
	}
}

func TestApp_BulkSendToScope(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	h := a.Handler()
	alice := login(t, h, "alice")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/notifications/bulk", alice, map[string]interface{}{
		"scopeId":   "team-a",
		"type":      notification.TypeWelcome,
		"data":      map[string]interface{}{"name": "Team", "organization": "Acme"},
		"overrides": notification.Overrides{Channels: []notification.Channel{notification.ChannelInApp}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk: status %d body %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data notification.BulkResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.Attempted != 2 || env.Data.Succeeded != 2 {
		t.Errorf("bulk result = %+v, want 2 of 2", env.Data)
	}

	if n, _ := a.processScheduled(context.Background()); n != 2 {
		t.Errorf("processScheduled = %d, want 2", n)
	}
	for _, who := range []string{"bob", "mia"} {
		list := a.Engine.GetNotifications(context.Background(), who, notification.Filter{})
		if len(list) != 1 || list[0].Status == notification.StatusPending {
			t.Errorf("%s notifications = %+v", who, list)
		}
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/notifications/bulk", alice, map[string]interface{}{
		"scopeId": "team-z",
		"type":    notification.TypeWelcome,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown scope: status %d, want 404 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestApp_EventsThroughSupervisor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notification.SweepInterval = 20 * time.Millisecond
	a := newTestApp(t, cfg)

	tree, err := supervisor.NewSupervisorTree(slog.New(slog.NewTextHandler(io.Discard, nil)), supervisor.TreeConfig{
		ShutdownTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	a.Register(tree, false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	defer func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("tree did not stop")
		}
	}()

	select {
	case <-a.Bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("event bus did not start")
	}

	err = a.Bus.Publish(ctx, &events.AppEvent{
		Type:    events.EventAccountCreated,
		ActorID: "mia",
		Data:    map[string]interface{}{"name": "Mia", "organization": "Acme"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Classified into a welcome notification, then delivered by the
	// scheduled-delivery job.
	waitFor(t, "welcome delivered", func() bool {
		list := a.Engine.GetNotifications(context.Background(), "mia", notification.Filter{Type: notification.TypeWelcome})
		return len(list) == 1 && list[0].Status != notification.StatusPending
	})
}

func TestApp_BadgerPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreBackendBadger
	cfg.Store.Badger.Path = t.TempDir()
	cfg.Store.Badger.SyncWrites = false
	cfg.Events.Enabled = false
	ctx := context.Background()

	first, err := New(ctx, cfg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sent, err := first.Engine.Send(ctx, welcome("mia"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newTestApp(t, cfg)
	got, err := second.Engine.Get(ctx, sent.ID)
	if err != nil {
		t.Fatalf("notification lost across restart: %v", err)
	}
	if got.RecipientID != "mia" || got.Type != notification.TypeWelcome {
		t.Errorf("restored notification = %+v", got)
	}

	entries := second.Audit.Entries(ctx, audit.Filter{Action: audit.ActionNotificationSend})
	if len(entries) == 0 {
		t.Error("audit entries should be flushed on Close and read back after restart")
	}
}

func TestApp_Jobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = config.StoreBackendBadger
	cfg.Store.Badger.InMemory = true
	a := newTestApp(t, cfg)
	ctx := context.Background()

	if a.badger == nil {
		t.Fatal("badger backend expected")
	}
	if _, err := a.cleanupStore(ctx); err != nil {
		t.Errorf("cleanupStore: %v", err)
	}
	if _, err := a.flushAudit(ctx); err != nil {
		t.Errorf("flushAudit: %v", err)
	}
	if n, err := a.sweepLimiter(ctx); err != nil || n != 0 {
		t.Errorf("sweepLimiter = %d, %v", n, err)
	}
	if n, err := a.sweepLockouts(ctx); err != nil || n != 0 {
		t.Errorf("sweepLockouts = %d, %v", n, err)
	}
}

func TestScopeDirectory(t *testing.T) {
	src := map[string][]string{"team-a": {"bob", "mia"}}
	dir := newScopeDirectory(src)
	src["team-a"][0] = "mallory"

	got, err := dir.Recipients(context.Background(), "team-a")
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	if want := []string{"bob", "mia"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Recipients = %v, want %v", got, want)
	}
	got[0] = "changed"
	if again, _ := dir.Recipients(context.Background(), "team-a"); again[0] != "bob" {
		t.Error("Recipients must return a copy")
	}

	_, err = dir.Recipients(context.Background(), "team-z")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("unknown scope error = %v, want not found", err)
	}
}
