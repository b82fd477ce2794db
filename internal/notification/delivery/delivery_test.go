// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package delivery

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/beacon/internal/notification"
	"github.com/tomtom215/beacon/internal/websocket"
)

func testNotification() *notification.Notification {
	return &notification.Notification{
		ID:          "n1",
		RecipientID: "alice",
		Type:        notification.TypeSecurityAlert,
		Title:       "Security alert: new login",
		Body:        "new login on account alice.",
		Channels:    []notification.Channel{notification.ChannelWebhook},
		Status:      notification.StatusPending,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewInAppAdapter(nil))

	if _, ok := r.Get(notification.ChannelInApp); !ok {
		t.Error("in-app adapter should be registered")
	}
	if _, ok := r.Get(notification.ChannelEmail); ok {
		t.Error("email adapter should not be registered")
	}

	email, err := NewEmailAdapter(EmailConfig{Host: "localhost", Port: 25, From: "noreply@example.com"}, nil)
	if err != nil {
		t.Fatalf("NewEmailAdapter() error = %v", err)
	}
	r.Register(email)

	got := r.List()
	if len(got) != 2 || got[0] != notification.ChannelEmail || got[1] != notification.ChannelInApp {
		t.Errorf("List() = %v", got)
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email   string
		wantErr bool
	}{
		{"user@example.com", false},
		{"", true},
		{"no-at-sign", true},
		{"Name <user@example.com>", true},
		{"@example.com", true},
	}
	for _, tt := range tests {
		if err := ValidateEmail(tt.email); (err != nil) != tt.wantErr {
			t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
		}
	}
}

func TestValidateWebhookURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/beacon", false},
		{"http://localhost:8080/x", false},
		{"", true},
		{"ftp://example.com", true},
		{"https://", true},
	}
	for _, tt := range tests {
		if err := ValidateWebhookURL(tt.url); (err != nil) != tt.wantErr {
			t.Errorf("ValidateWebhookURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

// fakePusher records pushes.
type fakePusher struct {
	mu    sync.Mutex
	sent  []string
	conns int
}

func (p *fakePusher) SendTo(recipientID string, msg websocket.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, recipientID+":"+msg.Type)
	return p.conns
}

func TestInAppAdapter(t *testing.T) {
	tests := []struct {
		name  string
		conns int
	}{
		{"connected recipient", 2},
		{"offline recipient", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePusher{conns: tt.conns}
			res := NewInAppAdapter(p).Deliver(context.Background(), testNotification())
			if !res.Delivered {
				t.Errorf("Deliver() = %+v, want delivered", res)
			}
			if len(p.sent) != 1 || p.sent[0] != "alice:notification" {
				t.Errorf("pushes = %v", p.sent)
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := NewInAppAdapter(nil).Deliver(ctx, testNotification()); res.Delivered || !res.Transient {
		t.Errorf("canceled Deliver() = %+v", res)
	}
}

func newWebhook(t *testing.T, url string, mutate func(*WebhookConfig)) *WebhookAdapter {
	t.Helper()
	cfg := DefaultWebhookConfig()
	cfg.URL = url
	cfg.Timeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewWebhookAdapter(cfg)
	if err != nil {
		t.Fatalf("NewWebhookAdapter() error = %v", err)
	}
	return a
}

func TestWebhookAdapter_Delivers(t *testing.T) {
	var got WebhookPayload
	var signature, contentType string
	var raw []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		signature = r.Header.Get(SignatureHeader)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	a := newWebhook(t, server.URL, func(c *WebhookConfig) { c.Secret = "s3cret" })
	res := a.Deliver(context.Background(), testNotification())

	if !res.Delivered {
		t.Fatalf("Deliver() = %+v, want delivered", res)
	}
	if got.Event != "notification.security_alert" || got.Notification == nil || got.Notification.ID != "n1" {
		t.Errorf("payload = %+v", got)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(raw)
	if want := "sha256=" + hex.EncodeToString(mac.Sum(nil)); signature != want {
		t.Errorf("signature = %q, want %q", signature, want)
	}
}

func TestWebhookAdapter_StatusClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantDelivered bool
		wantTransient bool
	}{
		{"ok", http.StatusOK, true, false},
		{"no content", http.StatusNoContent, true, false},
		{"bad request", http.StatusBadRequest, false, false},
		{"gone", http.StatusGone, false, false},
		{"throttled", http.StatusTooManyRequests, false, true},
		{"server error", http.StatusInternalServerError, false, true},
		{"unavailable", http.StatusServiceUnavailable, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "30")
				}
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			res := newWebhook(t, server.URL, nil).Deliver(context.Background(), testNotification())
			if res.Delivered != tt.wantDelivered || res.Transient != tt.wantTransient {
				t.Errorf("Deliver() = %+v, want delivered=%v transient=%v", res, tt.wantDelivered, tt.wantTransient)
			}
			if !res.Delivered && res.Error == "" {
				t.Error("failed result should carry an error")
			}
		})
	}
}

func TestWebhookAdapter_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	a := newWebhook(t, server.URL, func(c *WebhookConfig) {
		c.FailureThreshold = 3
		c.OpenTimeout = time.Hour
	})
	for i := 0; i < 3; i++ {
		a.Deliver(context.Background(), testNotification())
	}
	if a.State() != "open" {
		t.Fatalf("State() = %s, want open", a.State())
	}

	res := a.Deliver(context.Background(), testNotification())
	if res.Delivered || !res.Transient || !strings.Contains(res.Error, "circuit open") {
		t.Errorf("Deliver() with open breaker = %+v", res)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server called %d times, want 3", got)
	}
}

func TestWebhookAdapter_ClientErrorsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	a := newWebhook(t, server.URL, func(c *WebhookConfig) { c.FailureThreshold = 2 })
	for i := 0; i < 5; i++ {
		a.Deliver(context.Background(), testNotification())
	}
	if a.State() != "closed" {
		t.Errorf("State() = %s, want closed", a.State())
	}
}

func TestWebhookAdapter_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	res := newWebhook(t, url, nil).Deliver(context.Background(), testNotification())
	if res.Delivered || !res.Transient {
		t.Errorf("Deliver() = %+v, want transient failure", res)
	}
}

func TestNewWebhookAdapter_InvalidURL(t *testing.T) {
	if _, err := NewWebhookAdapter(WebhookConfig{URL: "not a url"}); err == nil {
		t.Error("NewWebhookAdapter() should reject an invalid URL")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("parseRetryAfter(30) = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(empty) = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("parseRetryAfter(soon) = %v", got)
	}
}

// fakeSMTP is a minimal SMTP server accepting one message per connection.
type fakeSMTP struct {
	ln         net.Listener
	rcptReply  string
	mu         sync.Mutex
	recipients []string
	messages   []string
}

func startFakeSMTP(t *testing.T, rcptReply string) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTP{ln: ln, rcptReply: rcptReply}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			if s.rcptReply != "" {
				reply(s.rcptReply)
				continue
			}
			s.mu.Lock()
			s.recipients = append(s.recipients, strings.TrimSpace(line[len("RCPT TO:"):]))
			s.mu.Unlock()
			reply("250 OK")
		case cmd == "DATA":
			reply("354 end with <CRLF>.<CRLF>")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.messages = append(s.messages, body.String())
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func newEmail(t *testing.T, port int) *EmailAdapter {
	t.Helper()
	a, err := NewEmailAdapter(EmailConfig{
		Host:      "127.0.0.1",
		Port:      port,
		From:      "noreply@example.com",
		Addresses: map[string]string{"alice": "alice@example.com"},
	}, nil)
	if err != nil {
		t.Fatalf("NewEmailAdapter() error = %v", err)
	}
	return a
}

func TestEmailAdapter_Delivers(t *testing.T) {
	srv := startFakeSMTP(t, "")
	a := newEmail(t, srv.port())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := a.Deliver(ctx, testNotification())
	if !res.Delivered {
		t.Fatalf("Deliver() = %+v", res)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.recipients) != 1 || srv.recipients[0] != "<alice@example.com>" {
		t.Errorf("recipients = %v", srv.recipients)
	}
	if len(srv.messages) != 1 || !strings.Contains(srv.messages[0], "Subject: Security alert: new login") {
		t.Errorf("messages = %v", srv.messages)
	}
}

func TestEmailAdapter_Failures(t *testing.T) {
	tests := []struct {
		name          string
		rcptReply     string
		recipient     string
		wantTransient bool
	}{
		{"mailbox unavailable", "550 no such user", "alice", false},
		{"greylisted", "451 try again later", "alice", true},
		{"unknown recipient", "", "bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := startFakeSMTP(t, tt.rcptReply)
			n := testNotification()
			n.RecipientID = tt.recipient

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			res := newEmail(t, srv.port()).Deliver(ctx, n)
			if res.Delivered || res.Transient != tt.wantTransient {
				t.Errorf("Deliver() = %+v, want transient=%v", res, tt.wantTransient)
			}
		})
	}
}

func TestEmailAdapter_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	res := newEmail(t, port).Deliver(context.Background(), testNotification())
	if res.Delivered || !res.Transient {
		t.Errorf("Deliver() = %+v, want transient failure", res)
	}
}

func TestEmailConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EmailConfig
		wantErr bool
	}{
		{"valid", EmailConfig{Host: "smtp.example.com", Port: 587, From: "a@example.com"}, false},
		{"no host", EmailConfig{Port: 587, From: "a@example.com"}, true},
		{"bad port", EmailConfig{Host: "h", Port: 70000, From: "a@example.com"}, true},
		{"bad from", EmailConfig{Host: "h", Port: 25, From: "nope"}, true},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestHeaderSafe(t *testing.T) {
	if got := headerSafe("Hi\r\nBcc: x@example.com"); strings.ContainsAny(got, "\r\n") {
		t.Errorf("headerSafe() = %q", got)
	}
}
