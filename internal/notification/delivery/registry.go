// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package delivery provides the channel adapters that carry notifications
// to recipients:
//   - InApp: pushes to the recipient's live websocket connections
//   - Webhook: JSON POST to an HTTP endpoint behind a circuit breaker
//   - Email: SMTP with optional STARTTLS
//
// Adapters report the outcome in a notification.DeliveryResult and never
// return errors or panic. Transient failures (timeouts, 5xx, 429, an open
// breaker) are flagged so callers can decide whether a retry is worthwhile.
// Credentials are never logged.
package delivery

import (
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"sync"

	"github.com/tomtom215/beacon/internal/notification"
)

// Registry holds one adapter per channel and satisfies
// notification.AdapterSource.
type Registry struct {
	mu       sync.RWMutex
	adapters map[notification.Channel]notification.Adapter
}

// NewRegistry creates a registry with the given adapters.
func NewRegistry(adapters ...notification.Adapter) *Registry {
	r := &Registry{adapters: make(map[notification.Channel]notification.Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its channel.
func (r *Registry) Register(a notification.Adapter) {
	r.mu.Lock()
	r.adapters[a.Channel()] = a
	r.mu.Unlock()
}

// Get retrieves the adapter for a channel.
func (r *Registry) Get(ch notification.Channel) (notification.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}

// List returns all registered channels, sorted.
func (r *Registry) List() []notification.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]notification.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// ValidateEmail validates an email address.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email address is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address format: %s", email)
	}
	return nil
}

// ValidateWebhookURL validates a webhook URL.
func ValidateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("webhook URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("webhook URL must have a host")
	}
	return nil
}

// failed builds a failed result.
func failed(transient bool, format string, args ...interface{}) notification.DeliveryResult {
	return notification.DeliveryResult{Error: fmt.Sprintf(format, args...), Transient: transient}
}
