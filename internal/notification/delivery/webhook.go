// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
	"github.com/tomtom215/beacon/internal/notification"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when a
// secret is configured.
const SignatureHeader = "X-Beacon-Signature"

// WebhookConfig configures the webhook adapter.
type WebhookConfig struct {
	URL     string            `koanf:"url"`
	Secret  string            `koanf:"secret"`
	Headers map[string]string `koanf:"headers"`
	Timeout time.Duration     `koanf:"timeout"`

	// RatePerSecond and Burst bound outbound requests.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`

	// The breaker opens after FailureThreshold consecutive transient
	// failures and probes again after OpenTimeout.
	FailureThreshold uint32        `koanf:"failure_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// DefaultWebhookConfig returns defaults with no URL set.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:          10 * time.Second,
		RatePerSecond:    10,
		Burst:            20,
		FailureThreshold: 5,
		OpenTimeout:      time.Minute,
	}
}

// WebhookPayload is the JSON body posted for each notification.
type WebhookPayload struct {
	Event        string                     `json:"event"`
	Timestamp    time.Time                  `json:"timestamp"`
	Notification *notification.Notification `json:"notification"`
}

// statusError is an HTTP response the breaker counts as a failure.
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned %d: %s", e.code, e.body)
}

// WebhookAdapter posts notifications to an HTTP endpoint.
type WebhookAdapter struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[int]
	logger  zerolog.Logger
}

// NewWebhookAdapter creates a webhook adapter. The URL is validated here so
// a misconfiguration surfaces at startup.
func NewWebhookAdapter(cfg WebhookConfig) (*WebhookAdapter, error) {
	if err := ValidateWebhookURL(cfg.URL); err != nil {
		return nil, err
	}
	def := DefaultWebhookConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	const cbName = "webhook"
	logger := logging.WithComponent("delivery-webhook")
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().Str("from", stateToString(from)).Str("to", stateToString(to)).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &WebhookAdapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cb:      cb,
		logger:  logger,
	}, nil
}

// Channel implements notification.Adapter.
func (a *WebhookAdapter) Channel() notification.Channel {
	return notification.ChannelWebhook
}

// State returns the breaker state name.
func (a *WebhookAdapter) State() string {
	return stateToString(a.cb.State())
}

// Deliver implements notification.Adapter.
func (a *WebhookAdapter) Deliver(ctx context.Context, n *notification.Notification) notification.DeliveryResult {
	body, err := json.Marshal(WebhookPayload{
		Event:        "notification." + string(n.Type),
		Timestamp:    time.Now().UTC(),
		Notification: n,
	})
	if err != nil {
		return failed(false, "marshal webhook payload: %v", err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return failed(true, "webhook rate limit wait: %v", err)
	}

	status, err := a.cb.Execute(func() (int, error) {
		return a.post(ctx, body)
	})

	var se *statusError
	switch {
	case err == nil && status >= 200 && status < 300:
		return notification.DeliveryResult{Delivered: true}
	case err == nil:
		// 4xx other than 429: the request itself is wrong, retrying will not help
		return failed(false, "webhook returned %d", status)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return failed(true, "webhook circuit open: %v", err)
	case errors.As(err, &se):
		if se.retryAfter > 0 {
			a.logger.Warn().Int("status", se.code).Dur("retry_after", se.retryAfter).Msg("webhook throttled")
		}
		return failed(true, "%v", se)
	default:
		return failed(isTransientNetError(err), "webhook request failed: %v", err)
	}
}

// post sends one request. Transport errors, 429 and 5xx are returned as
// errors so the breaker counts them; other statuses are returned as-is.
func (a *WebhookAdapter) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Beacon-Notifier/1.0")
	for key, value := range a.cfg.Headers {
		req.Header.Set(key, value)
	}
	if a.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(a.cfg.Secret))
		mac.Write(body)
		req.Header.Set(SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		respBody = []byte("(failed to read response)")
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return resp.StatusCode, &statusError{
			code:       resp.StatusCode,
			body:       string(respBody),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.StatusCode, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// isTransientNetError reports whether a transport error is worth retrying.
func isTransientNetError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
