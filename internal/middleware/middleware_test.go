// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/metrics"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name        string
		inbound     string
		correlation string
		keep        bool
	}{
		{"generated when absent", "", "", false},
		{"kept when well formed", "req-123", "", true},
		{"replaced when malformed", "bad id\nwith newline", "", false},
		{"correlation header honoured", "req-9", "corr-9", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq, gotCorr string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				gotReq = GetRequestID(r.Context())
				gotCorr = logging.CorrelationIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(HeaderRequestID, tt.inbound)
			}
			if tt.correlation != "" {
				req.Header.Set(HeaderCorrelationID, tt.correlation)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if gotReq == "" || rec.Header().Get(HeaderRequestID) != gotReq {
				t.Fatalf("request id %q not echoed (header %q)", gotReq, rec.Header().Get(HeaderRequestID))
			}
			if tt.keep && gotReq != tt.inbound {
				t.Errorf("request id = %q, want %q", gotReq, tt.inbound)
			}
			if !tt.keep && gotReq == tt.inbound {
				t.Errorf("request id %q should have been replaced", gotReq)
			}
			wantCorr := tt.correlation
			if wantCorr == "" {
				wantCorr = gotReq
			}
			if gotCorr != wantCorr {
				t.Errorf("correlation id = %q, want %q", gotCorr, wantCorr)
			}
		})
	}
}

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Post("/things/{id}/poke", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodPost, "/things/{id}/poke", "202")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/things/"+id+"/poke", nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter delta = %v, want 3", got)
	}
}

func TestPrometheusMetrics_Unmatched(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/known", func(http.ResponseWriter, *http.Request) {})

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")
	before := testutil.ToFloat64(counter)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("unmatched delta = %v, want 1", got)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	prevLevel := zerolog.GlobalLevel()
	logging.SetLogger(logging.NewTestLogger(&buf))
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		logging.SetLogger(prev)
		zerolog.SetGlobalLevel(prevLevel)
	})

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog)
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	out := buf.String()
	for _, want := range []string{`"level":"error"`, `"route":"/boom"`, `"status":503`, `"request_id":"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS expected behind a TLS proxy")
	}
}
