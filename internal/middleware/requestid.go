// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/tomtom215/beacon/internal/logging"
)

// Header names.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// inboundID bounds ids accepted from upstream proxies so they are safe to log.
var inboundID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// RequestID keeps a well-formed upstream X-Request-ID or generates one, echoes
// it on the response and stores it in the logging context. The correlation id
// follows X-Correlation-ID when present and defaults to the request id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if !inboundID.MatchString(requestID) {
			requestID = logging.GenerateRequestID()
		}
		correlationID := r.Header.Get(HeaderCorrelationID)
		if !inboundID.MatchString(correlationID) {
			correlationID = requestID
		}

		w.Header().Set(HeaderRequestID, requestID)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request id stored by RequestID.
func GetRequestID(ctx context.Context) string {
	return logging.RequestIDFromContext(ctx)
}
