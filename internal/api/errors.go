// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/beacon/internal/apperr"
	"github.com/tomtom215/beacon/internal/logging"
	"github.com/tomtom215/beacon/internal/security"
)

// WriteError maps err onto a status code and envelope.
//
//	RateLimited        429 + Retry-After
//	auth failures      401
//	permission denied  403
//	NotFound           404
//	ValidationFailed   400 with per-field details
//	PersistenceFailure 500
//	DeliveryFailure    502
//	anything else      500
//
// Server-side failures are logged; their causes are not echoed to clients.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)

	var ae *apperr.Error
	errors.As(err, &ae)

	switch {
	case apperr.IsKind(err, apperr.KindRateLimited):
		if retryAt := apperr.RetryAt(err); !retryAt.IsZero() {
			w.Header().Set("Retry-After", retryAfter(retryAt, time.Now()))
		}
		rw.Error(http.StatusTooManyRequests, ErrCodeTooManyRequests, publicMessage(ae, "too many requests"))
	case errors.Is(err, security.ErrInvalidCredentials):
		rw.Unauthorized(security.ErrInvalidCredentials.Error())
	case errors.Is(err, security.ErrUnauthenticated):
		rw.Unauthorized(security.ErrUnauthenticated.Error())
	case errors.Is(err, security.ErrPermissionDenied):
		rw.Forbidden("permission denied")
	case apperr.IsKind(err, apperr.KindNotFound):
		rw.NotFound(publicMessage(ae, "not found"))
	case apperr.IsKind(err, apperr.KindValidationFailed):
		var details interface{}
		if len(ae.Fields) > 0 {
			details = ae.Fields
		}
		rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, publicMessage(ae, "invalid input"), details)
	case apperr.IsKind(err, apperr.KindPersistenceFailure):
		logging.Ctx(r.Context()).Error().Err(err).Msg("persistence failure")
		rw.Error(http.StatusInternalServerError, ErrCodePersistenceFailure, "storage unavailable")
	case apperr.IsKind(err, apperr.KindDeliveryFailure):
		logging.Ctx(r.Context()).Error().Err(err).Msg("delivery failure")
		rw.Error(http.StatusBadGateway, ErrCodeDeliveryFailure, "delivery failed")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		rw.Error(http.StatusInternalServerError, ErrCodeInternalError, "internal error")
	}
}

// publicMessage prefers the classified message, which never carries causes.
func publicMessage(ae *apperr.Error, fallback string) string {
	if ae != nil && ae.Message != "" {
		return ae.Message
	}
	return fallback
}

// retryAfter renders whole seconds until t, at least 1.
func retryAfter(t, now time.Time) string {
	secs := int64(math.Ceil(t.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
