// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/beacon/internal/logging"
)

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError is the error half of the envelope.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is safe to show to a user
	Message string `json:"message"`

	// Details carries per-field validation messages
	Details interface{} `json:"details,omitempty"`
}

// APIMeta carries request metadata.
type APIMeta struct {
	RequestID  string    `json:"requestId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"durationMs"`
	Count      *int      `json:"count,omitempty"`
}

// Error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodePersistenceFailure = "PERSISTENCE_FAILURE"
	ErrCodeDeliveryFailure    = "DELIVERY_FAILURE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ResponseWriter writes enveloped responses for one request.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter creates a new response writer.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{
		w:         w,
		r:         r,
		startTime: time.Now(),
	}
}

func (rw *ResponseWriter) meta() *APIMeta {
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(rw.startTime).Milliseconds(),
	}
}

// Success writes 200 with data.
func (rw *ResponseWriter) Success(data interface{}) {
	rw.writeJSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// List writes 200 with a slice and its length in meta.
func (rw *ResponseWriter) List(data interface{}, count int) {
	meta := rw.meta()
	meta.Count = &count
	rw.writeJSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: meta})
}

// Created writes 201 with data.
func (rw *ResponseWriter) Created(data interface{}) {
	rw.writeJSON(http.StatusCreated, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// Accepted writes 202 with data.
func (rw *ResponseWriter) Accepted(data interface{}) {
	rw.writeJSON(http.StatusAccepted, APIResponse{Success: true, Data: data, Meta: rw.meta()})
}

// Error writes an error response with the given status code.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.ErrorWithDetails(statusCode, code, message, nil)
}

// ErrorWithDetails writes an error response with additional details.
func (rw *ResponseWriter) ErrorWithDetails(statusCode int, code, message string, details interface{}) {
	rw.writeJSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: rw.meta(),
	})
}

// BadRequest writes a 400 Bad Request error.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Error(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized writes a 401 Unauthorized error.
func (rw *ResponseWriter) Unauthorized(message string) {
	rw.w.Header().Set("WWW-Authenticate", `Bearer realm="beacon"`)
	rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden writes a 403 Forbidden error.
func (rw *ResponseWriter) Forbidden(message string) {
	rw.Error(http.StatusForbidden, ErrCodeForbidden, message)
}

// NotFound writes a 404 Not Found error.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// ServiceUnavailable writes a 503 Service Unavailable error.
func (rw *ResponseWriter) ServiceUnavailable(message string) {
	rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, message)
}

// writeJSON writes JSON response with proper headers.
func (rw *ResponseWriter) writeJSON(statusCode int, data interface{}) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(statusCode)

	if err := json.NewEncoder(rw.w).Encode(data); err != nil {
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteSuccess is a convenience function for writing success responses.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	NewResponseWriter(w, r).Success(data)
}
