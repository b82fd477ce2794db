// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package apperr defines the closed set of failure kinds surfaced by beacon.
//
// Every user-triggered write returns either nil or an error whose Kind can be
// recovered with KindOf. Callers branch on the kind, never on message text:
//
//	if apperr.IsKind(err, apperr.KindRateLimited) {
//	    retryAt := apperr.RetryAt(err)
//	    ...
//	}
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure. The set is closed.
type Kind uint8

const (
	// KindUnknown is reported for errors that did not originate in beacon.
	KindUnknown Kind = iota
	// KindNotFound means a template, notification or entry is absent.
	KindNotFound
	// KindRateLimited means a threshold was exceeded. RetryAt carries the earliest retry time.
	KindRateLimited
	// KindValidationFailed means the input to a schema-checked operation was malformed.
	KindValidationFailed
	// KindPersistenceFailure means a durable read or write failed.
	KindPersistenceFailure
	// KindDeliveryFailure means a channel adapter failed.
	KindDeliveryFailure
)

// String returns the stable machine name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindValidationFailed:
		return "validation_failed"
	case KindPersistenceFailure:
		return "persistence_failure"
	case KindDeliveryFailure:
		return "delivery_failure"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "notification.send"
	Message string
	Err     error

	// RetryAt is set for KindRateLimited when the reset time is known.
	RetryAt time.Time

	// Fields holds per-field validation messages for KindValidationFailed.
	Fields map[string]string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

// Unwrap supports errors.Is and errors.As on the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// RateLimited builds a KindRateLimited error carrying the earliest retry time.
func RateLimited(op string, retryAt time.Time, cause error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Err: cause, RetryAt: retryAt, Message: "try again later"}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAt returns the retry time attached to a rate-limited error, or the zero time.
func RetryAt(err error) time.Time {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAt
	}
	return time.Time{}
}
