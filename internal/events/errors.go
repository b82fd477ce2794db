// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package events

import "errors"

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// PermanentError marks a failure that retrying cannot fix. The router acks
// such messages instead of retrying them.
type PermanentError struct {
	Message string
	Cause   error
}

// NewPermanentError wraps cause as permanent.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// IsPermanentError reports whether err or anything it wraps is permanent.
func IsPermanentError(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
