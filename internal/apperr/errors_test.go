// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var errCause = errors.New("disk full")

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errCause, KindUnknown},
		{"direct", New(KindNotFound, "op", "missing"), KindNotFound},
		{"wrapped", Wrap(KindPersistenceFailure, "store.set", errCause), KindPersistenceFailure},
		{"double wrapped", fmt.Errorf("outer: %w", Wrap(KindDeliveryFailure, "deliver", errCause)), KindDeliveryFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	if err := Wrap(KindNotFound, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestError_UnwrapKeepsCause(t *testing.T) {
	err := Wrap(KindPersistenceFailure, "audit.flush", errCause)
	if !errors.Is(err, errCause) {
		t.Error("errors.Is should find the cause")
	}
	if !strings.Contains(err.Error(), "audit.flush") || !strings.Contains(err.Error(), "persistence_failure") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestRateLimited_CarriesRetryAt(t *testing.T) {
	at := time.Now().Add(time.Minute)
	err := fmt.Errorf("login: %w", RateLimited("security.check", at, nil))

	if !IsKind(err, KindRateLimited) {
		t.Fatal("expected rate limited kind")
	}
	if got := RetryAt(err); !got.Equal(at) {
		t.Errorf("RetryAt() = %v, want %v", got, at)
	}
	if IsKind(err, KindValidationFailed) {
		t.Error("rate limited must be distinguishable from validation failures")
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindNotFound:           "not_found",
		KindRateLimited:        "rate_limited",
		KindValidationFailed:   "validation_failed",
		KindPersistenceFailure: "persistence_failure",
		KindDeliveryFailure:    "delivery_failure",
		KindUnknown:            "unknown",
	}
	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
}
