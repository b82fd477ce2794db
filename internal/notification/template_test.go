// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package notification

import (
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	due := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		pattern string
		data    map[string]interface{}
		want    string
	}{
		{"substitutes", "Hello {name}", map[string]interface{}{"name": "Ana"}, "Hello Ana"},
		{"missing left verbatim", "Hello {name}", map[string]interface{}{}, "Hello {name}"},
		{"nil data", "Hello {name}", nil, "Hello {name}"},
		{"nil value left verbatim", "Hello {name}", map[string]interface{}{"name": nil}, "Hello {name}"},
		{"repeated token", "{a}-{a}", map[string]interface{}{"a": "x"}, "x-x"},
		{"no tokens", "plain text", map[string]interface{}{"a": "x"}, "plain text"},
		{"dotted", "Hi {user.name}", map[string]interface{}{
			"user": map[string]interface{}{"name": "Bo"},
		}, "Hi Bo"},
		{"dotted missing", "Hi {user.name}", map[string]interface{}{"user": "Bo"}, "Hi {user.name}"},
		{"integer float", "Score {score}", map[string]interface{}{"score": float64(87)}, "Score 87"},
		{"fractional float", "Score {score}", map[string]interface{}{"score": 87.5}, "Score 87.5"},
		{"int", "{n} items", map[string]interface{}{"n": 3}, "3 items"},
		{"time", "Due {at}", map[string]interface{}{"at": due}, "Due 2026-05-01T09:00:00Z"},
		{"nil time pointer", "Due {at}", map[string]interface{}{"at": (*time.Time)(nil)}, "Due "},
		{"braces that are not tokens", "{ name } {1x}", map[string]interface{}{"name": "x"}, "{ name } {1x}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.pattern, tt.data); got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestRegistry_GetOnlyActive(t *testing.T) {
	r := NewRegistry(DefaultTemplates()...)

	if _, ok := r.Get(TypeWelcome); !ok {
		t.Fatal("welcome template should be active")
	}
	if !r.Deactivate(TypeWelcome) {
		t.Fatal("Deactivate() = false for a registered type")
	}
	if _, ok := r.Get(TypeWelcome); ok {
		t.Error("deactivated template should not be returned")
	}
	if r.Deactivate("unknown") {
		t.Error("Deactivate() = true for an unknown type")
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry(DefaultTemplates()...)

	tmpl, _ := r.Get(TypeIncidentReported)
	tmpl.DefaultChannels[0] = "mutated"

	again, _ := r.Get(TypeIncidentReported)
	if again.DefaultChannels[0] != ChannelInApp {
		t.Errorf("registry template mutated through returned copy: %v", again.DefaultChannels)
	}
}

func TestDefaultTemplates(t *testing.T) {
	r := NewRegistry(DefaultTemplates()...)
	types := r.Types()
	if len(types) != 10 {
		t.Fatalf("Types() returned %d types, want 10", len(types))
	}
	for i := 1; i < len(types); i++ {
		if types[i-1] >= types[i] {
			t.Errorf("Types() not sorted: %v", types)
		}
	}

	for _, tmpl := range DefaultTemplates() {
		if len(tmpl.DefaultChannels) == 0 {
			t.Errorf("%s has no default channels", tmpl.Type)
		}
		if tmpl.TitlePattern == "" {
			t.Errorf("%s has no title pattern", tmpl.Type)
		}
	}

	for _, typ := range []Type{TypeTaskAssigned, TypeCommentAdded} {
		tmpl, _ := r.Get(typ)
		if !tmpl.HighFrequency {
			t.Errorf("%s should be high frequency", typ)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRead, false},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusSent, StatusFailed, true},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusSent, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusSent, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
