// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package notification

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// placeholder matches {name} and dotted {user.name} tokens.
var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\}`)

// Render substitutes {name} tokens in pattern from data. Dotted names walk
// nested maps. Tokens without a value are left verbatim.
func Render(pattern string, data map[string]interface{}) string {
	if !strings.Contains(pattern, "{") {
		return pattern
	}
	return placeholder.ReplaceAllStringFunc(pattern, func(token string) string {
		value, ok := lookup(data, token[1:len(token)-1])
		if !ok {
			return token
		}
		return formatValue(value)
	})
}

func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(time.RFC3339)
	case float64:
		// JSON numbers decode as float64; print integers without a fraction
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Registry holds notification templates by type.
type Registry struct {
	mu        sync.RWMutex
	templates map[Type]Template
}

// NewRegistry creates a registry preloaded with templates.
func NewRegistry(templates ...Template) *Registry {
	r := &Registry{templates: make(map[Type]Template, len(templates))}
	for _, t := range templates {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the template for t.Type.
func (r *Registry) Register(t Template) {
	t.DefaultChannels = append([]Channel(nil), t.DefaultChannels...)
	r.mu.Lock()
	r.templates[t.Type] = t
	r.mu.Unlock()
}

// Get returns the active template for typ.
func (r *Registry) Get(typ Type) (Template, bool) {
	r.mu.RLock()
	t, ok := r.templates[typ]
	r.mu.RUnlock()
	if !ok || !t.Active {
		return Template{}, false
	}
	t.DefaultChannels = append([]Channel(nil), t.DefaultChannels...)
	return t, true
}

// Deactivate disables a template. It reports whether the type was registered.
func (r *Registry) Deactivate(typ Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[typ]
	if !ok {
		return false
	}
	t.Active = false
	r.templates[typ] = t
	return true
}

// Types returns every registered type, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.templates))
	for typ := range r.templates {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() []Template {
	return []Template{
		{
			Type:            TypeAssessmentDue,
			TitlePattern:    "Assessment due: {assessment}",
			BodyPattern:     "{assessment} for {organization} is due on {dueDate}.",
			DefaultChannels: []Channel{ChannelInApp, ChannelEmail},
			DefaultPriority: PriorityNormal,
			Active:          true,
		},
		{
			Type:            TypeAssessmentCompleted,
			TitlePattern:    "Assessment completed: {assessment}",
			BodyPattern:     "{actor} completed {assessment} with a score of {score}.",
			DefaultChannels: []Channel{ChannelInApp},
			DefaultPriority: PriorityLow,
			Active:          true,
		},
		{
			Type:            TypeIncidentReported,
			TitlePattern:    "Incident reported: {title}",
			BodyPattern:     "{actor} reported a {severity} incident: {summary}",
			DefaultChannels: []Channel{ChannelInApp, ChannelEmail, ChannelWebhook},
			DefaultPriority: PriorityUrgent,
			Active:          true,
		},
		{
			Type:            TypeConsentExpiring,
			TitlePattern:    "Consent expiring for {subject}",
			BodyPattern:     "Consent for {purpose} expires on {expiresAt}.",
			DefaultChannels: []Channel{ChannelInApp, ChannelEmail},
			DefaultPriority: PriorityHigh,
			Active:          true,
		},
		{
			Type:            TypeConsentChanged,
			TitlePattern:    "Consent {change} for {subject}",
			BodyPattern:     "{subject} {change} consent for {purpose}.",
			DefaultChannels: []Channel{ChannelInApp},
			DefaultPriority: PriorityNormal,
			Active:          true,
		},
		{
			Type:            TypeSecurityAlert,
			TitlePattern:    "Security alert: {event}",
			BodyPattern:     "{event} on account {account}. {detail}",
			DefaultChannels: []Channel{ChannelInApp, ChannelEmail},
			DefaultPriority: PriorityUrgent,
			Active:          true,
		},
		{
			Type:            TypeTaskAssigned,
			TitlePattern:    "New task: {task}",
			BodyPattern:     "{actor} assigned you {task}.",
			DefaultChannels: []Channel{ChannelInApp},
			DefaultPriority: PriorityNormal,
			Active:          true,
			HighFrequency:   true,
		},
		{
			Type:            TypeCommentAdded,
			TitlePattern:    "{actor} commented",
			BodyPattern:     "{actor} on {resource}: {comment}",
			DefaultChannels: []Channel{ChannelInApp},
			DefaultPriority: PriorityLow,
			Active:          true,
			HighFrequency:   true,
		},
		{
			Type:            TypeSystemUpdate,
			TitlePattern:    "{title}",
			BodyPattern:     "{message}",
			DefaultChannels: []Channel{ChannelInApp},
			DefaultPriority: PriorityLow,
			Active:          true,
		},
		{
			Type:            TypeWelcome,
			TitlePattern:    "Welcome, {name}",
			BodyPattern:     "Hello {name}, your account for {organization} is ready.",
			DefaultChannels: []Channel{ChannelInApp, ChannelEmail},
			DefaultPriority: PriorityNormal,
			Active:          true,
		},
	}
}
