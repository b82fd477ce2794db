// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package logging

import (
	"strings"
)

// Redacted replaces values whose key names a secret.
const Redacted = "[REDACTED]"

var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"new_password":  {},
	"secret":        {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"cookie":        {},
	"credentials":   {},
}

// IsSensitiveKey reports whether a field or detail key names a secret.
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// Mask keeps the first and last four characters of an identifier.
// Example: "3f2b8c1e-9d7a-4e51-b0c2-6a4f1d9e8b7c" -> "3f2b...8b7c"
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 12 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// MaskEmail keeps the first two characters of the local part and the domain.
// Example: "ada.lovelace@example.com" -> "ad***@example.com"
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return Mask(email)
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return "***" + domain
	}
	return local[:2] + "***" + domain
}

// RedactDetails returns a copy of details with secret-named values replaced.
// Nested maps are redacted recursively; a nil map stays nil.
func RedactDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = RedactDetails(nested)
			continue
		}
		out[k] = v
	}
	return out
}
