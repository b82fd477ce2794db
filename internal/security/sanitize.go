// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var unsafeScheme = regexp.MustCompile(`(?i)(?:javascript|vbscript|data|file)\s*:`)

// Sanitizer cleans free text before it is stored or rendered. The output is
// lossy and is not a substitute for context-aware encoding at render time.
type Sanitizer struct {
	strict *bluemonday.Policy
	html   *bluemonday.Policy
}

// NewSanitizer builds the text and HTML policies. Both are safe for
// concurrent use.
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "blockquote", "pre", "code", "strong", "em", "b", "i")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(false)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &Sanitizer{
		strict: bluemonday.StrictPolicy(),
		html:   p,
	}
}

// Text strips all markup, control characters and unsafe URL schemes and
// returns plain text.
func (s *Sanitizer) Text(in string) string {
	out := stripControl(in)
	out = s.strict.Sanitize(out)
	out = stripControl(html.UnescapeString(out))
	// Unescaping can surface brackets that were entities in the input
	out = strings.NewReplacer("<", "", ">", "").Replace(out)
	out = stripSchemes(out)
	return strings.TrimSpace(out)
}

// HTML keeps a small formatting subset and links with http, https or mailto
// targets.
func (s *Sanitizer) HTML(in string) string {
	return s.html.Sanitize(stripControl(in))
}

// Map sanitizes every string value of m in place and returns it.
func (s *Sanitizer) Map(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			m[k] = s.Text(val)
		case map[string]interface{}:
			m[k] = s.Map(val)
		}
	}
	return m
}

// stripControl removes control characters other than newline and maps tabs
// to spaces.
func stripControl(in string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t':
			return ' '
		case unicode.IsControl(r), r == '\u200b', r == '\ufeff':
			return -1
		}
		return r
	}, in)
}

// stripSchemes repeats until stable so nested schemes like
// "javajavascript:script:" cannot reassemble.
func stripSchemes(in string) string {
	for {
		out := unsafeScheme.ReplaceAllString(in, "")
		if out == in {
			return out
		}
		in = out
	}
}
