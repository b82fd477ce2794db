// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package security

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Password rules reported in a Violation.
const (
	RuleMinLength          = "min_length"
	RuleUppercase          = "uppercase"
	RuleLowercase          = "lowercase"
	RuleDigit              = "digit"
	RuleSpecial            = "special"
	RuleConsecutiveRepeats = "consecutive_repeats"
	RuleCommonPassword     = "common_password"
	RuleUsernameSimilarity = "username_similarity"
)

// PasswordPolicy defines requirements for password strength.
type PasswordPolicy struct {
	MinLength        int  `koanf:"min_length"`
	RequireUppercase bool `koanf:"require_uppercase"`
	RequireLowercase bool `koanf:"require_lowercase"`
	RequireDigit     bool `koanf:"require_digit"`
	RequireSpecial   bool `koanf:"require_special"`

	// MaxConsecutiveRepeats is the longest allowed run of one character (0 = disabled)
	MaxConsecutiveRepeats int `koanf:"max_consecutive_repeats"`

	ForbidCommonPasswords    bool `koanf:"forbid_common_passwords"`
	ForbidUsernameSimilarity bool `koanf:"forbid_username_similarity"`
}

// DefaultPasswordPolicy returns the production policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:                12,
		RequireUppercase:         true,
		RequireLowercase:         true,
		RequireDigit:             true,
		RequireSpecial:           true,
		MaxConsecutiveRepeats:    3,
		ForbidCommonPasswords:    true,
		ForbidUsernameSimilarity: true,
	}
}

// Violation is one rule a password failed.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// PasswordReport is the full result of checking a password.
type PasswordReport struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
	Strength   int         `json:"strength"`
	Label      string      `json:"label"`
}

// Check returns every rule the password violates. An empty result means the
// password is acceptable.
func (p PasswordPolicy) Check(password, username string) []Violation {
	violations := make([]Violation, 0)
	add := func(rule, format string, args ...interface{}) {
		violations = append(violations, Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if n := utf8.RuneCountInString(password); n < p.MinLength {
		add(RuleMinLength, "password must be at least %d characters (got %d)", p.MinLength, n)
	}

	cc := analyzeCharClasses(password)
	if p.RequireUppercase && !cc.upper {
		add(RuleUppercase, "password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !cc.lower {
		add(RuleLowercase, "password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !cc.digit {
		add(RuleDigit, "password must contain at least one digit")
	}
	if p.RequireSpecial && !cc.special {
		add(RuleSpecial, "password must contain at least one special character")
	}
	if p.MaxConsecutiveRepeats > 0 && longestRun(password) > p.MaxConsecutiveRepeats {
		add(RuleConsecutiveRepeats, "password cannot repeat a character more than %d times in a row", p.MaxConsecutiveRepeats)
	}
	if p.ForbidCommonPasswords && isCommonPassword(password) {
		add(RuleCommonPassword, "password is too common and easily guessable")
	}
	if p.ForbidUsernameSimilarity && username != "" && isSimilarToUsername(password, username) {
		add(RuleUsernameSimilarity, "password is too similar to the username")
	}
	return violations
}

// Report checks password and scores its strength.
func (p PasswordPolicy) Report(password, username string) PasswordReport {
	violations := p.Check(password, username)
	strength := Strength(password)
	return PasswordReport{
		Valid:      len(violations) == 0,
		Violations: violations,
		Strength:   strength,
		Label:      StrengthLabel(strength),
	}
}

type charClasses struct {
	upper, lower, digit, special bool
}

func analyzeCharClasses(password string) charClasses {
	var cc charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			cc.upper = true
		case unicode.IsLower(r):
			cc.lower = true
		case unicode.IsDigit(r):
			cc.digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			cc.special = true
		}
	}
	return cc
}

func (cc charClasses) count() int {
	n := 0
	for _, ok := range []bool{cc.upper, cc.lower, cc.digit, cc.special} {
		if ok {
			n++
		}
	}
	return n
}

// longestRun returns the longest run of one repeated character.
func longestRun(s string) int {
	longest, current := 0, 0
	var last rune
	for i, r := range []rune(s) {
		if i > 0 && r == last {
			current++
		} else {
			current = 1
		}
		if current > longest {
			longest = current
		}
		last = r
	}
	return longest
}

// Strength scores a password from 0 (weak) to 4 (excellent) using length,
// character variety and common patterns.
func Strength(password string) int {
	score := 0
	switch n := utf8.RuneCountInString(password); {
	case n >= 20:
		score += 4
	case n >= 16:
		score += 3
	case n >= 12:
		score += 2
	case n >= 8:
		score++
	}
	score += analyzeCharClasses(password).count()
	if hasSequentialChars(password) {
		score--
	}
	if hasKeyboardPattern(password) {
		score--
	}
	if isCommonPassword(password) {
		score = 0
	}

	switch {
	case score >= 8:
		return 4
	case score >= 6:
		return 3
	case score >= 4:
		return 2
	case score >= 2:
		return 1
	default:
		return 0
	}
}

// StrengthLabel names a Strength score.
func StrengthLabel(strength int) string {
	switch strength {
	case 0:
		return "weak"
	case 1:
		return "fair"
	case 2:
		return "good"
	case 3:
		return "strong"
	case 4:
		return "excellent"
	default:
		return "unknown"
	}
}

var commonPasswords = map[string]struct{}{
	"123456": {}, "password": {}, "123456789": {}, "12345678": {}, "12345": {},
	"1234567": {}, "1234567890": {}, "qwerty": {}, "abc123": {}, "password1": {},
	"password123": {}, "admin": {}, "admin123": {}, "letmein": {}, "welcome": {},
	"monkey": {}, "dragon": {}, "master": {}, "login": {}, "princess": {},
	"qwerty123": {}, "passw0rd": {}, "iloveyou": {}, "sunshine": {}, "trustno1": {},
	"111111": {}, "000000": {}, "654321": {}, "superman": {}, "football": {},
	"baseball": {}, "shadow": {}, "secret": {}, "changeme": {}, "default": {},
	"test": {}, "guest": {}, "root": {}, "pass": {}, "administrator": {},
	"p@ssw0rd": {}, "p@ssword": {}, "pa55word": {}, "password1!": {}, "welcome1": {},
	"welcome123": {}, "qwertyuiop": {}, "asdfghjkl": {}, "zxcvbnm": {}, "1qaz2wsx": {},
	"abcd1234": {}, "1q2w3e4r": {}, "123123": {}, "test123": {}, "password@123": {},
	"welcome@123": {}, "administrator123": {}, "beacon": {}, "beacon123": {}, "compliance": {},
}

func isCommonPassword(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}

// isSimilarToUsername reports whether the password contains the username,
// its reverse, or a leetspeak spelling of it.
func isSimilarToUsername(password, username string) bool {
	lowerPass := strings.ToLower(password)
	lowerUser := strings.ToLower(username)
	if len(lowerUser) < 3 {
		return lowerPass == lowerUser
	}

	if strings.Contains(lowerPass, lowerUser) || strings.Contains(lowerUser, lowerPass) {
		return true
	}
	if strings.Contains(lowerPass, reverse(lowerUser)) {
		return true
	}
	leet := strings.NewReplacer("a", "@", "e", "3", "i", "1", "o", "0", "s", "$", "t", "7").Replace(lowerUser)
	return strings.Contains(lowerPass, leet)
}

// hasSequentialChars reports runs like "abc" or "321".
func hasSequentialChars(password string) bool {
	runes := []rune(strings.ToLower(password))
	run := 0
	for i := 1; i < len(runes); i++ {
		if d := runes[i] - runes[i-1]; d == 1 || d == -1 {
			run++
			if run >= 2 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func hasKeyboardPattern(password string) bool {
	lower := strings.ToLower(password)
	for _, pattern := range []string{"qwerty", "asdf", "zxcv", "qazwsx", "1qaz", "2wsx", "qweasd"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
