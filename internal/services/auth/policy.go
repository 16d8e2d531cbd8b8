// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package auth

import (
	"bufio"
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed common_passwords.txt
var commonPasswordsList string

var commonPasswords = loadCommonPasswords(commonPasswordsList)

func loadCommonPasswords(list string) map[string]struct{} {
	set := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(list))
	for scanner.Scan() {
		if p := strings.ToLower(strings.TrimSpace(scanner.Text())); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// PasswordPolicy decides whether a password is strong enough.
type PasswordPolicy struct {
	MinLength int
	// MaxLength bounds the input to the hash function.
	MaxLength           int
	CheckCommon         bool
	CheckUserSimilarity bool
}

// DefaultPasswordPolicy returns the policy used by the service.
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:           12,
		MaxLength:           1024,
		CheckCommon:         true,
		CheckUserSimilarity: true,
	}
}

// PolicyViolation is one failed password rule. Code doubles as the
// translation id.
type PolicyViolation struct {
	Code    string
	Message string
}

// PasswordValidationError lists every rule a password failed.
type PasswordValidationError struct {
	Violations []PolicyViolation
}

func (e *PasswordValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "password validation failed"
	}
	return e.Violations[0].Message
}

// Messages returns the message of every violation.
func (e *PasswordValidationError) Messages() []string {
	messages := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		messages[i] = v.Message
	}
	return messages
}

// Check returns nil or a *PasswordValidationError. userAttributes are
// values such as the email the password must not resemble.
func (p *PasswordPolicy) Check(password string, userAttributes ...string) error {
	var violations []PolicyViolation
	length := utf8.RuneCountInString(password)

	if length < p.MinLength {
		violations = append(violations, PolicyViolation{
			Code:    "password_min_length",
			Message: fmt.Sprintf("Password must be at least %d characters long.", p.MinLength),
		})
	}
	if p.MaxLength > 0 && length > p.MaxLength {
		violations = append(violations, PolicyViolation{
			Code:    "password_max_length",
			Message: fmt.Sprintf("Password must be at most %d characters long.", p.MaxLength),
		})
	}
	if isEntirelyNumeric(password) {
		violations = append(violations, PolicyViolation{
			Code:    "password_numeric",
			Message: "Password cannot be entirely numeric.",
		})
	}
	if p.CheckCommon && isCommonPassword(password) {
		violations = append(violations, PolicyViolation{
			Code:    "password_common",
			Message: "This password is too common.",
		})
	}
	if p.CheckUserSimilarity && isSimilarToAny(password, userAttributes) {
		violations = append(violations, PolicyViolation{
			Code:    "password_similar",
			Message: "Password is too similar to your email address.",
		})
	}

	if len(violations) == 0 {
		return nil
	}
	return &PasswordValidationError{Violations: violations}
}

func isEntirelyNumeric(password string) bool {
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return password != ""
}

func isCommonPassword(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}

// isSimilarToAny also checks the local part of email-like attributes.
func isSimilarToAny(password string, attributes []string) bool {
	pw := strings.ToLower(password)
	for _, attr := range attributes {
		attr = strings.ToLower(attr)
		candidates := []string{attr}
		if local, _, ok := strings.Cut(attr, "@"); ok && len(local) >= 3 {
			candidates = append(candidates, local)
		}
		for _, c := range candidates {
			if c == "" {
				continue
			}
			if strings.Contains(pw, c) || strings.Contains(c, pw) || similarity(pw, c) > 0.7 {
				return true
			}
		}
	}
	return false
}

// similarity is the LCS length relative to the longer string.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return float64(longestCommonSubsequence(a, b)) / float64(max(len(a), len(b)))
}

func longestCommonSubsequence(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
