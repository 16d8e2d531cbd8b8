// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// TokenPurpose tags what a verification token may be used for.
type TokenPurpose string

const (
	PurposeRegistration  TokenPurpose = "registration"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p TokenPurpose) Valid() bool {
	switch p {
	case PurposeRegistration, PurposePasswordReset:
		return true
	}
	return false
}

// VerificationToken is a single-use token bound to an email address.
// Only the SHA256 hash of the token is stored.
type VerificationToken struct { //nolint:govet // fieldalignment: readability over optimization
	TokenHash string       `db:"token_hash" json:"-"`
	Email     string       `db:"email" json:"email"`
	Purpose   TokenPurpose `db:"purpose" json:"purpose"`
	ExpiresAt time.Time    `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// ExpiredAt reports whether the token is no longer valid at now.
func (t *VerificationToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
