// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package token

import "errors"

// Kind classifies why a token was rejected.
type Kind int

const (
	KindMalformed Kind = iota + 1
	KindNotFound
	KindEmailMismatch
	KindPurposeMismatch
	KindExpired
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not_found"
	case KindEmailMismatch:
		return "email_mismatch"
	case KindPurposeMismatch:
		return "purpose_mismatch"
	case KindExpired:
		return "expired"
	}
	return "unknown"
}

var (
	ErrMalformed       = &Error{Kind: KindMalformed}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrEmailMismatch   = &Error{Kind: KindEmailMismatch}
	ErrPurposeMismatch = &Error{Kind: KindPurposeMismatch}
	ErrExpired         = &Error{Kind: KindExpired}

	ErrInvalidEmail   = errors.New("invalid email address")
	ErrInvalidPurpose = errors.New("invalid token purpose")
)

// Error is a token rejection. Callers facing end users must not reveal
// the kind, except for KindExpired.
type Error struct {
	Kind Kind
}

func newError(k Kind) *Error {
	return &Error{Kind: k}
}

func (e *Error) Error() string {
	return "verification token rejected: " + e.Kind.String()
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Expired reports whether the rejection may be shown as "expired".
func (e *Error) Expired() bool {
	return e.Kind == KindExpired
}
