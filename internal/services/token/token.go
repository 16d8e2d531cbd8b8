// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package token issues and consumes single-use verification tokens.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/clock"
	"codeberg.org/oliverandrich/inviteauth/internal/models"
)

const (
	// Length is the number of random bytes in a token.
	Length = 32
	// DefaultTTL is how long tokens are valid unless configured otherwise.
	DefaultTTL = 24 * time.Hour
)

// ErrNoRecord is returned by a Store when no token matches.
var ErrNoRecord = errors.New("verification token not found")

// Store persists verification tokens.
type Store interface {
	CreateVerificationToken(ctx context.Context, token *models.VerificationToken) error
	GetVerificationToken(ctx context.Context, tokenHash string) (*models.VerificationToken, error)
	// DeleteVerificationToken deletes the token if present and reports
	// whether this call removed it.
	DeleteVerificationToken(ctx context.Context, tokenHash string) (bool, error)
	DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error)
}

// Issued is a freshly issued token. Raw is the bearer credential and is
// only ever available here.
type Issued struct {
	Raw       string
	Email     string
	Purpose   models.TokenPurpose
	ExpiresAt time.Time
}

// Service issues and consumes tokens.
type Service struct {
	store Store
	clock clock.Clock
	ttl   time.Duration
}

// NewService creates a token service. A non-positive ttl selects DefaultTTL.
func NewService(store Store, clk clock.Clock, ttl time.Duration) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: store, clock: clk, ttl: ttl}
}

// WithStore returns a copy of the service backed by store.
func (s *Service) WithStore(store Store) *Service {
	c := *s
	c.store = store
	return &c
}

// Store returns the backing store.
func (s *Service) Store() Store {
	return s.store
}

// TTL returns the token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// NormalizeEmail trims and lower-cases an address for comparison and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a bare address such as
// "alice@example.com". Display-name forms are rejected.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Issue creates and stores a new token for email and purpose.
func (s *Service) Issue(ctx context.Context, email string, purpose models.TokenPurpose) (*Issued, error) {
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPurpose, purpose)
	}

	raw := make([]byte, Length)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	now := s.clock.Now().UTC()
	record := &models.VerificationToken{
		TokenHash: hashID(raw),
		Email:     email,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.CreateVerificationToken(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &Issued{
		Raw:       hex.EncodeToString(raw),
		Email:     email,
		Purpose:   purpose,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// ValidateAndConsume checks raw against the stored token and consumes it.
// It succeeds at most once per token, even under concurrent calls.
// Tokens rejected for mismatch or expiry are left in place.
func (s *Service) ValidateAndConsume(ctx context.Context, raw, email string, purpose models.TokenPurpose) (*models.VerificationToken, error) {
	id, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	tokenHash := hashID(id)

	record, err := s.store.GetVerificationToken(ctx, tokenHash)
	if errors.Is(err, ErrNoRecord) {
		return nil, newError(KindNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if record.Purpose != purpose {
		return nil, newError(KindPurposeMismatch)
	}
	if record.Email != NormalizeEmail(email) {
		return nil, newError(KindEmailMismatch)
	}
	if record.ExpiredAt(s.clock.Now()) {
		return nil, newError(KindExpired)
	}

	deleted, err := s.store.DeleteVerificationToken(ctx, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	if !deleted {
		// consumed concurrently
		return nil, newError(KindNotFound)
	}

	return record, nil
}

// PurgeExpired deletes all tokens that have expired.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredVerificationTokens(ctx, s.clock.Now().UTC())
}

// Decode parses the hex form of a token id.
func Decode(raw string) ([]byte, error) {
	if len(raw) != hex.EncodedLen(Length) {
		return nil, newError(KindMalformed)
	}
	id, err := hex.DecodeString(raw)
	if err != nil {
		return nil, newError(KindMalformed)
	}
	return id, nil
}

// HashRaw returns the storage key for the hex form of a token, or "" if
// raw is malformed.
func HashRaw(raw string) string {
	id, err := Decode(raw)
	if err != nil {
		return ""
	}
	return hashID(id)
}

func hashID(id []byte) string {
	sum := sha256.Sum256(id)
	return hex.EncodeToString(sum[:])
}
