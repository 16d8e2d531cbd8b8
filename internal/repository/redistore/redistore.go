// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package redistore keeps verification tokens in Redis.
package redistore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/models"
	"codeberg.org/oliverandrich/inviteauth/internal/services/token"
	"github.com/redis/go-redis/v9"
)

// Grace keeps a token readable for a while after it expires so callers
// can still tell an expired token from an unknown one.
const Grace = time.Hour

// ErrDuplicate is returned when a token hash is already stored.
var ErrDuplicate = errors.New("verification token already exists")

// record is the stored JSON form. The hash is the key and is not repeated.
type record struct {
	Email     string              `json:"email"`
	Purpose   models.TokenPurpose `json:"purpose"`
	ExpiresAt time.Time           `json:"expires_at"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store implements token.Store on top of a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ token.Store = (*Store)(nil)

// New creates a Store. An empty prefix selects "vtoken".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "vtoken"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(tokenHash string) string {
	return fmt.Sprintf("%s:%s", s.prefix, tokenHash)
}

// CreateVerificationToken stores t. The key expires Grace after the token.
func (s *Store) CreateVerificationToken(ctx context.Context, t *models.VerificationToken) error {
	payload, err := json.Marshal(record{
		Email:     t.Email,
		Purpose:   t.Purpose,
		ExpiresAt: t.ExpiresAt.UTC(),
		CreatedAt: t.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	ttl := t.ExpiresAt.Sub(t.CreatedAt) + Grace
	ok, err := s.client.SetNX(ctx, s.key(t.TokenHash), payload, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// GetVerificationToken loads a token by hash.
func (s *Store) GetVerificationToken(ctx context.Context, tokenHash string) (*models.VerificationToken, error) {
	payload, err := s.client.Get(ctx, s.key(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, token.ErrNoRecord
	}
	if err != nil {
		return nil, err
	}

	var r record
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &models.VerificationToken{
		TokenHash: tokenHash,
		Email:     r.Email,
		Purpose:   r.Purpose,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}, nil
}

// DeleteVerificationToken removes a token. DEL is atomic, so only one of
// several concurrent callers sees true.
func (s *Store) DeleteVerificationToken(ctx context.Context, tokenHash string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpiredVerificationTokens is a no-op: Redis evicts expired keys.
func (s *Store) DeleteExpiredVerificationTokens(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
