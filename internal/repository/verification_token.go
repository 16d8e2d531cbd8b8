// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/models"
)

// CreateVerificationToken stores a new verification token.
func (r *Repository) CreateVerificationToken(ctx context.Context, t *models.VerificationToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_tokens (token_hash, email, purpose, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.TokenHash, t.Email, t.Purpose, t.ExpiresAt.UTC(), t.CreatedAt.UTC())
	return wrapError(err)
}

// GetVerificationToken retrieves a verification token by hash.
func (r *Repository) GetVerificationToken(ctx context.Context, tokenHash string) (*models.VerificationToken, error) {
	var t models.VerificationToken
	err := r.db.GetContext(ctx, &t, `SELECT * FROM verification_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return nil, wrapError(err)
	}
	return &t, nil
}

// DeleteVerificationToken deletes a token by hash. It reports true only
// for the call that actually removed the row.
func (r *Repository) DeleteVerificationToken(ctx context.Context, tokenHash string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpiredVerificationTokens deletes tokens that expired at or before now.
func (r *Repository) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
