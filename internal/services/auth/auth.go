// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package auth implements the invite, registration, login and password
// reset use cases.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"codeberg.org/oliverandrich/inviteauth/internal/metrics"
	"codeberg.org/oliverandrich/inviteauth/internal/models"
	"codeberg.org/oliverandrich/inviteauth/internal/repository"
	"codeberg.org/oliverandrich/inviteauth/internal/services/password"
	"codeberg.org/oliverandrich/inviteauth/internal/services/token"
)

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRegistrationClosed = errors.New("registration is closed")
)

// Mailer delivers tokens to users.
type Mailer interface {
	SendInvite(ctx context.Context, to, rawToken string, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, to, rawToken string, expiresAt time.Time) error
}

type Service struct {
	repo             *repository.Repository
	tokens           *token.Service
	hasher           *password.Hasher
	mailer           Mailer
	policy           *PasswordPolicy
	metrics          *metrics.Metrics
	registrationOpen bool

	dummyOnce sync.Once
	dummyHash string
}

func NewService(
	repo *repository.Repository,
	tokens *token.Service,
	hasher *password.Hasher,
	mailer Mailer,
	cfg *config.AuthConfig,
	m *metrics.Metrics,
) *Service {
	return &Service{
		repo:             repo,
		tokens:           tokens,
		hasher:           hasher,
		mailer:           mailer,
		policy:           DefaultPasswordPolicy(),
		metrics:          m,
		registrationOpen: cfg.RegistrationOpen,
	}
}

// Policy returns the password policy.
func (s *Service) Policy() *PasswordPolicy {
	return s.policy
}

// Invite sends a registration token to email. An address that already
// has an account gets no mail, and the caller cannot tell the difference.
func (s *Service) Invite(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if !s.registrationOpen {
		return ErrRegistrationClosed
	}

	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check existing user: %w", err)
	}
	if exists {
		slog.InfoContext(ctx, "invite_skipped", "email", email, "reason", "user_exists")
		return nil
	}

	issued, err := s.tokens.Issue(ctx, email, models.PurposeRegistration)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	s.metrics.TokenIssued(string(models.PurposeRegistration))

	if err := s.mailer.SendInvite(ctx, email, issued.Raw, issued.ExpiresAt); err != nil {
		return fmt.Errorf("failed to send invite: %w", err)
	}

	slog.InfoContext(ctx, "invite_sent", "email", email, "expires_at", issued.ExpiresAt)
	return nil
}

// Register consumes a registration token and creates the user. The
// token is only spent if the user is created.
func (s *Service) Register(ctx context.Context, rawToken, email, plaintext string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Check(plaintext, email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = s.repo.InTx(ctx, func(tx *repository.Repository) error {
		if err := s.consume(ctx, tx, rawToken, email, models.PurposeRegistration); err != nil {
			return err
		}

		exists, err := tx.EmailExists(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to check existing user: %w", err)
		}
		if exists {
			return ErrUserExists
		}

		user, err = tx.CreateUser(ctx, email, hash)
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrUserExists
		}
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "register_success", "user_id", user.ID, "email", email)
	return user, nil
}

// Login checks email and password. Unknown users cost the same hash
// computation as known ones.
func (s *Service) Login(ctx context.Context, email, plaintext string) (*models.User, error) {
	email = token.NormalizeEmail(email)

	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		_, _ = s.hasher.Verify(s.dummy(), plaintext)
		slog.WarnContext(ctx, "login_failed", "email", email, "reason", "user_not_found")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	ok, err := s.hasher.Verify(user.PasswordHash, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		slog.WarnContext(ctx, "login_failed", "email", email, "reason", "invalid_password")
		return nil, ErrInvalidCredentials
	}

	s.rehash(ctx, user, plaintext)

	slog.InfoContext(ctx, "login_success", "user_id", user.ID, "email", email)
	return user, nil
}

// RequestPasswordReset mails a reset token if an account exists. It
// returns nil for unknown addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check existing user: %w", err)
	}
	if !exists {
		slog.InfoContext(ctx, "password_reset_skipped", "email", email, "reason", "user_not_found")
		return nil
	}

	issued, err := s.tokens.Issue(ctx, email, models.PurposePasswordReset)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	s.metrics.TokenIssued(string(models.PurposePasswordReset))

	if err := s.mailer.SendPasswordReset(ctx, email, issued.Raw, issued.ExpiresAt); err != nil {
		return fmt.Errorf("failed to send password reset: %w", err)
	}

	slog.InfoContext(ctx, "password_reset_sent", "email", email)
	return nil
}

// ResetPassword consumes a password reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, rawToken, email, plaintext string) (*models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Check(plaintext, email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = s.repo.InTx(ctx, func(tx *repository.Repository) error {
		if err := s.consume(ctx, tx, rawToken, email, models.PurposePasswordReset); err != nil {
			return err
		}

		user, err = tx.GetUserByEmail(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			// account removed after the token was issued
			return token.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}

		if err := tx.UpdateUserPassword(ctx, user.ID, hash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		user.PasswordHash = hash
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "password_reset_success", "user_id", user.ID, "email", email)
	return user, nil
}

// PurgeExpiredTokens removes expired tokens from the store.
func (s *Service) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.PurgeExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	s.metrics.TokensPurged(n)
	return n, nil
}

// consume validates and spends a token. With the SQL store the delete
// joins tx, so a rollback restores the token.
func (s *Service) consume(ctx context.Context, tx *repository.Repository, rawToken, email string, purpose models.TokenPurpose) error {
	tokens := s.tokens
	if store, ok := tokens.Store().(*repository.Repository); ok && store == s.repo {
		tokens = tokens.WithStore(tx)
	}

	_, err := tokens.ValidateAndConsume(ctx, rawToken, email, purpose)
	var rejected *token.Error
	switch {
	case err == nil:
		s.metrics.TokenConsumed(string(purpose), "ok")
	case errors.As(err, &rejected):
		s.metrics.TokenConsumed(string(purpose), rejected.Kind.String())
		slog.WarnContext(ctx, "token_rejected",
			"email", email, "purpose", purpose, "reason", rejected.Kind.String())
	default:
		s.metrics.TokenConsumed(string(purpose), "error")
	}
	return err
}

// rehash upgrades a hash created with outdated parameters. Failures are
// logged and otherwise ignored.
func (s *Service) rehash(ctx context.Context, user *models.User, plaintext string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(plaintext)
	if err == nil {
		err = s.repo.UpdateUserPassword(ctx, user.ID, hash)
	}
	if err != nil {
		slog.WarnContext(ctx, "password_rehash_failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	slog.InfoContext(ctx, "password_rehashed", "user_id", user.ID)
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("dummy-password-for-timing")
		if err != nil {
			slog.Error("failed to create dummy hash", "error", err)
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

func normalizeEmail(email string) (string, error) {
	email = token.NormalizeEmail(email)
	if !token.ValidEmail(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}
