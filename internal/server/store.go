// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"codeberg.org/oliverandrich/inviteauth/internal/repository"
	"codeberg.org/oliverandrich/inviteauth/internal/repository/redistore"
	authsvc "codeberg.org/oliverandrich/inviteauth/internal/services/auth"
	"codeberg.org/oliverandrich/inviteauth/internal/services/email"
	"codeberg.org/oliverandrich/inviteauth/internal/services/token"
	"github.com/redis/go-redis/v9"
)

// openTokenStore returns the configured token store and a function that
// releases it.
func openTokenStore(ctx context.Context, cfg *config.Config, repo *repository.Repository) (token.Store, func() error, error) {
	if cfg.Token.Store != "redis" {
		return repo, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := redistore.New(client, cfg.Redis.Prefix)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return store, client.Close, nil
}

// newMailer returns the SMTP sender, or the log sender without an SMTP host.
func newMailer(cfg *config.Config) (authsvc.Mailer, error) {
	if cfg.SMTP.Host == "" {
		return email.NewLogSender(cfg.Server.BaseURL), nil
	}
	return email.NewService(&cfg.SMTP, cfg.Server.BaseURL)
}
