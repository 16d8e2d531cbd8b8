// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/inviteauth/internal/clock"
	"codeberg.org/oliverandrich/inviteauth/internal/database"
	"codeberg.org/oliverandrich/inviteauth/internal/repository"
	"codeberg.org/oliverandrich/inviteauth/internal/services/token"
	"github.com/urfave/cli/v3"
)

// PurgeTokens deletes expired tokens once and exits.
func PurgeTokens(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	repo := repository.New(db)

	store, closeStore, err := openTokenStore(ctx, cfg, repo)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	n, err := token.NewService(store, clock.System{}, cfg.Token.TTL).PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("failed to purge tokens: %w", err)
	}

	slog.Info("tokens_purged", "count", n, "store", cfg.Token.Store)
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateDown(db.DB); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}

	slog.Info("migration rolled back")
	return nil
}
