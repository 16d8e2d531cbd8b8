// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired tokens.
type Purger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// runJanitor purges expired tokens every interval until ctx is done.
func runJanitor(ctx context.Context, p Purger, interval time.Duration) {
	if interval <= 0 {
		slog.Info("token janitor disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, p)
		}
	}
}

func purgeOnce(ctx context.Context, p Purger) {
	n, err := p.PurgeExpiredTokens(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "token_purge_failed", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "tokens_purged", "count", n)
	}
}
