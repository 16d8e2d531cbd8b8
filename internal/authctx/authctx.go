// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package authctx carries the authenticated user through request contexts.
package authctx

import (
	"context"

	"codeberg.org/oliverandrich/inviteauth/internal/models"
)

type userKey struct{}

// WithUser returns a copy of ctx that carries user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// GetUser returns the authenticated user from the context, or nil if not authenticated.
func GetUser(ctx context.Context) *models.User {
	if user, ok := ctx.Value(userKey{}).(*models.User); ok {
		return user
	}
	return nil
}

// IsAuthenticated returns true if the context has an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return GetUser(ctx) != nil
}
