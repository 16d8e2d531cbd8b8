// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/inviteauth/internal/repository"
	"github.com/labstack/echo/v4"
)

// Handlers contains the operational HTTP handlers.
type Handlers struct {
	repo *repository.Repository
}

// New creates a new Handlers instance. repo may be nil, which skips the
// database check.
func New(repo *repository.Repository) *Handlers {
	return &Handlers{repo: repo}
}

// Health returns the health status.
func (h *Handlers) Health(c echo.Context) error {
	if h.repo != nil {
		if err := h.repo.DB().PingContext(c.Request().Context()); err != nil {
			slog.ErrorContext(c.Request().Context(), "health_check_failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}
