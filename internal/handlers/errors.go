// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/inviteauth/internal/i18n"
	authsvc "codeberg.org/oliverandrich/inviteauth/internal/services/auth"
	"codeberg.org/oliverandrich/inviteauth/internal/services/password"
	"codeberg.org/oliverandrich/inviteauth/internal/services/token"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	StatusCode int      `json:"status_code"`
	Message    string   `json:"message"`
	Errors     []string `json:"errors,omitempty"`
}

// respondError writes a localized error payload.
func respondError(c echo.Context, status int, messageID string) error {
	return c.JSON(status, ErrorResponse{
		StatusCode: status,
		Message:    i18n.T(c.Request().Context(), messageID),
	})
}

// apiError maps a service error to its HTTP response. Every token
// rejection except expiry collapses into "Invalid token".
func apiError(c echo.Context, err error, policy *authsvc.PasswordPolicy) error {
	ctx := c.Request().Context()

	var rejected *token.Error
	var weak *authsvc.PasswordValidationError
	switch {
	case errors.As(err, &rejected):
		if rejected.Expired() {
			return respondError(c, http.StatusForbidden, "token_expired")
		}
		return respondError(c, http.StatusForbidden, "invalid_token")
	case errors.As(err, &weak):
		messages := translateViolations(c, weak, policy)
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			StatusCode: http.StatusUnprocessableEntity,
			Message:    messages[0],
			Errors:     messages,
		})
	case errors.Is(err, authsvc.ErrInvalidEmail):
		return respondError(c, http.StatusBadRequest, "invalid_email")
	case errors.Is(err, authsvc.ErrInvalidCredentials):
		return respondError(c, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, authsvc.ErrUserExists):
		return respondError(c, http.StatusConflict, "user_exists")
	case errors.Is(err, authsvc.ErrRegistrationClosed):
		return respondError(c, http.StatusForbidden, "registration_closed")
	case errors.Is(err, password.ErrHashing):
		slog.ErrorContext(ctx, "password_hash_failed", "error", err)
		return respondError(c, http.StatusInternalServerError, "failed_hash")
	case errors.Is(err, password.ErrInvalidHash):
		slog.ErrorContext(ctx, "password_verify_failed", "error", err)
		return respondError(c, http.StatusInternalServerError, "failed_verify")
	default:
		slog.ErrorContext(ctx, "request_failed", "path", c.Path(), "error", err)
		return respondError(c, http.StatusInternalServerError, "internal_error")
	}
}

func translateViolations(c echo.Context, err *authsvc.PasswordValidationError, policy *authsvc.PasswordPolicy) []string {
	data := map[string]any{}
	if policy != nil {
		data["Min"] = policy.MinLength
		data["Max"] = policy.MaxLength
	}
	messages := make([]string, 0, len(err.Violations))
	for _, v := range err.Violations {
		messages = append(messages, i18n.TDefault(c.Request().Context(), v.Code, v.Message, data))
	}
	if len(messages) == 0 {
		messages = append(messages, err.Error())
	}
	return messages
}

// HTTPErrorHandler renders errors that escape handlers, such as unknown
// routes or oversized bodies, in the API error format.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := i18n.T(c.Request().Context(), "internal_error")

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(status)
		}
	} else {
		slog.ErrorContext(c.Request().Context(), "unhandled_error", "path", c.Path(), "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, ErrorResponse{StatusCode: status, Message: message})
}
