// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/inviteauth/internal/authctx"
	"codeberg.org/oliverandrich/inviteauth/internal/i18n"
	"codeberg.org/oliverandrich/inviteauth/internal/models"
	authsvc "codeberg.org/oliverandrich/inviteauth/internal/services/auth"
	"codeberg.org/oliverandrich/inviteauth/internal/services/session"
	"github.com/labstack/echo/v4"
)

// AuthHandlers contains handlers for authentication.
type AuthHandlers struct {
	auth     *authsvc.Service
	sessions *session.Manager
}

// NewAuth creates a new AuthHandlers instance.
func NewAuth(auth *authsvc.Service, sessions *session.Manager) *AuthHandlers {
	return &AuthHandlers{auth: auth, sessions: sessions}
}

// EmailRequest is the body of invite and password reset requests.
type EmailRequest struct {
	Email string `json:"email"`
}

// TokenRequest is the body of register and password reset requests.
type TokenRequest struct {
	Token    string `json:"token"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of login requests.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// MessageResponse is a bare confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserResponse carries the current user.
type UserResponse struct {
	Message string       `json:"message,omitempty"`
	User    *models.User `json:"user"`
}

// Invite sends a registration token to an email address.
func (h *AuthHandlers) Invite(c echo.Context) error {
	var req EmailRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request")
	}

	if err := h.auth.Invite(c.Request().Context(), req.Email); err != nil {
		return h.fail(c, err)
	}
	return h.message(c, "verification_email_sent")
}

// Register consumes a registration token, creates the user and logs them in.
func (h *AuthHandlers) Register(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request")
	}

	user, err := h.auth.Register(c.Request().Context(), req.Token, req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.startSession(c, user); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, UserResponse{
		Message: i18n.T(c.Request().Context(), "registered"),
		User:    user,
	})
}

// Login checks credentials and sets the session cookie.
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request")
	}

	user, err := h.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.startSession(c, user); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, UserResponse{User: user})
}

// Logout clears the session cookie.
func (h *AuthHandlers) Logout(c echo.Context) error {
	c.SetCookie(h.sessions.Clear())
	return h.message(c, "logged_out")
}

// Me returns the logged in user.
func (h *AuthHandlers) Me(c echo.Context) error {
	user := authctx.GetUser(c.Request().Context())
	if user == nil {
		return respondError(c, http.StatusUnauthorized, "unauthorized")
	}
	return c.JSON(http.StatusOK, UserResponse{User: user})
}

// RequestPasswordReset mails a reset token. The response does not reveal
// whether the account exists.
func (h *AuthHandlers) RequestPasswordReset(c echo.Context) error {
	var req EmailRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request")
	}

	if err := h.auth.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return h.fail(c, err)
	}
	return h.message(c, "password_reset_sent")
}

// ResetPassword consumes a reset token and sets the new password.
func (h *AuthHandlers) ResetPassword(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, http.StatusBadRequest, "invalid_request")
	}

	if _, err := h.auth.ResetPassword(c.Request().Context(), req.Token, req.Email, req.Password); err != nil {
		return h.fail(c, err)
	}
	return h.message(c, "password_reset_done")
}

func (h *AuthHandlers) startSession(c echo.Context, user *models.User) error {
	cookie, err := h.sessions.Create(user.ID, user.Email)
	if err != nil {
		return err
	}
	c.SetCookie(cookie)
	slog.DebugContext(c.Request().Context(), "session_created", "user_id", user.ID)
	return nil
}

func (h *AuthHandlers) message(c echo.Context, messageID string) error {
	return c.JSON(http.StatusOK, MessageResponse{
		Message: i18n.T(c.Request().Context(), messageID),
	})
}

func (h *AuthHandlers) fail(c echo.Context, err error) error {
	return apiError(c, err, h.auth.Policy())
}
