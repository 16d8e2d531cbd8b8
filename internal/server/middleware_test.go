// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/oliverandrich/inviteauth/internal/authctx"
	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"codeberg.org/oliverandrich/inviteauth/internal/handlers"
	"codeberg.org/oliverandrich/inviteauth/internal/i18n"
	"codeberg.org/oliverandrich/inviteauth/internal/models"
	"codeberg.org/oliverandrich/inviteauth/internal/repository"
	"codeberg.org/oliverandrich/inviteauth/internal/services/session"
	"codeberg.org/oliverandrich/inviteauth/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessions(t *testing.T) *session.Manager {
	t.Helper()
	m, err := session.NewManager(&config.SessionConfig{CookieName: "_session", MaxAge: 3600}, false)
	require.NoError(t, err)
	return m
}

type failingLoader struct{ err error }

func (f failingLoader) GetUserByID(context.Context, int64) (*models.User, error) {
	return nil, f.err
}

// captureUser returns a handler that records the context user.
func captureUser(got **models.User) echo.HandlerFunc {
	return func(c echo.Context) error {
		*got = authctx.GetUser(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}
}

func TestI18nMiddleware(t *testing.T) {
	require.NoError(t, i18n.Init())
	e := echo.New()

	tests := []struct {
		header string
		want   string
	}{
		{"de-DE,de;q=0.9", "de"},
		{"en-US", "en"},
		{"", "en"},
		{"fr", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Accept-Language"] = tt.header
			}
			c, _ := testutil.NewEchoContextWithHeaders(e, http.MethodGet, "/", nil, headers)

			var got string
			h := i18nMiddleware()(func(c echo.Context) error {
				got = i18n.GetLocale(c.Request().Context())
				return nil
			})
			require.NoError(t, h(c))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMiddleware_NoSession(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	e := echo.New()
	c, _ := testutil.NewEchoContext(e, http.MethodGet, "/", nil)

	var got *models.User
	require.NoError(t, AuthMiddleware(newSessions(t), repo)(captureUser(&got))(c))
	assert.Nil(t, got)
}

func TestAuthMiddleware_ValidSession(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	user := testutil.NewTestUser(t, repo, "alice@example.com")
	sessions := newSessions(t)

	cookie, err := sessions.Create(user.ID, user.Email)
	require.NoError(t, err)

	e := echo.New()
	c, _ := testutil.NewEchoContext(e, http.MethodGet, "/", nil)
	c.Request().AddCookie(cookie)

	var got *models.User
	require.NoError(t, AuthMiddleware(sessions, repo)(captureUser(&got))(c))
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "alice@example.com", got.Email)
}

func TestAuthMiddleware_TamperedCookie(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	e := echo.New()
	c, _ := testutil.NewEchoContext(e, http.MethodGet, "/", nil)
	c.Request().AddCookie(&http.Cookie{Name: "_session", Value: "garbage"})

	var got *models.User
	require.NoError(t, AuthMiddleware(newSessions(t), repo)(captureUser(&got))(c))
	assert.Nil(t, got)
}

func TestAuthMiddleware_DeletedUser(t *testing.T) {
	sessions := newSessions(t)
	cookie, err := sessions.Create(99, "gone@example.com")
	require.NoError(t, err)

	for _, loadErr := range []error{repository.ErrNotFound, errors.New("db down")} {
		e := echo.New()
		c, _ := testutil.NewEchoContext(e, http.MethodGet, "/", nil)
		c.Request().AddCookie(cookie)

		var got *models.User
		require.NoError(t, AuthMiddleware(sessions, failingLoader{err: loadErr})(captureUser(&got))(c))
		assert.Nil(t, got)
	}
}

func TestRequireAuth(t *testing.T) {
	require.NoError(t, i18n.Init())
	e := echo.New()
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	c, _ := testutil.NewEchoContext(e, http.MethodGet, "/", nil)
	err := RequireAuth()(next)(c)
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
	assert.Equal(t, "Not logged in", he.Message)

	c, rec := testutil.NewEchoContext(e, http.MethodGet, "/", nil)
	ctx := authctx.WithUser(c.Request().Context(), &models.User{ID: 1})
	c.SetRequest(c.Request().WithContext(ctx))
	require.NoError(t, RequireAuth()(next)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupMiddleware(t *testing.T) {
	require.NoError(t, i18n.Init())
	e := echo.New()
	e.HTTPErrorHandler = handlers.HTTPErrorHandler
	setupMiddleware(e, &config.Config{Server: config.ServerConfig{MaxBodySize: 1}}, nil)
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/panic", func(echo.Context) error { panic("boom") })

	t.Run("headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})

	t.Run("request id is propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(echo.HeaderXRequestID, "abc-123")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("panic recovered", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
