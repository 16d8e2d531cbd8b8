// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/oliverandrich/inviteauth/internal/handlers"
	"codeberg.org/oliverandrich/inviteauth/internal/i18n"
	"codeberg.org/oliverandrich/inviteauth/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = i18n.Init()
}

func TestNew(t *testing.T) {
	_, repo := testutil.NewTestDB(t)

	h := handlers.New(repo)

	assert.NotNil(t, h)
}

func TestHealth(t *testing.T) {
	h := handlers.New(nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Health(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_WithDatabase(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	h := handlers.New(repo)

	c, rec := testutil.NewEchoContext(echo.New(), http.MethodGet, "/health", nil)

	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_DatabaseDown(t *testing.T) {
	db, repo := testutil.NewTestDB(t)
	h := handlers.New(repo)
	require.NoError(t, db.Close())

	c, rec := testutil.NewEchoContext(echo.New(), http.MethodGet, "/health", nil)

	require.NoError(t, h.Health(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}
