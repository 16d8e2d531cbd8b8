// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/clock"
	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"codeberg.org/oliverandrich/inviteauth/internal/handlers"
	"codeberg.org/oliverandrich/inviteauth/internal/metrics"
	"codeberg.org/oliverandrich/inviteauth/internal/repository"
	"codeberg.org/oliverandrich/inviteauth/internal/repository/redistore"
	"codeberg.org/oliverandrich/inviteauth/internal/services/token"
	"codeberg.org/oliverandrich/inviteauth/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (o *outbox) SendInvite(_ context.Context, to, rawToken string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tokens == nil {
		o.tokens = map[string]string{}
	}
	o.tokens[to] = rawToken
	return nil
}

func (o *outbox) SendPasswordReset(ctx context.Context, to, rawToken string, expiresAt time.Time) error {
	return o.SendInvite(ctx, to, rawToken, expiresAt)
}

func (o *outbox) token(to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[to]
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{BaseURL: "http://localhost:8080", MaxBodySize: 1},
		Session:  config.SessionConfig{CookieName: "_session", MaxAge: 3600},
		Token:    config.TokenConfig{TTL: time.Hour, Store: "sqlite"},
		Password: config.PasswordConfig{Memory: 1024, Iterations: 1, Parallelism: 1},
		Auth:     config.AuthConfig{RegistrationOpen: true},
	}
}

type testApp struct {
	*App
	repo  *repository.Repository
	mail  *outbox
	clock *clock.Fake
}

func newTestApp(t *testing.T, store func(deps *Deps)) *testApp {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	reg := prometheus.NewRegistry()
	mail := &outbox{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	deps := Deps{
		Repo:    repo,
		Store:   repo,
		Mailer:  mail,
		Metrics: metrics.New(reg, reg),
		Clock:   clk,
	}
	if store != nil {
		store(&deps)
	}

	app, err := New(testConfig(), deps)
	require.NoError(t, err)
	return &testApp{App: app, repo: repo, mail: mail, clock: clk}
}

func (a *testApp) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = testutil.NewRequest(method, path, strings.NewReader(body))
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	return rec
}

func credentials(tok, email, pw string) string {
	b, _ := json.Marshal(map[string]string{"token": tok, "email": email, "password": pw})
	return string(b)
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRoutes_RegistrationFlow(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodPost, "/auth/invite", `{"email":" Alice@Example.com "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Verification email sent"}`, rec.Body.String())

	tok := app.mail.token("alice@example.com")
	require.Len(t, tok, 64)

	rec = app.do(t, http.MethodPost, "/auth/register", credentials(tok, "alice@example.com", testutil.TestPassword))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := findCookie(rec, "_session")
	require.NotNil(t, cookie)

	rec = app.do(t, http.MethodGet, "/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"alice@example.com"`)

	// A consumed token cannot register a second time.
	rec = app.do(t, http.MethodPost, "/auth/register", credentials(tok, "alice@example.com", testutil.TestPassword))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"status_code":403,"message":"Invalid token"}`, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/auth/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := findCookie(rec, "_session")
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	rec = app.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"`+testutil.TestPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, findCookie(rec, "_session"))
}

func TestRoutes_ExpiredToken(t *testing.T) {
	app := newTestApp(t, nil)

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, "/auth/invite", `{"email":"bob@example.com"}`).Code)
	tok := app.mail.token("bob@example.com")

	app.clock.Advance(2 * time.Hour)

	rec := app.do(t, http.MethodPost, "/auth/register", credentials(tok, "bob@example.com", testutil.TestPassword))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"status_code":403,"message":"Token expired"}`, rec.Body.String())
}

func TestRoutes_PasswordReset(t *testing.T) {
	app := newTestApp(t, nil)
	testutil.NewTestUser(t, app.repo, "carol@example.com")

	rec := app.do(t, http.MethodPost, "/auth/password-reset/request", `{"email":"carol@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	tok := app.mail.token("carol@example.com")
	require.NotEmpty(t, tok)

	newPassword := "another-Strong-passphrase-7"
	rec = app.do(t, http.MethodPost, "/auth/password-reset", credentials(tok, "carol@example.com", newPassword))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPost, "/auth/login", `{"email":"carol@example.com","password":"`+newPassword+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_MeRequiresSession(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodGet, "/auth/me", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status_code":401,"message":"Not logged in"}`, rec.Body.String())
}

func TestRoutes_NotFound(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 404, resp.StatusCode)
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t, nil)

	rec := app.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, "/auth/invite", `{"email":"dave@example.com"}`).Code)

	rec = app.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `inviteauth_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, `inviteauth_token_issued_total{purpose="registration"} 1`)
}

func TestRoutes_RedisStore(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	app := newTestApp(t, func(deps *Deps) {
		deps.Store = redistore.New(client, "vtoken")
	})

	require.Equal(t, http.StatusOK, app.do(t, http.MethodPost, "/auth/invite", `{"email":"erin@example.com"}`).Code)
	tok := app.mail.token("erin@example.com")
	assert.True(t, m.Exists("vtoken:"+token.HashRaw(tok)))

	rec := app.do(t, http.MethodPost, "/auth/register", credentials(tok, "erin@example.com", testutil.TestPassword))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, m.Exists("vtoken:"+token.HashRaw(tok)))
}

func TestNew_InvalidSessionKey(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	cfg := testConfig()
	cfg.Session.HashKey = "not-hex"

	_, err := New(cfg, Deps{Repo: repo, Store: repo, Mailer: &outbox{}, Clock: clock.System{}})

	assert.ErrorContains(t, err, "invalid session hash key")
}
