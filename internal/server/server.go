// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/clock"
	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"codeberg.org/oliverandrich/inviteauth/internal/database"
	"codeberg.org/oliverandrich/inviteauth/internal/handlers"
	"codeberg.org/oliverandrich/inviteauth/internal/i18n"
	"codeberg.org/oliverandrich/inviteauth/internal/metrics"
	"codeberg.org/oliverandrich/inviteauth/internal/repository"
	authsvc "codeberg.org/oliverandrich/inviteauth/internal/services/auth"
	"codeberg.org/oliverandrich/inviteauth/internal/services/password"
	"codeberg.org/oliverandrich/inviteauth/internal/services/session"
	"codeberg.org/oliverandrich/inviteauth/internal/services/token"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v3"
)

// Deps are the collaborators of an App.
type Deps struct {
	Repo    *repository.Repository
	Store   token.Store
	Mailer  authsvc.Mailer
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// App is the wired HTTP application.
type App struct {
	Echo     *echo.Echo
	Auth     *authsvc.Service
	Sessions *session.Manager
}

// New wires services, middleware and routes.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if err := i18n.Init(); err != nil {
		return nil, fmt.Errorf("failed to init i18n: %w", err)
	}

	sessions, err := session.NewManager(&cfg.Session, cfg.SecureCookies())
	if err != nil {
		return nil, err
	}

	tokens := token.NewService(deps.Store, deps.Clock, cfg.Token.TTL)
	hasher := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Iterations:  cfg.Password.Iterations,
		Parallelism: cfg.Password.Parallelism,
	})
	auth := authsvc.NewService(deps.Repo, tokens, hasher, deps.Mailer, &cfg.Auth, deps.Metrics)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handlers.HTTPErrorHandler

	setupMiddleware(e, cfg, deps.Metrics)
	setupRoutes(e, deps, auth, sessions)

	return &App{Echo: e, Auth: auth, Sessions: sessions}, nil
}

func setupRoutes(e *echo.Echo, deps Deps, auth *authsvc.Service, sessions *session.Manager) {
	h := handlers.New(deps.Repo)
	ah := handlers.NewAuth(auth, sessions)

	e.GET("/health", h.Health)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	g := e.Group("/auth", AuthMiddleware(sessions, deps.Repo))
	g.POST("/invite", ah.Invite)
	g.POST("/register", ah.Register)
	g.POST("/login", ah.Login)
	g.POST("/logout", ah.Logout)
	g.GET("/me", ah.Me, RequireAuth())
	g.POST("/password-reset/request", ah.RequestPasswordReset)
	g.POST("/password-reset", ah.ResetPassword)
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"token_store", cfg.Token.Store,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("failed to close database", "error", closeErr)
		}
	}()
	repo := repository.New(db)

	store, closeStore, err := openTokenStore(ctx, cfg, repo)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			slog.Error("failed to close token store", "error", closeErr)
		}
	}()

	mailer, err := newMailer(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up email: %w", err)
	}

	app, err := New(cfg, Deps{
		Repo:    repo,
		Store:   store,
		Mailer:  mailer,
		Metrics: metrics.NewDefault(),
		Clock:   clock.System{},
	})
	if err != nil {
		return err
	}

	go runJanitor(ctx, app.Auth, cfg.Token.PurgeInterval)

	return startWithGracefulShutdown(ctx, app.Echo, cfg)
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.NewFromCLI(cmd)
	setupLogger(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func startWithGracefulShutdown(ctx context.Context, e *echo.Echo, cfg *config.Config) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		slog.Info("Server running", "url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
