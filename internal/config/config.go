// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"fmt"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

var configFile = altsrc.StringSourcer("config.toml")

type Config struct { //nolint:govet // fieldalignment not critical for config structs
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Session  SessionConfig
	SMTP     SMTPConfig
	Token    TokenConfig
	Password PasswordConfig
	Auth     AuthConfig
	Redis    RedisConfig
}

type ServerConfig struct { //nolint:govet // fieldalignment not critical for config structs
	Host        string
	Port        int
	BaseURL     string
	MaxBodySize int // in MB
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

type DatabaseConfig struct {
	DSN string
}

type SessionConfig struct { //nolint:govet // fieldalignment not critical
	CookieName string // Session cookie name
	MaxAge     int    // Session max age in seconds
	HashKey    string // 32-byte hex string for HMAC signing
	BlockKey   string // 32-byte hex string for AES encryption (optional)
}

// SMTPConfig holds outgoing mail settings. An empty Host selects the log-only sender.
type SMTPConfig struct { //nolint:govet // fieldalignment not critical
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
}

// TokenConfig controls verification token lifetime and storage.
type TokenConfig struct {
	TTL           time.Duration
	PurgeInterval time.Duration // 0 disables the background janitor
	Store         string        // sqlite, redis
}

// PasswordConfig holds the Argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

type AuthConfig struct {
	RegistrationOpen bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewFromCLI(cmd *cli.Command) *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:        cmd.String("host"),
			Port:        int(cmd.Int("port")),
			BaseURL:     cmd.String("base-url"),
			MaxBodySize: int(cmd.Int("max-body-size")),
		},
		Log: LogConfig{
			Level:  cmd.String("log-level"),
			Format: cmd.String("log-format"),
		},
		Database: DatabaseConfig{
			DSN: cmd.String("database-dsn"),
		},
		Session: SessionConfig{
			CookieName: cmd.String("session-cookie-name"),
			MaxAge:     int(cmd.Int("session-max-age")),
			HashKey:    cmd.String("session-hash-key"),
			BlockKey:   cmd.String("session-block-key"),
		},
		SMTP: SMTPConfig{
			Host:     cmd.String("smtp-host"),
			Port:     int(cmd.Int("smtp-port")),
			Username: cmd.String("smtp-username"),
			Password: cmd.String("smtp-password"),
			From:     cmd.String("smtp-from"),
			FromName: cmd.String("smtp-from-name"),
			TLS:      cmd.Bool("smtp-tls"),
		},
		Token: TokenConfig{
			TTL:           cmd.Duration("token-ttl"),
			PurgeInterval: cmd.Duration("token-purge-interval"),
			Store:         strings.ToLower(cmd.String("token-store")),
		},
		Password: PasswordConfig{
			Memory:      uint32(cmd.Uint("argon2-memory")),     //nolint:gosec // bounded by flag validation
			Iterations:  uint32(cmd.Uint("argon2-iterations")), //nolint:gosec // bounded by flag validation
			Parallelism: uint8(cmd.Uint("argon2-parallelism")), //nolint:gosec // bounded by flag validation
		},
		Auth: AuthConfig{
			RegistrationOpen: cmd.Bool("registration-open"),
		},
		Redis: RedisConfig{
			Addr:     cmd.String("redis-addr"),
			Password: cmd.String("redis-password"),
			DB:       int(cmd.Int("redis-db")),
			Prefix:   cmd.String("redis-prefix"),
		},
	}

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = buildBaseURL(cfg)
	}

	return cfg
}

// Validate checks settings that cannot be expressed as flag defaults.
func (c *Config) Validate() error {
	switch c.Token.Store {
	case "sqlite", "":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis token store requires --redis-addr")
		}
	default:
		return fmt.Errorf("unknown token store %q", c.Token.Store)
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Password.Parallelism == 0 || c.Password.Iterations == 0 {
		return fmt.Errorf("argon2 iterations and parallelism must be at least 1")
	}
	return nil
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.Server.BaseURL, "https://")
}

func buildBaseURL(cfg *Config) string {
	host := cfg.Server.Host
	port := cfg.Server.Port

	scheme := "http"
	if !IsLocalhost(host) {
		scheme = "https"
	}

	// Hide default ports in URL
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		return fmt.Sprintf("%s://%s", scheme, host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// IsLocalhost checks if the host is a localhost address.
func IsLocalhost(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	// Check for *.localhost subdomains (e.g., app.localhost)
	return strings.HasSuffix(host, ".localhost")
}

func source(env, key string) cli.ValueSourceChain {
	return cli.NewValueSourceChain(cli.EnvVar(env), toml.TOML(key, configFile))
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "host",
			Value:   "localhost",
			Usage:   "Host to bind to",
			Sources: source("HOST", "server.host"),
		},
		&cli.IntFlag{
			Name:    "port",
			Value:   8080,
			Usage:   "Port to listen on",
			Sources: source("PORT", "server.port"),
		},
		&cli.StringFlag{
			Name:    "base-url",
			Usage:   "Base URL for the application",
			Sources: source("BASE_URL", "server.base_url"),
		},
		&cli.IntFlag{
			Name:    "max-body-size",
			Value:   1,
			Usage:   "Maximum request body size in MB",
			Sources: source("MAX_BODY_SIZE", "server.max_body_size"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			Usage:   "Log level (debug, info, warn, error)",
			Sources: source("LOG_LEVEL", "log.level"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Value:   "text",
			Usage:   "Log format (text, json)",
			Sources: source("LOG_FORMAT", "log.format"),
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			Value:   "./data/app.db",
			Usage:   "Database DSN",
			Sources: source("DATABASE_DSN", "database.dsn"),
		},
		// Session flags
		&cli.StringFlag{
			Name:    "session-cookie-name",
			Value:   "_session",
			Usage:   "Session cookie name",
			Sources: source("SESSION_COOKIE_NAME", "session.cookie_name"),
		},
		&cli.IntFlag{
			Name:    "session-max-age",
			Value:   604800, // 7 days in seconds
			Usage:   "Session max age in seconds",
			Sources: source("SESSION_MAX_AGE", "session.max_age"),
		},
		&cli.StringFlag{
			Name:    "session-hash-key",
			Usage:   "Session hash key (32-byte hex, auto-generated if empty in dev)",
			Sources: source("SESSION_HASH_KEY", "session.hash_key"),
		},
		&cli.StringFlag{
			Name:    "session-block-key",
			Usage:   "Session block key for encryption (32-byte hex, optional)",
			Sources: source("SESSION_BLOCK_KEY", "session.block_key"),
		},
		// SMTP flags
		&cli.StringFlag{
			Name:    "smtp-host",
			Usage:   "SMTP host (empty logs emails instead of sending them)",
			Sources: source("SMTP_HOST", "smtp.host"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Usage:   "SMTP port",
			Sources: source("SMTP_PORT", "smtp.port"),
		},
		&cli.StringFlag{
			Name:    "smtp-username",
			Usage:   "SMTP username",
			Sources: source("SMTP_USERNAME", "smtp.username"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Usage:   "SMTP password",
			Sources: source("SMTP_PASSWORD", "smtp.password"),
		},
		&cli.StringFlag{
			Name:    "smtp-from",
			Value:   "noreply@localhost",
			Usage:   "Sender address",
			Sources: source("SMTP_FROM", "smtp.from"),
		},
		&cli.StringFlag{
			Name:    "smtp-from-name",
			Usage:   "Sender display name",
			Sources: source("SMTP_FROM_NAME", "smtp.from_name"),
		},
		&cli.BoolFlag{
			Name:    "smtp-tls",
			Value:   true,
			Usage:   "Require TLS for SMTP",
			Sources: source("SMTP_TLS", "smtp.tls"),
		},
		// Token flags
		&cli.DurationFlag{
			Name:    "token-ttl",
			Value:   24 * time.Hour,
			Usage:   "Lifetime of verification tokens",
			Sources: source("TOKEN_TTL", "token.ttl"),
		},
		&cli.DurationFlag{
			Name:    "token-purge-interval",
			Value:   time.Hour,
			Usage:   "Interval for purging expired tokens (0 disables)",
			Sources: source("TOKEN_PURGE_INTERVAL", "token.purge_interval"),
		},
		&cli.StringFlag{
			Name:    "token-store",
			Value:   "sqlite",
			Usage:   "Token store backend (sqlite, redis)",
			Sources: source("TOKEN_STORE", "token.store"),
		},
		// Password hashing flags
		&cli.UintFlag{
			Name:    "argon2-memory",
			Value:   64 * 1024,
			Usage:   "Argon2id memory cost in KiB",
			Sources: source("ARGON2_MEMORY", "password.memory"),
		},
		&cli.UintFlag{
			Name:    "argon2-iterations",
			Value:   3,
			Usage:   "Argon2id iterations",
			Sources: source("ARGON2_ITERATIONS", "password.iterations"),
		},
		&cli.UintFlag{
			Name:    "argon2-parallelism",
			Value:   2,
			Usage:   "Argon2id parallelism",
			Sources: source("ARGON2_PARALLELISM", "password.parallelism"),
		},
		&cli.BoolFlag{
			Name:    "registration-open",
			Value:   true,
			Usage:   "Accept invite requests",
			Sources: source("REGISTRATION_OPEN", "auth.registration_open"),
		},
		// Redis flags
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address (host:port) for the redis token store",
			Sources: source("REDIS_ADDR", "redis.addr"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Sources: source("REDIS_PASSWORD", "redis.password"),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			Sources: source("REDIS_DB", "redis.db"),
		},
		&cli.StringFlag{
			Name:    "redis-prefix",
			Value:   "vtoken",
			Usage:   "Key prefix for tokens stored in redis",
			Sources: source("REDIS_PREFIX", "redis.prefix"),
		},
	}
}
