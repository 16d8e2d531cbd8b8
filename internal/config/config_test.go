// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host     string
		expected bool
	}{
		{"", true},
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"app.localhost", true},
		{"example.com", false},
		{"192.168.1.1", false},
		{"localhost.com", false}, // not a real localhost
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsLocalhost(tt.host))
		})
	}
}

func TestBuildBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *Config
		expected string
	}{
		{
			name:     "localhost HTTP default port",
			cfg:      &Config{Server: ServerConfig{Host: "localhost", Port: 80}},
			expected: "http://localhost",
		},
		{
			name:     "localhost HTTP custom port",
			cfg:      &Config{Server: ServerConfig{Host: "localhost", Port: 8080}},
			expected: "http://localhost:8080",
		},
		{
			name:     "remote host default HTTPS port",
			cfg:      &Config{Server: ServerConfig{Host: "example.com", Port: 443}},
			expected: "https://example.com",
		},
		{
			name:     "remote host custom port",
			cfg:      &Config{Server: ServerConfig{Host: "example.com", Port: 8443}},
			expected: "https://example.com:8443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildBaseURL(tt.cfg))
		})
	}
}

func validConfig() *Config {
	return &Config{
		Token:    TokenConfig{TTL: time.Hour, Store: "sqlite"},
		Password: PasswordConfig{Memory: 1024, Iterations: 1, Parallelism: 1},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("unknown store", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token.Store = "memcached"
		assert.ErrorContains(t, cfg.Validate(), "unknown token store")
	})

	t.Run("redis without address", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token.Store = "redis"
		assert.ErrorContains(t, cfg.Validate(), "--redis-addr")
	})

	t.Run("redis with address", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token.Store = "redis"
		cfg.Redis.Addr = "localhost:6379"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("non-positive ttl", func(t *testing.T) {
		cfg := validConfig()
		cfg.Token.TTL = 0
		assert.ErrorContains(t, cfg.Validate(), "TTL")
	})

	t.Run("zero parallelism", func(t *testing.T) {
		cfg := validConfig()
		cfg.Password.Parallelism = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestSecureCookies(t *testing.T) {
	assert.True(t, (&Config{Server: ServerConfig{BaseURL: "https://example.com"}}).SecureCookies())
	assert.False(t, (&Config{Server: ServerConfig{BaseURL: "http://localhost:8080"}}).SecureCookies())
}

func TestFlags(t *testing.T) {
	flags := Flags()

	assert.NotEmpty(t, flags)

	flagNames := make(map[string]bool)
	for _, f := range flags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	for _, name := range []string{
		"host", "port", "base-url", "log-level", "database-dsn",
		"session-cookie-name", "smtp-host", "token-ttl", "token-store",
		"argon2-memory", "redis-addr",
	} {
		assert.True(t, flagNames[name], "should have %s flag", name)
	}
}

func TestNewFromCLI(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, "localhost", cfg.Server.Host)
			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
			assert.Equal(t, "info", cfg.Log.Level)
			assert.Equal(t, "text", cfg.Log.Format)
			assert.Equal(t, "_session", cfg.Session.CookieName)
			assert.Equal(t, 604800, cfg.Session.MaxAge)
			assert.Equal(t, 24*time.Hour, cfg.Token.TTL)
			assert.Equal(t, time.Hour, cfg.Token.PurgeInterval)
			assert.Equal(t, "sqlite", cfg.Token.Store)
			assert.Equal(t, uint32(64*1024), cfg.Password.Memory)
			assert.Equal(t, uint32(3), cfg.Password.Iterations)
			assert.Equal(t, uint8(2), cfg.Password.Parallelism)
			assert.True(t, cfg.Auth.RegistrationOpen)
			assert.True(t, cfg.SMTP.TLS)
			assert.Empty(t, cfg.SMTP.Host)
			assert.NoError(t, cfg.Validate())

			return nil
		},
	}

	err := app.Run(context.Background(), []string{"test"})
	require.NoError(t, err)
}

func TestNewFromCLI_WithCustomValues(t *testing.T) {
	app := &cli.Command{
		Name:  "test",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := NewFromCLI(cmd)

			assert.Equal(t, "0.0.0.0", cfg.Server.Host)
			assert.Equal(t, 9000, cfg.Server.Port)
			assert.Equal(t, "https://example.com", cfg.Server.BaseURL)
			assert.Equal(t, "debug", cfg.Log.Level)
			assert.Equal(t, "./data/test.db", cfg.Database.DSN)
			assert.Equal(t, 30*time.Minute, cfg.Token.TTL)
			assert.Equal(t, "redis", cfg.Token.Store)
			assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
			assert.False(t, cfg.Auth.RegistrationOpen)

			return nil
		},
	}

	args := []string{
		"test",
		"--host", "0.0.0.0",
		"--port", "9000",
		"--base-url", "https://example.com",
		"--log-level", "debug",
		"--database-dsn", "./data/test.db",
		"--token-ttl", "30m",
		"--token-store", "REDIS",
		"--redis-addr", "localhost:6379",
		"--registration-open=false",
	}
	err := app.Run(context.Background(), args)
	require.NoError(t, err)
}
