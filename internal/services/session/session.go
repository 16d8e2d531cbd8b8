// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package session issues signed session cookies.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/inviteauth/internal/clock"
	"codeberg.org/oliverandrich/inviteauth/internal/config"
	"github.com/gorilla/securecookie"
)

const keyLength = 32

// Data is the payload stored in the session cookie.
type Data struct {
	UserID    int64
	Email     string
	ExpiresAt time.Time
}

// Manager encodes and decodes session cookies.
type Manager struct {
	codec  *securecookie.SecureCookie
	clock  clock.Clock
	name   string
	maxAge int
	secure bool
}

// NewManager creates a session manager. An empty hash key is replaced by
// a random one, which invalidates sessions on restart.
func NewManager(cfg *config.SessionConfig, secure bool) (*Manager, error) {
	hashKey, err := decodeKey(cfg.HashKey)
	if err != nil {
		return nil, fmt.Errorf("invalid session hash key: %w", err)
	}
	if hashKey == nil {
		hashKey = securecookie.GenerateRandomKey(keyLength)
		if hashKey == nil {
			return nil, errors.New("failed to generate session hash key")
		}
		slog.Warn("no session hash key configured, generated a random one")
	}

	blockKey, err := decodeKey(cfg.BlockKey)
	if err != nil {
		return nil, fmt.Errorf("invalid session block key: %w", err)
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(cfg.MaxAge)
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &Manager{
		codec:  codec,
		clock:  clock.System{},
		name:   cfg.CookieName,
		maxAge: cfg.MaxAge,
		secure: secure,
	}, nil
}

// SetClock replaces the clock used for session expiry.
func (m *Manager) SetClock(c clock.Clock) {
	m.clock = c
}

// Create returns a cookie carrying a new session for the user.
func (m *Manager) Create(userID int64, email string) (*http.Cookie, error) {
	data := Data{
		UserID:    userID,
		Email:     email,
		ExpiresAt: m.clock.Now().Add(time.Duration(m.maxAge) * time.Second),
	}
	encoded, err := m.codec.Encode(m.name, data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return m.cookie(encoded, m.maxAge), nil
}

// Parse returns the session carried by r. A missing, invalid or expired
// cookie yields nil without an error.
func (m *Manager) Parse(r *http.Request) (*Data, error) {
	c, err := r.Cookie(m.name)
	if errors.Is(err, http.ErrNoCookie) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data Data
	if err := m.codec.Decode(m.name, c.Value, &data); err != nil {
		return nil, nil //nolint:nilerr // invalid cookies are treated as absent
	}
	if !m.clock.Now().Before(data.ExpiresAt) {
		return nil, nil
	}
	return &data, nil
}

// Clear returns a cookie that removes the session.
func (m *Manager) Clear() *http.Cookie {
	return m.cookie("", -1)
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func decodeKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("must be %d bytes, got %d", keyLength, len(key))
	}
	return key, nil
}

// GenerateKey returns a random hex-encoded key suitable for the config.
func GenerateKey() (string, error) {
	b := make([]byte, keyLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
