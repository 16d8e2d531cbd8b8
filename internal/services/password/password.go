// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package password hashes and verifies secrets with Argon2id.
//
// Hashes are encoded in the PHC string format, so the parameters needed
// for verification travel with the hash:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltLength is the number of random salt bytes per hash.
	SaltLength = 16
	// KeyLength is the length of the derived key.
	KeyLength = 32

	algorithm = "argon2id"
)

var (
	// ErrHashing is returned when a hash cannot be produced (e.g. the RNG failed).
	ErrHashing = errors.New("failed to hash password")
	// ErrInvalidHash is returned for structurally corrupt encoded hashes.
	ErrInvalidHash = errors.New("invalid password hash")
	// ErrIncompatibleVersion is returned for hashes from another argon2 version.
	ErrIncompatibleVersion = fmt.Errorf("%w: incompatible argon2 version", ErrInvalidHash)
)

// Params are the Argon2id cost parameters.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns the default cost parameters.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
	}
}

// Hasher hashes passwords with fixed parameters.
type Hasher struct {
	params Params
}

// NewHasher creates a Hasher. Zero fields fall back to the defaults.
func NewHasher(p Params) *Hasher {
	def := DefaultParams()
	if p.Memory == 0 {
		p.Memory = def.Memory
	}
	if p.Iterations == 0 {
		p.Iterations = def.Iterations
	}
	if p.Parallelism == 0 {
		p.Parallelism = def.Parallelism
	}
	return &Hasher{params: p}
}

// Params returns the parameters new hashes are created with.
func (h *Hasher) Params() Params {
	return h.params
}

// Hash derives an encoded hash of plaintext with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: %w", ErrHashing, err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm,
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether candidate matches encoded. A mismatch is not an
// error; only a corrupt encoded hash is.
func Verify(encoded, candidate string) (bool, error) {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}

	//nolint:gosec // key length was checked in decode
	other := argon2.IDKey([]byte(candidate), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(key, other) == 1, nil
}

// Verify is a convenience wrapper around the package-level Verify.
func (h *Hasher) Verify(encoded, candidate string) (bool, error) {
	return Verify(encoded, candidate)
}

// NeedsRehash reports whether encoded was created with parameters other than h's.
func (h *Hasher) NeedsRehash(encoded string) bool {
	p, _, _, err := decode(encoded)
	if err != nil {
		return true
	}
	return p != h.params
}

func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	// "", "argon2id", "v=19", "m=...,t=...,p=...", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithm {
		return p, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return p, nil, nil, ErrIncompatibleVersion
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > 1024 {
		return p, nil, nil, ErrInvalidHash
	}

	return p, salt, key, nil
}
