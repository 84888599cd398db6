// Package auth implements credential hashing, bearer token issuance and
// verification, and the request authentication pipeline.
package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// bcryptMaxInput is the number of bytes bcrypt reads from a password.
const bcryptMaxInput = 72

var (
	// ErrCorruptHash indicates a stored hash in a known format whose contents
	// cannot be used for verification.
	ErrCorruptHash = errors.New("corrupt password hash")
	// ErrInvalidCost indicates a bcrypt cost outside the supported range.
	ErrInvalidCost = errors.New("invalid bcrypt cost")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	// Hash returns a salted one-way hash of plaintext.
	Hash(plaintext string) (string, error)
	// Verify reports whether plaintext produced stored.
	Verify(plaintext, stored string) (bool, error)
}

// BcryptHasher hashes passwords with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt Hasher with the given cost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of plaintext.
// Inputs longer than bcrypt's 72-byte window are pre-hashed so that every
// byte of the password contributes to the result.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

// Verify checks plaintext against a stored hash of either supported scheme.
func (h *BcryptHasher) Verify(plaintext, stored string) (bool, error) {
	return VerifyPassword(plaintext, stored)
}

// NewHasher returns the Hasher for a configured scheme name.
func NewHasher(scheme string, bcryptCost int) (Hasher, error) {
	switch strings.ToLower(scheme) {
	case "", "bcrypt":
		return NewBcryptHasher(bcryptCost)
	case "argon2id":
		return NewArgon2Hasher(), nil
	default:
		return nil, fmt.Errorf("unsupported password scheme %q", scheme)
	}
}

// VerifyPassword checks plaintext against a bcrypt or Argon2id hash.
// Hashes in an unknown or malformed format never match and return no error.
func VerifyPassword(plaintext, stored string) (bool, error) {
	switch {
	case isBcryptHash(stored):
		return verifyBcrypt(plaintext, stored)
	case strings.HasPrefix(stored, argon2Prefix):
		return verifyArgon2(plaintext, stored)
	default:
		return false, nil
	}
}

func verifyBcrypt(plaintext, stored string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(stored), bcryptInput(plaintext))
	if err == nil {
		return true, nil
	}

	// Format and version problems are non-matches; anything else (bad cost,
	// undecodable salt) means the stored value itself is damaged.
	var prefixErr bcrypt.InvalidHashPrefixError
	var versionErr bcrypt.HashVersionTooNewError
	switch {
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword),
		errors.Is(err, bcrypt.ErrHashTooShort),
		errors.As(err, &prefixErr),
		errors.As(err, &versionErr):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrCorruptHash, err)
	}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func bcryptInput(plaintext string) []byte {
	if len(plaintext) <= bcryptMaxInput {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
