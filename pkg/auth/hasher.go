package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxInput is the longest password bcrypt accepts
const bcryptMaxInput = 72

// Hasher hashes and verifies passwords
type Hasher interface {
	// Hash returns a storable hash of password
	Hash(password string) (string, error)
	// Verify reports whether password matches hash
	Verify(password, hash string) (bool, error)
	// DummyHash returns a hash that matches nothing, computed at the same cost
	// as real hashes, used to equalize timing for unknown identifiers
	DummyHash() string
}

// BcryptHasher implements password hashing via bcrypt.
// Cost is configurable so security/performance can be tuned by environment.
type BcryptHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     string
}

// NewBcryptHasher creates a bcrypt-based hasher with default fallback cost
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the bcrypt work factor
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash returns the bcrypt hash of password
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(prepare(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify compares password with hash. A mismatch is (false, nil); a malformed
// hash is an error.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), prepare(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to verify password: %w", err)
}

// DummyHash hashes a random secret once and returns it on every call
func (h *BcryptHasher) DummyHash() string {
	h.dummyOnce.Do(func() {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("auth: failed to read random bytes: %v", err))
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(base64.RawURLEncoding.EncodeToString(secret)), h.cost)
		if err != nil {
			panic(fmt.Sprintf("auth: failed to build dummy hash: %v", err))
		}
		h.dummy = string(hashed)
	})
	return h.dummy
}

// prepare maps passwords longer than bcrypt's input limit onto a fixed-size
// digest so the full password always counts
func prepare(password string) []byte {
	if len(password) <= bcryptMaxInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.RawStdEncoding.EncodeToString(sum[:]))
}
