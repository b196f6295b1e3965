package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a token has no live session
var ErrNotFound = errors.New("session not found")

// Session is a server-held record binding a token to an authenticated user
type Session struct {
	// Token is the bearer value handed to the client. It is never persisted.
	Token     string `json:"-"`
	TokenHash string `json:"token_hash"`

	UserID      int64    `json:"user_id"`
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`

	CreatedAt           time.Time     `json:"created_at"`
	LastAccessedAt      time.Time     `json:"last_accessed_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
	MaxInactiveInterval time.Duration `json:"max_inactive_interval"`
	RememberMe          bool          `json:"remember_me"`
}

// NewSession describes a session to create
type NewSession struct {
	UserID              int64
	Username            string
	Authorities         []string
	MaxInactiveInterval time.Duration
	RememberMe          bool
}

// Validate checks the request before any state is touched
func (n NewSession) Validate() error {
	if n.UserID <= 0 {
		return fmt.Errorf("invalid user id %d", n.UserID)
	}
	if n.MaxInactiveInterval <= 0 {
		return fmt.Errorf("max inactive interval must be positive, got %s", n.MaxInactiveInterval)
	}
	return nil
}

// Expired reports whether the session is past its inactivity window
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy safe to hand to a caller
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Authorities = append([]string(nil), s.Authorities...)
	return &c
}

// touch moves the inactivity window forward from now
func (s *Session) touch(now time.Time) {
	s.LastAccessedAt = now
	s.ExpiresAt = now.Add(s.MaxInactiveInterval)
}

func newRecord(token, hash string, req NewSession, now time.Time) *Session {
	return &Session{
		Token:               token,
		TokenHash:           hash,
		UserID:              req.UserID,
		Username:            req.Username,
		Authorities:         append([]string(nil), req.Authorities...),
		CreatedAt:           now,
		LastAccessedAt:      now,
		ExpiresAt:           now.Add(req.MaxInactiveInterval),
		MaxInactiveInterval: req.MaxInactiveInterval,
		RememberMe:          req.RememberMe,
	}
}
