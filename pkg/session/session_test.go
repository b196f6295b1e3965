package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newRecord("grs_x", "hash", NewSession{UserID: 1, MaxInactiveInterval: time.Hour}, now)

	assert.False(t, s.Expired(now))
	assert.False(t, s.Expired(now.Add(time.Hour)))
	assert.True(t, s.Expired(now.Add(time.Hour+time.Nanosecond)))
}

func TestSession_TouchMovesWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newRecord("grs_x", "hash", NewSession{UserID: 1, MaxInactiveInterval: time.Hour}, now)

	later := now.Add(30 * time.Minute)
	s.touch(later)

	assert.Equal(t, later, s.LastAccessedAt)
	assert.Equal(t, later.Add(time.Hour), s.ExpiresAt)
	assert.Equal(t, now, s.CreatedAt)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := &Session{Authorities: []string{"ROLE_USER"}}
	c := s.Clone()
	c.Authorities[0] = "ROLE_ADMIN"

	assert.Equal(t, "ROLE_USER", s.Authorities[0])
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestNewSession_Validate(t *testing.T) {
	assert.NoError(t, NewSession{UserID: 1, MaxInactiveInterval: time.Minute}.Validate())
	assert.Error(t, NewSession{UserID: -1, MaxInactiveInterval: time.Minute}.Validate())
	assert.Error(t, NewSession{UserID: 1}.Validate())
}
