package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/security"
)

// ErrUserNotFound is returned by stores when no user matches
var ErrUserNotFound = errors.New("user not found")

// UserStore is the credential store the Service reads and writes
type UserStore interface {
	// FindByIdentifier looks the user up by username, then by email
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	// Exists reports whether any user already holds value for field
	Exists(ctx context.Context, field UniqueField, value string) (bool, error)
	// Create inserts the user with its roles and returns the new id.
	// A unique collision is reported as the matching DUPLICATE_* error.
	Create(ctx context.Context, user *User) (int64, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string, at time.Time) error
	TouchLastActivity(ctx context.Context, id int64, at time.Time) error
}

// MemoryUserStore keeps users in process
type MemoryUserStore struct {
	mu     sync.RWMutex
	users  map[int64]*User
	nextID int64
}

// NewMemoryUserStore creates an empty store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[int64]*User), nextID: 1}
}

func (s *MemoryUserStore) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return nil, ErrUserNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == identifier {
			return u.Clone(), nil
		}
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, identifier) {
			return u.Clone(), nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryUserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryUserStore) Exists(ctx context.Context, field UniqueField, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.existsLocked(field, value), nil
}

func (s *MemoryUserStore) existsLocked(field UniqueField, value string) bool {
	for _, u := range s.users {
		existing := field.value(u)
		if field == FieldEmail {
			if strings.EqualFold(existing, value) {
				return true
			}
		} else if existing != "" && existing == value {
			return true
		}
	}
	return false
}

func (s *MemoryUserStore) Create(ctx context.Context, user *User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, field := range UniqueFields {
		value := field.value(user)
		if value != "" && s.existsLocked(field, value) {
			return 0, errutil.Duplicate(field.DuplicateCode(), string(field), value)
		}
	}

	stored := user.Clone()
	stored.ID = s.nextID
	s.nextID++
	stored.Roles = security.NormalizeAuthorities(stored.Roles)
	if stored.Status == "" {
		stored.Status = UserStatusActive
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = stored.CreatedAt
	s.users[stored.ID] = stored
	return stored.ID, nil
}

func (s *MemoryUserStore) UpdatePasswordHash(ctx context.Context, id int64, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	return nil
}

func (s *MemoryUserStore) TouchLastActivity(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	t := at
	u.LastActivityAt = &t
	return nil
}

// SetStatus changes an account's status
func (s *MemoryUserStore) SetStatus(id int64, status UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Status = status
	return nil
}

// SetRoles replaces an account's roles
func (s *MemoryUserStore) SetRoles(id int64, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Roles = security.NormalizeAuthorities(roles)
	return nil
}
