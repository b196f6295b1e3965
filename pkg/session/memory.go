package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/govrec/govrec/pkg/observability"
)

const sessionShards = 32

// MemoryRegistry is a process-local Registry
type MemoryRegistry struct {
	opts options

	sessions [sessionShards]sessionShard

	usersMu sync.RWMutex
	users   map[int64]string // user id -> token

	userLocks *keyedMutex
}

type sessionShard struct {
	mu      sync.RWMutex
	byToken map[string]*Session
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry(opts ...Option) *MemoryRegistry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &MemoryRegistry{
		opts:      o,
		users:     make(map[int64]string),
		userLocks: newKeyedMutex(),
	}
	for i := range r.sessions {
		r.sessions[i].byToken = make(map[string]*Session)
	}
	return r
}

func (r *MemoryRegistry) shard(token string) *sessionShard {
	return &r.sessions[xxhash.Sum64String(token)%sessionShards]
}

// peek returns a copy of the stored record, expired or not
func (r *MemoryRegistry) peek(token string) *Session {
	s := r.shard(token)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byToken[token].Clone()
}

func (r *MemoryRegistry) put(rec *Session) {
	s := r.shard(rec.Token)
	s.mu.Lock()
	s.byToken[rec.Token] = rec
	s.mu.Unlock()
}

func (r *MemoryRegistry) drop(token string) bool {
	s := r.shard(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byToken[token]; !ok {
		return false
	}
	delete(s.byToken, token)
	return true
}

func (r *MemoryRegistry) userToken(userID int64) string {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	return r.users[userID]
}

func (r *MemoryRegistry) setUserToken(userID int64, token string) {
	r.usersMu.Lock()
	r.users[userID] = token
	r.usersMu.Unlock()
}

// clearUserToken removes the index entry only if it still points at token
func (r *MemoryRegistry) clearUserToken(userID int64, token string) {
	r.usersMu.Lock()
	if r.users[userID] == token {
		delete(r.users, userID)
	}
	r.usersMu.Unlock()
}

// Create installs a new session and evicts the user's previous one
func (r *MemoryRegistry) Create(ctx context.Context, req NewSession) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token, hash, err := r.opts.tokens.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	unlock := r.userLocks.Lock(req.UserID)
	defer unlock()

	if prev := r.userToken(req.UserID); prev != "" {
		if r.drop(prev) {
			r.opts.evicted(observability.EvictionReplaced, 1)
			r.opts.logger.WithField("user_id", req.UserID).Debug("previous session evicted by new login")
		}
	}

	rec := newRecord(token, hash, req, r.opts.now())
	r.put(rec)
	r.setUserToken(req.UserID, token)

	return rec.Clone(), nil
}

// Get returns the live session for token
func (r *MemoryRegistry) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	rec := r.peek(token)
	if rec == nil {
		return nil, ErrNotFound
	}
	if rec.Expired(r.opts.now()) {
		r.expire(rec.Token, rec.UserID)
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Touch refreshes the inactivity window of a live session
func (r *MemoryRegistry) Touch(ctx context.Context, token string) (*Session, error) {
	rec := r.peek(token)
	if rec == nil {
		return nil, ErrNotFound
	}

	unlock := r.userLocks.Lock(rec.UserID)
	defer unlock()

	s := r.shard(token)
	s.mu.Lock()
	defer s.mu.Unlock()

	live, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	now := r.opts.now()
	if live.Expired(now) {
		return nil, ErrNotFound
	}
	live.touch(now)
	return live.Clone(), nil
}

// Invalidate removes the session; unknown tokens are a no-op
func (r *MemoryRegistry) Invalidate(ctx context.Context, token string) error {
	rec := r.peek(token)
	if rec == nil {
		return nil
	}

	unlock := r.userLocks.Lock(rec.UserID)
	defer unlock()

	if r.drop(token) {
		r.opts.evicted(observability.EvictionRevoked, 1)
	}
	r.clearUserToken(rec.UserID, token)
	return nil
}

// InvalidateUser removes the user's session
func (r *MemoryRegistry) InvalidateUser(ctx context.Context, userID int64) (int, error) {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	token := r.userToken(userID)
	if token == "" {
		return 0, nil
	}

	n := 0
	if r.drop(token) {
		n = 1
	}
	r.clearUserToken(userID, token)
	r.opts.evicted(observability.EvictionRevoked, n)
	return n, nil
}

// expire removes an expired record under the user's lock
func (r *MemoryRegistry) expire(token string, userID int64) bool {
	unlock := r.userLocks.Lock(userID)
	defer unlock()

	s := r.shard(token)
	s.mu.Lock()
	rec, ok := s.byToken[token]
	if !ok || !rec.Expired(r.opts.now()) {
		s.mu.Unlock()
		return false
	}
	delete(s.byToken, token)
	s.mu.Unlock()

	r.clearUserToken(userID, token)
	r.opts.evicted(observability.EvictionExpired, 1)
	return true
}

// CountActive returns the number of unexpired sessions
func (r *MemoryRegistry) CountActive(ctx context.Context) (int, error) {
	now := r.opts.now()
	n := 0
	for i := range r.sessions {
		s := &r.sessions[i]
		s.mu.RLock()
		for _, rec := range s.byToken {
			if !rec.Expired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n, nil
}

// Sweep removes expired sessions
func (r *MemoryRegistry) Sweep(ctx context.Context) (int, error) {
	type victim struct {
		token  string
		userID int64
	}

	now := r.opts.now()
	var victims []victim
	for i := range r.sessions {
		s := &r.sessions[i]
		s.mu.RLock()
		for token, rec := range s.byToken {
			if rec.Expired(now) {
				victims = append(victims, victim{token: token, userID: rec.UserID})
			}
		}
		s.mu.RUnlock()
	}

	removed := 0
	for _, v := range victims {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if r.expire(v.token, v.userID) {
			removed++
		}
	}
	return removed, nil
}

// UserSessionCount returns the number of live sessions held by the user
func (r *MemoryRegistry) UserSessionCount(userID int64) int {
	now := r.opts.now()
	n := 0
	for i := range r.sessions {
		s := &r.sessions[i]
		s.mu.RLock()
		for _, rec := range s.byToken {
			if rec.UserID == userID && !rec.Expired(now) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}
