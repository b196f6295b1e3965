package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/govrec/govrec/pkg/observability"
)

const (
	sessionKeyPrefix     = "govrec:session:"
	userSessionKeyPrefix = "govrec:user-session:"
	activeSessionsKey    = "govrec:sessions:active"

	// maxTxAttempts bounds optimistic transaction retries per call
	maxTxAttempts = 16
)

// ErrTxContention is returned when a WATCH transaction keeps losing races
var ErrTxContention = errors.New("session transaction contention")

// RedisRegistry is a Registry shared by every process using the same Redis.
//
// Keys:
//
//	govrec:session:<sha256(token)>   JSON session, TTL = inactivity window
//	govrec:user-session:<user id>    token hash of the user's session, same TTL
//	govrec:sessions:active           sorted set of token hashes scored by expiry (unix ms)
type RedisRegistry struct {
	client *redis.Client
	opts   options
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry creates a registry on an existing client
func NewRedisRegistry(client *redis.Client, opts ...Option) *RedisRegistry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisRegistry{client: client, opts: o}
}

func sessionKey(hash string) string {
	return sessionKeyPrefix + hash
}

func userSessionKey(userID int64) string {
	return userSessionKeyPrefix + strconv.FormatInt(userID, 10)
}

func expiryScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// ttl returns the Redis TTL for a session. Redis rejects non-positive TTLs.
func (r *RedisRegistry) ttl(s *Session) time.Duration {
	d := s.ExpiresAt.Sub(r.opts.now())
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

// withWatch runs fn in an optimistic transaction on keys, retrying when
// another client changed a watched key first
func (r *RedisRegistry) withWatch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := r.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTxContention
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisRegistry) load(ctx context.Context, getter stringGetter, hash string) (*Session, error) {
	data, err := getter.Get(ctx, sessionKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// Create installs a new session and evicts the user's previous one atomically
func (r *RedisRegistry) Create(ctx context.Context, req NewSession) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	token, hash, err := r.opts.tokens.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	userKey := userSessionKey(req.UserID)
	var (
		rec     *Session
		evicted bool
	)

	err = r.withWatch(ctx, func(tx *redis.Tx) error {
		prevHash, err := tx.Get(ctx, userKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get user session: %w", err)
		}

		rec = newRecord(token, hash, req, r.opts.now())
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		ttl := r.ttl(rec)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prevHash != "" {
				pipe.Del(ctx, sessionKey(prevHash))
				pipe.ZRem(ctx, activeSessionsKey, prevHash)
			}
			pipe.Set(ctx, sessionKey(hash), payload, ttl)
			pipe.Set(ctx, userKey, hash, ttl)
			pipe.ZAdd(ctx, activeSessionsKey, &redis.Z{Score: expiryScore(rec.ExpiresAt), Member: hash})
			return nil
		})
		evicted = prevHash != ""
		return err
	}, userKey)
	if err != nil {
		return nil, err
	}

	if evicted {
		r.opts.evicted(observability.EvictionReplaced, 1)
	}
	return rec.Clone(), nil
}

// Get returns the live session for token
func (r *RedisRegistry) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	s, err := r.load(ctx, r.client, r.opts.tokens.HashToken(token))
	if err != nil {
		return nil, err
	}
	if s.Expired(r.opts.now()) {
		return nil, ErrNotFound
	}
	s.Token = token
	return s, nil
}

// Touch refreshes the inactivity window of a live session. A session evicted
// concurrently is never resurrected.
func (r *RedisRegistry) Touch(ctx context.Context, token string) (*Session, error) {
	hash := r.opts.tokens.HashToken(token)
	current, err := r.load(ctx, r.client, hash)
	if err != nil {
		return nil, err
	}

	var touched *Session
	userKey := userSessionKey(current.UserID)

	err = r.withWatch(ctx, func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, hash)
		if err != nil {
			return err
		}
		owner, err := tx.Get(ctx, userKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get user session: %w", err)
		}
		now := r.opts.now()
		if owner != hash || s.Expired(now) {
			return ErrNotFound
		}

		s.touch(now)
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		ttl := r.ttl(s)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(hash), payload, ttl)
			pipe.Expire(ctx, userKey, ttl)
			pipe.ZAdd(ctx, activeSessionsKey, &redis.Z{Score: expiryScore(s.ExpiresAt), Member: hash})
			return nil
		})
		touched = s
		return err
	}, sessionKey(hash), userKey)
	if err != nil {
		return nil, err
	}

	touched.Token = token
	return touched, nil
}

// remove deletes one session and, if it still owns it, the user index entry
func (r *RedisRegistry) remove(ctx context.Context, hash string, userID int64) (bool, error) {
	userKey := userSessionKey(userID)
	removed := false

	err := r.withWatch(ctx, func(tx *redis.Tx) error {
		owner, err := tx.Get(ctx, userKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get user session: %w", err)
		}

		var del *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, sessionKey(hash))
			pipe.ZRem(ctx, activeSessionsKey, hash)
			if owner == hash {
				pipe.Del(ctx, userKey)
			}
			return nil
		})
		if err != nil {
			return err
		}
		removed = del.Val() > 0
		return nil
	}, userKey)

	return removed, err
}

// Invalidate removes the session; unknown tokens are a no-op
func (r *RedisRegistry) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	hash := r.opts.tokens.HashToken(token)
	s, err := r.load(ctx, r.client, hash)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	removed, err := r.remove(ctx, hash, s.UserID)
	if err != nil {
		return err
	}
	if removed {
		r.opts.evicted(observability.EvictionRevoked, 1)
	}
	return nil
}

// InvalidateUser removes the user's session
func (r *RedisRegistry) InvalidateUser(ctx context.Context, userID int64) (int, error) {
	userKey := userSessionKey(userID)
	removed := 0

	err := r.withWatch(ctx, func(tx *redis.Tx) error {
		hash, err := tx.Get(ctx, userKey).Result()
		if errors.Is(err, redis.Nil) {
			removed = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("get user session: %w", err)
		}

		var del *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, sessionKey(hash))
			pipe.ZRem(ctx, activeSessionsKey, hash)
			pipe.Del(ctx, userKey)
			return nil
		})
		if err != nil {
			return err
		}
		removed = int(del.Val())
		return nil
	}, userKey)
	if err != nil {
		return 0, err
	}

	r.opts.evicted(observability.EvictionRevoked, removed)
	return removed, nil
}

// CountActive returns the number of unexpired sessions
func (r *RedisRegistry) CountActive(ctx context.Context) (int, error) {
	floor := strconv.FormatFloat(expiryScore(r.opts.now()), 'f', 0, 64)
	n, err := r.client.ZCount(ctx, activeSessionsKey, floor, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return int(n), nil
}

// Sweep removes expired sessions. Redis TTLs already drop the session keys;
// this trims the active index and any keys whose TTL has not fired yet.
func (r *RedisRegistry) Sweep(ctx context.Context) (int, error) {
	ceiling := strconv.FormatFloat(expiryScore(r.opts.now()), 'f', 0, 64)
	hashes, err := r.client.ZRangeByScore(ctx, activeSessionsKey, &redis.ZRangeBy{Min: "-inf", Max: "(" + ceiling}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	removed := 0
	for _, hash := range hashes {
		s, err := r.load(ctx, r.client, hash)
		if errors.Is(err, ErrNotFound) {
			if err := r.client.ZRem(ctx, activeSessionsKey, hash).Err(); err != nil {
				return removed, fmt.Errorf("trim active index: %w", err)
			}
			removed++
			continue
		}
		if err != nil {
			return removed, err
		}
		if !s.Expired(r.opts.now()) {
			continue
		}
		if _, err := r.remove(ctx, hash, s.UserID); err != nil {
			return removed, err
		}
		removed++
	}

	r.opts.evicted(observability.EvictionExpired, removed)
	return removed, nil
}
