// Package session implements the session registry: the process-wide (or
// Redis-shared) map from opaque session tokens to typed Session records, plus
// a user index that enforces at most one live session per user.
//
// # Registries
//
// MemoryRegistry keeps sessions in sharded maps. Every mutation for a user
// (create, evict, invalidate, expire) runs under that user's keyed lock, so
// two racing logins for one user leave exactly one session while logins for
// different users never contend. Reads copy the record under a shard read
// lock.
//
// RedisRegistry stores sessions under the SHA-256 hash of the token and uses
// WATCH/MULTI on the user index key for the same guarantee across processes.
//
// RetryingRegistry wraps either one and retries transient failures with
// exponential backoff before surfacing SESSION_STORE_UNAVAILABLE.
//
// # Expiry
//
// A session expires when now > LastAccessedAt + MaxInactiveInterval. Expiry is
// checked lazily on Get; the Sweeper removes expired records on a cron
// schedule for memory hygiene only.
//
//	registry := session.NewMemoryRegistry(session.WithMetrics(metrics))
//	s, err := registry.Create(ctx, session.NewSession{
//	    UserID:              user.ID,
//	    Username:            user.Username,
//	    Authorities:         []string{"ROLE_USER"},
//	    MaxInactiveInterval: 8 * time.Hour,
//	})
package session
