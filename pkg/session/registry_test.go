package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govrec/govrec/pkg/observability"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// registryFactory builds a fresh registry driven by clock
type registryFactory func(t *testing.T, clock *fakeClock, metrics *observability.Metrics) Registry

func newSession(userID int64) NewSession {
	return NewSession{
		UserID:              userID,
		Username:            "user" + string(rune('a'+userID%26)),
		Authorities:         []string{"ROLE_USER"},
		MaxInactiveInterval: time.Hour,
	}
}

// runRegistryContract exercises the behavior every Registry must share
func runRegistryContract(t *testing.T, factory registryFactory) {
	ctx := context.Background()

	t.Run("create then get", func(t *testing.T) {
		clock := newFakeClock()
		reg := factory(t, clock, nil)

		created, err := reg.Create(ctx, NewSession{
			UserID:              7,
			Username:            "alice",
			Authorities:         []string{"ROLE_USER"},
			MaxInactiveInterval: 8 * time.Hour,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(created.Token, TokenPrefix))
		assert.Equal(t, clock.Now().Add(8*time.Hour), created.ExpiresAt)
		assert.Equal(t, created.CreatedAt, created.LastAccessedAt)

		got, err := reg.Get(ctx, created.Token)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.UserID)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, []string{"ROLE_USER"}, got.Authorities)
		assert.Equal(t, created.Token, got.Token)
	})

	t.Run("invalid request", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		_, err := reg.Create(ctx, NewSession{UserID: 0, MaxInactiveInterval: time.Hour})
		assert.Error(t, err)
		_, err = reg.Create(ctx, NewSession{UserID: 1})
		assert.Error(t, err)
	})

	t.Run("unknown and empty tokens are not found", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		_, err := reg.Get(ctx, "")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.Get(ctx, TokenPrefix+"nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.Touch(ctx, TokenPrefix+"nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("new login evicts previous session", func(t *testing.T) {
		metrics := observability.NewTestMetrics()
		reg := factory(t, newFakeClock(), metrics)

		first, err := reg.Create(ctx, newSession(1))
		require.NoError(t, err)
		second, err := reg.Create(ctx, newSession(1))
		require.NoError(t, err)

		_, err = reg.Get(ctx, first.Token)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.Get(ctx, second.Token)
		assert.NoError(t, err)

		count, err := reg.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, float64(1), testutil.ToFloat64(
			metrics.SessionEvictionsTotal.WithLabelValues(observability.EvictionReplaced)))
	})

	t.Run("concurrent logins for one user leave exactly one session", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		const n = 12
		var wg sync.WaitGroup
		tokens := make(chan string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := reg.Create(ctx, newSession(42))
				if err != nil {
					assert.ErrorIs(t, err, ErrTxContention)
					return
				}
				tokens <- s.Token
			}()
		}
		wg.Wait()
		close(tokens)

		live := 0
		issued := 0
		for token := range tokens {
			issued++
			if _, err := reg.Get(ctx, token); err == nil {
				live++
			}
		}
		require.Greater(t, issued, 0)
		assert.Equal(t, 1, live)

		count, err := reg.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("concurrent logins for different users do not interfere", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		const n = 16
		var wg sync.WaitGroup
		for i := 1; i <= n; i++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				_, err := reg.Create(ctx, newSession(userID))
				assert.NoError(t, err)
			}(int64(i))
		}
		wg.Wait()

		count, err := reg.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, n, count)
	})

	t.Run("expired sessions are absent and swept", func(t *testing.T) {
		clock := newFakeClock()
		reg := factory(t, clock, nil)

		s, err := reg.Create(ctx, newSession(3))
		require.NoError(t, err)

		clock.Advance(time.Hour + time.Second)

		count, err := reg.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		removed, err := reg.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = reg.Get(ctx, s.Token)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.Touch(ctx, s.Token)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("get never returns a session past its window", func(t *testing.T) {
		clock := newFakeClock()
		reg := factory(t, clock, nil)

		s, err := reg.Create(ctx, newSession(4))
		require.NoError(t, err)

		clock.Advance(time.Hour)
		_, err = reg.Get(ctx, s.Token)
		assert.NoError(t, err, "valid at exactly the expiry instant")

		clock.Advance(time.Millisecond)
		_, err = reg.Get(ctx, s.Token)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("touch extends the window", func(t *testing.T) {
		clock := newFakeClock()
		reg := factory(t, clock, nil)

		s, err := reg.Create(ctx, newSession(5))
		require.NoError(t, err)

		clock.Advance(40 * time.Minute)
		touched, err := reg.Touch(ctx, s.Token)
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(time.Hour), touched.ExpiresAt)

		clock.Advance(40 * time.Minute)
		_, err = reg.Get(ctx, s.Token)
		assert.NoError(t, err)
	})

	t.Run("touch does not resurrect an evicted session", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		first, err := reg.Create(ctx, newSession(6))
		require.NoError(t, err)
		_, err = reg.Create(ctx, newSession(6))
		require.NoError(t, err)

		_, err = reg.Touch(ctx, first.Token)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalidate is idempotent", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		s, err := reg.Create(ctx, newSession(8))
		require.NoError(t, err)

		require.NoError(t, reg.Invalidate(ctx, s.Token))
		require.NoError(t, reg.Invalidate(ctx, s.Token))
		require.NoError(t, reg.Invalidate(ctx, ""))

		_, err = reg.Get(ctx, s.Token)
		assert.ErrorIs(t, err, ErrNotFound)

		// user index was cleared, so a fresh login evicts nothing
		_, err = reg.Create(ctx, newSession(8))
		require.NoError(t, err)
		count, err := reg.CountActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("invalidate user", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		s, err := reg.Create(ctx, newSession(9))
		require.NoError(t, err)
		other, err := reg.Create(ctx, newSession(10))
		require.NoError(t, err)

		n, err := reg.InvalidateUser(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = reg.InvalidateUser(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = reg.Get(ctx, s.Token)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = reg.Get(ctx, other.Token)
		assert.NoError(t, err)
	})

	t.Run("returned sessions are copies", func(t *testing.T) {
		reg := factory(t, newFakeClock(), nil)

		s, err := reg.Create(ctx, newSession(11))
		require.NoError(t, err)
		s.Authorities[0] = "ROLE_ADMIN"

		got, err := reg.Get(ctx, s.Token)
		require.NoError(t, err)
		assert.Equal(t, []string{"ROLE_USER"}, got.Authorities)
	})
}
