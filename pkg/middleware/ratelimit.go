package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/httputil"
	"github.com/govrec/govrec/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// LoginRateLimitConfig returns the default limits for login attempts per client
func LoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         5,
	}
}

// Limiter decides whether a keyed request may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	// Window is the period after which a rejected caller may retry
	Window() time.Duration
}

// RateLimiter implements in-process rate limiting with a token bucket per key
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = LoginRateLimitConfig()
	}

	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// Window returns the configured window
func (rl *RateLimiter) Window() time.Duration {
	return rl.config.WindowDuration
}

// Allow takes a token for key. It never fails.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.capacity(), lastUpdate: rl.now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	rl.refill(b)
	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// refill adds tokens for the time elapsed since the last update
func (rl *RateLimiter) refill(b *bucket) {
	now := rl.now()
	elapsed := now.Sub(b.lastUpdate)
	if elapsed <= 0 {
		return
	}
	rate := float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
	b.tokens = math.Min(rl.capacity(), b.tokens+elapsed.Seconds()*rate)
	b.lastUpdate = now
}

// Remaining returns the number of whole tokens left for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if !exists {
		return int(rl.capacity())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rl.refill(b)
	return int(b.tokens)
}

// Cleanup removes buckets idle for more than two windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup runs Cleanup once per window until ctx is done
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (rl *RateLimiter) size() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// KeyFunc derives the rate limit key of a request
type KeyFunc func(r *http.Request) string

// ClientIPKey keys requests by client address under prefix
func ClientIPKey(prefix string) KeyFunc {
	return func(r *http.Request) string {
		return prefix + ":ip:" + httputil.ClientIP(r)
	}
}

// RateLimit rejects requests over the limiter's budget with 429. Limiter
// errors are logged and the request is let through.
func RateLimit(limiter Limiter, key KeyFunc, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			allowed, err := limiter.Allow(r.Context(), k)
			if err != nil {
				logger.WithError(err).WithField("key", k).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				logger.WithField("key", k).Info("rate limit exceeded")
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(limiter.Window().Seconds())))
				httputil.WriteAppError(w, r, errutil.RateLimited())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
