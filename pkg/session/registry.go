package session

import (
	"context"
	"time"

	"github.com/govrec/govrec/pkg/observability"
)

// Registry maps session tokens to sessions and keeps at most one live
// session per user
type Registry interface {
	// Create installs a new session for the user, evicting any previous one
	Create(ctx context.Context, req NewSession) (*Session, error)
	// Get returns the live session for token, or ErrNotFound when absent or expired
	Get(ctx context.Context, token string) (*Session, error)
	// Touch refreshes the inactivity window of a live session
	Touch(ctx context.Context, token string) (*Session, error)
	// Invalidate removes the session; unknown tokens are a no-op
	Invalidate(ctx context.Context, token string) error
	// InvalidateUser removes every session of the user and returns how many went
	InvalidateUser(ctx context.Context, userID int64) (int, error)
	// CountActive returns the number of unexpired sessions
	CountActive(ctx context.Context) (int, error)
	// Sweep removes expired sessions and returns how many went
	Sweep(ctx context.Context) (int, error)
}

// Option configures a registry
type Option func(*options)

type options struct {
	now     func() time.Time
	tokens  *TokenGenerator
	metrics *observability.Metrics
	logger  *observability.Logger
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		tokens: NewTokenGenerator(),
		logger: observability.NewNopLogger(),
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics records evictions on the given metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithLogger sets the registry logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func (o *options) evicted(reason string, n int) {
	if o.metrics == nil || n == 0 {
		return
	}
	o.metrics.SessionEvictionsTotal.WithLabelValues(reason).Add(float64(n))
}
