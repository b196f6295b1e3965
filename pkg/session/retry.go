package session

import (
	"context"
	"errors"
	"time"

	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/observability"
	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxRetries = 3
	defaultRetryBase  = 50 * time.Millisecond
)

// RetryingRegistry retries transient failures of another Registry with
// exponential backoff. Failures that survive every retry are returned as
// SESSION_STORE_UNAVAILABLE.
type RetryingRegistry struct {
	next       Registry
	maxRetries uint64
	base       time.Duration
	metrics    *observability.Metrics
	logger     *observability.Logger
}

var _ Registry = (*RetryingRegistry)(nil)

// RetryOption configures a RetryingRegistry
type RetryOption func(*RetryingRegistry)

// WithRetryPolicy overrides the retry count and initial backoff
func WithRetryPolicy(maxRetries uint64, base time.Duration) RetryOption {
	return func(r *RetryingRegistry) {
		r.maxRetries = maxRetries
		r.base = base
	}
}

// WithRetryMetrics counts retries and final failures
func WithRetryMetrics(metrics *observability.Metrics) RetryOption {
	return func(r *RetryingRegistry) { r.metrics = metrics }
}

// WithRetryLogger sets the logger used for retry warnings
func WithRetryLogger(logger *observability.Logger) RetryOption {
	return func(r *RetryingRegistry) { r.logger = logger }
}

// NewRetryingRegistry wraps next
func NewRetryingRegistry(next Registry, opts ...RetryOption) *RetryingRegistry {
	r := &RetryingRegistry{
		next:       next,
		maxRetries: defaultMaxRetries,
		base:       defaultRetryBase,
		logger:     observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// permanent reports whether err must not be retried
func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errutil.Code(err) != ""
}

func (r *RetryingRegistry) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.base))
	attempt := 0

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && r.metrics != nil {
			r.metrics.SessionStoreRetriesTotal.WithLabelValues(op).Inc()
		}
		err := fn(ctx)
		if err == nil || permanent(err) {
			return err
		}
		r.logger.WithError(err).WithField("operation", op).WithField("attempt", attempt).
			Warn("session store call failed, retrying")
		return retry.RetryableError(err)
	})
	if err == nil || permanent(err) {
		return err
	}

	if r.metrics != nil {
		r.metrics.SessionStoreErrorsTotal.WithLabelValues(op).Inc()
	}
	return errutil.SessionStoreUnavailable(err)
}

// Create retries a session creation
func (r *RetryingRegistry) Create(ctx context.Context, req NewSession) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var s *Session
	err := r.do(ctx, "create", func(ctx context.Context) error {
		var err error
		s, err = r.next.Create(ctx, req)
		return err
	})
	return s, err
}

// Get retries a session lookup
func (r *RetryingRegistry) Get(ctx context.Context, token string) (*Session, error) {
	var s *Session
	err := r.do(ctx, "get", func(ctx context.Context) error {
		var err error
		s, err = r.next.Get(ctx, token)
		return err
	})
	return s, err
}

// Touch retries a session refresh
func (r *RetryingRegistry) Touch(ctx context.Context, token string) (*Session, error) {
	var s *Session
	err := r.do(ctx, "touch", func(ctx context.Context) error {
		var err error
		s, err = r.next.Touch(ctx, token)
		return err
	})
	return s, err
}

// Invalidate retries a session removal
func (r *RetryingRegistry) Invalidate(ctx context.Context, token string) error {
	return r.do(ctx, "invalidate", func(ctx context.Context) error {
		return r.next.Invalidate(ctx, token)
	})
}

// InvalidateUser retries a per-user removal
func (r *RetryingRegistry) InvalidateUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.do(ctx, "invalidate_user", func(ctx context.Context) error {
		var err error
		n, err = r.next.InvalidateUser(ctx, userID)
		return err
	})
	return n, err
}

// CountActive retries the active count
func (r *RetryingRegistry) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, "count_active", func(ctx context.Context) error {
		var err error
		n, err = r.next.CountActive(ctx)
		return err
	})
	return n, err
}

// Sweep is not retried; the next scheduled run picks up where this one stopped
func (r *RetryingRegistry) Sweep(ctx context.Context) (int, error) {
	return r.next.Sweep(ctx)
}
