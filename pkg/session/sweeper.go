package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/govrec/govrec/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweeper once a minute
const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically removes expired sessions and publishes the active count
type Sweeper struct {
	registry Registry
	schedule string
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper; an empty schedule means DefaultSweepSchedule
func NewSweeper(registry Registry, schedule string, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Sweeper{
		registry: registry,
		schedule: schedule,
		timeout:  30 * time.Second,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start schedules the sweep job. It returns an error for an invalid schedule.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("schedule session sweep %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.WithField("schedule", s.schedule).Info("Session sweeper started")
	return nil
}

// Stop stops scheduling and waits for a running sweep, or for ctx
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer observability.RecoverPanic(s.logger, "session sweep")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Session sweep failed")
	}
}

// SweepOnce removes expired sessions and refreshes the active-sessions gauge
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	removed, err := s.registry.Sweep(ctx)
	if err != nil {
		return removed, fmt.Errorf("sweep sessions: %w", err)
	}

	active, err := s.registry.CountActive(ctx)
	if err != nil {
		return removed, fmt.Errorf("count active sessions: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(active))
	}

	if removed > 0 {
		s.logger.WithFields(map[string]interface{}{
			"removed": removed,
			"active":  active,
		}).Info("Expired sessions swept")
	}
	return removed, nil
}
