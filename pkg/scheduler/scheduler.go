// Package scheduler runs the periodic full flush of the response cache.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigia-recife/vigia-proxy/pkg/metrics"
)

var scheduledFlushesTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
	Name: "vigia_scheduled_flushes_total",
	Help: "Total scheduled cache flushes by result",
}, []string{"result"})

// Flusher empties a cache. cache.Manager implements it.
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// FlushScheduler triggers Flusher.FlushAll on a cron schedule.
type FlushScheduler struct {
	cron     *cron.Cron
	flusher  Flusher
	schedule string
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	running bool
}

// Option customizes a FlushScheduler.
type Option func(*FlushScheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *FlushScheduler) {
		s.logger = logger
	}
}

// WithFlushTimeout bounds a single flush run.
func WithFlushTimeout(d time.Duration) Option {
	return func(s *FlushScheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a FlushScheduler for a standard 5-field cron schedule such as
// "0 */4 * * *".
func New(flusher Flusher, schedule string, opts ...Option) (*FlushScheduler, error) {
	if flusher == nil {
		return nil, fmt.Errorf("flusher is required")
	}

	s := &FlushScheduler{
		flusher:  flusher,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	id, err := s.cron.AddFunc(schedule, s.Flush)
	if err != nil {
		return nil, fmt.Errorf("invalid flush schedule %q: %w", schedule, err)
	}
	s.entryID = id

	return s, nil
}

// Start begins running the schedule in the background.
func (s *FlushScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next", s.Next()).
		Msg("Cache flush scheduler started")
}

// Stop halts the schedule and waits for a running flush to finish or ctx
// to be done.
func (s *FlushScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info().Msg("Cache flush scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled flush time, or the zero time before Start.
func (s *FlushScheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Flush runs one flush now. It is the cron job body; failures are logged
// and the schedule keeps running.
func (s *FlushScheduler) Flush() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.flusher.FlushAll(ctx); err != nil {
		scheduledFlushesTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Msg("Scheduled cache flush failed")
		return
	}

	scheduledFlushesTotal.WithLabelValues("success").Inc()
	s.logger.Info().
		Dur("duration", time.Since(start)).
		Msg("Scheduled cache flush completed")
}
