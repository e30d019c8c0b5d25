package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/vigia-recife/vigia-proxy/pkg/metrics"
)

// Prometheus metrics for retry operations.
var (
	upstreamRetriesTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "vigia_upstream_retries_total",
		Help: "Total number of upstream retry attempts",
	})

	upstreamRetryBackoffSeconds = promauto.With(metrics.Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "vigia_upstream_retry_backoff_seconds",
		Help:    "Backoff duration waited before an upstream retry",
		Buckets: []float64{0.5, 1, 2, 3, 5, 10},
	})

	upstreamRetryExhaustedTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "vigia_upstream_retry_exhausted_total",
		Help: "Total number of upstream fetches that exhausted every attempt",
	})
)

// SleepFunc waits for d, returning early with ctx.Err() when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// BackoffStep is multiplied by the 1-based attempt number to get the
	// wait before the next attempt (1s, 2s, 3s, ... for a 1s step).
	BackoffStep time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffStep: 1 * time.Second,
	}
}

// Backoff returns the wait that follows the failed attempt with the given
// 0-based index.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	return c.BackoffStep * time.Duration(attempt+1)
}

// retryWithBackoff runs fn up to cfg.MaxAttempts times with linear backoff.
// It returns the number of attempts made and the last error, or nil on the
// first success. onFailure is called for every failed attempt.
func retryWithBackoff(
	ctx context.Context,
	cfg RetryConfig,
	sleep SleepFunc,
	logger zerolog.Logger,
	fn func(attempt int) error,
	onFailure func(attempt int, err error),
) (int, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if sleep == nil {
		sleep = ContextSleep
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				logger.Info().
					Int("attempt", attempt+1).
					Msg("Upstream request succeeded after retry")
			}
			return attempt + 1, nil
		}

		lastErr = err
		if onFailure != nil {
			onFailure(attempt, err)
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		backoff := cfg.Backoff(attempt)
		upstreamRetriesTotal.Inc()
		upstreamRetryBackoffSeconds.Observe(backoff.Seconds())

		logger.Debug().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying upstream request after backoff")

		if err := sleep(ctx, backoff); err != nil {
			logger.Warn().
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return attempt + 1, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	upstreamRetryExhaustedTotal.Inc()
	logger.Warn().
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return cfg.MaxAttempts, lastErr
}
