// Package client provides the upstream HTTP fetcher used by the proxy:
// GET requests with a per-attempt timeout, linear retry backoff and a typed
// error once every attempt has failed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vigia-recife/vigia-proxy/pkg/metrics"
)

// Prometheus metrics for upstream fetches.
var (
	upstreamAttemptsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "vigia_upstream_attempts_total",
		Help: "Total upstream attempts by outcome",
	}, []string{"outcome"})

	upstreamAttemptFailuresTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "vigia_upstream_attempt_failures_total",
		Help: "Total failed upstream attempts by reason",
	}, []string{"reason"})

	upstreamAttemptDuration = promauto.With(metrics.Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "vigia_upstream_attempt_duration_seconds",
		Help:    "Duration of a single upstream attempt in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

const (
	// DefaultUserAgent identifies the proxy to the upstream portals.
	DefaultUserAgent = "VIGIA-Recife/2.0"

	// DefaultTimeout bounds a single upstream attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the number of attempts made per fetch.
	DefaultMaxRetries = 3
)

// Config holds the fetcher configuration.
type Config struct {
	// UserAgent header sent on every upstream request
	UserAgent string

	// Timeout per attempt
	Timeout time.Duration

	// MaxRetries is the total number of attempts per fetch
	MaxRetries int

	// BackoffStep is the linear backoff unit (wait = step * attempt number)
	BackoffStep time.Duration
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:   DefaultUserAgent,
		Timeout:     DefaultTimeout,
		MaxRetries:  DefaultMaxRetries,
		BackoffStep: DefaultRetryConfig().BackoffStep,
	}
}

// UpstreamRequest describes a single fetch. It lives for one Do call.
type UpstreamRequest struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// Fetcher performs GET requests against upstream JSON APIs.
type Fetcher struct {
	httpClient *http.Client
	config     Config
	sleep      SleepFunc
	logger     zerolog.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// WithSleep replaces the backoff wait, e.g. with a recorder in tests.
func WithSleep(sleep SleepFunc) Option {
	return func(f *Fetcher) {
		if sleep != nil {
			f.sleep = sleep
		}
	}
}

// WithLogger sets the fetcher logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a new Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}

	if cfg.BackoffStep < 0 {
		return nil, fmt.Errorf("backoff_step must not be negative (got %s)", cfg.BackoffStep)
	}

	f := &Fetcher{
		httpClient: &http.Client{},
		config:     cfg,
		sleep:      ContextSleep,
		logger:     log.With().Str("component", "fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Request builds an UpstreamRequest for rawURL with the configured defaults.
func (f *Fetcher) Request(rawURL string) UpstreamRequest {
	return UpstreamRequest{
		URL:        rawURL,
		Timeout:    f.config.Timeout,
		MaxRetries: f.config.MaxRetries,
	}
}

// Fetch performs a GET against rawURL using the configured defaults.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (json.RawMessage, error) {
	return f.Do(ctx, f.Request(rawURL))
}

// Do performs the request, retrying failed attempts with linear backoff.
// On success the upstream body is returned unmodified. After the last failed
// attempt an *UpstreamError wrapping the last attempt's error is returned.
func (f *Fetcher) Do(ctx context.Context, req UpstreamRequest) (json.RawMessage, error) {
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return nil, &UpstreamError{URL: req.URL, Err: fmt.Errorf("invalid upstream url: %w", err)}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.config.Timeout
	}

	retryCfg := RetryConfig{
		MaxAttempts: req.MaxRetries,
		BackoffStep: f.config.BackoffStep,
	}

	logger := f.logger.With().Str("url", req.URL).Logger()

	var payload json.RawMessage
	attempts, err := retryWithBackoff(ctx, retryCfg, f.sleep, logger,
		func(attempt int) error {
			var attemptErr error
			payload, attemptErr = f.attempt(ctx, req.URL, timeout)
			return attemptErr
		},
		func(attempt int, err error) {
			reason := failureReason(err)
			upstreamAttemptsTotal.WithLabelValues("failure").Inc()
			upstreamAttemptFailuresTotal.WithLabelValues(reason).Inc()
			logger.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("reason", reason).
				Msg("Upstream attempt failed")
		},
	)
	if err != nil {
		logger.Error().
			Err(err).
			Int("attempts", attempts).
			Msg("Upstream fetch failed")
		return nil, &UpstreamError{URL: req.URL, Attempts: attempts, Err: err}
	}

	upstreamAttemptsTotal.WithLabelValues("success").Inc()
	return payload, nil
}

// attempt performs one GET bounded by timeout.
func (f *Fetcher) attempt(ctx context.Context, rawURL string, timeout time.Duration) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		upstreamAttemptDuration.Observe(time.Since(start).Seconds())
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if !json.Valid(body) {
		return nil, ErrInvalidPayload
	}

	return json.RawMessage(body), nil
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
