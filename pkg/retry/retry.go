// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0; 0.1 means +/-10%

	// OnRetry, if set, is called before each wait with the failed attempt number (1-based).
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns defaults for short operations such as a single query:
// 3 retries starting at 100ms, capped at 5s, doubling, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// StartupConfig returns defaults for connecting to backing services at boot,
// when containers started alongside the service may still be coming up.
func StartupConfig() *Config {
	return &Config{
		MaxRetries:   8,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// applyJitter returns delay +/- delay*jitterFactor*rand(-1..1).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// run is the shared backoff loop. shouldRetry decides whether a failed attempt is retried.
func run[T any](ctx context.Context, cfg *Config, fn func() (T, error), shouldRetry func(error) bool) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if !shouldRetry(err) || attempt == cfg.MaxRetries {
			break
		}

		wait := applyJitter(delay, cfg.JitterFactor)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return result, lastErr
}

func always(error) bool { return true }

// Do executes fn until it succeeds or the retries are exhausted.
// Returns the last error, or ctx.Err() if the context ends during a wait.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := run(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() }, always)
	return err
}

// DoWithResult is Do for functions that return a value, such as opening a pool.
// The last result is returned alongside the last error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	return run(ctx, cfg, fn, always)
}

// DoIfRetryable retries only errors that IsRetryable accepts and returns others immediately.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := run(ctx, cfg, func() (struct{}, error) { return struct{}{}, fn() }, IsRetryable)
	return err
}

// RetryableError is implemented by errors that declare their own retryability,
// such as llm.Error.
type RetryableError interface {
	error
	IsRetryable() bool
}

// retryablePatterns are substrings of transient network, database and HTTP failures.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"the database system is starting up",
	"deadlock",
	"network is unreachable",
	"status 429",
	"status 502",
	"status 503",
	"status 504",
	"http 429",
	"http 502",
	"http 503",
	"http 504",
	"rate limit",
	"service unavailable",
	"too many requests",
}

// IsRetryable reports whether err is transient and worth retrying.
// A RetryableError anywhere in the chain decides; otherwise the message is
// matched against known transient failures. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
