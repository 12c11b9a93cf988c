package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

type declaredErr struct{ retryable bool }

func (e declaredErr) Error() string     { return fmt.Sprintf("declared retryable=%v", e.retryable) }
func (e declaredErr) IsRetryable() bool { return e.retryable }

func TestDefaultConfigs(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)

	startup := StartupConfig()
	assert.Greater(t, startup.MaxRetries, cfg.MaxRetries)
	assert.Greater(t, startup.MaxDelay, cfg.MaxDelay)
}

func TestDo(t *testing.T) {
	t.Run("success first try", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("success after retries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted returns last error", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return fmt.Errorf("attempt %d", calls)
		})
		require.EqualError(t, err, "attempt 4")
		assert.Equal(t, 4, calls, "MaxRetries=3 means four attempts")
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		err := Do(context.Background(), nil, func() error { return nil })
		assert.NoError(t, err)
	})
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		calls++
		return errors.New("still down")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryReportsBackoff(t *testing.T) {
	cfg := &Config{MaxRetries: 4, InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, Multiplier: 2}

	var attempts []int
	var delays []time.Duration
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("down") })

	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		3 * time.Millisecond,
		3 * time.Millisecond,
	}, delays)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("timeout")
		}
		return "pool", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pool", got)
	assert.Equal(t, 2, calls)

	got, err = DoWithResult(context.Background(), fastConfig(), func() (string, error) {
		return "partial", errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, "partial", got)
}

func TestDoIfRetryable(t *testing.T) {
	t.Run("retries transient", func(t *testing.T) {
		calls := 0
		err := DoIfRetryable(context.Background(), fastConfig(), func() error {
			calls++
			if calls < 3 {
				return declaredErr{retryable: true}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent", func(t *testing.T) {
		calls := 0
		permanent := declaredErr{retryable: false}
		err := DoIfRetryable(context.Background(), fastConfig(), func() error {
			calls++
			return permanent
		})
		assert.Equal(t, permanent, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := DoIfRetryable(context.Background(), fastConfig(), func() error {
			calls++
			return errors.New("service unavailable")
		})
		require.Error(t, err)
		assert.Equal(t, 4, calls)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"uppercase", errors.New("Connection Refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), true},
		{"postgres starting", errors.New("FATAL: the database system is starting up (SQLSTATE 57P03)"), true},
		{"too many connections", errors.New("too many connections"), true},
		{"deadlock", errors.New("deadlock detected"), true},
		{"http 503", errors.New("HTTP 503 Service Unavailable"), true},
		{"port number is not a status", errors.New("port 5032 rejected: permission denied"), false},
		{"auth", errors.New("password authentication failed for user"), false},
		{"syntax", errors.New("syntax error at or near SELECT"), false},
		{"cancelled", context.Canceled, false},
		{"declared retryable", declaredErr{retryable: true}, true},
		{"declared permanent wins over pattern", fmt.Errorf("timeout: %w", declaredErr{retryable: false}), false},
		{"wrapped declared", fmt.Errorf("categorize: %w", declaredErr{retryable: true}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}
