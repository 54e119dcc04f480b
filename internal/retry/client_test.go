package retry

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeClient(cfg Config) (*Client, *bytes.Buffer) {
	var buf bytes.Buffer
	l := log.New(&buf, "", 0)
	return NewClient(l, cfg), &buf
}

func TestNewClient_ConfigSanitizationAndDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{MaxRetries: -1, InitialBackoff: 0, MaxBackoff: 0, Timeout: 0}
	c := NewClient(nil, cfg)

	require.NotNil(t, c.logger)
	assert.Equal(t, DefaultConfig.MaxRetries, c.config.MaxRetries)
	assert.Equal(t, DefaultConfig.InitialBackoff, c.config.InitialBackoff)
	assert.Equal(t, DefaultConfig.MaxBackoff, c.config.MaxBackoff)
	assert.Equal(t, DefaultConfig.Timeout, c.config.Timeout)
}

func TestIsTransientError_Patterns(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", errors.New("request TIMEOUT while processing"), true},
		{"conn refused", errors.New("connection refused by target"), true},
		{"database locked", errors.New("database is locked"), true},
		{"429", errors.New("HTTP 429 Too Many Requests"), true},
		{"non-transient", errors.New("validation failed: risk check"), false},
		{"empty", errors.New(""), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, isTransientError(tc.err))
		})
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	c, buf := makeClient(Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Timeout: 250 * time.Millisecond})

	var calls int32
	result, err := Do(context.Background(), c, "op", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Contains(t, buf.String(), "op attempt 1/")
}

func TestDo_RetriesOnTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	c, _ := makeClient(Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 3 * time.Millisecond, Timeout: 250 * time.Millisecond})

	var calls int32
	result, err := Do(context.Background(), c, "op", func(ctx context.Context) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return "", errors.New("timeout talking to peer")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDo_FailsFastOnNonTransient(t *testing.T) {
	t.Parallel()
	c, _ := makeClient(Config{MaxRetries: 5, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Timeout: 200 * time.Millisecond})

	var calls int32
	_, err := Do(context.Background(), c, "op", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("validation failed: bad size")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Contains(t, err.Error(), "failed after")
}

func TestDo_ContextCanceled(t *testing.T) {
	t.Parallel()
	c, _ := makeClient(Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	_, err := Do(ctx, c, "op", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDo_TimeoutDuringBackoff(t *testing.T) {
	t.Parallel()
	c, _ := makeClient(Config{MaxRetries: 10, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond, Timeout: 2 * time.Millisecond})

	_, err := Do(context.Background(), c, "op", func(ctx context.Context) (int, error) {
		return 0, errors.New("connection reset")
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timed out"))
}

func TestBackoffForAttempt_MatchesPowerOfTwoSchedule(t *testing.T) {
	t.Parallel()
	c, _ := makeClient(DefaultConfig)

	for attempt, wantSeconds := range map[int]float64{0: 2, 1: 4, 2: 8, 3: 16, 4: 32} {
		backoff := c.backoffForAttempt(attempt, c.config.InitialBackoff)
		lower := time.Duration(wantSeconds) * time.Second
		upper := lower + lower/4
		assert.GreaterOrEqualf(t, backoff, lower, "attempt %d", attempt)
		assert.LessOrEqualf(t, backoff, upper, "attempt %d", attempt)
	}
}
