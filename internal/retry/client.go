// Package retry provides retry logic with exponential backoff, applied
// uniformly to broker calls and store reads.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"
)

// Config contains retry configuration parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig provides the five-retry (six attempts in all), 2^n-backoff
// schedule used uniformly for broker and store operations.
var DefaultConfig = Config{
	MaxRetries:     5,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     64 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client wraps operations with retry logic.
type Client struct {
	logger *log.Logger
	config Config
}

// NewClient creates a new retry client with the given optional config.
func NewClient(logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if logger == nil {
		logger = log.Default()
	}

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	return &Client{
		logger: logger,
		config: cfg,
	}
}

// Do runs op, retrying on transient errors with exponential backoff
// (2^attempt seconds, jittered, capped at MaxBackoff) up to MaxRetries
// additional attempts. It is used identically for broker calls and store
// reads, so a flaky network or a momentarily unavailable
// database are handled the same way throughout the control plane.
func Do[T any](ctx context.Context, c *Client, label string, op func(ctx context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var zero T
	var lastErr error
	attempts := 0
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s timed out after %v: %w", label, c.config.Timeout, opCtx.Err())
		default:
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", label, ctx.Err())
		}

		c.logger.Printf("%s attempt %d/%d", label, attempt+1, c.config.MaxRetries+1)

		attempts++
		result, err := op(opCtx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		c.logger.Printf("%s attempt %d failed: %v", label, attempt+1, err)

		if isTransientError(err) && attempt < c.config.MaxRetries {
			wait := c.backoffForAttempt(attempt, backoff)
			c.logger.Printf("%s: transient error, retrying in %v", label, wait)
			select {
			case <-time.After(wait):
			case <-opCtx.Done():
				return zero, fmt.Errorf("%s timed out during backoff: %w", label, opCtx.Err())
			case <-ctx.Done():
				return zero, fmt.Errorf("%s canceled during backoff: %w", label, ctx.Err())
			}
		} else {
			break
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, attempts, lastErr)
}

// backoffForAttempt computes 2^(attempt+1) seconds, capped at MaxBackoff and
// jittered by up to 25%.
func (c *Client) backoffForAttempt(attempt int, base time.Duration) time.Duration {
	exp := time.Duration(1) << uint(attempt+1)
	backoff := base * exp / 2
	if backoff > c.config.MaxBackoff || backoff <= 0 {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"i/o timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"temporarily unavailable",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
		"no such host",
		"deadline exceeded",
		"tls handshake",
		"broken pipe",
		"eof",
		"database is locked",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
