package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// Retry configuration constants
const (
	DefaultMaxRetries   = 2
	DefaultBaseDelay    = 200 * time.Millisecond
	DefaultMaxDelay     = 2 * time.Second
	DefaultJitterFactor = 0.2 // 20% jitter
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// DefaultRetryConfig returns standard retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryableProvider,
	}
}

// IsRetryableProvider checks if a provider error is worth retrying.
// An open breaker is never retried. AppErrors decide by code.
func IsRetryableProvider(err error) bool {
	if err == nil || errors.Is(err, ErrOpen) {
		return false
	}
	if _, ok := apperrors.As(err); ok {
		return apperrors.IsRetryable(err)
	}
	s, ok := status.FromError(err)
	if !ok {
		return true // Non-gRPC error, retry
	}
	switch s.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// Retry executes fn with exponential backoff. Returns last error if all retries fail.
// The caller's deadline bounds the whole sequence.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that return a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var result T

	op := func() error {
		v, err := fn()
		if err == nil {
			result = v
			return nil
		}
		if !cfg.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		slog.Debug("retrying after error", "max", cfg.MaxRetries, "delay", delay, "error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(cfg.policy(), ctx), notify)
	return result, err
}

// policy builds the backoff schedule: BaseDelay doubling up to MaxDelay.
func (c RetryConfig) policy() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.BaseDelay,
		RandomizationFactor: c.JitterFactor,
		Multiplier:          2,
		MaxInterval:         c.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.MaxRetries))
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryableProvider
	}
	return c
}
