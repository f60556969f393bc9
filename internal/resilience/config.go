package resilience

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
)

// Circuit breaker defaults for inference providers.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
	// IsFailure decides whether an error counts against the provider.
	// Defaults to CountsAsFailure.
	IsFailure func(error) bool
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
		IsFailure:         CountsAsFailure,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.IsFailure == nil {
		c.IsFailure = CountsAsFailure
	}
	return c
}

// CountsAsFailure reports whether err says something about the provider's
// health. A cancelled caller or a request the provider rightly rejected
// (bad audio, bad arguments) does not.
func CountsAsFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if appErr, ok := apperrors.As(err); ok {
		switch appErr.Code {
		case apperrors.CodeInvalidArgument, apperrors.CodeDecode:
			return false
		}
	}
	return true
}

// Policy pairs the retry and breaker settings one provider uses.
type Policy struct {
	Retry   RetryConfig
	Breaker Config
}

// NewPolicy builds a policy from configured limits. Zero values keep the
// defaults.
func NewPolicy(maxRetries, threshold int, reset time.Duration) Policy {
	p := Policy{Retry: DefaultRetryConfig(), Breaker: DefaultConfig()}
	if maxRetries >= 0 {
		p.Retry.MaxRetries = maxRetries
	}
	if threshold > 0 {
		p.Breaker.Threshold = threshold
	}
	if reset > 0 {
		p.Breaker.ResetTimeout = reset
	}
	return p
}
