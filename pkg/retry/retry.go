package retry

import (
	"context"
	"database/sql/driver"
	"math"
	"net"
	"strings"
	"time"

	"fintelli/pkg/errors"
)

// Strategy defines the retry strategy
type Strategy string

const (
	// StrategyExponential uses exponential backoff
	StrategyExponential Strategy = "exponential"
	// StrategyLinear uses linear backoff
	StrategyLinear Strategy = "linear"
	// StrategyFixed uses fixed delay
	StrategyFixed Strategy = "fixed"
)

// Config contains retry configuration
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     Strategy
	Multiplier   float64 // For exponential backoff
}

// DefaultConfig returns the backoff used for store reads during ingestion
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Strategy:     StrategyExponential,
		Multiplier:   2.0,
	}
}

// Policy retries transient store failures with backoff.
// Agents never go through a Policy: a failed completion becomes a fallback result.
type Policy struct {
	config    Config
	retryable func(error) bool
}

// New creates a retry policy
func New(config Config) *Policy {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 5 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.Strategy == "" {
		config.Strategy = StrategyExponential
	}

	return &Policy{config: config, retryable: IsTransient}
}

// WithClassifier overrides which errors are worth retrying
func (p *Policy) WithClassifier(fn func(error) bool) *Policy {
	p.retryable = fn
	return p
}

// Do executes fn, retrying transient errors until MaxRetries is exhausted
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if !p.retryable(err) {
			return err
		}

		if attempt == p.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "retry cancelled")
		case <-time.After(p.Delay(attempt)):
		}
	}

	return errors.Wrapf(lastErr, "max retries (%d) exceeded", p.config.MaxRetries)
}

// Delay returns the backoff before the attempt following the given one
func (p *Policy) Delay(attempt int) time.Duration {
	var delay time.Duration

	switch p.config.Strategy {
	case StrategyExponential:
		delay = time.Duration(float64(p.config.InitialDelay) * math.Pow(p.config.Multiplier, float64(attempt)))
	case StrategyLinear:
		delay = p.config.InitialDelay * time.Duration(1+attempt)
	default:
		delay = p.config.InitialDelay
	}

	if delay > p.config.MaxDelay {
		delay = p.config.MaxDelay
	}

	return delay
}

// IsTransient reports whether err looks like a temporary connectivity problem
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, errors.ErrConnectivity) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"temporary failure",
		"too many connections",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}
