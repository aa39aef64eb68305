package helper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 4 * time.Second
	defaultMaxDelay    = 10 * time.Second
)

// RetryPolicy is applied explicitly at each external-service call site.
// MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryPolicy is 3 attempts with exponential backoff from 4s capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx is done.
// Every error except context cancellation is treated as transient.
// The returned error is the last one fn produced.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("External call failed")
		return retry.RetryableError(err)
	})
}
