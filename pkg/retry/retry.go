// pkg/retry/retry.go - functions for retrying actions with exponential backoff.

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/windowsadmins/lexsetup/pkg/logging"
)

// NonRetryableError marks an error that must not be retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string { return e.Err.Error() }
func (e NonRetryableError) Unwrap() error { return e.Err }

// RetryConfig defines the configuration for retry attempts
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultConfig is used for filesystem operations racing with exiting processes.
var DefaultConfig = RetryConfig{
	MaxRetries:      3,
	InitialInterval: 200 * time.Millisecond,
	Multiplier:      2,
}

// Retry runs action until it succeeds, returns a NonRetryableError, the
// context is done, or MaxRetries attempts have failed.
func Retry(ctx context.Context, config RetryConfig, action func() error) error {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	eb := backoff.NewExponentialBackOff()
	if config.InitialInterval > 0 {
		eb.InitialInterval = config.InitialInterval
	}
	if config.Multiplier > 0 {
		eb.Multiplier = config.Multiplier
	}
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(config.MaxRetries-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := action()
		if err == nil {
			return nil
		}
		var nonRetryable NonRetryableError
		if errors.As(err, &nonRetryable) {
			logging.Warn("Non-retryable error encountered",
				"error", err,
				"attempt", attempt,
			)
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logging.Warn(fmt.Sprintf("Attempt %d/%d failed: %v. Retrying in %s...",
			attempt, config.MaxRetries, err, next),
			"attempt", attempt,
			"max_attempts", config.MaxRetries,
		)
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	var nonRetryable NonRetryableError
	if errors.As(err, &nonRetryable) || ctx.Err() != nil {
		return err
	}
	logging.Warn(fmt.Sprintf("Attempt %d/%d failed: %v. No more retries.", attempt, config.MaxRetries, err))
	return fmt.Errorf("action failed after %d attempts: %w", attempt, err)
}
