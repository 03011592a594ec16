package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
)

// StatusCoder is implemented by errors that carry an HTTP-like status code.
// The wrapper uses it to decide whether a failure is worth retrying.
type StatusCoder interface {
	HTTPStatus() int
}

// Config bounds a retried operation.
type Config struct {
	// MaxAttempts is the total number of tries, first attempt included.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; it doubles after each
	// further failure. No jitter is applied.
	BaseDelay time.Duration
	// AuthReset, when set, runs after a 401 failure and before the next
	// attempt so the caller can drop cached credentials.
	AuthReset func()
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	return c
}

// Do runs op with bounded exponential backoff. 403 and 404 class failures
// are never retried: the precondition will not heal on its own. A 401 first
// invokes cfg.AuthReset so the next attempt starts from fresh credentials.
// After the attempt budget is spent the last error is returned unchanged,
// letting the caller branch on its original kind.
func Do[T any](ctx context.Context, label string, cfg Config, op func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	attempt := 0
	wrapped := func() (T, error) {
		attempt++
		out, err := op()
		if err == nil {
			if attempt > 1 {
				log.Infof("[retry] %s succeeded on attempt %d", label, attempt)
			}
			return out, nil
		}

		status := statusOf(err)
		switch {
		case status == 403 || status == 404:
			log.Warnf("[retry] %s attempt %d failed with status %d, not retrying: %v", label, attempt, status, err)
			return out, backoff.Permanent(err)
		case status == 401:
			log.Warnf("[retry] %s attempt %d failed with expired credentials: %v", label, attempt, err)
			if cfg.AuthReset != nil {
				cfg.AuthReset()
			}
		default:
			log.Warnf("[retry] %s attempt %d failed: %v", label, attempt, err)
		}
		return out, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0

	var schedule backoff.BackOff = backoff.WithMaxRetries(bo, uint64(cfg.MaxAttempts-1))
	if ctx != nil {
		schedule = backoff.WithContext(schedule, ctx)
	}

	return backoff.RetryWithData(wrapped, schedule)
}

func statusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return 0
}
