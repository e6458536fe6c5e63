package connector

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/rs/zerolog"
)

// RetryPolicy retries rate-limited and transiently unavailable provider calls
// with exponential backoff and full jitter.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// sleep and jitter are replaced in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func fullJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << attempt
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := p.jitter
	if jitter == nil {
		jitter = fullJitter
	}
	return jitter(d)
}

func retryable(err error) bool {
	k := errkind.KindOf(err)
	return k == errkind.RateLimited || k == errkind.ProviderUnavailable
}

// Do runs op until it succeeds, fails permanently or the attempts run out.
// Exhaustion yields ProviderUnavailable wrapping the last failure, so a
// final throttle is still visible with errors.Is.
func Do[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if !retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		delay := p.backoff(attempt)
		zerolog.Ctx(ctx).Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying provider call")
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, errkind.Wrap(errkind.ProviderUnavailable, lastErr, "provider unavailable after %d attempts", attempts)
}
