package notify

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// RetryPolicy bounds how a single logical call is repeated after transient
// failures. The zero value performs exactly one attempt.
type RetryPolicy struct {
	MaxRetries int           // extra attempts after the first
	Min        time.Duration // first backoff
	Max        time.Duration // backoff ceiling
	Factor     float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(error) bool

	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy is two extra attempts starting at one second, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Min: time.Second, Max: 30 * time.Second, Factor: 2}
}

// Do runs fn until it succeeds, fails permanently, exhausts the policy, or ctx
// ends. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	b := &backoff.Backoff{Min: p.Min, Max: p.Max, Factor: p.Factor}
	if b.Min <= 0 {
		b.Min = time.Second
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return err
		}
		wait := b.Duration()
		if ra := time.Duration(RetryAfter(err)) * time.Second; ra > wait {
			wait = ra
		}
		if serr := sleep(ctx, wait); serr != nil {
			return err
		}
	}
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
