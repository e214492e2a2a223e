package registry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitPolicy bounds a readiness poll: up to Attempts checks, Interval apart.
type WaitPolicy struct {
	Interval time.Duration
	Attempts uint64
}

var errNotReady = errors.New("not ready")

// Wait polls check until it returns nil, a permanent error, or the attempts
// run out. The first check happens after one interval.
func (p WaitPolicy) Wait(ctx context.Context, check func() error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), attempts-1),
		ctx,
	)
	first := true
	return backoff.Retry(func() error {
		if first {
			first = false
			if err := sleep(ctx, p.Interval); err != nil {
				return backoff.Permanent(err)
			}
		}
		return check()
	}, b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
