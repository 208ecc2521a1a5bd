package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/jpillora/backoff"
)

// Retry runs collaborator calls a bounded number of times.
type Retry struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Timeout  time.Duration
}

func DefaultRetry() Retry {
	return Retry{Attempts: 3, Min: 100 * time.Millisecond, Max: 2 * time.Second, Timeout: 3 * time.Second}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// are exhausted or ctx ends. The last error is returned.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	boff := &backoff.Backoff{Min: r.Min, Max: r.Max, Factor: 2, Jitter: true}
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = r.call(ctx, fn)
		if err == nil || permanent(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(boff.Duration()):
		}
	}
	return err
}

func (r Retry) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return fn(callCtx)
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrForbidden) ||
		errors.Is(err, domain.ErrBadRequest)
}
