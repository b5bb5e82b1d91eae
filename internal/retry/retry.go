// Package retry runs upstream calls under a per-attempt timeout with
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"calview/internal/apierr"
	appLog "calview/internal/log"
)

// Policy bounds one logical call.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Timeout applies to each attempt separately. Zero disables it.
	Timeout time.Duration
}

// DefaultPolicy matches the calendar fetch defaults: 3 attempts, 30s each.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Timeout:     30 * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Do calls fn until it succeeds, returns an irrecoverable error, the
// attempt budget is spent or ctx ends.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		v, err := fn(attemptCtx)
		switch {
		case err == nil:
			return v, nil
		case ctx.Err() != nil:
			return v, backoff.Permanent(ctx.Err())
		case apierr.IsIrrecoverable(err):
			return v, backoff.Permanent(err)
		case errors.Is(err, context.DeadlineExceeded):
			return v, apierr.Network(op, err)
		default:
			return v, err
		}
	}
	notify := func(err error, wait time.Duration) {
		appLog.Warn("upstream call failed; retrying", "op", op, "attempt", attempt, "wait", wait.String(), "err", err.Error())
	}
	return backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
}

// Run is Do for calls without a result.
func Run(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
