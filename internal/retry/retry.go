// Package retry repeats an operation at a fixed delay until its result is
// acceptable.
//
// The provisioning pipeline treats most remote failures as transient: a
// mailbox that could not be created or a registration that came back without
// a token is simply tried again. [Until] implements that loop. It is
// unbounded by default; set [Policy.MaxAttempts] for calls that must give up,
// such as connecting the chat bot at startup.
//
// # Usage
//
//	policy := retry.Policy{Delay: 3 * time.Second, Logger: logger}
//	acct, err := retry.Until(ctx, policy, "create mailbox", mailbox.Create,
//	    func(a *task.Account) bool { return a != nil && a.Address != "" })
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/autoref/internal/errors"
	"github.com/Iron-Ham/autoref/internal/logging"
)

// DefaultDelay is the pause between attempts when Policy.Delay is zero.
const DefaultDelay = 3 * time.Second

// ErrExhausted is returned when MaxAttempts calls all failed. It wraps the
// last error, if any.
var ErrExhausted = errors.New("retry attempts exhausted")

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy configures Until.
type Policy struct {
	// Delay between attempts. Zero means DefaultDelay.
	Delay time.Duration
	// MaxAttempts bounds the number of calls. Zero retries forever.
	MaxAttempts int
	// Logger receives a WARN line for every failed attempt.
	Logger *logging.Logger
	// Sleep replaces the real timer, mainly in tests.
	Sleep SleepFunc
	// OnFailure is called after each failed attempt.
	OnFailure func(op string, attempt int, err error)
}

func (p Policy) delay() time.Duration {
	if p.Delay <= 0 {
		return DefaultDelay
	}
	return p.Delay
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (p Policy) logger() *logging.Logger {
	if p.Logger == nil {
		return logging.NopLogger()
	}
	return p.Logger
}

// Sleep waits for d, returning early with ctx.Err() if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep is a SleepFunc that returns immediately unless ctx is already done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Until calls fn until it returns a nil error and a result accepted by ok.
// An error from fn counts as a rejected result. A nil ok accepts any result
// returned without error.
//
// A result first accepted on call N costs exactly N calls and N-1 sleeps.
func Until[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error), ok func(T) bool) (T, error) {
	var (
		zero    T
		lastErr error
		log     = p.logger().WithOp(op)
	)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil && (ok == nil || ok(result)) {
			if attempt > 1 {
				log.Info("succeeded after retry", "attempts", attempt)
			}
			return result, nil
		}

		if err == nil {
			err = fmt.Errorf("%s: result not accepted", op)
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err

		log.Warn("attempt failed, retrying",
			"attempt", attempt,
			"error", err.Error(),
			"retryable", errors.IsRetryable(err),
		)
		if p.OnFailure != nil {
			p.OnFailure(op, attempt, err)
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempt, lastErr)
		}

		if err := p.sleep(ctx, p.delay()); err != nil {
			return zero, err
		}
	}
}
