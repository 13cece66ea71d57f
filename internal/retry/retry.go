// Package retry runs flaky stages (content fetches, storage writes) under an
// explicit backoff policy.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/clock"
	jujuretry "github.com/juju/retry"

	"kgsink/internal/ipfs"
)

type Policy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	// Backoff computes the next delay; nil keeps Delay constant.
	Backoff   func(delay time.Duration, attempt int) time.Duration
	Retryable func(error) bool
	Clock     clock.Clock
	// OnRetry is called after every failed attempt that will be retried.
	OnRetry func(err error, attempt int)
}

// Default doubles the delay between attempts and retries transient errors
// only.
func Default(attempts int, delay time.Duration) Policy {
	return Policy{
		Attempts:  attempts,
		Delay:     delay,
		MaxDelay:  30 * time.Second,
		Backoff:   jujuretry.DoubleDelay,
		Retryable: Transient,
		Clock:     clock.WallClock,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. The returned error is the last one fn returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}

	err := jujuretry.Call(jujuretry.CallArgs{
		Func: func() error {
			return fn(ctx)
		},
		IsFatalError: func(err error) bool {
			return !retryable(err)
		},
		NotifyFunc: func(err error, attempt int) {
			if p.OnRetry != nil && attempt < attempts && retryable(err) {
				p.OnRetry(err, attempt)
			}
		},
		Attempts:    attempts,
		Delay:       delay,
		MaxDelay:    p.MaxDelay,
		BackoffFunc: p.Backoff,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if jujuretry.IsAttemptsExceeded(err) || jujuretry.IsRetryStopped(err) {
		if last := jujuretry.LastError(err); last != nil {
			return last
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// Transient reports whether err is worth retrying: fetch network failures
// and timeouts, deadline expiry, broken connections and the Postgres error
// classes for connection loss, transaction rollback, resource exhaustion
// and operator intervention.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ipfs.ErrNetwork) || errors.Is(err, ipfs.ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return strings.HasPrefix(code, "08") ||
			strings.HasPrefix(code, "40") ||
			strings.HasPrefix(code, "53") ||
			strings.HasPrefix(code, "57P")
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	return pgconn.Timeout(err)
}
