package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/docdb"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// Policy bounds retries of one operation.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	Logger  logpkg.Logger
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}

// transientCodes are the store statuses worth another attempt.
var transientCodes = map[int]bool{
	docdb.StatusRequestTimeout:      true,
	docdb.StatusTooManyRequests:     true,
	docdb.StatusInternalServerError: true,
	docdb.StatusServiceUnavailable:  true,
	docdb.StatusGatewayTimeout:      true,
}

// IsTransient reports whether err is a store failure worth retrying.
func IsTransient(err error) bool {
	if code := docdb.StatusCode(err); code != 0 {
		return transientCodes[code]
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func retryAfter(err error) time.Duration {
	var se *docdb.StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// Do runs op until it succeeds, fails non-transiently, the context ends, or
// retries are exhausted. Errors that are already *brook.Error pass through.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var bo *backoff.ExponentialBackOff
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
		}
		var be *brook.Error
		if errors.As(err, &be) {
			return zero, err
		}
		if !IsTransient(err) {
			e := brook.NewError(brook.KindNonTransientStorage, err, "storage request failed")
			e.Status = docdb.StatusCode(err)
			return zero, e
		}
		if attempt >= p.MaxRetries {
			e := brook.NewError(brook.KindTransientStorage, err, "giving up after %d attempts", attempt+1)
			e.Status = docdb.StatusCode(err)
			return zero, e
		}

		if bo == nil {
			bo = p.newBackOff()
		}
		delay := bo.NextBackOff()
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if ra := retryAfter(err); ra > 0 {
			delay = ra
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if p.Logger != nil {
			p.Logger.Debug("retrying storage operation",
				logpkg.Int("attempt", attempt+1),
				logpkg.Duration("delay", delay),
				logpkg.Err(err))
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
