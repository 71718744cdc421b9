package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/docdb"
)

func fastPolicy(max int) Policy {
	return Policy{MaxRetries: max, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, docdb.Unavailable("read")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 3, calls)
}

func TestDoRetriesEveryTransientCode(t *testing.T) {
	for _, code := range []int{408, 429, 500, 503, 504} {
		calls := 0
		err := Run(context.Background(), fastPolicy(1), func(context.Context) error {
			calls++
			if calls == 1 {
				return docdb.WithStatus(code, "read", "transient")
			}
			return nil
		})
		require.NoError(t, err, "code %d", code)
		require.Equal(t, 2, calls, "code %d", code)
	}
}

func TestDoNetworkTimeoutIsTransient(t *testing.T) {
	require.True(t, IsTransient(timeoutErr{}))
	require.False(t, IsTransient(errors.New("boom")))
}

func TestDoNonTransientFailsImmediately(t *testing.T) {
	calls := 0
	err := Run(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return docdb.WithStatus(docdb.StatusRequestEntityTooLarge, "batch", "too large")
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, brook.ErrNonTransientStorage)
	var be *brook.Error
	require.ErrorAs(t, err, &be)
	require.Equal(t, docdb.StatusRequestEntityTooLarge, be.Status)
}

func TestDoClassifiedErrorsPassThrough(t *testing.T) {
	key, _ := brook.NewKey("t", "s")
	conflict := brook.Conflict(key, 3, nil, "cursor moved")
	calls := 0
	err := Run(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return conflict
	})
	require.Equal(t, 1, calls)
	require.Same(t, conflict, err)
}

func TestDoExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	last := docdb.Throttled("read", 0)
	err := Run(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return last
	})
	require.Equal(t, 3, calls)
	require.ErrorIs(t, err, brook.ErrTransientStorage)
	require.ErrorIs(t, err, last)
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var delays []time.Duration
	p := fastPolicy(1)
	p.OnRetry = func(_ int, d time.Duration, _ error) { delays = append(delays, d) }
	calls := 0
	err := Run(context.Background(), p, func(context.Context) error {
		calls++
		if calls == 1 {
			return docdb.Throttled("read", 15)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{15 * time.Millisecond}, delays)
}

func TestDoBackoffIsCapped(t *testing.T) {
	var delays []time.Duration
	p := Policy{MaxRetries: 6, BaseDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond}
	p.OnRetry = func(_ int, d time.Duration, _ error) { delays = append(delays, d) }
	_ = Run(context.Background(), p, func(context.Context) error { return docdb.Unavailable("read") })
	require.Len(t, delays, 6)
	for _, d := range delays {
		require.LessOrEqual(t, d, 3*time.Millisecond)
	}
}

func TestDoCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	p.OnRetry = func(int, time.Duration, error) { cancel() }
	err := Run(ctx, p, func(context.Context) error { return docdb.Unavailable("read") })
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, brook.ErrTransientStorage)
}

func TestDoCanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Run(ctx, fastPolicy(1), func(context.Context) error { calls++; return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}
