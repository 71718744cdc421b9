package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/brook/internal/brook"
	logpkg "github.com/rzbill/brook/pkg/log"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingLeaser struct {
	mu           sync.Mutex
	acquireErrs  []error
	renewErr     error
	releaseErr   error
	acquires     int
	renews       int
	releases     int
	ensuredNames []string
}

func (f *countingLeaser) EnsureResource(_ context.Context, resource string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensuredNames = append(f.ensuredNames, resource)
	return nil
}

func (f *countingLeaser) Acquire(context.Context, string, string, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if len(f.acquireErrs) == 0 {
		return nil
	}
	err := f.acquireErrs[0]
	f.acquireErrs = f.acquireErrs[1:]
	return err
}

func (f *countingLeaser) Renew(context.Context, string, string, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	return f.renewErr
}

func (f *countingLeaser) Release(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return f.releaseErr
}

func newTestManager(l Leaser, clock *fakeClock) *Manager {
	return NewManager(l, Options{
		RenewalThreshold:   20 * time.Second,
		MaxAcquireAttempts: 3,
		AcquireRetryDelay:  time.Millisecond,
		Logger:             logpkg.NewNopLogger(),
		Now:                clock.Now,
	})
}

var testKey = brook.Key{Type: "t", ID: "s1"}

func TestRenewTiming(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	leaser := &countingLeaser{}
	lock, err := newTestManager(leaser, clock).Acquire(context.Background(), testKey, 60*time.Second)
	require.NoError(t, err)

	clock.Advance(39 * time.Second)
	require.NoError(t, lock.Renew(context.Background()))
	require.Equal(t, 0, leaser.renews)

	clock.Advance(2 * time.Second)
	require.NoError(t, lock.Renew(context.Background()))
	require.Equal(t, 1, leaser.renews)

	// Freshly renewed: not due again.
	require.NoError(t, lock.Renew(context.Background()))
	require.Equal(t, 1, leaser.renews)
	require.Equal(t, 1, lock.Renewals())
}

func TestRenewLostIsSticky(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	leaser := &countingLeaser{renewErr: ErrLeaseLost}
	lock, err := newTestManager(leaser, clock).Acquire(context.Background(), testKey, 60*time.Second)
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	err = lock.Renew(context.Background())
	require.ErrorIs(t, err, brook.ErrLockLost)
	require.ErrorIs(t, err, ErrLeaseLost)

	err = lock.Renew(context.Background())
	require.ErrorIs(t, err, brook.ErrLockLost)
	require.Equal(t, 1, leaser.renews)
}

func TestRenewResourceGoneIsLockLost(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	leaser := &countingLeaser{renewErr: ErrResourceNotFound}
	lock, err := newTestManager(leaser, clock).Acquire(context.Background(), testKey, 60*time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	require.ErrorIs(t, lock.Renew(context.Background()), brook.ErrLockLost)
}

func TestAcquireRetriesConflicts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	leaser := &countingLeaser{acquireErrs: []error{ErrLeaseConflict, ErrLeaseConflict}}
	lock, err := newTestManager(leaser, clock).Acquire(context.Background(), testKey, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, lock.ID())
	require.Equal(t, 3, leaser.acquires)
	require.Equal(t, []string{"brooks/t|s1"}, leaser.ensuredNames)
}

func TestAcquireGivesUp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	leaser := &countingLeaser{acquireErrs: []error{ErrLeaseConflict, ErrLeaseConflict, ErrLeaseConflict}}
	_, err := newTestManager(leaser, clock).Acquire(context.Background(), testKey, time.Minute)
	require.ErrorIs(t, err, brook.ErrLockUnavailable)
	require.Equal(t, 3, leaser.acquires)
}

func TestAcquireRejectsShortLease(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	_, err := newTestManager(&countingLeaser{}, clock).Acquire(context.Background(), testKey, 10*time.Second)
	require.ErrorIs(t, err, brook.ErrInvalidArgument)
}

func TestReleaseOnceAndSwallowsErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	leaser := &countingLeaser{releaseErr: ErrResourceNotFound}
	lock, err := newTestManager(leaser, clock).Acquire(context.Background(), testKey, time.Minute)
	require.NoError(t, err)
	lock.Release(context.Background())
	lock.Release(context.Background())
	require.Equal(t, 1, leaser.releases)
}
