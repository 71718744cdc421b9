package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/brook/internal/brook"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// Options configures a Manager.
type Options struct {
	// RenewalThreshold is the remaining lease time at which Renew calls through.
	RenewalThreshold time.Duration
	// MaxAcquireAttempts bounds acquisition attempts on conflict.
	MaxAcquireAttempts int
	// AcquireRetryDelay is the wait between conflicting attempts.
	AcquireRetryDelay time.Duration
	Logger            logpkg.Logger
	// Now overrides the clock.
	Now func() time.Time
}

// Manager hands out per-key Locks.
type Manager struct {
	leaser Leaser
	opts   Options
	logger logpkg.Logger
}

// NewManager returns a Manager over leaser.
func NewManager(leaser Leaser, opts Options) *Manager {
	if opts.RenewalThreshold <= 0 {
		opts.RenewalThreshold = 20 * time.Second
	}
	if opts.MaxAcquireAttempts <= 0 {
		opts.MaxAcquireAttempts = 5
	}
	if opts.AcquireRetryDelay <= 0 {
		opts.AcquireRetryDelay = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().WithComponent("lease")
	}
	return &Manager{leaser: leaser, opts: opts, logger: logger}
}

func resourceName(key brook.Key) string { return "brooks/" + key.String() }

// Acquire takes the lock for key, retrying lease conflicts up to
// MaxAcquireAttempts before failing with brook.ErrLockUnavailable.
func (m *Manager) Acquire(ctx context.Context, key brook.Key, leaseDuration time.Duration) (*Lock, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if leaseDuration <= m.opts.RenewalThreshold {
		return nil, brook.InvalidArgument("lease duration %s must exceed renewal threshold %s", leaseDuration, m.opts.RenewalThreshold)
	}
	resource := resourceName(key)
	if err := m.leaser.EnsureResource(ctx, resource); err != nil {
		return nil, brook.NewError(brook.KindLockUnavailable, err, "ensure lease resource").WithKey(key, brook.NoPosition)
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAcquireAttempts; attempt++ {
		id := uuid.NewString()
		err := m.leaser.Acquire(ctx, resource, id, leaseDuration)
		if err == nil {
			m.logger.Debug("lease acquired", logpkg.Str("brook", key.String()), logpkg.Str("lease", id))
			return &Lock{
				m:           m,
				key:         key,
				resource:    resource,
				id:          id,
				duration:    leaseDuration,
				lastRenewal: m.opts.Now(),
			}, nil
		}
		if !errors.Is(err, ErrLeaseConflict) {
			return nil, brook.NewError(brook.KindLockUnavailable, err, "acquire lease").WithKey(key, brook.NoPosition)
		}
		lastErr = err
		if attempt == m.opts.MaxAcquireAttempts {
			break
		}
		t := time.NewTimer(m.opts.AcquireRetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, brook.NewError(brook.KindLockUnavailable, lastErr,
		"lease still held after %d attempts", m.opts.MaxAcquireAttempts).WithKey(key, brook.NoPosition)
}

// Lock is a held lease on one brook key.
type Lock struct {
	m        *Manager
	key      brook.Key
	resource string
	id       string
	duration time.Duration

	mu          sync.Mutex
	lastRenewal time.Time
	lost        bool
	renewals    int
	release     sync.Once
}

// Key returns the locked brook key.
func (l *Lock) Key() brook.Key { return l.key }

// ID returns the lease id.
func (l *Lock) ID() string { return l.id }

// Renewals returns how many renew calls reached the leaser.
func (l *Lock) Renewals() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.renewals
}

// Renew extends the lease once less than the renewal threshold remains.
// Losing the lease yields brook.ErrLockLost, also on every later call.
func (l *Lock) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost {
		return brook.NewError(brook.KindLockLost, nil, "lease lost earlier").WithKey(l.key, brook.NoPosition)
	}
	now := l.m.opts.Now()
	if now.Sub(l.lastRenewal) <= l.duration-l.m.opts.RenewalThreshold {
		return nil
	}
	l.renewals++
	err := l.m.leaser.Renew(ctx, l.resource, l.id, l.duration)
	switch {
	case err == nil:
		l.lastRenewal = now
		return nil
	case errors.Is(err, ErrLeaseLost), errors.Is(err, ErrLeaseConflict), errors.Is(err, ErrResourceNotFound):
		l.lost = true
		return brook.NewError(brook.KindLockLost, err, "renew lease").WithKey(l.key, brook.NoPosition)
	default:
		return brook.NewError(brook.KindTransientStorage, err, "renew lease").WithKey(l.key, brook.NoPosition)
	}
}

// Release gives the lease back exactly once. Failures are logged and dropped.
func (l *Lock) Release(ctx context.Context) {
	l.release.Do(func() {
		if err := l.m.leaser.Release(ctx, l.resource, l.id); err != nil {
			l.m.logger.Debug("lease release failed",
				logpkg.Str("brook", l.key.String()),
				logpkg.Str("lease", l.id),
				logpkg.Err(err))
		}
	})
}
