// Package appender is the only write path of a brook. An append runs
// recovery, splits events into size-limited batches and commits each batch
// with the two-phase pending cursor protocol.
package appender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/brook/internal/batching"
	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/keyexec"
	"github.com/rzbill/brook/internal/lease"
	"github.com/rzbill/brook/internal/recovery"
	"github.com/rzbill/brook/internal/repository"
	"github.com/rzbill/brook/internal/telemetry"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// Options configures an Appender.
type Options struct {
	MaxEventsPerBatch   int
	MaxRequestSizeBytes int64
	// Locks, when set, holds a lease on the brook for the whole append.
	Locks         *lease.Manager
	LeaseDuration time.Duration
	// Executor serializes appends per key; one is created when nil.
	Executor  *keyexec.Registry
	Telemetry *telemetry.Telemetry
	Logger    logpkg.Logger
}

// Appender appends events to brooks.
type Appender struct {
	repo     *repository.Repository
	recovery *recovery.Service
	opts     Options
	tel      *telemetry.Telemetry
	logger   logpkg.Logger
}

// New returns an Appender.
func New(repo *repository.Repository, rec *recovery.Service, opts Options) *Appender {
	if opts.MaxEventsPerBatch <= 0 {
		opts.MaxEventsPerBatch = 95
	}
	if opts.MaxRequestSizeBytes <= 0 {
		opts.MaxRequestSizeBytes = 1_800_000
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 60 * time.Second
	}
	if opts.Executor == nil {
		opts.Executor = keyexec.NewRegistry()
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().WithComponent("appender")
	}
	return &Appender{repo: repo, recovery: rec, opts: opts, tel: tel, logger: logger}
}

// Append writes events after the current head of key and returns the new
// head. When expectedVersion is set it must equal the head before the first
// batch. A concurrent writer surfaces as brook.ErrConcurrencyConflict.
//
// Batches are committed one by one: if ctx ends between batches the batches
// already committed stay committed. An error from a batch write after ctx
// ended leaves its outcome to the next recovery.
func (a *Appender) Append(ctx context.Context, key brook.Key, events []brook.Event, expectedVersion *brook.Position) (head brook.Position, err error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, brook.InvalidArgument("no events to append").WithKey(key, brook.NoPosition)
	}
	for i, e := range events {
		if err := e.ValidateForAppend(); err != nil {
			return 0, brook.NewError(brook.KindInvalidArgument, err, "event %d", i).WithKey(key, brook.NoPosition)
		}
	}
	batches, err := batching.CreateSizeLimitedBatches(events, a.opts.MaxEventsPerBatch, a.opts.MaxRequestSizeBytes)
	if err != nil {
		var be *brook.Error
		if errors.As(err, &be) {
			return 0, be.WithKey(key, brook.NoPosition)
		}
		return 0, err
	}

	ctx, span := a.tel.Start(ctx, "brook.append", key, telemetry.AttrCount.Int(len(events)))
	defer func() { telemetry.End(span, err) }()

	err = a.opts.Executor.Do(ctx, key, func(ctx context.Context) error {
		var lock *lease.Lock
		if a.opts.Locks != nil {
			l, err := a.opts.Locks.Acquire(ctx, key, a.opts.LeaseDuration)
			if err != nil {
				return err
			}
			defer l.Release(context.WithoutCancel(ctx))
			lock = l
		}
		var inner error
		head, inner = a.appendBatches(ctx, key, batches, expectedVersion, lock)
		return inner
	})
	return head, err
}

func (a *Appender) appendBatches(ctx context.Context, key brook.Key, batches [][]brook.Event, expected *brook.Position, lock *lease.Lock) (brook.Position, error) {
	var head brook.Position
	var err error
	if lock != nil {
		head, err = a.recovery.RecoverWithLock(ctx, key)
	} else {
		head, err = a.recovery.Recover(ctx, key)
	}
	if err != nil {
		return 0, err
	}
	if expected != nil && *expected != head {
		a.tel.Conflict(ctx, key)
		return head, brook.Conflict(key, *expected, nil, "expected version %d but head is %d", *expected, head)
	}

	log := a.logger.With(logpkg.Str("brook", key.String()))
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return head, err
		}
		if lock != nil {
			if err := lock.Renew(ctx); err != nil {
				return head, err
			}
		}
		final := head + brook.Position(len(batch))

		pending, err := a.repo.CreatePendingCursor(ctx, key, head, final)
		if err != nil {
			if brook.KindOf(err) == brook.KindConcurrencyConflict {
				a.tel.Conflict(ctx, key)
			}
			return head, err
		}

		if err := a.repo.ExecuteTransactionalBatch(ctx, key, batch, head, final); err != nil {
			switch {
			case brook.KindOf(err) == brook.KindConcurrencyConflict:
				a.tel.Conflict(ctx, key)
				if cerr := a.repo.ReleasePendingCursor(context.WithoutCancel(ctx), key, pending); cerr != nil {
					log.Warn("pending cursor left after conflict", logpkg.Err(cerr))
				}
				return head, err
			case ctx.Err() != nil:
				log.Warn("batch write interrupted, outcome left to recovery",
					logpkg.Int("batch", i), logpkg.Int64("from", int64(head)), logpkg.Int64("to", int64(final)))
				return head, fmt.Errorf("batch %d [%d, %d) status unknown: %w", i, head, final, err)
			case brook.KindOf(err) == brook.KindTransientStorage:
				log.Warn("batch write retries exhausted, outcome left to recovery",
					logpkg.Int("batch", i), logpkg.Int64("from", int64(head)), logpkg.Int64("to", int64(final)), logpkg.Err(err))
				return head, fmt.Errorf("batch %d [%d, %d) status unknown: %w", i, head, final, err)
			default:
				// The store rejected the batch outright; nothing was written.
				if cerr := a.repo.ReleasePendingCursor(context.WithoutCancel(ctx), key, pending); cerr != nil {
					log.Warn("pending cursor left after rejected batch", logpkg.Err(cerr))
				}
				return head, err
			}
		}

		if err := a.repo.CommitCursorPosition(ctx, key, final); err != nil {
			return final, err
		}
		if err := a.repo.ReleasePendingCursor(ctx, key, pending); err != nil {
			return final, err
		}
		a.tel.Appended(ctx, key, len(batch))
		log.Debug("batch committed", logpkg.Int("batch", i), logpkg.Int64("head", int64(final)))
		head = final
	}
	return head, nil
}
