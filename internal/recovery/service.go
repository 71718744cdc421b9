package recovery

import (
	"context"
	"time"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/lease"
	"github.com/rzbill/brook/internal/repository"
	"github.com/rzbill/brook/internal/telemetry"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// Options configures a Service.
type Options struct {
	// Locks, when set, serializes recovery of a brook across processes.
	Locks         *lease.Manager
	LeaseDuration time.Duration
	Telemetry     *telemetry.Telemetry
	Logger        logpkg.Logger
}

// Service applies Resolve against the repository.
type Service struct {
	repo   *repository.Repository
	opts   Options
	tel    *telemetry.Telemetry
	logger logpkg.Logger
}

// NewService returns a recovery Service over repo.
func NewService(repo *repository.Repository, opts Options) *Service {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 60 * time.Second
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().WithComponent("recovery")
	}
	return &Service{repo: repo, opts: opts, tel: tel, logger: logger}
}

// Recover returns the trustworthy head of key, resolving a leftover pending
// cursor first. It is safe to run redundantly; a Clean brook costs two reads
// and no writes.
func (s *Service) Recover(ctx context.Context, key brook.Key) (brook.Position, error) {
	pending, err := s.repo.GetPendingCursorDocument(ctx, key)
	if err != nil {
		return 0, err
	}
	if StateOf(pending) == Clean {
		return s.committed(ctx, key)
	}

	ctx, span := s.tel.Start(ctx, "brook.recover", key)
	head, err := s.recoverPending(ctx, key)
	telemetry.End(span, err)
	return head, err
}

// RecoverWithLock is Recover for callers that already hold the brook's lock.
func (s *Service) RecoverWithLock(ctx context.Context, key brook.Key) (brook.Position, error) {
	ctx, span := s.tel.Start(ctx, "brook.recover", key)
	head, err := s.resolve(ctx, key)
	telemetry.End(span, err)
	return head, err
}

func (s *Service) committed(ctx context.Context, key brook.Key) (brook.Position, error) {
	cur, err := s.repo.GetCursorDocument(ctx, key)
	if err != nil || cur == nil {
		return 0, err
	}
	return cur.Position, nil
}

func (s *Service) recoverPending(ctx context.Context, key brook.Key) (brook.Position, error) {
	if s.opts.Locks != nil {
		lock, err := s.opts.Locks.Acquire(ctx, key, s.opts.LeaseDuration)
		if err != nil {
			return 0, err
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}
	return s.resolve(ctx, key)
}

// resolve re-reads the protocol state, since another recoverer may have
// finished first, and applies the decision.
func (s *Service) resolve(ctx context.Context, key brook.Key) (brook.Position, error) {
	pending, err := s.repo.GetPendingCursorDocument(ctx, key)
	if err != nil {
		return 0, err
	}
	committed, err := s.committed(ctx, key)
	if err != nil {
		return 0, err
	}
	var present []brook.Position
	if pending != nil {
		start, end := pending.Positions()
		present, err = s.repo.GetExistingEventPositions(ctx, key, start, end)
		if err != nil {
			return 0, err
		}
	}

	d := Resolve(committed, pending, present)
	log := s.logger.With(logpkg.Str("brook", key.String()), logpkg.Str("action", d.Action.String()))
	switch d.Action {
	case ActionNone:
		return d.Head, nil
	case ActionAmbiguous:
		log.Error("pending append cannot be resolved",
			logpkg.Int64("committed", int64(committed)),
			logpkg.Int64("pendingFrom", int64(pending.CurrentCursor)),
			logpkg.Int64("pendingTo", int64(pending.FinalPosition)),
			logpkg.Int("present", d.Present))
		s.tel.Recovered(ctx, key, d.Action.String())
		return 0, brook.NewError(brook.KindRecoveryAmbiguous, nil,
			"pending append [%d, %d) has %d of %d events with cursor at %d",
			pending.CurrentCursor, pending.FinalPosition, d.Present, d.Expected, committed).WithKey(key, committed)
	}

	if d.WriteCursor {
		if err := s.repo.CommitCursorPosition(ctx, key, d.Head); err != nil {
			return 0, err
		}
	}
	if d.DeletePending {
		if err := s.repo.ReleasePendingCursor(ctx, key, pending); err != nil {
			return 0, err
		}
	}
	log.Info("recovered pending append", logpkg.Int64("head", int64(d.Head)))
	s.tel.Recovered(ctx, key, d.Action.String())
	return d.Head, nil
}
