package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/brook/internal/appender"
	"github.com/rzbill/brook/internal/brook"
	cfgpkg "github.com/rzbill/brook/internal/config"
	"github.com/rzbill/brook/internal/docdb"
	"github.com/rzbill/brook/internal/lease"
	"github.com/rzbill/brook/internal/reader"
	"github.com/rzbill/brook/internal/recovery"
	"github.com/rzbill/brook/internal/repository"
	"github.com/rzbill/brook/internal/retry"
	pebblestore "github.com/rzbill/brook/internal/storage/pebble"
	"github.com/rzbill/brook/internal/telemetry"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config    cfgpkg.Config
	Logger    logpkg.Logger
	Telemetry *telemetry.Telemetry
	// WrapContainer, when set, decorates the document container; tests use it
	// to inject storage faults.
	WrapContainer func(docdb.Container) docdb.Container
}

// Runtime wires storage, config, and the brook services for a single-node instance.
type Runtime struct {
	db     *pebblestore.DB
	store  *docdb.Store
	redis  *redis.Client
	config cfgpkg.Config
	logger logpkg.Logger

	repo     *repository.Repository
	recovery *recovery.Service
	appender *appender.Appender
	reader   *reader.RangeReader
	locks    *lease.Manager
}

// FsyncMode maps a config fsync name to the storage mode.
func FsyncMode(name string) (pebblestore.FsyncMode, error) {
	switch name {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	default:
		return pebblestore.FsyncModeUnspecified, fmt.Errorf("unknown fsync mode %q", name)
	}
}

// Open validates the configuration, initializes the underlying storage and
// returns a Runtime.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfg.ResolvedDataDir()
	}
	fsync, err := FsyncMode(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger().WithComponent("runtime")
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.DataDir,
		Fsync:         fsync,
		FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
		Metrics:       tel.StorageHook(),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{db: db, config: cfg, logger: logger}
	if err := rt.wire(ctx, opts, tel); err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Info("runtime opened",
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("container", cfg.Database+"/"+cfg.Container),
		logpkg.Str("lease_backend", cfg.Lease.Backend))
	return rt, nil
}

func (r *Runtime) wire(ctx context.Context, opts Options, tel *telemetry.Telemetry) error {
	cfg := r.config
	store, err := docdb.Open(r.db, docdb.Options{Database: cfg.Database, Container: cfg.Container})
	if err != nil {
		return err
	}
	r.store = store
	var container docdb.Container = store
	if opts.WrapContainer != nil {
		container = opts.WrapContainer(container)
	}

	leaser, err := r.leaser(ctx)
	if err != nil {
		return err
	}
	if leaser != nil {
		r.locks = lease.NewManager(leaser, lease.Options{
			RenewalThreshold:   cfg.LeaseRenewalThreshold(),
			MaxAcquireAttempts: cfg.Lease.MaxAcquireAttempts,
			AcquireRetryDelay:  cfg.Lease.AcquireRetryDelay(),
			Logger:             r.logger.WithComponent("lease"),
		})
	}

	r.repo = repository.New(container, repository.Options{
		Retry: retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay(),
			MaxDelay:   cfg.Retry.MaxDelay(),
		},
		QueryBatchSize: cfg.QueryBatchSize,
		Logger:         r.logger.WithComponent("repository"),
	})
	r.recovery = recovery.NewService(r.repo, recovery.Options{
		Locks:         r.locks,
		LeaseDuration: cfg.LeaseDuration(),
		Telemetry:     tel,
		Logger:        r.logger.WithComponent("recovery"),
	})
	appendOpts := appender.Options{
		MaxEventsPerBatch:   cfg.MaxEventsPerBatch,
		MaxRequestSizeBytes: cfg.MaxRequestSizeBytes,
		LeaseDuration:       cfg.LeaseDuration(),
		Telemetry:           tel,
		Logger:              r.logger.WithComponent("appender"),
	}
	if cfg.LockAppends {
		appendOpts.Locks = r.locks
	}
	r.appender = appender.New(r.repo, r.recovery, appendOpts)
	r.reader = reader.NewRangeReader(reader.StoreSource{Repository: r.repo, Recovery: r.recovery}, reader.Options{
		SliceSize: cfg.SliceSize,
		PageSize:  cfg.QueryBatchSize,
		Telemetry: tel,
	})
	return nil
}

func (r *Runtime) leaser(ctx context.Context) (lease.Leaser, error) {
	switch r.config.Lease.Backend {
	case cfgpkg.LeaseBackendPebble:
		return lease.NewPebbleLeaser(r.db), nil
	case cfgpkg.LeaseBackendRedis:
		client, err := lease.DialRedis(ctx, r.config.Lease.RedisAddr)
		if err != nil {
			return nil, err
		}
		r.redis = client
		return lease.NewRedisLeaser(client), nil
	default:
		return nil, nil
	}
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
		r.redis = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

// CheckHealth checks local storage, the container record and the lease backend.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := r.db.Ping(); err != nil {
		return err
	}
	if _, err := docdb.EnsureContainer(r.db, r.config.Database, r.config.Container, r.store.Meta().PartitionKeyPath); err != nil {
		return fmt.Errorf("container: %w", err)
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// ReadHeadPosition returns the recovered head of key: the position the next
// appended event will take.
func (r *Runtime) ReadHeadPosition(ctx context.Context, key brook.Key) (brook.Position, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	return r.recovery.Recover(ctx, key)
}

// ReadEvents streams the events of one slice below the recovered head.
func (r *Runtime) ReadEvents(ctx context.Context, rk brook.RangeKey) iter.Seq2[brook.PositionedEvent, error] {
	return r.reader.StreamSlice(ctx, rk)
}

// ReadRange streams the events of key in [from, to]. Nil bounds default to
// 0 and head-1.
func (r *Runtime) ReadRange(ctx context.Context, key brook.Key, from, to *brook.Position, opts ...reader.ReadOption) iter.Seq2[brook.PositionedEvent, error] {
	return r.reader.Stream(ctx, key, from, to, opts...)
}

// AppendEvents appends events to key and returns the new head.
func (r *Runtime) AppendEvents(ctx context.Context, key brook.Key, events []brook.Event, expected *brook.Position) (brook.Position, error) {
	return r.appender.Append(ctx, key, events, expected)
}

// Recover resolves any unfinished append on key and returns its head.
func (r *Runtime) Recover(ctx context.Context, key brook.Key) (brook.Position, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	return r.recovery.Recover(ctx, key)
}

// Repository exposes the document repository (internal use only).
func (r *Runtime) Repository() *repository.Repository { return r.repo }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
