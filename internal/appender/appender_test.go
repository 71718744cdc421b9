package appender

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/docdb"
	"github.com/rzbill/brook/internal/lease"
	"github.com/rzbill/brook/internal/recovery"
	"github.com/rzbill/brook/internal/repository"
	"github.com/rzbill/brook/internal/retry"
	pebblestore "github.com/rzbill/brook/internal/storage/pebble"
	logpkg "github.com/rzbill/brook/pkg/log"
)

var key = brook.Key{Type: "t", ID: "s1"}

type fixture struct {
	db   *pebblestore.DB
	c    *docdb.FaultyContainer
	repo *repository.Repository
	rec  *recovery.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := docdb.Open(db, docdb.Options{Database: "brooks", Container: "events"})
	require.NoError(t, err)
	c := docdb.NewFaultyContainer(s)
	repo := repository.New(c, repository.Options{
		Retry:  retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger: logpkg.NewNopLogger(),
	})
	rec := recovery.NewService(repo, recovery.Options{Logger: logpkg.NewNopLogger()})
	return &fixture{db: db, c: c, repo: repo, rec: rec}
}

func (f *fixture) appender(opts Options) *Appender {
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	return New(f.repo, f.rec, opts)
}

func named(names ...string) []brook.Event {
	out := make([]brook.Event, len(names))
	for i, n := range names {
		out[i] = brook.Event{ID: n, Source: "test", EventType: "t.named", Data: []byte(n), Time: time.Unix(1700000000, 0).UTC()}
	}
	return out
}

func (f *fixture) read(t *testing.T, from, to brook.Position) []string {
	t.Helper()
	var out []string
	for pe, err := range f.repo.QueryEvents(context.Background(), key, from, to, 0) {
		require.NoError(t, err)
		out = append(out, pe.Event.ID)
	}
	return out
}

func (f *fixture) pending(t *testing.T) *repository.PendingCursor {
	t.Helper()
	p, err := f.repo.GetPendingCursorDocument(context.Background(), key)
	require.NoError(t, err)
	return p
}

func pos(p brook.Position) *brook.Position { return &p }

func TestAppendScenario(t *testing.T) {
	f := newFixture(t)
	head, err := f.appender(Options{}).Append(context.Background(), key, named("a", "b", "c"), nil)
	require.NoError(t, err)
	require.Equal(t, brook.Position(3), head)
	require.Equal(t, []string{"a", "b", "c"}, f.read(t, 0, 2))
	require.Equal(t, []string{"b"}, f.read(t, 1, 1))
	require.Nil(t, f.pending(t))
}

func TestAppendManyBatchesIsContiguous(t *testing.T) {
	f := newFixture(t)
	var names []string
	for i := 0; i < 23; i++ {
		names = append(names, fmt.Sprintf("e%02d", i))
	}
	a := f.appender(Options{MaxEventsPerBatch: 5})
	head, err := a.Append(context.Background(), key, named(names[:10]...), nil)
	require.NoError(t, err)
	require.Equal(t, brook.Position(10), head)
	head, err = a.Append(context.Background(), key, named(names[10:]...), pos(10))
	require.NoError(t, err)
	require.Equal(t, brook.Position(23), head)
	require.Equal(t, names, f.read(t, 0, 22))
	require.Equal(t, 5, f.c.Calls(docdb.CallBatch))
}

func TestAppendRejectsBadInputBeforeStorage(t *testing.T) {
	f := newFixture(t)
	a := f.appender(Options{MaxRequestSizeBytes: 8192})

	_, err := a.Append(context.Background(), key, nil, nil)
	require.ErrorIs(t, err, brook.ErrInvalidArgument)

	_, err = a.Append(context.Background(), key, []brook.Event{{ID: "no-time"}}, nil)
	require.ErrorIs(t, err, brook.ErrInvalidArgument)

	big := named("big")
	big[0].Data = make([]byte, 10000)
	_, err = a.Append(context.Background(), key, big, nil)
	require.ErrorIs(t, err, brook.ErrEventTooLarge)

	_, err = a.Append(context.Background(), brook.Key{Type: "t"}, named("a"), nil)
	require.ErrorIs(t, err, brook.ErrInvalidArgument)

	require.Zero(t, f.c.Writes())
	require.Zero(t, f.c.Calls(docdb.CallRead))
}

func TestAppendExpectedVersionMismatch(t *testing.T) {
	f := newFixture(t)
	a := f.appender(Options{})
	_, err := a.Append(context.Background(), key, named("a"), nil)
	require.NoError(t, err)

	f.c.ResetCalls()
	head, err := a.Append(context.Background(), key, named("b"), pos(0))
	require.ErrorIs(t, err, brook.ErrConcurrencyConflict)
	require.Equal(t, brook.Position(1), head)
	require.Zero(t, f.c.Writes())
}

func TestConcurrentAppendersOneWins(t *testing.T) {
	f := newFixture(t)
	// Separate appenders do not share a per-key executor, so they race in the store.
	a1 := f.appender(Options{})
	a2 := f.appender(Options{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i, a := range []*Appender{a1, a2} {
		wg.Add(1)
		go func(i int, a *Appender) {
			defer wg.Done()
			<-start
			_, errs[i] = a.Append(context.Background(), key, named(fmt.Sprintf("w%d-a", i), fmt.Sprintf("w%d-b", i)), pos(0))
		}(i, a)
	}
	close(start)
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case brook.KindOf(err) == brook.KindConcurrencyConflict:
			conflicts++
		default:
			require.Failf(t, "unexpected error", "%v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, conflicts)

	head, err := f.rec.Recover(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, brook.Position(2), head)
	got := f.read(t, 0, 1)
	require.Len(t, got, 2)
	require.Equal(t, got[0][:2], got[1][:2], "events must come from one writer")
}

func TestConflictRemovesOwnPendingCursor(t *testing.T) {
	f := newFixture(t)
	a := f.appender(Options{})
	_, err := a.Append(context.Background(), key, named("a"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	f.c.BeforeBatch = func(*docdb.TransactionalBatch) {
		f.c.BeforeBatch = nil
		_, err := f.c.Inner.UpsertItem(ctx, key.String(), "cursor", []byte(`{"type":"cursor","streamKey":"t|s1","position":1}`), nil)
		require.NoError(t, err)
	}
	_, err = a.Append(ctx, key, named("b"), nil)
	require.ErrorIs(t, err, brook.ErrConcurrencyConflict)
	require.Nil(t, f.pending(t))
	require.Equal(t, []string{"a"}, f.read(t, 0, 5))
}

func TestLostBatchResponseStillCommits(t *testing.T) {
	f := newFixture(t)
	a := f.appender(Options{})
	f.c.AfterBatch = func(_ *docdb.TransactionalBatch, err error) error {
		f.c.AfterBatch = nil
		require.NoError(t, err)
		return docdb.WithStatus(docdb.StatusRequestTimeout, "batch", "response lost")
	}
	head, err := a.Append(context.Background(), key, named("a", "b", "c"), pos(0))
	require.NoError(t, err)
	require.Equal(t, brook.Position(3), head)
	require.Nil(t, f.pending(t))
	require.Equal(t, []string{"a", "b", "c"}, f.read(t, 0, 5))
}

func TestRejectedBatchRemovesOwnPendingCursor(t *testing.T) {
	f := newFixture(t)
	a := f.appender(Options{})
	f.c.Inject(docdb.CallBatch, docdb.WithStatus(docdb.StatusBadRequest, "batch", "too many operations"))
	_, err := a.Append(context.Background(), key, named("a"), nil)
	require.ErrorIs(t, err, brook.ErrNonTransientStorage)
	require.Nil(t, f.pending(t))

	head, err := a.Append(context.Background(), key, named("a"), pos(0))
	require.NoError(t, err)
	require.Equal(t, brook.Position(1), head)
}

func TestExhaustedBatchRetriesLeaveMarkerForRecovery(t *testing.T) {
	f := newFixture(t)
	a := f.appender(Options{})
	f.c.Inject(docdb.CallBatch, docdb.Unavailable("batch"), docdb.Unavailable("batch"), docdb.Unavailable("batch"))
	_, err := a.Append(context.Background(), key, named("a"), nil)
	require.ErrorIs(t, err, brook.ErrTransientStorage)
	require.ErrorContains(t, err, "status unknown")
	require.NotNil(t, f.pending(t))

	recovered, err := f.rec.Recover(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, brook.Position(0), recovered)
	require.Nil(t, f.pending(t))
}

func TestCancelBetweenBatchesKeepsCommittedBatches(t *testing.T) {
	f := newFixture(t)
	a := f.appender(Options{MaxEventsPerBatch: 2})
	ctx, cancel := context.WithCancel(context.Background())
	batches := 0
	f.c.BeforeBatch = func(*docdb.TransactionalBatch) {
		batches++
		if batches == 2 {
			cancel()
		}
	}
	head, err := a.Append(ctx, key, named("a", "b", "c", "d"), nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, brook.Position(2), head)

	// The interrupted batch left its marker; recovery rolls it back.
	require.NotNil(t, f.pending(t))
	f.c.BeforeBatch = nil
	recovered, err := f.rec.Recover(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, brook.Position(2), recovered)
	require.Equal(t, []string{"a", "b"}, f.read(t, 0, 3))

	head, err = a.Append(context.Background(), key, named("c", "d"), pos(2))
	require.NoError(t, err)
	require.Equal(t, brook.Position(4), head)
}

func TestAppendRecoversFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.CreatePendingCursor(ctx, key, 0, 2)
	require.NoError(t, err)
	require.NoError(t, f.repo.ExecuteTransactionalBatch(ctx, key, named("a", "b"), 0, 2))

	head, err := f.appender(Options{}).Append(ctx, key, named("c"), pos(2))
	require.NoError(t, err)
	require.Equal(t, brook.Position(3), head)
	require.Equal(t, []string{"a", "b", "c"}, f.read(t, 0, 2))
}

func TestAppendRefusedWhileRecoveryAmbiguous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repo.CreatePendingCursor(ctx, key, 0, 2)
	require.NoError(t, err)
	require.NoError(t, f.repo.ExecuteTransactionalBatch(ctx, key, named("a", "b"), 0, 2))
	require.NoError(t, f.repo.DeleteEvent(ctx, key, 0))

	_, err = f.appender(Options{}).Append(ctx, key, named("c"), nil)
	require.ErrorIs(t, err, brook.ErrRecoveryAmbiguous)
}

func TestAppendUnderLease(t *testing.T) {
	f := newFixture(t)
	locks := lease.NewManager(lease.NewPebbleLeaser(f.db), lease.Options{
		MaxAcquireAttempts: 1,
		Logger:             logpkg.NewNopLogger(),
	})
	a := f.appender(Options{Locks: locks, MaxEventsPerBatch: 1})
	head, err := a.Append(context.Background(), key, named("a", "b", "c"), nil)
	require.NoError(t, err)
	require.Equal(t, brook.Position(3), head)

	// Released after the append.
	lock, err := locks.Acquire(context.Background(), key, time.Minute)
	require.NoError(t, err)
	lock.Release(context.Background())
}
