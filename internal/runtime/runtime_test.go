package runtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/brook/internal/brook"
	cfgpkg "github.com/rzbill/brook/internal/config"
	"github.com/rzbill/brook/internal/docdb"
	"github.com/rzbill/brook/internal/reader"
	pebblestore "github.com/rzbill/brook/internal/storage/pebble"
	logpkg "github.com/rzbill/brook/pkg/log"
)

var key = brook.Key{Type: "orders", ID: "o-1"}

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Retry = cfgpkg.RetryConfig{MaxRetries: 3, BaseDelayMs: 1, MaxDelayMs: 5}
	return cfg
}

func open(t *testing.T, cfg cfgpkg.Config, wrap func(docdb.Container) docdb.Container) *Runtime {
	t.Helper()
	rt, err := Open(context.Background(), Options{Config: cfg, Logger: logpkg.NewNopLogger(), WrapContainer: wrap})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func events(ids ...string) []brook.Event {
	out := make([]brook.Event, len(ids))
	for i, id := range ids {
		out[i] = brook.Event{ID: id, Source: "test", EventType: "order.placed", Data: []byte(fmt.Sprintf(`{"n":%d}`, i)), Time: time.Unix(1700000000, 0).UTC()}
	}
	return out
}

func drain(t *testing.T, seq func(func(brook.PositionedEvent, error) bool)) []string {
	t.Helper()
	var out []string
	for pe, err := range seq {
		require.NoError(t, err)
		out = append(out, pe.Event.ID)
	}
	return out
}

func TestOpenCloseHealth(t *testing.T) {
	rt := open(t, testConfig(t), nil)
	require.NoError(t, rt.CheckHealth(context.Background()))
	require.NoError(t, rt.Close())
	require.Error(t, rt.CheckHealth(context.Background()))
	require.NoError(t, rt.Close())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.LeaseRenewalThresholdSeconds = cfg.LeaseDurationSeconds
	_, err := Open(context.Background(), Options{Config: cfg, Logger: logpkg.NewNopLogger()})
	require.Error(t, err)
}

func TestFsyncMode(t *testing.T) {
	for name, want := range map[string]pebblestore.FsyncMode{
		"":         pebblestore.FsyncModeAlways,
		"always":   pebblestore.FsyncModeAlways,
		"interval": pebblestore.FsyncModeInterval,
		"never":    pebblestore.FsyncModeNever,
	} {
		got, err := FsyncMode(name)
		require.NoError(t, err)
		require.Equal(t, want, got, name)
	}
	_, err := FsyncMode("weekly")
	require.Error(t, err)
}

func TestAppendAndRead(t *testing.T) {
	rt := open(t, testConfig(t), nil)
	ctx := context.Background()

	head, err := rt.ReadHeadPosition(ctx, key)
	require.NoError(t, err)
	require.Equal(t, brook.Position(0), head)

	head, err = rt.AppendEvents(ctx, key, events("a", "b", "c"), nil)
	require.NoError(t, err)
	require.Equal(t, brook.Position(3), head)

	from, to := brook.Position(0), brook.Position(2)
	require.Equal(t, []string{"a", "b", "c"}, drain(t, rt.ReadRange(ctx, key, &from, &to)))
	one := brook.Position(1)
	require.Equal(t, []string{"b"}, drain(t, rt.ReadRange(ctx, key, &one, &one)))

	rk, err := brook.NewRangeKey(key, 0, rt.Config().SliceSize)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, drain(t, rt.ReadEvents(ctx, rk)))

	head, err = rt.Recover(ctx, key)
	require.NoError(t, err)
	require.Equal(t, brook.Position(3), head)
}

func TestExpectedVersion(t *testing.T) {
	rt := open(t, testConfig(t), nil)
	ctx := context.Background()
	_, err := rt.AppendEvents(ctx, key, events("a"), nil)
	require.NoError(t, err)

	stale := brook.Position(0)
	_, err = rt.AppendEvents(ctx, key, events("b"), &stale)
	require.ErrorIs(t, err, brook.ErrConcurrencyConflict)

	current := brook.Position(1)
	head, err := rt.AppendEvents(ctx, key, events("b"), &current)
	require.NoError(t, err)
	require.Equal(t, brook.Position(2), head)
}

func TestReadRangeWithFilter(t *testing.T) {
	rt := open(t, testConfig(t), nil)
	ctx := context.Background()
	_, err := rt.AppendEvents(ctx, key, events("a", "b", "c", "d"), nil)
	require.NoError(t, err)

	f, err := reader.NewFilter(`json.n >= 2.0`)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d"}, drain(t, rt.ReadRange(ctx, key, nil, nil, reader.WithFilter(f))))
}

func TestTransientFaultsAreRetried(t *testing.T) {
	var faulty *docdb.FaultyContainer
	rt := open(t, testConfig(t), func(c docdb.Container) docdb.Container {
		faulty = docdb.NewFaultyContainer(c)
		return faulty
	})
	faulty.Inject(docdb.CallBatch, docdb.Throttled(docdb.CallBatch, 1), docdb.Unavailable(docdb.CallBatch))

	head, err := rt.AppendEvents(context.Background(), key, events("a", "b"), nil)
	require.NoError(t, err)
	require.Equal(t, brook.Position(2), head)
	require.Equal(t, 3, faulty.Calls(docdb.CallBatch))
}

func TestLockedAppendsWithPebbleLeases(t *testing.T) {
	cfg := testConfig(t)
	cfg.LockAppends = true
	cfg.Lease.Backend = cfgpkg.LeaseBackendPebble
	rt := open(t, cfg, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := rt.AppendEvents(ctx, key, events(fmt.Sprintf("e%d", i)), nil)
		require.NoError(t, err)
	}
	head, err := rt.ReadHeadPosition(ctx, key)
	require.NoError(t, err)
	require.Equal(t, brook.Position(3), head)
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Open(context.Background(), Options{Config: cfg, Logger: logpkg.NewNopLogger()})
	require.NoError(t, err)
	_, err = rt.AppendEvents(context.Background(), key, events("a", "b"), nil)
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	rt = open(t, cfg, nil)
	head, err := rt.ReadHeadPosition(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, brook.Position(2), head)
}

func TestInvalidKey(t *testing.T) {
	rt := open(t, testConfig(t), nil)
	_, err := rt.ReadHeadPosition(context.Background(), brook.Key{})
	require.ErrorIs(t, err, brook.ErrInvalidArgument)
	_, err = rt.AppendEvents(context.Background(), brook.Key{Type: "x"}, events("a"), nil)
	require.ErrorIs(t, err, brook.ErrInvalidArgument)
}
