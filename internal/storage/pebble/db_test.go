package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	commits   int
	ops       int
	wrote     int
	read      int
	readCalls int
}

func (m *countingMetrics) ObserveWrite(_ time.Duration, bytes int) { m.wrote += bytes }
func (m *countingMetrics) ObserveRead(_ time.Duration, bytes int) {
	m.read += bytes
	m.readCalls++
}
func (m *countingMetrics) ObserveBatchCommit(_ time.Duration, numOps int, _ int) {
	m.commits++
	m.ops += numOps
}

func openTestDB(t *testing.T, mode FsyncMode) (*DB, *countingMetrics) {
	t.Helper()
	m := &countingMetrics{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: mode, FsyncInterval: 2 * time.Millisecond, Metrics: m})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, m
}

func TestOpenRequiresDataDir(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

func TestSetGetHas(t *testing.T) {
	for _, mode := range []FsyncMode{FsyncModeAlways, FsyncModeInterval, FsyncModeNever, FsyncModeUnspecified} {
		t.Run(mode.String(), func(t *testing.T) {
			db, m := openTestDB(t, mode)
			require.NoError(t, db.Set([]byte("k"), []byte("v1")))

			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, "v1", string(got))

			ok, err := db.Has([]byte("k"))
			require.NoError(t, err)
			require.True(t, ok)

			_, err = db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			ok, err = db.Has([]byte("missing"))
			require.NoError(t, err)
			require.False(t, ok)

			require.Equal(t, 2, m.wrote)
			require.Equal(t, 2, m.read)
			require.Equal(t, 1, m.commits)
		})
	}
}

func TestCommitBatch(t *testing.T) {
	db, m := openTestDB(t, FsyncModeAlways)
	b := db.NewBatch()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Set([]byte(fmt.Sprintf("k%d", i)), []byte("v"), nil))
	}
	require.NoError(t, db.CommitBatch(context.Background(), b))
	b.Close()
	require.Equal(t, 1, m.commits)
	require.Equal(t, 3, m.ops)

	require.Error(t, db.CommitBatch(context.Background(), nil))
}

func TestCommitBatchCanceled(t *testing.T) {
	db, _ := openTestDB(t, FsyncModeAlways)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := db.NewBatch()
	defer b.Close()
	_ = b.Set([]byte("k"), []byte("v"), nil)
	require.ErrorIs(t, db.CommitBatch(ctx, b), context.Canceled)

	ok, _ := db.Has([]byte("k"))
	require.False(t, ok, "canceled batch must not be written")
}

func TestScan(t *testing.T) {
	db, m := openTestDB(t, FsyncModeNever)
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		require.NoError(t, db.Set([]byte(k), []byte("v-"+k)))
	}
	var keys []string
	err := db.Scan(context.Background(), []byte("a/"), []byte("a0"), func(k, v []byte) (bool, error) {
		require.Equal(t, "v-"+string(k), string(v))
		keys = append(keys, string(k))
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a/1", "a/2", "a/3"}, keys)
	require.NotZero(t, m.readCalls, "scan should be observed")

	keys = nil
	_ = db.Scan(context.Background(), []byte("a/"), []byte("b0"), func(k, _ []byte) (bool, error) {
		keys = append(keys, string(k))
		return len(keys) < 2, nil
	})
	require.Len(t, keys, 2)

	boom := errors.New("boom")
	err = db.Scan(context.Background(), nil, nil, func(_, _ []byte) (bool, error) { return false, boom })
	require.ErrorIs(t, err, boom)
}

func TestPingAndClose(t *testing.T) {
	db, _ := openTestDB(t, FsyncModeAlways)
	require.NoError(t, db.Ping())
	require.NoError(t, db.Close())
	require.Error(t, db.Ping(), "ping after close should fail")
	require.NoError(t, db.Close(), "second close")
}
