package hash

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/pagecache"
	"github.com/shino/foedus/thread"
	"github.com/shino/foedus/wal"
	"github.com/shino/foedus/xct"
)

type fakeLogManager struct{}

func (fakeLogManager) WaitUntilDurable(epoch.Epoch, int64) error { return nil }
func (fakeLogManager) DurableGlobalEpoch() epoch.Epoch           { return epoch.Invalid }

func TestInsertNotVisibleUntilCommit(t *testing.T) {
	s, err := New(2, "myhash", filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	defer s.Close()

	mgr := xct.NewManager(fakeLogManager{}, 0, nil)
	th := thread.ID{Group: 0, Ordinal: 0}
	buf := wal.NewBuffer(4096)
	ctx := xct.NewContext(th, buf, 32, 32)

	require.NoError(t, mgr.Begin(ctx))
	require.NoError(t, s.Insert(ctx, []byte("k1"), []byte("v1")))

	// Uncommitted: not yet visible even within the same transaction's buffer
	// state; a fresh read-only lookup via the index must miss.
	_, err = s.Read(ctx, []byte("k1"))
	require.True(t, errs.Is(err, errs.KeyNotFound))

	ce, err := mgr.Precommit(ctx)
	require.NoError(t, err)
	require.True(t, ce.IsValid())

	require.NoError(t, mgr.Begin(ctx))
	payload, err := s.Read(ctx, []byte("k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), payload)
	_, err = mgr.Precommit(ctx)
	require.NoError(t, err)
}

// TestInsertCommitPopulatesCacheForPeek mirrors the array storage's
// equivalent test: a committed Insert must leave its payload reachable via
// PeekCached without opening a transaction.
func TestInsertCommitPopulatesCacheForPeek(t *testing.T) {
	s, err := New(2, "myhash", filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	defer s.Close()
	s.SetCache(pagecache.New(1, 1<<20))

	mgr := xct.NewManager(fakeLogManager{}, 0, nil)
	th := thread.ID{Group: 0, Ordinal: 0}
	buf := wal.NewBuffer(4096)
	ctx := xct.NewContext(th, buf, 32, 32)

	require.NoError(t, mgr.Begin(ctx))
	require.NoError(t, s.Insert(ctx, []byte("k1"), []byte("v1")))
	_, err = mgr.Precommit(ctx)
	require.NoError(t, err)

	cached, ok := s.PeekCached(0, []byte("k1"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), cached)
}

func TestDuplicateInsertRejected(t *testing.T) {
	s, err := New(2, "myhash", filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	defer s.Close()

	mgr := xct.NewManager(fakeLogManager{}, 0, nil)
	th := thread.ID{Group: 0, Ordinal: 0}
	buf := wal.NewBuffer(4096)
	ctx := xct.NewContext(th, buf, 32, 32)

	require.NoError(t, mgr.Begin(ctx))
	require.NoError(t, s.Insert(ctx, []byte("dup"), []byte("a")))
	_, err = mgr.Precommit(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Begin(ctx))
	err = s.Insert(ctx, []byte("dup"), []byte("b"))
	require.True(t, errs.Is(err, errs.DuplicateKey))
	require.NoError(t, mgr.Abort(ctx))
}
