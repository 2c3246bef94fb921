package array

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

func TestOverwriteCommitsAndIsVisible(t *testing.T) {
	s, err := New(1, "myarray", 16, 8, filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	defer s.Close()

	mgr := xct.NewManager(fakeLogManager{}, 0, nil)
	th := thread.ID{Group: 0, Ordinal: 0}
	buf := wal.NewBuffer(4096)
	ctx := xct.NewContext(th, buf, 32, 32)

	require.NoError(t, mgr.Begin(ctx))
	require.NoError(t, s.Overwrite(ctx, 3, 0, []byte("abcXYZ\x00")))
	ce, err := mgr.Precommit(ctx)
	require.NoError(t, err)
	require.True(t, ce.IsValid())

	require.NoError(t, mgr.Begin(ctx))
	payload, err := s.Read(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("abcXYZ\x00"), payload[:7])
	_, err = mgr.Precommit(ctx)
	require.NoError(t, err)
}

// TestReadAndCommitPopulateCacheForPeek covers the pagecache wiring: a
// committed write's Apply and a subsequent Read must both leave the slot's
// payload fetchable via PeekCached without opening a transaction.
func TestReadAndCommitPopulateCacheForPeek(t *testing.T) {
	s, err := New(1, "myarray", 16, 8, filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	defer s.Close()
	s.SetCache(pagecache.New(1, 1<<20))

	mgr := xct.NewManager(fakeLogManager{}, 0, nil)
	th := thread.ID{Group: 0, Ordinal: 0}
	buf := wal.NewBuffer(4096)
	ctx := xct.NewContext(th, buf, 32, 32)

	require.NoError(t, mgr.Begin(ctx))
	require.NoError(t, s.Overwrite(ctx, 2, 0, []byte("cached!")))
	_, err = mgr.Precommit(ctx)
	require.NoError(t, err)

	cached, ok := s.PeekCached(0, 2)
	require.True(t, ok)
	require.Equal(t, "cached!", string(cached[:7]))
}

func TestReadOutOfRangeFails(t *testing.T) {
	s, err := New(1, "myarray", 16, 4, filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	defer s.Close()

	th := thread.ID{Group: 0, Ordinal: 1}
	buf := wal.NewBuffer(4096)
	ctx := xct.NewContext(th, buf, 32, 32)
	_, err = s.Read(ctx, 99)
	require.True(t, errs.Is(err, errs.KeyNotFound))
}
