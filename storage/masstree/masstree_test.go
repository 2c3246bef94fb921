package masstree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/thread"
	"github.com/shino/foedus/wal"
	"github.com/shino/foedus/xct"
)

type fakeLogManager struct{}

func (fakeLogManager) WaitUntilDurable(epoch.Epoch, int64) error { return nil }
func (fakeLogManager) DurableGlobalEpoch() epoch.Epoch           { return epoch.Invalid }

func TestScanReturnsKeysInOrder(t *testing.T) {
	s := New(3, "mytree")
	mgr := xct.NewManager(fakeLogManager{}, 0, nil)
	th := thread.ID{Group: 0, Ordinal: 0}
	buf := wal.NewBuffer(1 << 16)
	ctx := xct.NewContext(th, buf, 64, 64)

	keys := []string{"k05", "k01", "k09", "k03", "k07"}
	for _, k := range keys {
		require.NoError(t, mgr.Begin(ctx))
		require.NoError(t, s.Insert(ctx, []byte(k), []byte(fmt.Sprintf("v-%s", k))))
		_, err := mgr.Precommit(ctx)
		require.NoError(t, err)
	}

	require.NoError(t, mgr.Begin(ctx))
	gotKeys, gotPayloads, err := s.Scan(ctx, []byte("k00"), nil)
	require.NoError(t, err)
	_, err = mgr.Precommit(ctx)
	require.NoError(t, err)

	require.Len(t, gotKeys, 5)
	for i := 1; i < len(gotKeys); i++ {
		require.Less(t, string(gotKeys[i-1]), string(gotKeys[i]))
	}
	require.Equal(t, []byte("v-k01"), gotPayloads[0])
}
