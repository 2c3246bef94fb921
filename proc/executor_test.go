package proc

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/storage/array"
	"github.com/shino/foedus/thread"
	"github.com/shino/foedus/wal"
	"github.com/shino/foedus/xct"
)

type fakeLogManager struct{}

func (fakeLogManager) WaitUntilDurable(epoch.Epoch, int64) error { return nil }
func (fakeLogManager) DurableGlobalEpoch() epoch.Epoch           { return epoch.Invalid }

func newTestExecutor(t *testing.T) (*Executor, *Registry) {
	pool := thread.NewPool(1, 1, nil)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop() })

	xctMgr := xct.NewManager(fakeLogManager{}, 0, nil)
	id := thread.ID{Group: 0, Ordinal: 0}
	buf := wal.NewBuffer(4096)
	contexts := map[thread.ID]*xct.Context{id: xct.NewContext(id, buf, 32, 32)}

	reg := NewRegistry()
	return NewExecutor(pool, xctMgr, reg, contexts), reg
}

func TestProcedureCommitsWriteAndEchoesOutput(t *testing.T) {
	ex, reg := newTestExecutor(t)
	s, err := array.New(1, "myarray", 16, 4, filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, reg.PreRegister("overwrite_and_echo", func(pc *Context) error {
		if err := s.Overwrite(pc.Xct, 0, 0, pc.Session.Input()); err != nil {
			return err
		}
		return pc.Session.SetOutput([]byte("ok"))
	}))
	reg.Seal()

	out := make([]byte, 8)
	sess, err := ex.CallSynchronous("overwrite_and_echo", []byte("hello"), out)
	require.NoError(t, err)
	require.Equal(t, "ok", string(out[:sess.OutputUsed()]))
}

func TestProcedureErrorAbortsTransaction(t *testing.T) {
	ex, reg := newTestExecutor(t)
	require.NoError(t, reg.PreRegister("always_fails", func(pc *Context) error {
		return pc.Session.SetOutput(make([]byte, 100)) // buffer too small -> error
	}))
	require.NoError(t, reg.PreRegister("noop", func(pc *Context) error { return nil }))
	reg.Seal()

	_, err := ex.CallSynchronous("always_fails", nil, make([]byte, 1))
	require.Error(t, err)

	// The worker's context must be usable again afterwards (abort cleared
	// Active state rather than leaving it stuck).
	sess, err := ex.CallSynchronous("noop", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestUnregisteredProcedureFails(t *testing.T) {
	ex, _ := newTestExecutor(t)
	_, err := ex.CallSynchronous("nope", nil, nil)
	require.Error(t, err)
}

// TestCallPicksAnyIdleWorkerWithoutThreadID covers spec §4.4's
// impersonate(proc_name, input, size, session): Call takes no thread
// argument, so two concurrent calls against a two-worker pool must both be
// dispatched (to whichever workers are idle) rather than one failing for
// lack of a caller-supplied target thread.
func TestCallPicksAnyIdleWorkerWithoutThreadID(t *testing.T) {
	pool := thread.NewPool(1, 2, nil)
	pool.Start()
	t.Cleanup(func() { _ = pool.Stop() })

	xctMgr := xct.NewManager(fakeLogManager{}, 0, nil)
	ids := pool.Threads()
	contexts := make(map[thread.ID]*xct.Context, len(ids))
	for _, id := range ids {
		contexts[id] = xct.NewContext(id, wal.NewBuffer(4096), 32, 32)
	}

	reg := NewRegistry()
	release := make(chan struct{})
	require.NoError(t, reg.PreRegister("block", func(pc *Context) error {
		<-release
		return nil
	}))
	reg.Seal()

	ex := NewExecutor(pool, xctMgr, reg, contexts)

	sess1, err := ex.Call("block", nil, nil)
	require.NoError(t, err)
	sess2, err := ex.Call("block", nil, nil)
	require.NoError(t, err)

	// Every worker is now busy; a third call must fail fast rather than
	// queue.
	_, err = ex.Call("block", nil, nil)
	require.Error(t, err)

	close(release)
	require.NoError(t, sess1.Wait())
	require.NoError(t, sess2.Wait())
}
