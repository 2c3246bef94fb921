package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shino/foedus/engineconfig"
	"github.com/shino/foedus/proc"
)

func newTestEngine(t *testing.T) *Engine {
	dir := t.TempDir()
	opts := engineconfig.Default()
	opts.Thread = engineconfig.ThreadOptions{GroupCount: 1, ThreadCountPerGroup: 2}
	opts.Log.FolderPathPattern = filepath.Join(dir, "log")
	opts.Log.LoggerCount = 1
	opts.Savepoint.Path = filepath.Join(dir, "savepoint.toml")
	opts.Storage.ArrayDBPath = filepath.Join(dir, "array")
	opts.Storage.HashDBPath = filepath.Join(dir, "hash")

	e, err := New(opts, nil)
	require.NoError(t, err)
	return e
}

func TestEngineEndToEndArrayCommit(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.CreateArrayStorage("myarray", 16, 8)
	require.NoError(t, err)

	require.NoError(t, e.RegisterProc("overwrite", func(pc *proc.Context) error {
		return s.Overwrite(pc.Xct, 2, 0, pc.Session.Input())
	}))
	require.NoError(t, e.RegisterProc("read", func(pc *proc.Context) error {
		payload, err := s.Read(pc.Xct, 2)
		if err != nil {
			return err
		}
		return pc.Session.SetOutput(payload)
	}))

	e.Start()
	defer e.Stop()

	_, err = e.Executor.CallSynchronous("overwrite", []byte("hi there!"), nil)
	require.NoError(t, err)

	out := make([]byte, 16)
	sess, err := e.Executor.CallSynchronous("read", nil, out)
	require.NoError(t, err)
	require.Equal(t, "hi there!", string(out[:9]))
	_ = sess
}

// TestLoggersOwnOnlySameGroupWorkers covers the NUMA-local assignment spec
// §1 and §4.3 describe: with two groups and two loggers per group, every
// worker a logger owns must come from a single group, never a mix.
func TestLoggersOwnOnlySameGroupWorkers(t *testing.T) {
	dir := t.TempDir()
	opts := engineconfig.Default()
	opts.Thread = engineconfig.ThreadOptions{GroupCount: 2, ThreadCountPerGroup: 4}
	opts.Log.FolderPathPattern = filepath.Join(dir, "log")
	opts.Log.LoggerCount = 4
	opts.Savepoint.Path = filepath.Join(dir, "savepoint.toml")
	opts.Storage.ArrayDBPath = filepath.Join(dir, "array")
	opts.Storage.HashDBPath = filepath.Join(dir, "hash")

	e, err := New(opts, nil)
	require.NoError(t, err)

	for _, l := range e.WalMgr.Loggers() {
		tags := l.WorkerTags()
		require.NotEmpty(t, tags)
		group := tags[0][2:3] // "T<g-o>" -> g digit
		for _, tag := range tags {
			require.Equal(t, group, tag[2:3], "logger mixed workers from different groups: %v", tags)
		}
	}
}

func TestEngineRejectsDuplicateStorageName(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateHashStorage("dup")
	require.NoError(t, err)
	_, err = e.CreateHashStorage("dup")
	require.Error(t, err)
}

func TestEngineStopIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	e.Start()
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
}
