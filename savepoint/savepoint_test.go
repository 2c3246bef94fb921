package savepoint

import (
	"path/filepath"
	"testing"

	"github.com/shino/foedus/epoch"
	"github.com/stretchr/testify/require"
)

func TestRestoreOnFreshFileIsInvalid(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "sp.toml"))
	e, err := m.RestoreDurableEpoch()
	require.NoError(t, err)
	require.Equal(t, epoch.Invalid, e)
}

func TestPersistAndRestoreRoundTrip(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "sp.toml"))
	require.NoError(t, m.PersistDurableEpoch(epoch.Epoch(42)))
	require.NoError(t, m.PersistLoggerState(LoggerState{Name: "l0", CurrentFile: "0.log", CurrentFileOffsetDurable: 128}))

	e, err := m.RestoreDurableEpoch()
	require.NoError(t, err)
	require.Equal(t, epoch.Epoch(42), e)

	doc, err := m.read()
	require.NoError(t, err)
	require.Len(t, doc.Loggers, 1)
	require.Equal(t, "l0", doc.Loggers[0].Name)
}
