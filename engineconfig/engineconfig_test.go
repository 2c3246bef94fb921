package engineconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[xct]
max_read_set_size = 1024

[log]
logger_count = 2
`), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1024, opts.Xct.MaxReadSetSize)
	require.Equal(t, 256, opts.Xct.MaxWriteSetSize) // untouched, still the default
	require.Equal(t, 2, opts.Log.LoggerCount)
}

func TestValidateRejectsZeroLoggerCount(t *testing.T) {
	opts := Default()
	opts.Log.LoggerCount = 0
	require.Error(t, opts.Validate())
}

func TestValidateRejectsNegativeSetSizes(t *testing.T) {
	opts := Default()
	opts.Xct.MaxReadSetSize = -1
	require.Error(t, opts.Validate())
}
