package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalHandlerRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(TerminalHandler(&buf, LevelWarn))
	log.Debug("should not appear")
	log.Warn("should appear", "key", "value")

	out := buf.String()
	require.NotContains(t, out, "should not appear")
	require.Contains(t, out, "should appear")
	require.Contains(t, out, "key=value")
}

func TestWithAddsPersistentContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(TerminalHandler(&buf, LevelInfo)).With("component", "wal")
	log.Info("drained")
	require.Contains(t, buf.String(), "component=wal")
}

func TestJSONHandlerProducesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(JSONHandler(&buf))
	log.Info("hello", "n", 1)
	require.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
}

func TestRotatingFileHandlerWritesJSONToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	log := New(RotatingFileHandler(path, 100, 1))
	log.Info("booted", "threads", 4)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"))
	require.Contains(t, string(data), "\"threads\":4")
}

func TestRootDefaultsAndSetRoot(t *testing.T) {
	orig := Root()
	defer SetRoot(orig)

	var buf bytes.Buffer
	SetRoot(New(TerminalHandler(&buf, LevelInfo)))
	Root().Info("via root")
	require.Contains(t, buf.String(), "via root")
}
