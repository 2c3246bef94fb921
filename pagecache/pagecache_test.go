package pagecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTripPerShard(t *testing.T) {
	c := New(2, 1<<20)
	c.Set(0, []byte("k"), []byte("v0"))
	c.Set(1, []byte("k"), []byte("v1"))

	got0, ok := c.Get(0, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v0"), got0)

	got1, ok := c.Get(1, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), got1)
}

func TestResetClearsEntries(t *testing.T) {
	c := New(1, 1<<20)
	c.Set(0, []byte("k"), []byte("v"))
	c.Reset()
	_, ok := c.Get(0, []byte("k"))
	require.False(t, ok)
}
