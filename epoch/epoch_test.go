package epoch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvalid(t *testing.T) {
	require.False(t, Invalid.IsValid())
	require.True(t, First.IsValid())
}

func TestBeforeCircular(t *testing.T) {
	require.True(t, Epoch(1).Before(Epoch(2)))
	require.False(t, Epoch(2).Before(Epoch(1)))
	require.False(t, Epoch(5).Before(Epoch(5)))

	// Wraparound: a value just below max is "before" a value that wrapped
	// around to a small number, because the circular distance going
	// forward is smaller than going backward.
	near := Epoch(math.MaxUint32 - 2)
	wrapped := Epoch(3)
	require.True(t, near.Before(wrapped))
	require.False(t, wrapped.Before(near))
}

func TestNextWrapsToFirstNotInvalid(t *testing.T) {
	require.Equal(t, First, Epoch(math.MaxUint32).Next())
}

func TestMaxMin(t *testing.T) {
	require.Equal(t, Epoch(5), Max(Epoch(5), Epoch(3)))
	require.Equal(t, Epoch(3), Min(Epoch(5), Epoch(3)))
}

func TestAtomicStoreMax(t *testing.T) {
	var a Atomic
	a.Store(Epoch(5))
	a.StoreMax(Epoch(3))
	require.Equal(t, Epoch(5), a.Load())
	a.StoreMax(Epoch(10))
	require.Equal(t, Epoch(10), a.Load())
}

func TestAtomicStoreMin(t *testing.T) {
	var a Atomic
	a.Store(Epoch(10))
	a.StoreMin(Epoch(20))
	require.Equal(t, Epoch(10), a.Load())
	a.StoreMin(Epoch(2))
	require.Equal(t, Epoch(2), a.Load())
}
