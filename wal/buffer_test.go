package wal

import (
	"testing"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/xct"
	"github.com/stretchr/testify/require"
)

func TestAppendPublishPatchesEpoch(t *testing.T) {
	b := NewBuffer(4096)
	require.NoError(t, b.AppendRecord(xct.StorageID(1), 7, []byte("hello")))
	require.Equal(t, int64(0), b.Committed())

	b.Publish(epoch.Epoch(9))
	require.Equal(t, b.Tail(), b.Committed())

	rec := b.ReadFrom(0)
	require.Equal(t, xct.StorageID(1), rec.StorageID)
	require.Equal(t, uint8(7), rec.Kind)
	require.Equal(t, epoch.Epoch(9), rec.CommitEpoch)
	require.Equal(t, []byte("hello"), rec.Payload)
}

func TestDiscardRewindsTail(t *testing.T) {
	b := NewBuffer(4096)
	require.NoError(t, b.AppendRecord(xct.StorageID(1), 1, []byte("abc")))
	before := b.Committed()
	b.Discard()
	require.Equal(t, before, b.Tail())
	require.Equal(t, before, b.Committed())
}

func TestAppendTooLargeFails(t *testing.T) {
	b := NewBuffer(32)
	err := b.AppendRecord(xct.StorageID(1), 1, make([]byte, 64))
	require.Error(t, err)
}

func TestMultipleRecordsWrapAround(t *testing.T) {
	b := NewBuffer(64)
	for i := 0; i < 5; i++ {
		start := b.Tail()
		require.NoError(t, b.AppendRecord(xct.StorageID(1), uint8(i), []byte{byte(i), byte(i), byte(i)}))
		b.Publish(epoch.Epoch(i + 1))

		rec := b.ReadFrom(start)
		require.Equal(t, uint8(i), rec.Kind)
		require.Equal(t, epoch.Epoch(i+1), rec.CommitEpoch)

		b.AdvanceHead(b.Tail()) // simulate logger drain so ring space is reclaimed
	}
}
