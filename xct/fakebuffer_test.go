package xct

import "github.com/shino/foedus/epoch"

// fakeBuffer is a minimal in-memory Buffer used to unit test the OCC
// protocol without pulling in the real wal.Buffer implementation.
type fakeBuffer struct {
	tail      int64
	committed int64
	pending   int
	published []epoch.Epoch
}

func (b *fakeBuffer) Tail() int64      { return b.tail }
func (b *fakeBuffer) Committed() int64 { return b.committed }

func (b *fakeBuffer) AppendRecord(storageID StorageID, kind uint8, payload []byte) error {
	b.tail += int64(len(payload)) + 16
	b.pending++
	return nil
}

func (b *fakeBuffer) Publish(commitEpoch epoch.Epoch) {
	b.committed = b.tail
	b.pending = 0
	b.published = append(b.published, commitEpoch)
}

func (b *fakeBuffer) Discard() {
	b.tail = b.committed
	b.pending = 0
}
