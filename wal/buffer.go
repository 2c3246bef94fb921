// Package wal implements the thread-local log buffer, the per-file logger
// that drains a group of those buffers, and the log manager that aggregates
// per-logger durable epochs into one engine-wide durable epoch (spec §4.3).
package wal

import (
	"encoding/binary"
	"sync"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/xct"
)

// recordHeaderSize is {length(4), storage_id(4), kind(1)+pad(3), commit_epoch(4)}.
const recordHeaderSize = 16

// Buffer is a fixed-capacity byte ring holding one worker's not-yet-durable
// log records (spec §3 "Thread log buffer"). It implements xct.Buffer.
//
// head/tail/committed are logical (ever-increasing) offsets; physical
// storage position is offset % capacity. The logger goroutine advances
// head as it drains; the owning worker goroutine advances tail/committed.
// A single mutex guards all three because the ring is shared between the
// owning worker and its logger — the spec's "lock-free readers" promise is
// about record payloads (validated via owner-id CAS), not this
// housekeeping structure.
type Buffer struct {
	mu sync.Mutex

	data []byte

	head      int64
	tail      int64
	committed int64

	pendingEpochOffsets []int64
}

// NewBuffer allocates a ring of capacity bytes.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 4 << 20
	}
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Tail() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tail
}

func (b *Buffer) Committed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// Head returns the offset up to which the logger has durably drained.
func (b *Buffer) Head() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head
}

func (b *Buffer) writeAt(offset int64, p []byte) {
	cap64 := int64(len(b.data))
	pos := offset % cap64
	n := copy(b.data[pos:], p)
	if n < len(p) {
		copy(b.data[:], p[n:])
	}
}

func (b *Buffer) readAt(offset int64, p []byte) {
	cap64 := int64(len(b.data))
	pos := offset % cap64
	n := copy(p, b.data[pos:])
	if n < len(p) {
		copy(p[n:], b.data[:])
	}
}

// AppendRecord implements xct.Buffer. The commit_epoch field is written as
// epoch.Invalid (0) and patched by the following Publish, since every
// record appended between two Publish/Discard calls belongs to the same
// not-yet-committed transaction.
func (b *Buffer) AppendRecord(storageID xct.StorageID, kind uint8, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := int64(recordHeaderSize + len(payload))
	if total > int64(len(b.data)) {
		return errs.New(errs.MemoryNoFreePages, "log record larger than thread log buffer capacity")
	}
	if b.tail+total-b.head > int64(len(b.data)) {
		return errs.New(errs.MemoryNoFreePages, "thread log buffer full; logger is falling behind")
	}

	hdr := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(storageID))
	hdr[8] = kind
	// hdr[9:12] padding, left zero
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(epoch.Invalid))

	epochFieldOffset := b.tail + 12
	b.writeAt(b.tail, hdr)
	b.writeAt(b.tail+recordHeaderSize, payload)

	b.pendingEpochOffsets = append(b.pendingEpochOffsets, epochFieldOffset)
	b.tail += total
	return nil
}

// Publish implements xct.Buffer.
func (b *Buffer) Publish(commitEpoch epoch.Epoch) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(commitEpoch))
	for _, off := range b.pendingEpochOffsets {
		b.writeAt(off, field[:])
	}
	b.pendingEpochOffsets = b.pendingEpochOffsets[:0]
	b.committed = b.tail
}

// Discard implements xct.Buffer.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tail = b.committed
	b.pendingEpochOffsets = b.pendingEpochOffsets[:0]
}

// RawRecord is a decoded view of one persisted log record, used by Logger
// while draining.
type RawRecord struct {
	StorageID   xct.StorageID
	Kind        uint8
	CommitEpoch epoch.Epoch
	Payload     []byte
	// NextOffset is the logical offset immediately following this record.
	NextOffset int64
}

// ReadFrom decodes one record starting at offset, which must be < Committed
// (the caller, Logger, only ever reads the committed prefix).
func (b *Buffer) ReadFrom(offset int64) RawRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	hdr := make([]byte, recordHeaderSize)
	b.readAt(offset, hdr)
	length := binary.LittleEndian.Uint32(hdr[0:4])
	storageID := xct.StorageID(binary.LittleEndian.Uint32(hdr[4:8]))
	kind := hdr[8]
	ce := epoch.Epoch(binary.LittleEndian.Uint32(hdr[12:16]))

	payload := make([]byte, length)
	b.readAt(offset+recordHeaderSize, payload)

	return RawRecord{
		StorageID:   storageID,
		Kind:        kind,
		CommitEpoch: ce,
		Payload:     payload,
		NextOffset:  offset + recordHeaderSize + int64(length),
	}
}

// AdvanceHead is called by the logger after durably persisting up to
// offset.
func (b *Buffer) AdvanceHead(offset int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = offset
}
