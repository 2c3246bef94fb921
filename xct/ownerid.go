// Package xct implements the per-worker transaction context (Xct) and the
// OCC commit protocol that validates and publishes it (spec §4.1).
package xct

import (
	"sync/atomic"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/thread"
)

// OwnerID is the 64-bit commit-timestamp word stored on every record (spec
// §3 "Record owner-id"). Bit layout, high to low:
//
//	[63:32] epoch            (32 bits)
//	[31:16] thread id        (8 bits group, 8 bits ordinal)
//	[15:1]  ordinal          (15 bits, resets on epoch change)
//	[0]     lock bit
//
// The lock bit is set only by the owning worker during its commit lock
// phase (§4.1 phase 1) and cleared atomically by that same worker, either by
// installing a fresh OwnerID on apply or by an explicit unlock on abort.
type OwnerID uint64

const (
	lockMask    = uint64(1)
	ordinalMask = uint64(0x7fff) << 1
	threadMask  = uint64(0xffff) << 16
	epochMask   = uint64(0xffffffff) << 32

	maxOrdinal = uint16(0x7fff)
)

// Pack builds an unlocked OwnerID from its fields.
func Pack(e epoch.Epoch, t thread.ID, ordinal uint16) OwnerID {
	if ordinal > maxOrdinal {
		panic("xct: ordinal overflow, epoch advance is overdue")
	}
	v := uint64(e) << 32
	v |= (uint64(t.Group&0xff) << 24) | (uint64(t.Ordinal&0xff) << 16)
	v |= uint64(ordinal) << 1
	return OwnerID(v)
}

// Epoch returns the installing transaction's epoch.
func (o OwnerID) Epoch() epoch.Epoch { return epoch.Epoch(uint64(o) >> 32) }

// Thread returns the installing transaction's ThreadID.
func (o OwnerID) Thread() thread.ID {
	t := (uint64(o) & threadMask) >> 16
	return thread.ID{Group: uint16((t >> 8) & 0xff), Ordinal: uint16(t & 0xff)}
}

// Ordinal returns the monotone-within-(epoch,thread) sequence number.
func (o OwnerID) Ordinal() uint16 { return uint16((uint64(o) & ordinalMask) >> 1) }

// Locked reports whether the record-lock bit is set.
func (o OwnerID) Locked() bool { return uint64(o)&lockMask != 0 }

// WithLock returns a copy of o with the lock bit set.
func (o OwnerID) WithLock() OwnerID { return OwnerID(uint64(o) | lockMask) }

// Unlocked returns a copy of o with the lock bit cleared.
func (o OwnerID) Unlocked() OwnerID { return OwnerID(uint64(o) &^ lockMask) }

// SameEpochThread reports whether o and other agree on {epoch, thread},
// ignoring ordinal and the lock bit. This is the only comparison the OCC
// read-set validation needs: per spec §3, two owner-ids racing on ordinal
// alone cannot happen because ordinals are only ever compared within a
// single owning thread, which never races with itself (§9 Open Questions).
func (o OwnerID) SameEpochThread(other OwnerID) bool {
	const mask = epochMask | threadMask
	return uint64(o)&mask == uint64(other)&mask
}

// AtomicOwnerID is the atomically accessed form of OwnerID stored inline in
// a record header (spec §4.6 "observed_owner_id captured atomically with
// the payload").
type AtomicOwnerID struct {
	v atomic.Uint64
}

// Load reads with acquire semantics.
func (a *AtomicOwnerID) Load() OwnerID { return OwnerID(a.v.Load()) }

// Store writes with release semantics — this is the single store that both
// publishes a new committed value and clears the lock bit (spec §4.1 phase
// 3, "apply-as-unlock").
func (a *AtomicOwnerID) Store(id OwnerID) { a.v.Store(uint64(id)) }

// CompareAndSwap is used by the lock-acquire phase: it sets the lock bit
// only if the word still matches expected, so two workers racing to lock
// the same record never both succeed.
func (a *AtomicOwnerID) CompareAndSwap(expected, newVal OwnerID) bool {
	return a.v.CompareAndSwap(uint64(expected), uint64(newVal))
}

// Unlock clears the lock bit unconditionally (used on abort, spec §4.1
// "traverse write-set in any order, clear the lock bit, release fence").
func (a *AtomicOwnerID) Unlock() {
	for {
		cur := a.Load()
		if !cur.Locked() {
			return
		}
		if a.CompareAndSwap(cur, cur.Unlocked()) {
			return
		}
	}
}
