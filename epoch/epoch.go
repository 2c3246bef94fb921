// Package epoch implements FOEDUS's coarse logical clock: a 32-bit value
// that advances monotonically (with wraparound) and is compared with
// circular, not integer, ordering so that a clock that wraps past 2^32
// still orders correctly relative to recent values.
package epoch

import (
	"fmt"
	"sync/atomic"
)

// Epoch is a 32-bit logical timestamp. Zero is reserved as the "invalid"
// sentinel — no committed transaction is ever assigned epoch zero.
type Epoch uint32

// Invalid is the sentinel value meaning "no epoch has been assigned yet".
const Invalid Epoch = 0

// First is the first valid epoch a freshly initialized engine starts at.
const First Epoch = 1

// IsValid reports whether e is not the Invalid sentinel.
func (e Epoch) IsValid() bool { return e != Invalid }

// Next returns e advanced by one, wrapping from the maximum uint32 value
// back to First rather than to Invalid, so Invalid always stays reserved.
func (e Epoch) Next() Epoch {
	n := e + 1
	if n == Invalid {
		n = First
	}
	return n
}

// Before reports whether e happened strictly before other under circular
// comparison: e < other iff (other - e) mod 2^32 lies in the lower half of
// the ring. This is the only safe comparison once either value may have
// wrapped.
func (e Epoch) Before(other Epoch) bool {
	if e == other {
		return false
	}
	diff := other - e
	return diff != 0 && diff < (1<<31)
}

// AtOrBefore is the non-strict counterpart of Before.
func (e Epoch) AtOrBefore(other Epoch) bool {
	return e == other || e.Before(other)
}

// After reports whether e happened strictly after other.
func (e Epoch) After(other Epoch) bool { return other.Before(e) }

// Max returns whichever of e, other is circularly later.
func Max(e, other Epoch) Epoch {
	if e.Before(other) {
		return other
	}
	return e
}

// Min returns whichever of e, other is circularly earlier.
func Min(e, other Epoch) Epoch {
	if other.Before(e) {
		return other
	}
	return e
}

// Atomic is an atomically-stored Epoch, used for current_global_epoch,
// durable_global_epoch and per-worker in_commit_log_epoch. It is a thin
// wrapper so callers cannot accidentally perform a non-atomic read/write on
// engine-wide epoch state (see spec §9 "Global mutable state").
type Atomic struct {
	v atomic.Uint32
}

// Load reads the current value with acquire semantics.
func (a *Atomic) Load() Epoch { return Epoch(a.v.Load()) }

// Store writes v with release semantics.
func (a *Atomic) Store(v Epoch) { a.v.Store(uint32(v)) }

// StoreMax atomically advances the stored epoch to v if v is circularly
// later than the current value; a no-op otherwise. Used where multiple
// writers may race to publish their own observed epoch and only the latest
// should survive (spec §3 "store_max").
func (a *Atomic) StoreMax(v Epoch) {
	for {
		cur := Epoch(a.v.Load())
		if !cur.Before(v) {
			return
		}
		if a.v.CompareAndSwap(uint32(cur), uint32(v)) {
			return
		}
	}
}

// StoreMin is the dual of StoreMax: advances only to an earlier value.
func (a *Atomic) StoreMin(v Epoch) {
	for {
		cur := Epoch(a.v.Load())
		if cur != Invalid && !v.Before(cur) {
			return
		}
		if a.v.CompareAndSwap(uint32(cur), uint32(v)) {
			return
		}
	}
}

func (e Epoch) String() string { return fmt.Sprintf("epoch(%d)", uint32(e)) }
