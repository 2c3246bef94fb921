// Package thread defines ThreadId, the worker pool, and the impersonation
// protocol that binds a client-submitted procedure to a specific pinned
// worker thread (spec §4.4).
package thread

import "fmt"

// ID identifies a worker thread by {NUMA group, ordinal within group}. It is
// assigned once at pool construction and stable for the engine's lifetime
// (spec §3 "ThreadId").
type ID struct {
	Group   uint16
	Ordinal uint16
}

func (t ID) String() string { return fmt.Sprintf("T<%d-%d>", t.Group, t.Ordinal) }

// Global packs {Group, Ordinal} into a single dense index, used as a slice
// index into per-thread state (Xct contexts, log buffers).
func (t ID) Global(threadsPerGroup uint16) int {
	return int(t.Group)*int(threadsPerGroup) + int(t.Ordinal)
}
