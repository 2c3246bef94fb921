// Package numa discovers the host's core topology to pick sane defaults for
// thread.group_count / thread.thread_count_per_group when engineconfig
// leaves them at zero (spec §6 "if unset, derived from the host topology").
// shirou/gopsutil is the same process/host introspection library
// ethereum-go-ethereum's go.mod carries for its own metrics collection.
package numa

import (
	"runtime"

	"github.com/shirou/gopsutil/cpu"

	"github.com/shino/foedus/errs"
)

// Topology is the {NUMA group count, threads per group} layout a thread.Pool
// is built from.
type Topology struct {
	Groups         int
	ThreadsPerGroup int
}

// Discover reports the host's topology as a single group holding every
// logical core gopsutil reports; socket-level information is not consulted,
// so the engine runs without real NUMA affinity. If gopsutil fails, the
// group holds runtime.NumCPU() threads and the error is returned alongside.
func Discover() (Topology, error) {
	logical, err := cpu.Counts(true)
	if err != nil || logical <= 0 {
		return Topology{Groups: 1, ThreadsPerGroup: runtime.NumCPU()}, errs.Wrap(err, errs.DependentModuleUnavailableInit, "cpu topology discovery failed, falling back to runtime.NumCPU")
	}
	return Topology{Groups: 1, ThreadsPerGroup: logical}, nil
}

// Default returns g/t, clamped to at least 1 thread in 1 group, to use when
// engineconfig leaves thread counts at zero. Discover already falls back to
// runtime.NumCPU on discovery failure, so Default only needs to clamp.
func Default() Topology {
	t, _ := Discover()
	if t.Groups < 1 {
		t.Groups = 1
	}
	if t.ThreadsPerGroup < 1 {
		t.ThreadsPerGroup = 1
	}
	return t
}
