// Package proc is the user-procedure registry and calling convention (spec
// §4.4 "procedures are registered by name before the engine starts and
// invoked by impersonation"). A procedure runs inside an already-active Xct
// the Executor opens for it; it never calls xct.Manager.Begin/Precommit
// itself.
package proc

import (
	"sort"
	"sync"

	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/thread"
	"github.com/shino/foedus/xct"
)

// Context is what a registered procedure receives: the worker's live Xct
// context to issue storage operations against, and the impersonation
// Session carrying its input/output buffers.
type Context struct {
	Xct     *xct.Context
	Session *thread.Session
}

// Func is a registered procedure body.
type Func func(*Context) error

// Registry holds the name -> Func table. It is mutable only before Seal is
// called, matching the engine's "procedures are fixed at boot" discipline
// (spec §4.4); after Seal, PreRegister fails rather than silently racing
// with procedure dispatch.
type Registry struct {
	mu     sync.RWMutex
	procs  map[string]Func
	sealed bool
}

// NewRegistry returns an empty, unsealed Registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Func)}
}

// PreRegister adds name to the registry. Fails with FatalInternal if called
// after Seal, or if name is already registered.
func (r *Registry) PreRegister(name string, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errs.Newf(errs.FatalInternal, "proc: registry sealed, cannot register %q", name)
	}
	if _, exists := r.procs[name]; exists {
		return errs.Newf(errs.FatalInternal, "proc: %q already registered", name)
	}
	r.procs[name] = fn
	return nil
}

// Seal freezes the registry; called once by the engine at start-of-day.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Get looks up a registered procedure by name.
func (r *Registry) Get(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.procs[name]
	if !ok {
		return nil, errs.Newf(errs.ProcNotFound, "proc: %q not registered", name)
	}
	return fn, nil
}

// Names returns every registered procedure name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procs))
	for n := range r.procs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
