package proc

import (
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/thread"
	"github.com/shino/foedus/xct"
)

// Executor wires the registry, the pinned-worker pool, and the Xct manager
// together: calling a procedure by name opens a transaction on the target
// worker's persistent Context, runs the procedure, and precommits or aborts
// it, exactly the sequence spec §4.1 describes happening "around" user code
// ("begin; run procedure; precommit; on failure, abort").
type Executor struct {
	pool     *thread.Pool
	xctMgr   *xct.Manager
	registry *Registry
	contexts map[thread.ID]*xct.Context
}

// NewExecutor builds an Executor. contexts must have exactly one *xct.Context
// per thread.ID known to pool (one persistent context per worker, created
// once at engine init per spec §3 "Xct").
func NewExecutor(pool *thread.Pool, xctMgr *xct.Manager, registry *Registry, contexts map[thread.ID]*xct.Context) *Executor {
	return &Executor{pool: pool, xctMgr: xctMgr, registry: registry, contexts: contexts}
}

// Call impersonates procedure name onto whichever worker the pool finds
// idle (spec §4.4 "impersonate(proc_name, input, size, session)" takes no
// thread-id argument) and returns immediately with a Session the caller can
// Wait on.
func (e *Executor) Call(name string, input, output []byte) (*thread.Session, error) {
	fn, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return e.pool.Impersonate(e.wrap(fn), input, output)
}

// CallSynchronous is Call followed by Wait.
func (e *Executor) CallSynchronous(name string, input, output []byte) (*thread.Session, error) {
	sess, err := e.Call(name, input, output)
	if err != nil {
		return nil, err
	}
	return sess, sess.Wait()
}

// CallOn pins the call to a specific worker rather than letting the pool
// choose one (thread.Pool.ImpersonateOn); used where a caller deliberately
// wants worker affinity rather than the spec's any-idle-worker dispatch.
func (e *Executor) CallOn(t thread.ID, name string, input, output []byte) (*thread.Session, error) {
	fn, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if _, ok := e.contexts[t]; !ok {
		return nil, errs.Newf(errs.FatalInternal, "proc: no xct context for thread %s", t)
	}
	return e.pool.ImpersonateOn(t, e.wrap(fn), input, output)
}

// wrap looks up the Context for whichever worker actually ends up running
// fn: the pool only decides that at dispatch time (Impersonate has no
// thread-id argument), so the closure cannot capture a fixed Context up
// front the way a target-thread-specific call could.
func (e *Executor) wrap(fn Func) thread.Func {
	return func(t thread.ID, sess *thread.Session) error {
		ctx, ok := e.contexts[t]
		if !ok {
			return errs.Newf(errs.FatalInternal, "proc: no xct context for thread %s", t)
		}
		if err := e.xctMgr.Begin(ctx); err != nil {
			return err
		}
		if err := fn(&Context{Xct: ctx, Session: sess}); err != nil {
			// Abort is always safe here: a procedure's own error means it
			// chose to fail before calling Precommit, so ctx is still
			// active (Precommit always deactivates ctx itself, win or
			// lose, and a procedure has no other way to end the Xct).
			if abortErr := e.xctMgr.Abort(ctx); abortErr != nil {
				return abortErr
			}
			return err
		}
		_, err := e.xctMgr.Precommit(ctx)
		return err
	}
}
