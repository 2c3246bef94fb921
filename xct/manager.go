package xct

import (
	"runtime"
	"sync"
	"time"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/logging"
)

// LogManager is the capability the log subsystem exposes to the Xct
// manager: durability aggregation and the blocking wait that
// wait_for_commit delegates to (spec §4.1, §4.3). Defined here rather than
// imported from package wal so wal can depend on xct without a cycle.
type LogManager interface {
	WaitUntilDurable(commitEpoch epoch.Epoch, waitMicros int64) error
	DurableGlobalEpoch() epoch.Epoch
}

// Metrics is the observability capability the commit protocol and epoch
// advancer update. Defined here, implemented by package metrics, to avoid
// an import cycle; a Manager with no Metrics set (the zero value, nil)
// simply skips every call.
type Metrics interface {
	SetCurrentEpoch(e epoch.Epoch)
	IncCommit()
	IncAbort(kind string)
}

// Manager runs the OCC commit protocol (spec §4.1) and the epoch advancer
// (spec §4.2). One Manager is owned by the Engine; it keeps no list of
// worker Contexts, and each call takes the Context it acts on.
type Manager struct {
	log logging.Logger

	currentGlobalEpoch epoch.Atomic
	logManager         LogManager
	metrics            Metrics

	advanceInterval time.Duration

	mu           sync.Mutex
	cond         *sync.Cond
	stopping     bool
	stopped      chan struct{}
	lastAdvance  time.Time
	advanceNudge chan struct{}
}

// NewManager constructs a Manager. The epoch advancer is not started until
// Start is called, matching the engine's explicit init/uninit discipline
// (spec §9 "Global mutable state").
func NewManager(lm LogManager, advanceInterval time.Duration, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Root()
	}
	m := &Manager{
		log:             log,
		logManager:      lm,
		advanceInterval: advanceInterval,
		stopped:         make(chan struct{}),
		advanceNudge:    make(chan struct{}, 1),
	}
	m.cond = sync.NewCond(&m.mu)
	m.currentGlobalEpoch.Store(epoch.First)
	return m
}

// SetMetrics attaches m; calling with nil disables metrics updates. Mirrors
// the SetOnStateChange/onDurableAdvance callback-setter idiom package wal
// uses, so wiring metrics in never forces a NewManager signature change on
// the many existing call sites that pass none.
func (m *Manager) SetMetrics(metrics Metrics) { m.metrics = metrics }

// CurrentGlobalEpoch returns the current engine-wide epoch.
func (m *Manager) CurrentGlobalEpoch() epoch.Epoch { return m.currentGlobalEpoch.Load() }

// Start launches the dedicated epoch-advancer goroutine (spec §4.2).
func (m *Manager) Start() {
	go m.advanceLoop()
}

// Stop signals the epoch advancer to exit and waits for it to do so. The
// advancer is nudged so it wakes without waiting out its tick interval; it
// ticks once more on that wake before it exits.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopping = true
	m.cond.Broadcast()
	m.mu.Unlock()
	select {
	case m.advanceNudge <- struct{}{}:
	default:
	}
	<-m.stopped
}

func (m *Manager) advanceLoop() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.advanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.advanceNudge:
			m.tick()
		}
		m.mu.Lock()
		stop := m.stopping
		m.mu.Unlock()
		if stop {
			return
		}
	}
}

func (m *Manager) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.currentGlobalEpoch.Load().Next()
	m.currentGlobalEpoch.Store(next)
	m.lastAdvance = time.Now()
	m.cond.Broadcast()
	m.log.Debug("epoch advanced", "epoch", uint32(next))
	if m.metrics != nil {
		m.metrics.SetCurrentEpoch(next)
	}
}

// AdvanceCurrentGlobalEpoch forces the advancer to tick once and blocks
// until the epoch observed on entry has been strictly exceeded (spec §4.1
// "advance_current_global_epoch").
func (m *Manager) AdvanceCurrentGlobalEpoch() {
	observed := m.currentGlobalEpoch.Load()
	select {
	case m.advanceNudge <- struct{}{}:
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for !observed.Before(m.currentGlobalEpoch.Load()) {
		m.cond.Wait()
	}
}

// Begin activates ctx for a new transaction (spec §4.1 "begin").
func (m *Manager) Begin(ctx *Context) error {
	return ctx.begin()
}

// Abort deactivates ctx, discarding its uncommitted log tail (spec §4.1
// "abort"). Fails with NoXct if ctx is not active.
func (m *Manager) Abort(ctx *Context) error {
	if ctx.state != Active {
		return errs.New(errs.NoXct, "abort called with no active transaction")
	}
	for i := range ctx.writeSet {
		ctx.writeSet[i].Owner.Unlock()
	}
	ctx.deactivateDiscard()
	if m.metrics != nil {
		m.metrics.IncAbort("procedure_error")
	}
	return nil
}

// Precommit runs the three-phase OCC protocol (read-write) or the
// single-pass read-only validation (spec §4.1), returning the commit epoch
// on success. On conflict it returns a RaceAbort error, already having
// deactivated ctx and discarded its log tail; callers never need to call
// Abort themselves after a failed Precommit.
func (m *Manager) Precommit(ctx *Context) (epoch.Epoch, error) {
	if ctx.state != Active {
		return epoch.Invalid, errs.New(errs.NoXct, "precommit called with no active transaction")
	}
	if len(ctx.writeSet) == 0 {
		return m.precommitReadOnly(ctx)
	}
	return m.precommitReadWrite(ctx)
}

func (m *Manager) precommitReadOnly(ctx *Context) (epoch.Epoch, error) {
	// The atomic Loads below are acquire operations; no extra fence
	// primitive is needed on top of Go's memory model guarantees for
	// sync/atomic.
	commitEpoch := epoch.Invalid
	for _, r := range ctx.readSet {
		cur := r.Owner.Load()
		if !cur.SameEpochThread(r.Observed) || cur.Locked() {
			ctx.deactivateDiscard()
			if m.metrics != nil {
				m.metrics.IncAbort("read_only_race")
			}
			return epoch.Invalid, errs.New(errs.RaceAbort, "read-only commit: read-set validation failed")
		}
		commitEpoch = epoch.Max(commitEpoch, r.Observed.Epoch())
	}
	if !commitEpoch.IsValid() {
		commitEpoch = m.logManager.DurableGlobalEpoch()
	}
	ctx.state = Inactive
	if m.metrics != nil {
		m.metrics.IncCommit()
	}
	return commitEpoch, nil
}

func (m *Manager) precommitReadWrite(ctx *Context) (epoch.Epoch, error) {
	ctx.sortWriteSet()

	// Phase 1 — lock, in address order. The total order rules out
	// deadlock between two workers racing on an overlapping write set.
	for i := range ctx.writeSet {
		lockRecord(ctx.writeSet[i].Owner)
	}

	// Phase 2 — serialization point.
	ctx.inCommitLogEpoch.Store(m.currentGlobalEpoch.Load())
	defer ctx.inCommitLogEpoch.Store(epoch.Invalid)
	commitEpoch := m.currentGlobalEpoch.Load()

	// Phase 3 — verify, then apply or unwind.
	for _, r := range ctx.readSet {
		cur := r.Owner.Load()
		if !cur.SameEpochThread(r.Observed) {
			return m.abortReadWrite(ctx)
		}
		if cur.Locked() && !ctx.inWriteSet(r.Record) {
			return m.abortReadWrite(ctx)
		}
	}

	ordinal := ctx.nextOrdinal(commitEpoch)
	id := Pack(commitEpoch, ctx.Thread, ordinal)
	for i := range ctx.writeSet {
		ctx.writeSet[i].Log.Apply()
		// Single release store both publishes the new value and clears
		// the lock bit (spec §4.1 "apply-as-unlock").
		ctx.writeSet[i].Owner.Store(id)
	}
	ctx.deactivateCommitted(id, commitEpoch)
	if m.metrics != nil {
		m.metrics.IncCommit()
	}
	return commitEpoch, nil
}

func (m *Manager) abortReadWrite(ctx *Context) (epoch.Epoch, error) {
	for i := range ctx.writeSet {
		ctx.writeSet[i].Owner.Unlock()
	}
	ctx.deactivateDiscard()
	if m.metrics != nil {
		m.metrics.IncAbort("read_write_race")
	}
	return epoch.Invalid, errs.New(errs.RaceAbort, "read-write commit: verification failed")
}

// lockRecord blocks until it acquires owner's lock bit. Spinning is
// bounded by a Gosched so a worker waiting on a lock yields to whichever
// worker holds it rather than burning a core (no engine-level mutex is
// taken, per spec §5 "no other locks are taken by the protocol").
func lockRecord(owner *AtomicOwnerID) {
	for {
		cur := owner.Load()
		if cur.Locked() {
			runtime.Gosched()
			continue
		}
		if owner.CompareAndSwap(cur, cur.WithLock()) {
			return
		}
	}
}

// WaitForCommit delegates to the log manager (spec §4.1
// "wait_for_commit").
func (m *Manager) WaitForCommit(commitEpoch epoch.Epoch, waitMicros int64) error {
	return m.logManager.WaitUntilDurable(commitEpoch, waitMicros)
}
