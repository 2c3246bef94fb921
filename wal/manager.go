package wal

import (
	"sync"
	"time"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/logging"
	"github.com/shino/foedus/savepoint"
)

// Manager aggregates per-logger durable epochs into one engine-wide
// durable_global_epoch and implements the blocking wait precommit's
// wait_for_commit delegates to (spec §4.3). It satisfies xct.LogManager.
type Manager struct {
	log logging.Logger

	loggers []*Logger

	mu                 sync.Mutex
	cond               *sync.Cond
	durableGlobalEpoch epoch.Atomic
	savepointMu        sync.Mutex
	sp                 SavepointStore

	metrics Metrics
}

// SetMetrics attaches m to the manager and to every logger it owns; calling
// with nil disables metrics updates.
func (m *Manager) SetMetrics(metrics Metrics) {
	m.metrics = metrics
	for _, l := range m.loggers {
		l.SetMetrics(metrics)
	}
}

// SavepointStore is the minimal persistence capability the log manager
// needs from the savepoint subsystem (spec §3 "Savepoint", §4.3 "Initial
// durable_global_epoch is restored from the savepoint manager"). Defined
// here, implemented by package savepoint, to avoid an import cycle.
type SavepointStore interface {
	RestoreDurableEpoch() (epoch.Epoch, error)
	PersistDurableEpoch(epoch.Epoch) error
}

// NewManager validates the {loggers, threads, groups} divisibility rules
// from spec §4.3 and constructs a Manager over the given loggers. Workers
// may be assigned to the loggers before or after this call (engine.New
// assigns them after); NewManager only validates the counts, not the
// assignment itself.
func NewManager(loggers []*Logger, totalThreads, groups int, sp SavepointStore, log logging.Logger) (*Manager, error) {
	if log == nil {
		log = logging.Root()
	}
	totalLoggers := len(loggers)
	if totalLoggers == 0 || totalLoggers > totalThreads {
		return nil, errs.New(errs.InvalidLoggerCount, "logger count must be in [1, total_threads]")
	}
	if groups <= 0 || totalLoggers%groups != 0 {
		return nil, errs.New(errs.InvalidLoggerCount, "logger count must be evenly divisible by group count")
	}
	if totalThreads%totalLoggers != 0 {
		return nil, errs.New(errs.InvalidLoggerCount, "thread count must be evenly divisible by logger count")
	}

	m := &Manager{log: log, loggers: loggers, sp: sp}
	m.cond = sync.NewCond(&m.mu)

	if sp != nil {
		restored, err := sp.RestoreDurableEpoch()
		if err != nil {
			return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "restoring durable epoch from savepoint")
		}
		m.durableGlobalEpoch.Store(restored)
	}

	for _, l := range loggers {
		l.onDurableAdvance = m.onLoggerAdvance
		l.SetOnStateChange(m.onLoggerStateChange)
	}
	return m, nil
}

// loggerStatePersister is implemented by savepoint.Manager; checked with a
// type assertion rather than folded into SavepointStore so a minimal
// SavepointStore (e.g. a test fake) is never forced to implement it.
type loggerStatePersister interface {
	PersistLoggerState(savepoint.LoggerState) error
}

func (m *Manager) onLoggerStateChange(ls savepoint.LoggerState) {
	persister, ok := m.sp.(loggerStatePersister)
	if !ok {
		return
	}
	if err := persister.PersistLoggerState(ls); err != nil {
		m.log.Error("logger state savepoint persist failed", "logger", ls.Name, "err", err)
	}
}

// Start launches every logger's background drain loop.
func (m *Manager) Start() {
	for _, l := range m.loggers {
		go l.Run()
	}
}

// Stop stops every logger.
func (m *Manager) Stop() {
	for _, l := range m.loggers {
		l.Stop()
	}
}

// DurableGlobalEpoch implements xct.LogManager.
func (m *Manager) DurableGlobalEpoch() epoch.Epoch { return m.durableGlobalEpoch.Load() }

// Loggers returns every logger the manager owns, in construction order.
func (m *Manager) Loggers() []*Logger { return m.loggers }

func (m *Manager) onLoggerAdvance() {
	m.refreshGlobalDurableEpoch()
}

// refreshGlobalDurableEpoch implements spec §4.3
// "refresh_global_durable_epoch": compute min across loggers, and if it
// strictly exceeds the current value, take a savepoint and notify waiters.
func (m *Manager) refreshGlobalDurableEpoch() {
	if len(m.loggers) == 0 {
		return
	}
	min := m.loggers[0].DurableEpoch()
	for _, l := range m.loggers[1:] {
		min = epoch.Min(min, l.DurableEpoch())
	}

	m.mu.Lock()
	cur := m.durableGlobalEpoch.Load()
	advanced := min.After(cur)
	m.mu.Unlock()
	if !advanced {
		return
	}

	m.savepointMu.Lock()
	defer m.savepointMu.Unlock()

	// Double-checked: another goroutine may have already advanced past
	// min while we waited for the savepoint mutex.
	m.mu.Lock()
	cur = m.durableGlobalEpoch.Load()
	if !min.After(cur) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if m.sp != nil {
		if err := m.sp.PersistDurableEpoch(min); err != nil {
			m.log.Error("savepoint persist failed", "err", err)
			return
		}
	}

	m.mu.Lock()
	m.durableGlobalEpoch.Store(min)
	m.cond.Broadcast()
	m.mu.Unlock()
	m.log.Debug("durable global epoch advanced", "epoch", uint32(min))
	if m.metrics != nil {
		m.metrics.SetDurableEpoch(min)
	}
}

// Wake wakes every logger, used by wait_until_durable to avoid waiting a
// full tick interval for a flush that could happen now.
func (m *Manager) Wake() {
	for _, l := range m.loggers {
		l.Wake()
	}
}

// WaitUntilDurable implements xct.LogManager (spec §4.3
// "wait_until_durable"). waitMicros == 0 is a non-blocking probe;
// waitMicros < 0 waits indefinitely; otherwise it is a budget in
// microseconds.
func (m *Manager) WaitUntilDurable(commitEpoch epoch.Epoch, waitMicros int64) error {
	if !commitEpoch.IsValid() || !commitEpoch.After(m.durableGlobalEpoch.Load()) {
		return nil
	}
	if waitMicros == 0 {
		return errs.New(errs.Timeout, "not yet durable")
	}

	var deadline time.Time
	hasDeadline := waitMicros > 0
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(waitMicros) * time.Microsecond)
	}

	stopWaking := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopWaking:
				return
			case <-ticker.C:
				m.Wake()
			}
		}
	}()
	defer close(stopWaking)

	m.mu.Lock()
	defer m.mu.Unlock()
	for commitEpoch.After(m.durableGlobalEpoch.Load()) {
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return errs.New(errs.Timeout, "durability wait deadline exceeded")
			}
			timer := time.AfterFunc(remaining, func() {
				m.mu.Lock()
				m.cond.Broadcast()
				m.mu.Unlock()
			})
			m.cond.Wait()
			timer.Stop()
		} else {
			m.cond.Wait()
		}
	}
	return nil
}
