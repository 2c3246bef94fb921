package wal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/logging"
	"github.com/shino/foedus/savepoint"
)

// Metrics is the observability capability of package wal: a Logger reports
// ObserveLogFlush on every drain pass, and Manager reports SetDurableEpoch
// when the global durable epoch advances. Defined here, implemented by
// package metrics, to avoid an import cycle; with no Metrics set, every
// call is skipped.
type Metrics interface {
	ObserveLogFlush(d time.Duration)
	SetDurableEpoch(e epoch.Epoch)
}

// assignedWorker is everything a Logger needs to drain one worker's buffer.
type assignedWorker struct {
	thread string // human-readable tag, for logging only
	buf    *Buffer
	// guard is the worker's published in_commit_log_epoch. The logger must
	// never persist a record whose header epoch is >= guard's current
	// value while guard holds a valid epoch (spec §4.1 phase 2, §4.3).
	guard *epoch.Atomic

	maxDrainedEpoch epoch.Epoch
}

// Logger owns a disjoint subset of workers and persists their published log
// records to one log file, fsyncing and advancing its own durable epoch
// (spec §4.3).
type Logger struct {
	name string
	log  logging.Logger

	path string
	file *os.File
	lock *flock.Flock

	mu              sync.Mutex
	workers         []*assignedWorker
	durableEpoch    epoch.Atomic
	fileOffset      int64
	oldestOffsetBeg int64

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	onDurableAdvance func()
	onStateChange    func(savepoint.LoggerState)

	metrics Metrics
}

// SetMetrics attaches m; calling with nil disables metrics updates.
func (l *Logger) SetMetrics(m Metrics) {
	l.mu.Lock()
	l.metrics = m
	l.mu.Unlock()
}

// NewLogger creates a logger that will persist to path, a single data file
// (spec §6 "Files are chunked" — chunking/rotation across multiple files is
// an out-of-scope snapshotting concern per §1; this port uses one growing
// file per logger and relies on the savepoint's offsets for recovery
// bookkeeping).
func NewLogger(name, path string, log logging.Logger, onDurableAdvance func()) (*Logger, error) {
	if log == nil {
		log = logging.Root()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "creating log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "opening log file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "stat log file")
	}
	l := &Logger{
		name:             name,
		log:              log.With("logger", name),
		path:             path,
		file:             f,
		lock:             flock.New(path + ".lock"),
		fileOffset:       info.Size(),
		wakeCh:           make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
		onDurableAdvance: onDurableAdvance,
	}
	return l, nil
}

// AssignWorker adds a worker's buffer to this logger's responsibility,
// tagged with its guard epoch cell.
func (l *Logger) AssignWorker(tag string, buf *Buffer, guard *epoch.Atomic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workers = append(l.workers, &assignedWorker{thread: tag, buf: buf, guard: guard})
}

// SetOnStateChange installs a callback invoked after every drain pass that
// wrote at least one record, with a snapshot of the logger's current
// offsets (spec §3 "Logger state"). wal.Manager wires this to the
// savepoint manager so file offsets stay recoverable across restarts.
func (l *Logger) SetOnStateChange(fn func(savepoint.LoggerState)) {
	l.mu.Lock()
	l.onStateChange = fn
	l.mu.Unlock()
}

// State returns a snapshot of this logger's current file-offset bookkeeping.
func (l *Logger) State() savepoint.LoggerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return savepoint.LoggerState{
		Name:                     l.name,
		CurrentFile:              l.path,
		OldestFileOffsetBegin:    l.oldestOffsetBeg,
		CurrentFileOffsetDurable: l.fileOffset,
	}
}

// DurableEpoch returns this logger's current durable epoch.
func (l *Logger) DurableEpoch() epoch.Epoch { return l.durableEpoch.Load() }

// WorkerTags returns the tag every assigned worker was given at
// AssignWorker time, in assignment order. Exported for tests that need to
// verify which workers ended up under which logger (e.g. the NUMA-local
// assignment engine.New performs) without reaching into unexported state.
func (l *Logger) WorkerTags() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	tags := make([]string, len(l.workers))
	for i, w := range l.workers {
		tags[i] = w.thread
	}
	return tags
}

// Wake schedules a drain pass; safe to call repeatedly, coalesces.
func (l *Logger) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

// Run is the logger's background loop: drains on wake, until Stop.
func (l *Logger) Run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			l.drainOnce()
			return
		case <-l.wakeCh:
			l.drainOnce()
		}
	}
}

// Stop signals the logger to exit after one final drain.
func (l *Logger) Stop() {
	close(l.stopCh)
	<-l.doneCh
	l.file.Close()
}

func (l *Logger) drainOnce() {
	start := time.Now()
	l.mu.Lock()
	m := l.metrics
	l.mu.Unlock()
	if m != nil {
		defer func() { m.ObserveLogFlush(time.Since(start)) }()
	}

	if err := l.lock.Lock(); err != nil {
		l.log.Error("failed to acquire log file lock", "err", err)
		return
	}
	defer l.lock.Unlock()

	l.mu.Lock()
	workers := append([]*assignedWorker(nil), l.workers...)
	l.mu.Unlock()

	wrote := false
	for _, w := range workers {
		guardEpoch := w.guard.Load()
		committed := w.buf.Committed()
		head := w.buf.Head()
		for head < committed {
			rec := w.buf.ReadFrom(head)
			if guardEpoch.IsValid() && !rec.CommitEpoch.Before(guardEpoch) {
				// This record's commit epoch has not been finalized by
				// its worker yet; stop draining this worker for now.
				break
			}
			l.persist(rec)
			wrote = true
			if rec.CommitEpoch.After(w.maxDrainedEpoch) {
				w.maxDrainedEpoch = rec.CommitEpoch
			}
			head = rec.NextOffset
		}
		w.buf.AdvanceHead(head)
	}

	if wrote {
		if err := l.file.Sync(); err != nil {
			l.log.Error("fsync failed", "err", err)
			return
		}
		l.mu.Lock()
		onStateChange := l.onStateChange
		l.mu.Unlock()
		if onStateChange != nil {
			onStateChange(l.State())
		}
	}

	l.advanceDurableEpoch(workers)
}

func (l *Logger) persist(rec RawRecord) {
	var buf [recordHeaderSize]byte
	putHeader(buf[:], rec)
	if _, err := l.file.Write(buf[:]); err != nil {
		l.log.Error("write record header failed", "err", err)
		return
	}
	if _, err := l.file.Write(rec.Payload); err != nil {
		l.log.Error("write record payload failed", "err", err)
		return
	}
	l.fileOffset += int64(recordHeaderSize + len(rec.Payload))
}

// advanceDurableEpoch computes this logger's durable epoch as the minimum,
// across all assigned workers that have ever had something to drain, of the
// highest commit epoch that worker has had fully drained. A logger cannot
// call an epoch durable until every *contributing* worker has nothing left
// pending at or below that epoch — the weakest of its contributing workers
// sets the pace, the same way the log manager's own aggregate is a minimum
// across loggers (spec §4.3 "refresh_global_durable_epoch").
//
// A worker that is caught up (head == committed) and has never drained a
// single record is excluded from the min rather than contributing its
// zero-value maxDrainedEpoch: most pool threads are never impersonated for
// a transaction at all (numa.Default's ThreadsPerGroup is the logical core
// count, well above typical concurrent workloads), and letting an idle,
// never-committed worker sit in the min would pin durableEpoch at
// epoch.Invalid forever regardless of how much the logger's other workers
// commit and fsync.
func (l *Logger) advanceDurableEpoch(workers []*assignedWorker) {
	var min epoch.Epoch
	contributing := false
	for _, w := range workers {
		idle := w.buf.Head() == w.buf.Committed()
		if idle && !w.maxDrainedEpoch.IsValid() {
			continue
		}
		if !contributing {
			min = w.maxDrainedEpoch
			contributing = true
			continue
		}
		min = epoch.Min(min, w.maxDrainedEpoch)
	}
	if !contributing {
		return
	}
	prev := l.durableEpoch.Load()
	if min.After(prev) {
		l.durableEpoch.Store(min)
		if l.onDurableAdvance != nil {
			l.onDurableAdvance()
		}
	}
}

func putHeader(dst []byte, rec RawRecord) {
	// Mirrors Buffer's own header layout so on-disk records are decodable
	// with the same routine used in-memory.
	putUint32(dst[0:4], uint32(len(rec.Payload)))
	putUint32(dst[4:8], uint32(rec.StorageID))
	dst[8] = rec.Kind
	putUint32(dst[12:16], uint32(rec.CommitEpoch))
}

func putUint32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
