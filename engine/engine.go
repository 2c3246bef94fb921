// Package engine wires every subsystem together behind one star-shaped
// owner (spec §4.8 "the engine owns the epoch manager, the log manager, the
// proc registry, the worker pool, and every storage; nothing owns the
// engine back"). Building one is the only supported way to get a working
// set of an Xct manager, a wal manager, a thread pool and a proc executor
// that all agree on the same thread/logger topology.
package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shino/foedus/engineconfig"
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/logging"
	"github.com/shino/foedus/metrics"
	"github.com/shino/foedus/numa"
	"github.com/shino/foedus/pagecache"
	"github.com/shino/foedus/proc"
	"github.com/shino/foedus/savepoint"
	"github.com/shino/foedus/storage/array"
	"github.com/shino/foedus/storage/hash"
	"github.com/shino/foedus/storage/masstree"
	"github.com/shino/foedus/thread"
	"github.com/shino/foedus/wal"
	"github.com/shino/foedus/xct"
)

// Engine is the fully wired instance: one per process (spec §9 "Global
// mutable state is owned by exactly one Engine; nothing is a package-level
// singleton").
type Engine struct {
	opts engineconfig.EngineOptions
	log  logging.Logger

	Topology numa.Topology
	Pool     *thread.Pool
	XctMgr   *xct.Manager
	WalMgr   *wal.Manager
	Savepoint *savepoint.Manager
	Registry *proc.Registry
	Executor *proc.Executor
	Metrics  *metrics.Registry
	PageCache *pagecache.Cache

	contexts map[thread.ID]*xct.Context

	mu         sync.Mutex
	nextStorageID uint32
	arrays     map[string]*array.Storage
	hashes     map[string]*hash.Storage
	masstrees  map[string]*masstree.Storage

	started atomic.Bool
}

// New builds an Engine from opts without starting it: the epoch advancer,
// logger drain loops, and worker pool goroutines do not run until Start is
// called, matching the engine's explicit init/uninit lifecycle.
func New(opts engineconfig.EngineOptions, log logging.Logger) (*Engine, error) {
	if log == nil {
		if opts.Log.EngineLogPath != "" {
			log = logging.New(logging.RotatingFileHandler(opts.Log.EngineLogPath, opts.Log.EngineLogMaxSizeMB, opts.Log.EngineLogMaxBackups))
		} else {
			log = logging.Root()
		}
	}
	log = log.With("component", "engine")

	topo := numa.Topology{Groups: opts.Thread.GroupCount, ThreadsPerGroup: opts.Thread.ThreadCountPerGroup}
	if topo.Groups <= 0 || topo.ThreadsPerGroup <= 0 {
		topo = numa.Default()
	}
	totalThreads := topo.Groups * topo.ThreadsPerGroup

	sp := savepoint.New(opts.Savepoint.Path)

	loggers := make([]*wal.Logger, opts.Log.LoggerCount)
	for i := range loggers {
		path := filepath.Join(opts.Log.FolderPathPattern, fmt.Sprintf("%d.log", i))
		l, err := wal.NewLogger(fmt.Sprintf("logger-%d", i), path, log, nil)
		if err != nil {
			return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "creating wal logger")
		}
		loggers[i] = l
	}

	walMgr, err := wal.NewManager(loggers, totalThreads, topo.Groups, sp, log)
	if err != nil {
		return nil, err
	}

	// Assign workers to loggers one NUMA group at a time (spec §1 "NUMA-local
	// logging", §4.3 "loggers are distributed evenly across NUMA groups"; the
	// kept original loops per-group too, foedus-core log_manager_pimpl.cpp).
	// wal.NewManager has already validated loggerCount%groups==0 and
	// totalThreads%loggerCount==0, which together guarantee
	// ThreadsPerGroup%loggersPerGroup==0, so each group's loggers get an
	// equal, contiguous, same-group share of that group's thread ordinals -
	// never a logger spanning two groups.
	loggersPerGroup := len(loggers) / topo.Groups
	threadsPerLogger := topo.ThreadsPerGroup / loggersPerGroup

	pool := thread.NewPool(topo.Groups, topo.ThreadsPerGroup, log)
	contexts := make(map[thread.ID]*xct.Context, totalThreads)
	for _, t := range pool.Threads() {
		buf := wal.NewBuffer(opts.Log.BufferSizeBytes)
		ctx := xct.NewContext(t, buf, opts.Xct.MaxReadSetSize, opts.Xct.MaxWriteSetSize)
		contexts[t] = ctx

		loggerInGroup := int(t.Ordinal) / threadsPerLogger
		logger := loggers[int(t.Group)*loggersPerGroup+loggerInGroup]
		logger.AssignWorker(t.String(), buf, ctx.InCommitLogEpochGuard())
	}
	xctMgr := xct.NewManager(walMgr, opts.EpochAdvanceInterval(), log)

	registry := proc.NewRegistry()
	executor := proc.NewExecutor(pool, xctMgr, registry, contexts)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	xctMgr.SetMetrics(m)
	walMgr.SetMetrics(m)
	pool.SetMetrics(m)

	e := &Engine{
		opts:      opts,
		log:       log,
		Topology:  topo,
		Pool:      pool,
		XctMgr:    xctMgr,
		WalMgr:    walMgr,
		Savepoint: sp,
		Registry:  registry,
		Executor:  executor,
		Metrics:   m,
		PageCache: pagecache.New(topo.Groups, 64<<20),
		contexts:  contexts,
		arrays:    make(map[string]*array.Storage),
		hashes:    make(map[string]*hash.Storage),
		masstrees: make(map[string]*masstree.Storage),
	}
	return e, nil
}

// Start seals the proc registry and launches the worker pool, logger drain
// loops, and epoch advancer (spec §4.8 "start order: storages, then procs
// sealed, then workers, then loggers, then the epoch advancer").
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.Registry.Seal()
	e.Pool.Start()
	e.WalMgr.Start()
	e.XctMgr.Start()
}

// Stop shuts every subsystem down in the reverse of Start's order.
func (e *Engine) Stop() error {
	if !e.started.CompareAndSwap(true, false) {
		return nil
	}
	e.XctMgr.Stop()
	e.WalMgr.Stop()
	return e.Pool.Stop()
}

func (e *Engine) allocStorageID() xct.StorageID {
	return xct.StorageID(atomic.AddUint32(&e.nextStorageID, 1))
}

// CreateArrayStorage creates a new array storage (spec §4.7).
func (e *Engine) CreateArrayStorage(name string, slotSize, numSlots int) (*array.Storage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.arrays[name]; exists {
		return nil, errs.Newf(errs.DuplicateKey, "storage %q already exists", name)
	}
	dbPath := filepath.Join(e.opts.Storage.ArrayDBPath, name)
	s, err := array.New(e.allocStorageID(), name, slotSize, numSlots, dbPath, e.log)
	if err != nil {
		return nil, err
	}
	s.SetCache(e.PageCache)
	e.arrays[name] = s
	return s, nil
}

// CreateHashStorage creates a new hash storage (spec §4.7).
func (e *Engine) CreateHashStorage(name string) (*hash.Storage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.hashes[name]; exists {
		return nil, errs.Newf(errs.DuplicateKey, "storage %q already exists", name)
	}
	dbPath := filepath.Join(e.opts.Storage.HashDBPath, name)
	s, err := hash.New(e.allocStorageID(), name, dbPath, e.log)
	if err != nil {
		return nil, err
	}
	s.SetCache(e.PageCache)
	e.hashes[name] = s
	return s, nil
}

// CreateMasstreeStorage creates a new ordered-index storage (spec §4.7).
func (e *Engine) CreateMasstreeStorage(name string) (*masstree.Storage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.masstrees[name]; exists {
		return nil, errs.Newf(errs.DuplicateKey, "storage %q already exists", name)
	}
	s := masstree.New(e.allocStorageID(), name)
	e.masstrees[name] = s
	return s, nil
}

// Threads returns every worker ID known to the pool.
func (e *Engine) Threads() []thread.ID { return e.Pool.Threads() }

// RegisterProc registers a procedure; must be called before Start.
func (e *Engine) RegisterProc(name string, fn proc.Func) error {
	return e.Registry.PreRegister(name, fn)
}
