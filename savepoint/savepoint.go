// Package savepoint persists the durable snapshot described in spec §3
// ("Savepoint") and §4.3 ("Initial durable_global_epoch is restored from
// the savepoint manager"): per-logger file offsets plus the durable global
// epoch, written as TOML the way the teacher's own genesis/config files are
// loaded (BurntSushi/toml), and guarded against concurrent writers from a
// second engine instance with a file lock (gofrs/flock, the same library
// the logger uses for its data files).
package savepoint

import (
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/errs"
)

// LoggerState is one logger's persisted offsets (spec §3 "Logger state").
type LoggerState struct {
	Name                     string
	CurrentFile              string
	OldestFileOffsetBegin    int64
	CurrentFileOffsetDurable int64
}

// Document is the full on-disk savepoint (spec §6 "the savepoint holds, per
// logger: {current_file, oldest_file_offset_begin,
// current_file_offset_durable}").
type Document struct {
	DurableGlobalEpoch uint32
	Loggers            []LoggerState
}

// Manager reads and atomically rewrites the savepoint file.
type Manager struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// New returns a Manager backed by path. The file need not exist yet; a
// fresh engine starts with durable_global_epoch = epoch.Invalid.
func New(path string) *Manager {
	return &Manager{path: path, lock: flock.New(path + ".lock")}
}

// RestoreDurableEpoch implements wal.SavepointStore.
func (m *Manager) RestoreDurableEpoch() (epoch.Epoch, error) {
	doc, err := m.read()
	if err != nil {
		return epoch.Invalid, err
	}
	if doc == nil {
		return epoch.Invalid, nil
	}
	return epoch.Epoch(doc.DurableGlobalEpoch), nil
}

// PersistDurableEpoch implements wal.SavepointStore: it rewrites the whole
// document with the new durable epoch, preserving whatever per-logger
// offsets were already on disk.
func (m *Manager) PersistDurableEpoch(e epoch.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.lock.Lock(); err != nil {
		return errs.Wrap(err, errs.DependentModuleUnavailableInit, "locking savepoint file")
	}
	defer m.lock.Unlock()

	doc, err := m.readLocked()
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &Document{}
	}
	doc.DurableGlobalEpoch = uint32(e)
	return m.writeLocked(doc)
}

// PersistLoggerState merges one logger's offsets into the savepoint.
func (m *Manager) PersistLoggerState(ls LoggerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.lock.Lock(); err != nil {
		return errs.Wrap(err, errs.DependentModuleUnavailableInit, "locking savepoint file")
	}
	defer m.lock.Unlock()

	doc, err := m.readLocked()
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &Document{}
	}
	replaced := false
	for i := range doc.Loggers {
		if doc.Loggers[i].Name == ls.Name {
			doc.Loggers[i] = ls
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Loggers = append(doc.Loggers, ls)
	}
	return m.writeLocked(doc)
}

func (m *Manager) read() (*Document, error) {
	if err := m.lock.Lock(); err != nil {
		return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "locking savepoint file")
	}
	defer m.lock.Unlock()
	return m.readLocked()
}

func (m *Manager) readLocked() (*Document, error) {
	if _, err := os.Stat(m.path); os.IsNotExist(err) {
		return nil, nil
	}
	var doc Document
	if _, err := toml.DecodeFile(m.path, &doc); err != nil {
		return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "decoding savepoint toml")
	}
	return &doc, nil
}

func (m *Manager) writeLocked(doc *Document) error {
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(err, errs.DependentModuleUnavailableInit, "creating savepoint tmp file")
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(doc); err != nil {
		f.Close()
		return errs.Wrap(err, errs.DependentModuleUnavailableInit, "encoding savepoint toml")
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(err, errs.DependentModuleUnavailableInit, "closing savepoint tmp file")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errs.Wrap(err, errs.DependentModuleUnavailableInit, "renaming savepoint tmp file")
	}
	return nil
}
