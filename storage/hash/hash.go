// Package hash implements the hash storage variant (spec §4.7 "hash:
// variable-length records indexed by an opaque byte-string key"; scenarios
// S2 and S4 insert and read back 10M and 1M byte-string keys respectively).
// cockroachdb/pebble backs the durable mirror, the LSM engine
// ethereum-go-ethereum's own go.mod pulls in alongside goleveldb.
package hash

import (
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/logging"
	"github.com/shino/foedus/pagecache"
	"github.com/shino/foedus/storage"
	"github.com/shino/foedus/xct"
)

const recordKindInsert uint8 = 1

type indexEntry struct {
	rec *storage.Record
	loc xct.RecordLocator
}

// Storage is the hash storage variant.
type Storage struct {
	id   xct.StorageID
	name string

	mu       sync.RWMutex
	index    map[string]indexEntry
	nextPage uint64

	db  *pebble.DB
	log logging.Logger

	cache *pagecache.Cache
}

// SetCache attaches the engine's per-NUMA-group snapshot cache.
func (s *Storage) SetCache(c *pagecache.Cache) { s.cache = c }

// PeekCached returns key's last-cached payload for group without opening a
// transaction; see array.Storage.PeekCached for the rationale.
func (s *Storage) PeekCached(group int, key []byte) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(group, key)
}

// New opens a hash storage backed by a Pebble directory at dbPath.
func New(id xct.StorageID, name, dbPath string, log logging.Logger) (*Storage, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "opening hash storage pebble db")
	}
	if log == nil {
		log = logging.Root()
	}
	return &Storage{
		id:    id,
		name:  name,
		index: make(map[string]indexEntry),
		db:    db,
		log:   log.With("storage", name),
	}, nil
}

func (s *Storage) Close() error { return s.db.Close() }
func (s *Storage) ID() xct.StorageID { return s.id }
func (s *Storage) Name() string      { return s.name }

// Read looks up key and, if present, snapshots its payload into the active
// transaction's read-set. A key that has not yet committed its insert is
// indistinguishable from a key that was never inserted (spec §4.1: no
// transaction observes another's uncommitted writes).
func (s *Storage) Read(x *xct.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.index[string(key)]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KeyNotFound, "hash %s: key not found", s.name)
	}
	payload, err := storage.BeginRead(x, s.id, entry.loc, entry.rec)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(int(x.Thread.Group), key, payload)
	}
	return payload, nil
}

// Insert stages a new key/payload pair into the transaction's write-set.
// The key only becomes visible to other transactions' Read once this
// transaction commits (Apply both allocates the slot in the index and
// copies the payload, under the commit protocol's Phase-3 release store).
func (s *Storage) Insert(x *xct.Context, key, payload []byte) error {
	s.mu.RLock()
	_, exists := s.index[string(key)]
	s.mu.RUnlock()
	if exists {
		return errs.Newf(errs.DuplicateKey, "hash %s: key already exists", s.name)
	}

	rec := &storage.Record{}
	s.mu.Lock()
	page := s.nextPage
	s.nextPage++
	s.mu.Unlock()
	loc := xct.RecordLocator{PageID: page, Offset: 0}

	entry := &insertLog{
		storage: s,
		key:     append([]byte(nil), key...),
		payload: append([]byte(nil), payload...),
		rec:     rec,
		loc:     loc,
		group:   int(x.Thread.Group),
	}
	return storage.AppendWrite(x, s.id, loc, rec, entry)
}

type insertLog struct {
	storage *Storage
	key     []byte
	payload []byte
	rec     *storage.Record
	loc     xct.RecordLocator
	group   int
}

func (e *insertLog) Apply() {
	e.rec.Payload = e.payload
	e.storage.mu.Lock()
	e.storage.index[string(e.key)] = indexEntry{rec: e.rec, loc: e.loc}
	e.storage.mu.Unlock()
	if err := e.storage.db.Set(e.key, e.payload, pebble.Sync); err != nil {
		e.storage.log.Warn("hash: pebble mirror write failed", "err", err)
	}
	if e.storage.cache != nil {
		e.storage.cache.Set(e.group, e.key, e.payload)
	}
}

func (e *insertLog) Encode() []byte {
	buf := make([]byte, 4+len(e.key)+len(e.payload))
	buf[0] = byte(len(e.key) >> 24)
	buf[1] = byte(len(e.key) >> 16)
	buf[2] = byte(len(e.key) >> 8)
	buf[3] = byte(len(e.key))
	n := copy(buf[4:], e.key)
	copy(buf[4+n:], e.payload)
	return buf
}

func (e *insertLog) RecordKind() uint8 { return recordKindInsert }
