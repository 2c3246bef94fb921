// Package masstree implements the ordered-index storage variant (spec §4.7
// "masstree: variable-length records indexed by an opaque byte-string key,
// kept in key order"; scenario S2's range scan needs keys back in order,
// which the hash variant cannot offer). The trie-of-B-trees internals the
// name refers to are explicitly out of scope (spec §1); what is required is
// the ordered-keys contract, implemented here as a slice kept sorted by key,
// in the spirit of a single masstree border layer.
package masstree

import (
	"sort"
	"sync"

	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/storage"
	"github.com/shino/foedus/xct"
)

const recordKindInsert uint8 = 1

type entry struct {
	key string
	rec *storage.Record
	loc xct.RecordLocator
}

// Storage is the masstree storage variant.
type Storage struct {
	id   xct.StorageID
	name string

	mu       sync.RWMutex
	entries  []entry // kept sorted by key
	nextPage uint64
}

// New creates an empty ordered-index storage.
func New(id xct.StorageID, name string) *Storage {
	return &Storage{id: id, name: name}
}

func (s *Storage) ID() xct.StorageID { return s.id }
func (s *Storage) Name() string      { return s.name }

func (s *Storage) findLocked(key string) (int, bool) {
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].key >= key })
	if i < len(s.entries) && s.entries[i].key == key {
		return i, true
	}
	return i, false
}

// Read looks up key and snapshots its payload into the active transaction's
// read-set.
func (s *Storage) Read(x *xct.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	i, ok := s.findLocked(string(key))
	var e entry
	if ok {
		e = s.entries[i]
	}
	s.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KeyNotFound, "masstree %s: key not found", s.name)
	}
	return storage.BeginRead(x, s.id, e.loc, e.rec)
}

// Insert stages a new key/payload pair. As with the hash variant, the key
// only becomes visible to other transactions' Read once this transaction's
// Apply runs under the commit protocol's Phase-3 release store.
func (s *Storage) Insert(x *xct.Context, key, payload []byte) error {
	s.mu.RLock()
	_, exists := s.findLocked(string(key))
	s.mu.RUnlock()
	if exists {
		return errs.Newf(errs.DuplicateKey, "masstree %s: key already exists", s.name)
	}

	s.mu.Lock()
	page := s.nextPage
	s.nextPage++
	s.mu.Unlock()

	rec := &storage.Record{}
	loc := xct.RecordLocator{PageID: page, Offset: 0}

	log := &insertLog{
		storage: s,
		key:     string(append([]byte(nil), key...)),
		payload: append([]byte(nil), payload...),
		rec:     rec,
		loc:     loc,
	}
	return storage.AppendWrite(x, s.id, loc, rec, log)
}

// Scan returns a snapshot of every committed key/payload pair whose key
// falls in [from, to) in key order, adding each to the active transaction's
// read-set (scenario S2's ordered range scan). A nil to scans to the end.
func (s *Storage) Scan(x *xct.Context, from, to []byte) ([][]byte, [][]byte, error) {
	s.mu.RLock()
	start := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].key >= string(from) })
	snapshot := make([]entry, 0, len(s.entries)-start)
	for i := start; i < len(s.entries); i++ {
		if to != nil && s.entries[i].key >= string(to) {
			break
		}
		snapshot = append(snapshot, s.entries[i])
	}
	s.mu.RUnlock()

	keys := make([][]byte, 0, len(snapshot))
	payloads := make([][]byte, 0, len(snapshot))
	for _, e := range snapshot {
		payload, err := storage.BeginRead(x, s.id, e.loc, e.rec)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, []byte(e.key))
		payloads = append(payloads, payload)
	}
	return keys, payloads, nil
}

type insertLog struct {
	storage *Storage
	key     string
	payload []byte
	rec     *storage.Record
	loc     xct.RecordLocator
}

func (e *insertLog) Apply() {
	e.rec.Payload = e.payload
	e.storage.mu.Lock()
	i := sort.Search(len(e.storage.entries), func(i int) bool { return e.storage.entries[i].key >= e.key })
	e.storage.entries = append(e.storage.entries, entry{})
	copy(e.storage.entries[i+1:], e.storage.entries[i:])
	e.storage.entries[i] = entry{key: e.key, rec: e.rec, loc: e.loc}
	e.storage.mu.Unlock()
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
