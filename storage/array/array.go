// Package array implements the fixed-size-slot array storage (spec §4.7
// "array: fixed-length records indexed by a dense integer offset"; scenario
// S1 creates "myarray" with 2^20 16-byte slots). Slots live in memory as the
// authoritative copy the commit protocol operates on; syndtr/goleveldb
// mirrors committed payloads to disk, the same durable-KV role
// ethereum-go-ethereum's ethdb layer gives a LevelDB backend (grounded on
// ethdb/memorydb's KeyValueStore shape, seen in its _test.go files).
package array

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/logging"
	"github.com/shino/foedus/pagecache"
	"github.com/shino/foedus/storage"
	"github.com/shino/foedus/xct"
)

const recordKindOverwrite uint8 = 1

// Storage is the array storage variant (spec §4.7).
type Storage struct {
	id       xct.StorageID
	name     string
	slotSize int
	records  []storage.Record
	db       *leveldb.DB
	log      logging.Logger
	cache    *pagecache.Cache
}

// SetCache attaches the engine's per-NUMA-group snapshot cache. Every Read
// populates its group's shard with the slot it just snapshotted, and every
// committed Overwrite refreshes the shard of the group whose worker made
// it; another group's shard keeps whatever it last cached, so PeekCached on
// that group may return an older payload.
func (s *Storage) SetCache(c *pagecache.Cache) { s.cache = c }

// PeekCached returns slot's last-cached payload for group without opening a
// transaction or touching the read-set; callers that only want a
// best-effort snapshot (diagnostics, warm-cache probes) use this instead of
// Read.
func (s *Storage) PeekCached(group int, slot uint64) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(group, slotKey(slot))
}

// New creates an array storage with numSlots fixed-size slots of slotSize
// bytes each, mirroring committed payloads into a LevelDB directory at
// dbPath.
func New(id xct.StorageID, name string, slotSize, numSlots int, dbPath string, log logging.Logger) (*Storage, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.DependentModuleUnavailableInit, "opening array storage leveldb")
	}
	records := make([]storage.Record, numSlots)
	for i := range records {
		records[i].Payload = make([]byte, slotSize)
	}
	if log == nil {
		log = logging.Root()
	}
	return &Storage{id: id, name: name, slotSize: slotSize, records: records, db: db, log: log.With("storage", name)}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) ID() xct.StorageID { return s.id }
func (s *Storage) Name() string      { return s.name }
func (s *Storage) SlotSize() int     { return s.slotSize }
func (s *Storage) NumSlots() int     { return len(s.records) }

func (s *Storage) locator(slot uint64) xct.RecordLocator {
	return xct.RecordLocator{PageID: 0, Offset: uint32(slot)}
}

// Read returns a point-in-time snapshot of slot's payload and adds the
// observation to the active transaction's read-set.
func (s *Storage) Read(x *xct.Context, slot uint64) ([]byte, error) {
	if slot >= uint64(len(s.records)) {
		return nil, errs.Newf(errs.KeyNotFound, "array %s: slot %d out of range", s.name, slot)
	}
	payload, err := storage.BeginRead(x, s.id, s.locator(slot), &s.records[slot])
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(int(x.Thread.Group), slotKey(slot), payload)
	}
	return payload, nil
}

// Overwrite replaces payload at slot[offset:offset+len(payload)]; the write
// is staged into the transaction's write-set and does not take effect until
// the transaction commits (spec §4.1 Phase 3).
func (s *Storage) Overwrite(x *xct.Context, slot uint64, offset int, payload []byte) error {
	if slot >= uint64(len(s.records)) {
		return errs.Newf(errs.KeyNotFound, "array %s: slot %d out of range", s.name, slot)
	}
	if offset < 0 || offset+len(payload) > s.slotSize {
		return errs.Newf(errs.FatalInternal, "array %s: overwrite out of slot bounds", s.name)
	}
	rec := &s.records[slot]
	entry := &overwriteLog{
		storage: s,
		slot:    slot,
		offset:  offset,
		group:   int(x.Thread.Group),
		payload: append([]byte(nil), payload...),
	}
	return storage.AppendWrite(x, s.id, s.locator(slot), rec, entry)
}

func slotKey(slot uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], slot)
	return k[:]
}

type overwriteLog struct {
	storage *Storage
	slot    uint64
	offset  int
	group   int
	payload []byte
}

func (e *overwriteLog) Apply() {
	rec := &e.storage.records[e.slot]
	copy(rec.Payload[e.offset:], e.payload)
	full := append([]byte(nil), rec.Payload...)
	if err := e.storage.db.Put(slotKey(e.slot), full, nil); err != nil {
		e.storage.log.Warn("array: leveldb mirror write failed", "slot", e.slot, "err", err)
	}
	if e.storage.cache != nil {
		e.storage.cache.Set(e.group, slotKey(e.slot), full)
	}
}

func (e *overwriteLog) Encode() []byte {
	buf := make([]byte, 8+4+len(e.payload))
	binary.BigEndian.PutUint64(buf[0:8], e.slot)
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.offset))
	copy(buf[12:], e.payload)
	return buf
}

func (e *overwriteLog) RecordKind() uint8 { return recordKindOverwrite }
