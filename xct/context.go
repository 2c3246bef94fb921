package xct

import (
	"sort"

	"github.com/shino/foedus/epoch"
	"github.com/shino/foedus/errs"
	"github.com/shino/foedus/thread"
)

// StorageID identifies which named storage a record belongs to. Storages
// register themselves with the engine and are handed a StorageID; the Xct
// core never interprets it beyond using it as an opaque tag on read/write
// set entries.
type StorageID uint32

// RecordLocator is the non-owning {page_id, offset} reference into a page
// pool described in spec §9 ("Raw pointers into pages"), used in place of a
// bare memory pointer so every dereference can be validated against the
// page pool's own bookkeeping.
type RecordLocator struct {
	PageID uint64
	Offset uint32
}

// Less gives RecordLocator the total order the commit protocol's phase 1
// lock-sort requires (spec §4.1 "sort write_set by record pointer").
func (r RecordLocator) Less(other RecordLocator) bool {
	if r.PageID != other.PageID {
		return r.PageID < other.PageID
	}
	return r.Offset < other.Offset
}

// LogEntry is the minimal capability a storage's write-set entry must
// supply: enough to apply the write during commit and enough to serialize
// it into the thread-local log buffer (spec §4.6).
type LogEntry interface {
	// Apply writes the log entry's payload into the record. Called once,
	// during precommit phase 3, strictly before the new OwnerID is
	// published (spec §4.1 "apply-as-unlock").
	Apply()
	// Encode returns the wire form appended to the log buffer, not
	// including the {length, storage_id, record_kind, commit_epoch}
	// header the log buffer itself prefixes (spec §6 "Log file format").
	Encode() []byte
	// RecordKind is the storage-defined tag persisted in the log header.
	RecordKind() uint8
}

// ReadSetEntry records a single read's observed owner-id (spec §3).
type ReadSetEntry struct {
	Storage  StorageID
	Record   RecordLocator
	Owner    *AtomicOwnerID
	Observed OwnerID
}

// WriteSetEntry records a single pending write (spec §3).
type WriteSetEntry struct {
	Storage StorageID
	Record  RecordLocator
	Owner   *AtomicOwnerID
	Log     LogEntry
}

// NodeSetEntry is the reserved, core-opaque page-version observation slot
// (spec §3 "node_set... reserved; used by index layers").
type NodeSetEntry struct {
	PageID  uint64
	Version uint64
}

// State is the Xct lifecycle state (spec §4.1 state machine).
type State uint8

const (
	Inactive State = iota
	Active
)

// Context is the per-worker transaction context: exactly one is active at a
// time per worker, created once at engine init and reused for every
// subsequent transaction that worker runs (spec §3 "Xct").
type Context struct {
	Thread thread.ID

	state State
	id    OwnerID // most recently issued commit owner-id

	readSet  []ReadSetEntry
	writeSet []WriteSetEntry
	nodeSet  []NodeSetEntry

	maxReadSetSize  int
	maxWriteSetSize int

	// inCommitLogEpoch is published with release semantics during phase 2
	// of precommit and read with acquire semantics by loggers, which must
	// never persist an entry whose header epoch is >= this value while it
	// is set (spec §4.1 phase 2, §4.3).
	inCommitLogEpoch epoch.Atomic

	lastOrdinalEpoch epoch.Epoch
	nextOrdinalValue uint16

	buffer Buffer
}

// Buffer is the capability the per-worker thread-local log buffer exposes to
// Context without xct needing to import the wal package (wal imports xct,
// not the reverse).
type Buffer interface {
	// Tail returns the current append offset.
	Tail() int64
	// Committed returns the last published offset.
	Committed() int64
	// AppendRecord writes one {length, storage_id, record_kind,
	// commit_epoch, payload} log record with a placeholder commit_epoch,
	// advancing Tail but not Committed. The real commit_epoch is filled in
	// by Publish, since every record appended between two Publish/Discard
	// calls belongs to the same transaction and hence the same epoch.
	AppendRecord(storageID StorageID, kind uint8, payload []byte) error
	// Publish patches the commit_epoch of every record appended since the
	// last Publish/Discard, then advances Committed to Tail, making the
	// range visible to loggers.
	Publish(commitEpoch epoch.Epoch)
	// Discard rewinds Tail back to Committed, undoing any AppendRecord
	// calls made since the last Publish (spec §3 "abort rewinds tail").
	Discard()
}

// NewContext constructs an inactive Context for a worker. maxReadSetSize and
// maxWriteSetSize are the fixed per-transaction capacity bounds from
// xct.max_read_set_size / xct.max_write_set_size (spec §6); zero means
// unbounded.
func NewContext(t thread.ID, buf Buffer, maxReadSetSize, maxWriteSetSize int) *Context {
	return &Context{
		Thread:          t,
		buffer:          buf,
		maxReadSetSize:  maxReadSetSize,
		maxWriteSetSize: maxWriteSetSize,
	}
}

// State reports whether the context is currently active.
func (c *Context) State() State { return c.state }

// ID returns the most recently issued commit OwnerID.
func (c *Context) ID() OwnerID { return c.id }

// InCommitLogEpoch returns the published serialization-point epoch guard.
// Zero (epoch.Invalid) means the worker is not currently in the commit
// critical section.
func (c *Context) InCommitLogEpoch() epoch.Epoch { return c.inCommitLogEpoch.Load() }

// InCommitLogEpochGuard exposes the serialization-point guard cell itself,
// so the logger assigned to this worker's buffer can read it directly
// (spec §4.1 phase 2, §4.3); wal imports xct, so this is how the guard
// crosses the package boundary without xct importing wal.
func (c *Context) InCommitLogEpochGuard() *epoch.Atomic { return &c.inCommitLogEpoch }

// begin activates the context for a new transaction. Fails with
// XctAlreadyRunning if already active, and asserts the invariant that the
// log buffer has nothing uncommitted pending from a prior transaction
// (spec §4.1 "begin").
func (c *Context) begin() error {
	if c.state == Active {
		return errs.New(errs.XctAlreadyRunning, "xct already running on this worker")
	}
	if c.buffer.Tail() != c.buffer.Committed() {
		return errs.New(errs.FatalInternal, "log buffer tail/committed mismatch at begin")
	}
	c.readSet = c.readSet[:0]
	c.writeSet = c.writeSet[:0]
	c.nodeSet = c.nodeSet[:0]
	c.state = Active
	return nil
}

// AddToReadSet records a read's observed owner-id. Returns ReadSetOverflow
// if the configured bound is exceeded.
func (c *Context) AddToReadSet(e ReadSetEntry) error {
	if c.maxReadSetSize > 0 && len(c.readSet) >= c.maxReadSetSize {
		return errs.New(errs.ReadSetOverflow, "read set capacity exceeded")
	}
	c.readSet = append(c.readSet, e)
	return nil
}

// AddToWriteSet records a pending write. Returns WriteSetOverflow if the
// configured bound is exceeded.
func (c *Context) AddToWriteSet(e WriteSetEntry) error {
	if c.maxWriteSetSize > 0 && len(c.writeSet) >= c.maxWriteSetSize {
		return errs.New(errs.WriteSetOverflow, "write set capacity exceeded")
	}
	c.writeSet = append(c.writeSet, e)
	return nil
}

// RecordWrite is the single entry point storages use to register a pending
// write: it both appends the write-set bookkeeping entry (for phase 1/3 of
// precommit) and the log record bytes to the thread-local buffer (for
// durability), keeping the two in lockstep the way spec §4.6 describes a
// storage's append_write call doing both at once.
func (c *Context) RecordWrite(storageID StorageID, loc RecordLocator, owner *AtomicOwnerID, log LogEntry) error {
	if err := c.AddToWriteSet(WriteSetEntry{Storage: storageID, Record: loc, Owner: owner, Log: log}); err != nil {
		return err
	}
	return c.buffer.AppendRecord(storageID, log.RecordKind(), log.Encode())
}

// AddToNodeSet records a page-version observation. Opaque to the core;
// index layers use it for their own phantom-protection scheme.
func (c *Context) AddToNodeSet(e NodeSetEntry) {
	c.nodeSet = append(c.nodeSet, e)
}

// inWriteSet reports whether loc is already present in the write set,
// via binary search over the address-sorted slice (spec §4.1 phase 3
// "binary search over the sorted set"). sortWriteSet must have been called
// first; Context guarantees that itself during precommit.
func (c *Context) inWriteSet(loc RecordLocator) bool {
	i := sort.Search(len(c.writeSet), func(i int) bool {
		return !c.writeSet[i].Record.Less(loc)
	})
	return i < len(c.writeSet) && c.writeSet[i].Record == loc
}

func (c *Context) sortWriteSet() {
	sort.Slice(c.writeSet, func(i, j int) bool {
		return c.writeSet[i].Record.Less(c.writeSet[j].Record)
	})
}

// nextOrdinal returns the next ordinal for commitEpoch on this thread,
// resetting the counter whenever the epoch advances past the last one used
// (spec §3 "ordinals reset on epoch change").
func (c *Context) nextOrdinal(commitEpoch epoch.Epoch) uint16 {
	if commitEpoch != c.lastOrdinalEpoch {
		c.lastOrdinalEpoch = commitEpoch
		c.nextOrdinalValue = 0
	}
	n := c.nextOrdinalValue
	c.nextOrdinalValue++
	return n
}

// deactivateDiscard ends the transaction without committing: rewinds the
// log buffer tail. The read/write/node sets are left as they are until the
// next begin clears them. Shared by abort and a failed precommit.
func (c *Context) deactivateDiscard() {
	c.buffer.Discard()
	c.state = Inactive
}

// deactivateCommitted ends the transaction having committed id, publishing
// the log buffer range.
func (c *Context) deactivateCommitted(id OwnerID, commitEpoch epoch.Epoch) {
	c.id = id
	c.buffer.Publish(commitEpoch)
	c.state = Inactive
}
