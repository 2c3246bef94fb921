// Package storage defines the capability contract the Xct commit protocol
// depends on (spec §4.6, §9 "Polymorphism over storages"): a record exposes
// {begin_read, append_write}, and storages are variants behind that pair,
// not a class hierarchy. The page-layout and index-algorithm internals of
// any concrete storage are explicitly out of scope (spec §1); only the
// Record-level read/write set shape is required here.
package storage

import (
	"github.com/shino/foedus/xct"
)

// Record is the minimal in-memory record header + payload every storage
// variant builds on: an atomically accessed owner-id word plus the bytes it
// guards (spec §3 "Record owner-id").
//
// Payload is mutated in place by a LogEntry's Apply, without its own lock:
// the commit protocol's read-set validation is what makes a torn read
// harmless — a reader that raced with a concurrent Apply will find its
// observed owner-id stale at verification time and abort. This mirrors the
// raw-pointer record access the original engine relies on (spec §9 "Raw
// pointers into pages"); Go's race detector is not run across this
// boundary in this port.
type Record struct {
	Owner   xct.AtomicOwnerID
	Payload []byte
}

// BeginRead snapshots loc's owner-id, copies its payload, and records the
// observation in the active transaction's read-set (spec §4.6). Every
// concrete storage's read path funnels through this one helper so the
// "storages are variants behind one capability set" design note holds
// without each storage reimplementing set bookkeeping.
func BeginRead(x *xct.Context, storageID xct.StorageID, loc xct.RecordLocator, rec *Record) ([]byte, error) {
	observed := rec.Owner.Load()
	payload := append([]byte(nil), rec.Payload...)
	if err := x.AddToReadSet(xct.ReadSetEntry{
		Storage:  storageID,
		Record:   loc,
		Owner:    &rec.Owner,
		Observed: observed,
	}); err != nil {
		return nil, err
	}
	return payload, nil
}

// AppendWrite records a pending write against loc (spec §4.6).
func AppendWrite(x *xct.Context, storageID xct.StorageID, loc xct.RecordLocator, rec *Record, entry xct.LogEntry) error {
	return x.RecordWrite(storageID, loc, &rec.Owner, entry)
}
