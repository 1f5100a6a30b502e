package brtkv

import (
	"github.com/coreframe/brtkv/internal/engine"
	"github.com/coreframe/brtkv/internal/node"
)

// Cursor walks a DB's keys in order. The method names follow the public
// engine surface named in spec §6 (SeekFirst/SeekLast/SeekNext/SeekPrev/
// SeekKey/SeekBoth/GetCurrent/DeleteUnder/Close) rather than
// internal/engine.Cursor's shorter Go-idiomatic names, since this is the
// one place the literal external naming is part of the contract.
type Cursor struct {
	c *engine.Cursor
}

// NewCursor returns a cursor not yet positioned.
func (db *DB) NewCursor() *Cursor {
	return &Cursor{c: db.tree.NewCursor()}
}

// Close releases the cursor.
func (c *Cursor) Close() error { return translateErr(c.c.Close()) }

// SeekFirst positions the cursor on the smallest key in the database.
func (c *Cursor) SeekFirst() error { return translateErr(c.c.First()) }

// SeekLast positions the cursor on the largest key in the database.
func (c *Cursor) SeekLast() error { return translateErr(c.c.Last()) }

// SeekNext advances to the smallest key strictly greater than the current one.
func (c *Cursor) SeekNext() error { return translateErr(c.c.Next()) }

// SeekPrev retreats to the largest key strictly less than the current one.
func (c *Cursor) SeekPrev() error { return translateErr(c.c.Prev()) }

// SeekKey positions the cursor on the smallest key >= key, or returns
// ErrNotFound if there is none.
func (c *Cursor) SeekKey(key []byte) error { return translateErr(c.c.SeekKey(key)) }

// SeekBoth positions the cursor on the exact (key, value) pair, for
// duplicate modes where several values share a key.
func (c *Cursor) SeekBoth(key, value []byte) error { return translateErr(c.c.SeekBoth(key, value)) }

// GetCurrent returns the key and value the cursor is positioned on, and
// whether it is positioned at all.
func (c *Cursor) GetCurrent() (key, value []byte, ok bool) {
	return c.c.Key(), c.c.Value(), c.c.Valid()
}

// DeleteUnder removes the (key, value) pair the cursor currently sits on,
// within txn, and invalidates the cursor's position.
func (c *Cursor) DeleteUnder(txn Txn) error {
	return translateErr(c.c.DeleteUnder(node.TxnID(txn)))
}
