package brtkv

import "github.com/coreframe/brtkv/internal/node"

// Txn identifies a transaction, or 0 to mean "no transaction": a mutator
// called with Txn(0) auto-commits its single message outside any undo
// bookkeeping (spec §4.6).
type Txn node.TxnID

// Begin starts a (possibly nested) transaction under parent, or under no
// parent if parent is 0, and returns an id to pass to Insert, DeletePoint,
// DeleteBoth, Commit, or Abort.
func (db *DB) Begin(parent Txn) (Txn, error) {
	txn, err := db.tree.Begin(node.TxnID(parent))
	return Txn(txn), translateErr(err)
}

// Commit finalizes txn. If txn was started with a parent, its undo
// records are spliced onto the parent's instead of discarded (spec §4.6
// "sub-txn commit splicing"); committing the outermost transaction in a
// nesting chain discards its undo records entirely.
func (db *DB) Commit(txn Txn) error {
	return translateErr(db.tree.Commit(node.TxnID(txn)))
}

// Abort undoes every effect txn recorded, newest first, including the
// effects of nested transactions already committed into it. A nested
// transaction that is still open is not aborted with it.
func (db *DB) Abort(txn Txn) error {
	return translateErr(db.tree.Abort(node.TxnID(txn)))
}
