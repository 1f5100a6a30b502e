package rollback

import "github.com/coreframe/brtkv/internal/node"

// Inverter is implemented by internal/engine.Tree and supplies the actual
// effects behind each undo Kind. Keeping it as an interface (rather than
// importing the engine package directly) avoids a rollback<->engine
// import cycle: the engine both produces undo Records and consumes them
// on Abort.
type Inverter interface {
	// Unlink removes a file created within the aborted transaction.
	Unlink(path string) error

	// ClearLeafSlot clears the entry at position in the leaf at
	// (file, offset), restoring the leaf's byte count and fingerprint as
	// if key/value had never been inserted there.
	ClearLeafSlot(file int, offset node.Offset, position int, key, value []byte) error

	// ReinsertViaTree re-inserts key/value through the normal insert path,
	// which may land it at a different position than it originally held.
	ReinsertViaTree(txn node.TxnID, key, value []byte) error
}
