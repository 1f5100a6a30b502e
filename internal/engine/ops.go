package engine

import (
	"bytes"
	"errors"

	"github.com/coreframe/brtkv/internal/leafstore"
	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/internal/wal"
)

// ErrNotFound is returned by Lookup when the key is absent.
var ErrNotFound = leafstore.ErrNotFound

// ErrKeyEmpty is returned by any mutating operation given a nil or empty key.
var ErrKeyEmpty = errors.New("engine: key must not be empty")

// Begin starts a (possibly nested) transaction and logs it, returning an
// id to pass to Insert/DeletePoint/DeleteBoth/Commit/Abort. Passing 0 as
// txn to a mutator auto-commits the single message outside any
// transaction (no undo bookkeeping).
func (t *Tree) Begin(parent node.TxnID) (node.TxnID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn := t.rollback.Begin(parent)
	if t.wal != nil {
		if _, err := t.wal.LogBeginTxn(wal.BeginTxn{Txn: txn, Parent: parent}); err != nil {
			return 0, err
		}
	}
	return txn, nil
}

// Commit finalizes txn per rollback.Manager.Commit's splice-to-parent
// semantics.
func (t *Tree) Commit(txn node.TxnID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wal != nil {
		if _, err := t.wal.LogCommitTxn(wal.CommitTxn{Txn: txn}); err != nil {
			return err
		}
	}
	return t.rollback.Commit(txn)
}

// Abort walks txn's undo list newest-to-oldest against this Tree (which
// implements rollback.Inverter).
func (t *Tree) Abort(txn node.TxnID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollback.Abort(txn, t)
}

// Insert stores value under key (spec §4.2 "insert").
func (t *Tree) Insert(txn node.TxnID, key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyMessage(txn, node.Message{Type: node.Insert, Key: key, Value: value, Txn: txn})
}

// DeletePoint removes every value stored under key (spec §4.2 "delete_point").
func (t *Tree) DeletePoint(txn node.TxnID, key []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyMessage(txn, node.Message{Type: node.DeletePoint, Key: key, Txn: txn})
}

// DeleteBoth removes exactly the (key, value) pair (spec §4.2 "delete_both").
func (t *Tree) DeleteBoth(txn node.TxnID, key, value []byte) error {
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyMessage(txn, node.Message{Type: node.DeleteBoth, Key: key, Value: value, Txn: txn})
}

// Lookup returns the first value stored under key (spec §4.2 "lookup").
// Messages buffered above the target leaf are not consulted: a lookup
// reads only from leaves, so any still-buffered insert/delete for this
// key has not yet taken effect on the value a lookup would observe. This
// mirrors the teacher's BTree.Search, which also only ever reads
// already-written nodes.
func (t *Tree) Lookup(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrKeyEmpty
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.Lookups.Inc()
	}
	root := t.rootOffset()
	if root == 0 {
		return nil, ErrNotFound
	}
	return t.lookupAt(root, key)
}

func (t *Tree) lookupAt(off node.Offset, key []byte) ([]byte, error) {
	p, err := t.pin(off)
	if err != nil {
		return nil, err
	}
	defer t.unpin(p, false)

	if p.isLeaf() {
		return p.leaf.Lookup(key)
	}
	idx := p.internal.FindChild(key, t.keyCmp)
	return t.lookupAt(p.internal.Children[idx].Child, key)
}

// Keyrange returns the approximate number of keys less than, equal to, and
// greater than key (spec §4.2/§6 "keyrange", §8 scenario 1). An empty tree
// reports all three counts as zero. Messages still buffered on an internal
// child are not consulted, the same way Lookup only reads already-written
// leaves: the estimate reflects what is durably written below, not pending
// buffered mutations.
//
// The estimate is computed by descending the single root-to-leaf path that
// key would take, the way the original toku_brt_keyrange walks pivot fanout
// counts rather than scanning every leaf: at each internal node the target
// child's sibling count is assumed equal to the target child's own
// (recursively estimated) size, and only the leaf actually reached is
// counted exactly. The estimate is exact when the tree's fanout is uniform
// and degrades gracefully as it isn't.
func (t *Tree) Keyrange(key []byte) (less, equal, greater uint64, err error) {
	if len(key) == 0 {
		return 0, 0, 0, ErrKeyEmpty
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	root := t.rootOffset()
	if root == 0 {
		return 0, 0, 0, nil
	}
	less, equal, greater, _, err = t.keyrangeAt(root, key)
	return less, equal, greater, err
}

// keyrangeAt returns key's approximate rank within the subtree rooted at
// off, plus that subtree's own (possibly estimated) total entry count so
// the caller can weight sibling subtrees by it.
func (t *Tree) keyrangeAt(off node.Offset, key []byte) (less, equal, greater, total uint64, err error) {
	p, err := t.pin(off)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	defer t.unpin(p, false)

	if p.isLeaf() {
		for _, e := range p.leaf.Entries() {
			switch c := t.keyCmp(e.Key, key); {
			case c < 0:
				less++
			case c == 0:
				equal++
			default:
				greater++
			}
		}
		entries := p.leaf.Entries()
		return less, equal, greater, uint64(len(entries)), nil
	}

	in := p.internal
	idx := in.FindChild(key, t.keyCmp)
	n := uint64(len(in.Children))

	subLess, equal, subGreater, subTotal, err := t.keyrangeAt(in.Children[idx].Child, key)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	less = uint64(idx)*subTotal + subLess
	greater = (n-uint64(idx)-1)*subTotal + subGreater
	total = n * subTotal
	return less, equal, greater, total, nil
}

// --- rollback.Inverter --------------------------------------------------

// Unlink removes a file created within an aborted transaction. brtkv
// creates exactly one file per Tree (opened up front by the root
// facade), so an fcreate undo here is a no-op: the facade owns deleting
// the file if Open itself is what gets rolled back.
func (t *Tree) Unlink(path string) error { return nil }

// ClearLeafSlot removes the leaf entry an aborted insert added. The entry
// is found by key; position is not used.
func (t *Tree) ClearLeafSlot(file int, offset node.Offset, position int, key, value []byte) error {
	p, err := t.pin(offset)
	if err != nil {
		return err
	}
	defer t.unpin(p, true)
	if !p.isLeaf() {
		return errors.New("engine: rollback target is not a leaf")
	}
	for _, e := range p.leaf.Entries() {
		if bytes.Equal(e.Key, key) {
			return p.leaf.DeleteBoth(key, mustOpen(p.leaf, e.Value))
		}
	}
	return nil
}

// ReinsertViaTree restores a (key, value) pair removed by an aborted
// delete_point/delete_both, via the ordinary insert path (spec §4.6: the
// pair may land at a different position than it originally held).
func (t *Tree) ReinsertViaTree(txn node.TxnID, key, value []byte) error {
	return t.applyMessage(0, node.Message{Type: node.Insert, Key: key, Value: value})
}

func mustOpen(s *leafstore.Store, sealed []byte) []byte {
	v, err := s.Unseal(sealed)
	if err != nil {
		return sealed
	}
	return v
}
