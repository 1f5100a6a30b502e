package rollback

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/node"
)

type fakeInverter struct {
	unlinked  []string
	cleared   []string
	reinserts []string
	order     []string
}

func (f *fakeInverter) Unlink(path string) error {
	f.unlinked = append(f.unlinked, path)
	f.order = append(f.order, path)
	return nil
}

func (f *fakeInverter) ClearLeafSlot(file int, offset node.Offset, position int, key, value []byte) error {
	f.cleared = append(f.cleared, string(key))
	f.order = append(f.order, string(key))
	return nil
}

func (f *fakeInverter) ReinsertViaTree(txn node.TxnID, key, value []byte) error {
	f.reinserts = append(f.reinserts, string(key))
	f.order = append(f.order, string(key))
	return nil
}

func TestAbortWalksNewestToOldest(t *testing.T) {
	m := NewManager()
	txn := m.Begin(0)

	require.NoError(t, m.Append(txn, FCreate("/tmp/db.brt")))
	require.NoError(t, m.Append(txn, InsertInLeaf(1, 4096, 0, []byte("a"), []byte("1"))))
	require.NoError(t, m.Append(txn, TLDelete(txn, []byte("b"), []byte("2"), false)))

	inv := &fakeInverter{}
	require.NoError(t, m.Abort(txn, inv))

	// Newest-first: the tl_delete undo (reinsert) fires before the leaf
	// clear, which fires before the fcreate undo (unlink).
	require.Equal(t, []string{"b", "a", "/tmp/db.brt"}, inv.order)
	require.Equal(t, []string{"b"}, inv.reinserts)
	require.Equal(t, []string{"a"}, inv.cleared)
	require.Equal(t, []string{"/tmp/db.brt"}, inv.unlinked)
	require.False(t, m.Active(txn))
}

func TestStructuralRecordsAreNoOpsOnAbort(t *testing.T) {
	m := NewManager()
	txn := m.Begin(0)
	require.NoError(t, m.Append(txn, Structural()))
	require.NoError(t, m.Append(txn, Structural()))

	inv := &fakeInverter{}
	require.NoError(t, m.Abort(txn, inv))
	require.Empty(t, inv.unlinked)
	require.Empty(t, inv.cleared)
	require.Empty(t, inv.reinserts)
}

func TestCommitOfNestedTxnSplicesIntoParent(t *testing.T) {
	m := NewManager()
	parent := m.Begin(0)
	require.NoError(t, m.Append(parent, InsertInLeaf(1, 100, 0, []byte("p"), []byte("1"))))

	child := m.Begin(parent)
	require.NoError(t, m.Append(child, InsertInLeaf(1, 200, 0, []byte("c"), []byte("2"))))
	require.NoError(t, m.Commit(child))
	require.False(t, m.Active(child))

	inv := &fakeInverter{}
	require.NoError(t, m.Abort(parent, inv))
	// Child's undo (nested, started later) fires before parent's own.
	require.Equal(t, []string{"c", "p"}, inv.cleared)
}

func TestCommitOfRootTxnDiscardsUndoRecords(t *testing.T) {
	m := NewManager()
	txn := m.Begin(0)
	require.NoError(t, m.Append(txn, FCreate("/tmp/db.brt")))
	require.NoError(t, m.Commit(txn))
	require.False(t, m.Active(txn))

	// Re-aborting a committed (and now unknown) transaction must error,
	// not silently replay the discarded undo records.
	err := m.Abort(txn, &fakeInverter{})
	require.Error(t, err)
}

func TestAppendToUnknownTxnFails(t *testing.T) {
	m := NewManager()
	err := m.Append(node.TxnID(999), FCreate("/x"))
	require.Error(t, err)
}
