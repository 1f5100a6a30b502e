package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/cachetable"
	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/internal/rollback"
	"github.com/coreframe/brtkv/internal/wal"
)

func openTestTree(t *testing.T, dup node.Dup, nodeSize uint32) *Tree {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	tree, err := Open(filepath.Join(dir, "tree.brt"), Options{
		NodeSize: nodeSize,
		Dup:      dup,
		KeyCmp:   bytes.Compare,
		ValCmp:   bytes.Compare,
		Cache:    cachetable.New(0, nil),
		WAL:      w,
		Rollback: rollback.NewManager(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { tree.Close() })
	return tree
}

func key(i int) []byte { return []byte(fmt.Sprintf("key-%05d", i)) }
func val(i int) []byte { return []byte(fmt.Sprintf("val-%05d", i)) }

func TestSequentialInsertAndKeyrange(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 512)

	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(0, key(i), val(i)))
	}

	less, equal, greater, err := tr.Keyrange(key(150))
	require.NoError(t, err)
	require.EqualValues(t, 1, equal)
	require.EqualValues(t, n-1, less+greater)

	for i := 0; i < n; i++ {
		got, err := tr.Lookup(key(i))
		require.NoError(t, err, "lookup of key %d", i)
		require.Equal(t, val(i), got)
	}
}

// beKey renders i as a big-endian 8-byte key, per the literal scenario
// (sequential insert of 1024 8-byte keys).
func beKey(i int) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return b[:]
}

func TestKeyrangeApproximatesRankOfMidpointKey(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 512)

	const n = 1024
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(0, beKey(i), beKey(i)))
	}

	less, equal, greater, err := tr.Keyrange(beKey(512))
	require.NoError(t, err)
	require.EqualValues(t, 1, equal)
	// The estimate is fanout-weighted rather than exact, but for a
	// uniformly-filled tree it should land close to the true counts
	// (512 less, 511 greater).
	require.InDelta(t, 512, less, 64)
	require.InDelta(t, 511, greater, 64)

	c := tr.NewCursor()
	defer c.Close()
	require.NoError(t, c.First())
	for i := 0; i < n; i++ {
		require.True(t, c.Valid())
		require.Equal(t, beKey(i), c.Key())
		require.NoError(t, c.Next())
	}
	require.False(t, c.Valid())
}

func TestInsertsAndDeletesLeaveConsistentLookups(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 512)

	const n = 400
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(0, key(i), val(i)))
	}
	for i := 0; i < n; i += 2 {
		require.NoError(t, tr.DeletePoint(0, key(i)))
	}

	for i := 0; i < n; i++ {
		got, err := tr.Lookup(key(i))
		if i%2 == 0 {
			require.ErrorIs(t, err, ErrNotFound, "key %d should be deleted", i)
		} else {
			require.NoError(t, err)
			require.Equal(t, val(i), got)
		}
	}
}

func TestDuplicateSortLookupReturnsSmallestValue(t *testing.T) {
	tr := openTestTree(t, node.DupSort, 4096)

	require.NoError(t, tr.Insert(0, []byte("k"), []byte("c")))
	require.NoError(t, tr.Insert(0, []byte("k"), []byte("a")))
	require.NoError(t, tr.Insert(0, []byte("k"), []byte("b")))

	got, err := tr.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got)
}

func TestAbortUndoesInsert(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 4096)

	txn, err := tr.Begin(0)
	require.NoError(t, err)
	require.NoError(t, tr.Insert(txn, []byte("k"), []byte("v")))
	require.NoError(t, tr.Abort(txn))

	_, err = tr.Lookup([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCommitKeepsInsert(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 4096)

	txn, err := tr.Begin(0)
	require.NoError(t, err)
	require.NoError(t, tr.Insert(txn, []byte("k"), []byte("v")))
	require.NoError(t, tr.Commit(txn))

	got, err := tr.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestCursorWalksInOrderBothDirections(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 512)

	const n = 200
	for i := n - 1; i >= 0; i-- { // insert in reverse, tree must still sort.
		require.NoError(t, tr.Insert(0, key(i), val(i)))
	}

	c := tr.NewCursor()
	defer c.Close()
	require.NoError(t, c.First())
	for i := 0; i < n; i++ {
		require.True(t, c.Valid())
		require.Equal(t, key(i), c.Key())
		require.Equal(t, val(i), c.Value())
		require.NoError(t, c.Next())
	}
	require.False(t, c.Valid())

	require.NoError(t, c.Last())
	for i := n - 1; i >= 0; i-- {
		require.True(t, c.Valid())
		require.Equal(t, key(i), c.Key())
		require.NoError(t, c.Prev())
	}
	require.False(t, c.Valid())
}

func TestDeleteBothRemovesExactPairOnly(t *testing.T) {
	tr := openTestTree(t, node.DupUnsort, 4096)

	require.NoError(t, tr.Insert(0, []byte("k"), []byte("v1")))
	require.NoError(t, tr.Insert(0, []byte("k"), []byte("v2")))
	require.NoError(t, tr.DeleteBoth(0, []byte("k"), []byte("v1")))

	got, err := tr.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

// TestCursorSurvivesSplitFromConcurrentInserts is the literal "cursor
// split race" scenario: a cursor seeked to the first key must still walk
// every surviving key, without error or duplicates, across a leaf split
// triggered by inserts made after the cursor was positioned.
func TestCursorSurvivesSplitFromConcurrentInserts(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 200)

	for i := 0; i < 8; i++ {
		require.NoError(t, tr.Insert(0, beKey(i), beKey(i)))
	}

	c := tr.NewCursor()
	defer c.Close()
	require.NoError(t, c.First())
	require.True(t, c.Valid())
	require.Equal(t, beKey(0), c.Key())

	for i := 8; i < 16; i++ {
		require.NoError(t, tr.Insert(0, beKey(i), beKey(i)))
	}

	seen := map[string]bool{string(c.Key()): true}
	for i := 1; i <= 7; i++ {
		require.NoError(t, c.Next())
		require.True(t, c.Valid())
		k := string(c.Key())
		require.False(t, seen[k], "cursor returned duplicate key %q", k)
		seen[k] = true
		require.Equal(t, beKey(i), c.Key())
	}
}

// TestAbortAcrossRootSplitUndoesOnlyTheMessage is the literal
// "abort across a root split" scenario: aborting the transaction that
// triggered a root split must undo the inserted key, but not the split
// itself, which is a structural change outside any transaction's undo
// scope (spec §9).
func TestAbortAcrossRootSplitUndoesOnlyTheMessage(t *testing.T) {
	tr := openTestTree(t, node.DupNone, 200)

	// Fill the root leaf with larger keys, leaving room for exactly one
	// more insert to push it over the split threshold.
	for i := 100; i < 106; i++ {
		require.NoError(t, tr.Insert(0, beKey(i), beKey(i)))
	}

	txn, err := tr.Begin(0)
	require.NoError(t, err)

	k1 := beKey(0) // smaller than every key already present
	require.NoError(t, tr.Insert(txn, k1, k1))

	require.NoError(t, tr.Abort(txn))

	_, err = tr.Lookup(k1)
	require.ErrorIs(t, err, ErrNotFound)

	root := tr.rootOffset()
	require.NotZero(t, root)
	p, err := tr.pin(root)
	require.NoError(t, err)
	defer tr.unpin(p, false)
	require.False(t, p.isLeaf(), "the split that absorbed K1's insert must not be undone")
	require.Len(t, p.internal.Children, 2)
}
