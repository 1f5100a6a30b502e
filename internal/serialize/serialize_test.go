package serialize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/fifo"
	"github.com/coreframe/brtkv/internal/node"
)

func TestLeafRoundTrip(t *testing.T) {
	l := &node.Leaf{
		Entries: []node.LeafEntry{
			{Key: []byte("a"), Value: []byte("1")},
			{Key: []byte("b"), Value: []byte("2")},
		},
		Dup:    node.DupNone,
		Salt:   12345,
		DiskLSN: 7,
		LogLSN:  9,
	}
	l.LocalFP = node.RecomputeLeafFingerprint(l)
	for _, e := range l.Entries {
		l.ByteCount += node.EntrySize(e.Key, e.Value)
	}

	block := EncodeLeaf(l)
	dec, err := DecodeNode(block)
	require.NoError(t, err)
	require.NotNil(t, dec.Leaf)
	require.Nil(t, dec.Internal)
	require.Equal(t, l.Entries, dec.Leaf.Entries)
	require.Equal(t, l.LocalFP, dec.Leaf.LocalFP)
	require.Equal(t, l.DiskLSN, dec.Leaf.DiskLSN)
	require.Equal(t, l.LogLSN, dec.Leaf.LogLSN)
}

func TestInternalRoundTrip(t *testing.T) {
	f0 := fifo.New()
	f0.Enqueue(node.Message{Type: node.Insert, Key: []byte("k1"), Value: []byte("v1"), Txn: 3}, 20)
	f1 := fifo.New()
	f1.Enqueue(node.Message{Type: node.DeletePoint, Key: []byte("k2")}, 10)

	n := &node.Internal{
		Height: 1,
		Children: []node.ChildSlot{
			{Child: 100, Buffer: f0, SubtreeFingerprint: 42},
			{Child: 200, Buffer: f1, SubtreeFingerprint: 84},
		},
		Pivots: [][]byte{[]byte("m")},
		Salt:   777,
	}
	n.LocalFP = node.RecomputeInternalFingerprint(n)

	block := EncodeInternal(n)
	dec, err := DecodeNode(block)
	require.NoError(t, err)
	require.NotNil(t, dec.Internal)
	require.Equal(t, n.Height, dec.Internal.Height)
	require.Equal(t, n.Pivots, dec.Internal.Pivots)
	require.Equal(t, n.LocalFP, dec.Internal.LocalFP)
	require.Len(t, dec.Internal.Children, 2)
	require.Equal(t, node.Offset(100), dec.Internal.Children[0].Child)

	var gotMsgs []node.Message
	dec.Internal.Children[0].Buffer.Each(func(m node.Message) { gotMsgs = append(gotMsgs, m) })
	require.Len(t, gotMsgs, 1)
	require.Equal(t, []byte("k1"), gotMsgs[0].Key)
	require.Equal(t, node.TxnID(3), gotMsgs[0].Txn)
}

func TestDecodeRejectsCorruptCRC(t *testing.T) {
	l := &node.Leaf{Entries: []node.LeafEntry{{Key: []byte("a"), Value: []byte("1")}}, Salt: 5}
	l.LocalFP = node.RecomputeLeafFingerprint(l)
	block := EncodeLeaf(l)
	block[10] ^= 0xFF // flip a payload byte without touching prefix/trailer framing

	_, err := DecodeNode(block)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	l := &node.Leaf{Salt: 1}
	l.LocalFP = node.RecomputeLeafFingerprint(l)
	block := EncodeLeaf(l)
	truncated := block[:len(block)-1]
	_, err := DecodeNode(truncated)
	require.Error(t, err)
}

func TestDecodeRejectsFingerprintMismatch(t *testing.T) {
	l := &node.Leaf{Entries: []node.LeafEntry{{Key: []byte("a"), Value: []byte("1")}}, Salt: 5}
	l.LocalFP = node.RecomputeLeafFingerprint(l) + 1 // deliberately wrong
	block := EncodeLeaf(l)
	_, err := DecodeNode(block)
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &node.Header{
		Flags:        node.FlagDup,
		NodeSize:     4096,
		FreelistHead: 0,
		UnusedMemory: 8192,
		UnnamedRoot:  4096,
		SubDBs: []node.SubDBRoot{
			{Name: "widgets", Root: 4096},
			{Name: "orders", Root: 8192},
		},
	}
	block := EncodeHeader(h)
	got, err := DecodeHeader(block)
	require.NoError(t, err)
	require.Equal(t, h.Flags, got.Flags)
	require.Equal(t, h.NodeSize, got.NodeSize)
	require.Equal(t, h.UnusedMemory, got.UnusedMemory)
	require.Equal(t, h.SubDBs, got.SubDBs)
}
