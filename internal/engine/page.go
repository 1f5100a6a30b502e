package engine

import (
	"fmt"

	"github.com/coreframe/brtkv/internal/cachetable"
	"github.com/coreframe/brtkv/internal/fifo"
	"github.com/coreframe/brtkv/internal/leafstore"
	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/internal/serialize"
	"github.com/coreframe/brtkv/internal/wal"
)

// pin loads and pins the node at off, fetching it from disk on a cache
// miss via fetchNode.
func (t *Tree) pin(off node.Offset) (*page, error) {
	key := cachetable.Key{File: t.fileID, Offset: off}
	v, _, err := t.cache.GetAndPin(key, t.flushNode, t.fetchNode, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: pin %d: %w", off, err)
	}
	return v.(*page), nil
}

// unpin releases one pin on p's node, marking it dirty if this call is
// the one that changed its contents.
func (t *Tree) unpin(p *page, dirty bool) error {
	key := cachetable.Key{File: t.fileID, Offset: p.offset}
	return t.cache.Unpin(key, p, dirty, t.approxSize(p))
}

func (t *Tree) fetchNode(ctx any, key cachetable.Key) (any, int, error) {
	block, err := t.readBlockAt(int64(key.Offset))
	if err != nil {
		return nil, 0, fmt.Errorf("engine: read node at %d: %w", key.Offset, err)
	}
	dec, err := serialize.DecodeNode(block)
	if err != nil {
		return nil, 0, err
	}
	if dec.Leaf != nil {
		store := leafstore.FromEntries(dec.Leaf.Dup, dec.Leaf.Salt, t.keyCmp, t.valCmp, t.sealer, dec.Leaf.Entries)
		p := &page{offset: key.Offset, height: 0, leaf: store, diskLSN: dec.Leaf.DiskLSN, logLSN: dec.Leaf.LogLSN}
		return p, t.approxSize(p), nil
	}
	p := &page{offset: key.Offset, height: dec.Internal.Height, internal: dec.Internal}
	return p, t.approxSize(p), nil
}

func (t *Tree) flushNode(ctx any, key cachetable.Key, value any, dirty bool) error {
	if !dirty {
		return nil
	}
	p := value.(*page)
	block := t.encodePage(p)
	if _, err := t.f.WriteAt(block, int64(key.Offset)); err != nil {
		return fmt.Errorf("engine: write node at %d: %w", key.Offset, err)
	}
	return nil
}

func (t *Tree) encodePage(p *page) []byte {
	if p.isLeaf() {
		l := &node.Leaf{
			Entries:   p.leaf.Entries(),
			Dup:       t.dup,
			ByteCount: p.leaf.ByteCount(),
			Salt:      treeSalt,
			LocalFP:   p.leaf.LocalFingerprint(),
			DiskLSN:   p.diskLSN,
			LogLSN:    p.logLSN,
		}
		return serialize.EncodeLeaf(l)
	}
	return serialize.EncodeInternal(p.internal)
}

// approxSize estimates a page's cachetable accounting weight without
// paying for a full serialization round-trip on every pin/unpin.
func (t *Tree) approxSize(p *page) int {
	if p.isLeaf() {
		return p.leaf.ByteCount() + 32
	}
	total := 64
	for _, c := range p.internal.Children {
		total += 24 + c.Buffer.ByteCount()
	}
	return total
}

// newLeaf allocates, logs, and caches a fresh empty leaf node, pinned with
// count 1.
func (t *Tree) newLeaf() (*page, error) {
	off, err := t.allocate()
	if err != nil {
		return nil, err
	}
	store := leafstore.New(t.dup, treeSalt, t.keyCmp, t.valCmp, t.sealer)
	p := &page{offset: off, height: 0, leaf: store}

	if t.wal != nil {
		if _, err := t.wal.LogNewBRTNode(wal.NewBRTNode{
			File: wal.FileNum(t.fileID), Offset: off, Height: 0,
			NodeSize: t.header.NodeSize, DupFlag: node.FlagsFromDup(t.dup), Salt: treeSalt,
		}); err != nil {
			return nil, fmt.Errorf("engine: log new leaf: %w", err)
		}
	}
	key := cachetable.Key{File: t.fileID, Offset: off}
	if err := t.cache.Put(key, p, t.approxSize(p), t.flushNode, t.fetchNode, nil); err != nil {
		return nil, fmt.Errorf("engine: cache new leaf: %w", err)
	}
	return p, nil
}

// newInternal allocates, logs, and caches a fresh internal node built from
// already-constructed children/pivots, pinned with count 1.
func (t *Tree) newInternal(height uint32, children []node.ChildSlot, pivots [][]byte) (*page, error) {
	off, err := t.allocate()
	if err != nil {
		return nil, err
	}
	in := &node.Internal{Height: height, Children: children, Pivots: pivots, Salt: treeSalt}
	in.LocalFP = node.RecomputeInternalFingerprint(in)
	p := &page{offset: off, height: height, internal: in}

	if t.wal != nil {
		if _, err := t.wal.LogNewBRTNode(wal.NewBRTNode{
			File: wal.FileNum(t.fileID), Offset: off, Height: height,
			NodeSize: t.header.NodeSize, DupFlag: node.FlagsFromDup(t.dup), Salt: treeSalt,
		}); err != nil {
			return nil, fmt.Errorf("engine: log new internal: %w", err)
		}
	}
	key := cachetable.Key{File: t.fileID, Offset: off}
	if err := t.cache.Put(key, p, t.approxSize(p), t.flushNode, t.fetchNode, nil); err != nil {
		return nil, fmt.Errorf("engine: cache new internal: %w", err)
	}
	return p, nil
}

func newEmptyChildSlot(child node.Offset) node.ChildSlot {
	return node.ChildSlot{Child: child, Buffer: fifo.New()}
}
