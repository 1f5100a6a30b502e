package engine

import "github.com/coreframe/brtkv/internal/node"

// splitLeaf divides an oversize leaf in place: p keeps the left half at
// its existing offset, a freshly allocated leaf takes the right half,
// and the right half's first key becomes the routing pivot (spec §4.2
// "leaf split").
func (t *Tree) splitLeaf(p *page) (*splitResult, error) {
	rp, err := t.newLeaf()
	if err != nil {
		return nil, err
	}
	splitKey := p.leaf.SplitTo(rp.leaf)
	if err := t.unpin(rp, true); err != nil {
		return nil, err
	}
	if t.metrics != nil {
		t.metrics.LeafSplits.Inc()
	}
	return &splitResult{Left: p.offset, Right: rp.offset, Pivot: splitKey, Height: 0}, nil
}

// splitInternal divides an over-fanout internal node in place: p keeps
// the left half of its children/pivots, a freshly allocated internal
// node takes the right half, and the pivot that used to separate them
// becomes the routing pivot one level up (spec §4.2 "internal split").
func (t *Tree) splitInternal(p *page) (*splitResult, error) {
	in := p.internal
	mid := len(in.Children) / 2

	leftChildren := append([]node.ChildSlot(nil), in.Children[:mid]...)
	rightChildren := append([]node.ChildSlot(nil), in.Children[mid:]...)
	leftPivots := append([][]byte(nil), in.Pivots[:mid-1]...)
	rightPivots := append([][]byte(nil), in.Pivots[mid:]...)
	splitPivot := in.Pivots[mid-1]

	in.Children = leftChildren
	in.Pivots = leftPivots
	in.LocalFP = node.RecomputeInternalFingerprint(in)

	rp, err := t.newInternal(in.Height, rightChildren, rightPivots)
	if err != nil {
		return nil, err
	}
	if err := t.unpin(rp, true); err != nil {
		return nil, err
	}
	if t.metrics != nil {
		t.metrics.InternalSplits.Inc()
	}
	return &splitResult{Left: p.offset, Right: rp.offset, Pivot: splitPivot, Height: in.Height}, nil
}
