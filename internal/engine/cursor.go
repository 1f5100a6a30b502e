package engine

import (
	"bytes"

	"github.com/coreframe/brtkv/internal/node"
)

// Cursor walks a Tree's leaves in key order. Rather than holding a pinned
// stack of ancestor nodes across calls (spec §4.2's literal cursor-
// maintenance rules for new-root/leaf-split/non-leaf-split), this cursor
// remembers only the last key it returned and re-descends from the root
// on every step. A concurrent structural change is therefore never
// "stale": each call sees the tree as it is right now. The cost is an
// O(log n) re-descent per step instead of an O(1) sibling hop; see
// DESIGN.md.
type Cursor struct {
	t       *Tree
	lastKey []byte
	lastVal []byte
	valid   bool
}

// NewCursor returns a cursor not yet positioned; call First, Last, or
// SeekKey before reading Key/Value.
func (t *Tree) NewCursor() *Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &Cursor{t: t}
	t.cursors[c] = struct{}{}
	return c
}

// Close releases the cursor. Cursors hold no pins between calls, so this
// is bookkeeping only.
func (c *Cursor) Close() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	delete(c.t.cursors, c)
	return nil
}

// Valid reports whether the cursor is positioned on an entry.
func (c *Cursor) Valid() bool { return c.valid }

// Key returns the current entry's key, or nil if not Valid.
func (c *Cursor) Key() []byte { return c.lastKey }

// Value returns the current entry's value, or nil if not Valid.
func (c *Cursor) Value() []byte { return c.lastVal }

// First positions the cursor on the smallest key in the tree.
func (c *Cursor) First() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.setFrom(c.t.seekFromRoot(nil, true))
}

// Last positions the cursor on the largest key in the tree.
func (c *Cursor) Last() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.setFrom(c.t.seekFromRootBack(nil, true))
}

// SeekKey positions the cursor on the smallest key >= key. If there is no
// such key it leaves the cursor invalid and returns ErrNotFound.
func (c *Cursor) SeekKey(key []byte) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	k, v, found, err := c.t.seekFromRoot(key, true)
	if err := c.setFrom(k, v, found, err); err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Next advances to the smallest key strictly greater than the current one.
func (c *Cursor) Next() error {
	if !c.valid {
		return c.First()
	}
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.setFrom(c.t.seekFromRoot(c.lastKey, false))
}

// Prev retreats to the largest key strictly less than the current one.
func (c *Cursor) Prev() error {
	if !c.valid {
		return c.Last()
	}
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.setFrom(c.t.seekFromRootBack(c.lastKey, false))
}

// SeekBoth positions the cursor on the exact (key, value) pair, for
// duplicate modes where several values share a key. It leaves the cursor
// invalid and returns ErrNotFound if no entry matches both fields exactly.
func (c *Cursor) SeekBoth(key, value []byte) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	k, v, found, err := c.t.seekFromRoot(key, true)
	for found && err == nil && !bytes.Equal(v, value) && c.t.keyCmp(k, key) == 0 {
		k, v, found, err = c.t.seekFromRoot(k, false)
	}
	if found && c.t.keyCmp(k, key) != 0 {
		found = false
	}
	if err := c.setFrom(k, v, found, err); err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// DeleteUnder removes the (key, value) pair the cursor currently sits on,
// within txn, and leaves the cursor invalid: Next/Prev from here would
// need the deleted entry as a bound, so the caller must re-seek.
func (c *Cursor) DeleteUnder(txn node.TxnID) error {
	if !c.valid {
		return ErrNotFound
	}
	key, val := c.lastKey, c.lastVal
	if err := c.t.DeleteBoth(txn, key, val); err != nil {
		return err
	}
	c.valid = false
	return nil
}

func (c *Cursor) setFrom(key, val []byte, found bool, err error) error {
	if err != nil {
		return err
	}
	c.valid = found
	c.lastKey, c.lastVal = key, val
	return nil
}

func (t *Tree) seekFromRoot(bound []byte, inclusive bool) ([]byte, []byte, bool, error) {
	root := t.rootOffset()
	if root == 0 {
		return nil, nil, false, nil
	}
	return t.seekFrom(root, bound, inclusive)
}

func (t *Tree) seekFromRootBack(bound []byte, inclusive bool) ([]byte, []byte, bool, error) {
	root := t.rootOffset()
	if root == 0 {
		return nil, nil, false, nil
	}
	return t.seekFromBack(root, bound, inclusive)
}

// seekFrom finds the smallest (key, value) with key > lowerBound (or >=
// if inclusive), or the smallest overall if lowerBound is nil.
func (t *Tree) seekFrom(off node.Offset, lowerBound []byte, inclusive bool) ([]byte, []byte, bool, error) {
	p, err := t.pin(off)
	if err != nil {
		return nil, nil, false, err
	}
	defer t.unpin(p, false)

	if p.isLeaf() {
		for _, e := range p.leaf.Entries() {
			if lowerBound == nil {
				v, err := p.leaf.Unseal(e.Value)
				return e.Key, v, true, err
			}
			c := t.keyCmp(e.Key, lowerBound)
			if c > 0 || (inclusive && c == 0) {
				v, err := p.leaf.Unseal(e.Value)
				return e.Key, v, true, err
			}
		}
		return nil, nil, false, nil
	}

	idx := 0
	if lowerBound != nil {
		idx = p.internal.FindChild(lowerBound, t.keyCmp)
	}
	for i := idx; i < len(p.internal.Children); i++ {
		bound := lowerBound
		if i != idx {
			bound = nil
		}
		key, val, found, err := t.seekFrom(p.internal.Children[i].Child, bound, inclusive)
		if err != nil {
			return nil, nil, false, err
		}
		if found {
			return key, val, true, nil
		}
	}
	return nil, nil, false, nil
}

// seekFromBack is seekFrom's mirror image: the largest (key, value) with
// key < upperBound (or <= if inclusive), or the largest overall if
// upperBound is nil.
func (t *Tree) seekFromBack(off node.Offset, upperBound []byte, inclusive bool) ([]byte, []byte, bool, error) {
	p, err := t.pin(off)
	if err != nil {
		return nil, nil, false, err
	}
	defer t.unpin(p, false)

	if p.isLeaf() {
		entries := p.leaf.Entries()
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if upperBound == nil {
				v, err := p.leaf.Unseal(e.Value)
				return e.Key, v, true, err
			}
			c := t.keyCmp(e.Key, upperBound)
			if c < 0 || (inclusive && c == 0) {
				v, err := p.leaf.Unseal(e.Value)
				return e.Key, v, true, err
			}
		}
		return nil, nil, false, nil
	}

	idx := len(p.internal.Children) - 1
	if upperBound != nil {
		idx = p.internal.FindChild(upperBound, t.keyCmp)
	}
	for i := idx; i >= 0; i-- {
		bound := upperBound
		if i != idx {
			bound = nil
		}
		key, val, found, err := t.seekFromBack(p.internal.Children[i].Child, bound, inclusive)
		if err != nil {
			return nil, nil, false, err
		}
		if found {
			return key, val, true, nil
		}
	}
	return nil, nil, false, nil
}
