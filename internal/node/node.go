// Package node defines the on-disk and in-memory shapes shared by the rest
// of the buffered repository tree: node offsets, the file header, internal
// and leaf nodes, and the tagged messages that travel through a node's
// per-child buffers.
package node

import "fmt"

// Offset is a byte offset into the tree file. It doubles as the cachetable
// key and the persistent identity of a node: offsets never change for the
// life of a node, and updates write back to the same offset.
type Offset uint64

// Dup controls how a leaf store (and the engine above it) treats repeated
// keys. Set once at creation and persisted in the header.
type Dup uint8

const (
	DupNone   Dup = 0 // unique: at most one value per key
	DupUnsort Dup = 1 // duplicate-unsorted: insertion order preserved
	DupSort   Dup = 2 // duplicate-sorted: ordered by the value comparator
)

// Flags bits persisted in the header, per spec §6.
const (
	FlagDup     uint32 = 1 << 0
	FlagDupSort uint32 = 1 << 1
)

// FlagsFromDup renders a Dup mode as persisted header flag bits.
func FlagsFromDup(d Dup) uint32 {
	switch d {
	case DupUnsort:
		return FlagDup
	case DupSort:
		return FlagDup | FlagDupSort
	default:
		return 0
	}
}

// DupFromFlags recovers the Dup mode from persisted header flag bits.
func DupFromFlags(flags uint32) Dup {
	switch {
	case flags&FlagDupSort != 0:
		return DupSort
	case flags&FlagDup != 0:
		return DupUnsort
	default:
		return DupNone
	}
}

// MessageType tags a buffered mutation.
type MessageType uint8

const (
	Insert MessageType = iota
	DeletePoint
	DeleteBoth
)

func (t MessageType) String() string {
	switch t {
	case Insert:
		return "INSERT"
	case DeletePoint:
		return "DELETE_POINT"
	case DeleteBoth:
		return "DELETE_BOTH"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// TxnID identifies the transaction that produced a message, for rollback
// bookkeeping. Zero means "no transaction" (auto-commit).
type TxnID uint64

// Message is a single tagged record queued in a child's FIFO, or applied
// directly to a leaf store.
type Message struct {
	Type  MessageType
	Key   []byte
	Value []byte // nil for DeletePoint
	Txn   TxnID
}

// SubDBRoot names one root in the header's directory of sub-databases.
type SubDBRoot struct {
	Name string
	Root Offset
}

// Header is the single per-file record of tree-wide bookkeeping. It lives
// at file offset 0 and is checksummed like any other block. It is not a
// cachetable entry: the engine holds it as a plain in-memory value and
// writes it back itself.
type Header struct {
	Flags          uint32
	NodeSize       uint32
	FreelistHead   Offset // preserved but never populated; see DESIGN.md
	UnusedMemory   Offset // watermark: next offset handed out by the allocator
	UnnamedRoot    Offset // used when SubDBs is empty
	SubDBs         []SubDBRoot
	Dirty          bool
}

// RootFor resolves the root offset for a named sub-database, or the single
// unnamed root when name is empty and no SubDBs directory exists.
func (h *Header) RootFor(name string) (Offset, bool) {
	if name == "" && len(h.SubDBs) == 0 {
		return h.UnnamedRoot, h.UnnamedRoot != 0
	}
	for _, e := range h.SubDBs {
		if e.Name == name {
			return e.Root, e.Root != 0
		}
	}
	return 0, false
}

// SetRootFor installs a new root offset for a named sub-database, or the
// unnamed root when name is empty and no directory has been established.
func (h *Header) SetRootFor(name string, root Offset) {
	if name == "" && len(h.SubDBs) == 0 {
		h.UnnamedRoot = root
		return
	}
	for i, e := range h.SubDBs {
		if e.Name == name {
			h.SubDBs[i].Root = root
			return
		}
	}
	h.SubDBs = append(h.SubDBs, SubDBRoot{Name: name, Root: root})
}

// FIFO is the minimal interface a per-child message buffer must satisfy:
// enqueue, dequeue-front, peek-front, iterate-in-order, byte-count. No
// random access; no removal except from the front during flush. Defined
// here (rather than imported from internal/fifo) so that node.go has no
// dependency cycle with the package that implements it.
type FIFO interface {
	Enqueue(m Message, sz int)
	DequeueFront() (Message, int, bool)
	PeekFront() (Message, int, bool)
	Each(func(Message))
	ByteCount() int
	Len() int
}

// ChildSlot is everything an internal node keeps per child: the subtree
// pointer, its buffered messages, and the integrity bookkeeping that lets
// the engine recompute fingerprints incrementally.
type ChildSlot struct {
	Child              Offset
	Buffer             FIFO
	SubtreeFingerprint uint32
}

// Internal is a height>0 node: N children, N-1 pivots, and a message FIFO
// per child.
type Internal struct {
	Height    uint32
	Children  []ChildSlot
	Pivots    [][]byte // len(Pivots) == len(Children)-1
	Salt      uint32
	LocalFP   uint32 // salt * sum(CRC32(message)) over buffered messages
	Dirty     bool
	DiskLSN   uint64
	LogLSN    uint64
}

// NChildren returns the current fanout of this node.
func (n *Internal) NChildren() int { return len(n.Children) }

// FindChild returns the index of the first child whose pivot is greater
// than key, so a key equal to a pivot routes to the child on its right
// (where a split puts it); the last child is the catch-all. cmp must
// behave like bytes.Compare.
func (n *Internal) FindChild(key []byte, cmp func(a, b []byte) int) int {
	for i, p := range n.Pivots {
		if cmp(key, p) < 0 {
			return i
		}
	}
	return len(n.Children) - 1
}

// ChildRange returns [lo, hi] inclusive child indices whose key range may
// contain key, used for DELETE_POINT under duplicate-sort mode. Without
// duplicate-sort, this always collapses to a single index (FindChild).
//
// Under DupSort, a run of same-key duplicates is supposed to stay together
// on one side of a split, but leafstore.Store.SplitTo's overflow fallback
// can leave a few stranded on the other side when a single key's
// duplicates fill an entire leaf. So when key lands exactly on the pivot
// separating two children, both are reported: the caller must apply the
// DELETE_POINT to each.
func (n *Internal) ChildRange(key []byte, cmp func(a, b []byte) int, dup Dup) (int, int) {
	i := n.FindChild(key, cmp)
	if dup != DupSort || i == 0 || cmp(key, n.Pivots[i-1]) != 0 {
		return i, i
	}
	return i - 1, i
}

// LeafEntry is one stored pair in a leaf's ordered store.
type LeafEntry struct {
	Key   []byte
	Value []byte
}

// Leaf is a height==0 node: a sorted key/value store plus integrity and
// durability bookkeeping shared with Internal.
type Leaf struct {
	Entries   []LeafEntry
	Dup       Dup
	ByteCount int
	Salt      uint32
	LocalFP   uint32
	Dirty     bool
	DiskLSN   uint64
	LogLSN    uint64
}

// EntrySize is the accounting unit used against the node-size budget: key
// length + value length + a fixed per-entry overhead for the length
// prefixes the serializer writes.
func EntrySize(key, value []byte) int {
	return len(key) + len(value) + 16
}
