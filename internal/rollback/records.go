package rollback

import "github.com/coreframe/brtkv/internal/node"

// Kind tags which inverse handler a Record dispatches to.
type Kind int

const (
	// KindFCreate undoes file creation by unlinking the path.
	KindFCreate Kind = iota
	// KindInsertInLeaf undoes a leaf insert by clearing the slot.
	KindInsertInLeaf
	// KindTLDelete undoes a point/both delete by reinserting via the tree.
	KindTLDelete
	// KindStructural covers newbrtnode/addchild/setpivot/... — no-ops on
	// abort per spec §4.6 (already-durable space layout, not part of the
	// key/value contract).
	KindStructural
)

func (k Kind) String() string {
	switch k {
	case KindFCreate:
		return "fcreate"
	case KindInsertInLeaf:
		return "insertinleaf"
	case KindTLDelete:
		return "tl_delete"
	case KindStructural:
		return "structural"
	default:
		return "unknown"
	}
}

// Record is one undo entry. Only the fields relevant to Kind are set.
type Record struct {
	Kind Kind

	// KindFCreate
	Path string

	// KindInsertInLeaf
	File     int
	Offset   node.Offset
	Position int

	// KindInsertInLeaf and KindTLDelete
	Key   []byte
	Value []byte

	// KindTLDelete: which delete variant produced this undo record. Undo
	// reinserts the pair the same way for both variants.
	WasDeleteBoth bool

	// KindTLDelete: the transaction whose delete produced this record,
	// passed through to Inverter.ReinsertViaTree.
	Txn node.TxnID
}

// FCreate builds a KindFCreate undo record.
func FCreate(path string) Record { return Record{Kind: KindFCreate, Path: path} }

// InsertInLeaf builds a KindInsertInLeaf undo record.
func InsertInLeaf(file int, offset node.Offset, position int, key, value []byte) Record {
	return Record{Kind: KindInsertInLeaf, File: file, Offset: offset, Position: position, Key: key, Value: value}
}

// TLDelete builds a KindTLDelete undo record for a delete_point or
// delete_both that must be undone by reinserting key/value.
func TLDelete(txn node.TxnID, key, value []byte, wasDeleteBoth bool) Record {
	return Record{Kind: KindTLDelete, Txn: txn, Key: key, Value: value, WasDeleteBoth: wasDeleteBoth}
}

// Structural builds a no-op undo record, kept only so the undo list's
// ordering reflects every structural change that occurred (useful for
// debugging/auditing, never dispatched to a real handler).
func Structural() Record { return Record{Kind: KindStructural} }

func (r Record) undo(inv Inverter) error {
	switch r.Kind {
	case KindFCreate:
		return inv.Unlink(r.Path)
	case KindInsertInLeaf:
		return inv.ClearLeafSlot(r.File, r.Offset, r.Position, r.Key, r.Value)
	case KindTLDelete:
		return inv.ReinsertViaTree(r.Txn, r.Key, r.Value)
	case KindStructural:
		return nil
	default:
		return nil
	}
}
