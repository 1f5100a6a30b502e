package wal

import (
	"github.com/coreframe/brtkv/internal/node"
)

// BeginTxn records the start of a (possibly nested) transaction.
type BeginTxn struct {
	Txn    node.TxnID
	Parent node.TxnID // 0 for a root transaction
}

func (r BeginTxn) encode() []byte {
	b := appendUint64(nil, uint64(r.Txn))
	return appendUint64(b, uint64(r.Parent))
}

func decodeBeginTxn(p []byte) (BeginTxn, error) {
	r := newReader(p)
	txn := r.uint64()
	parent := r.uint64()
	return BeginTxn{Txn: node.TxnID(txn), Parent: node.TxnID(parent)}, r.err()
}

// CommitTxn records a transaction's commit.
type CommitTxn struct{ Txn node.TxnID }

func (r CommitTxn) encode() []byte { return appendUint64(nil, uint64(r.Txn)) }

func decodeCommitTxn(p []byte) (CommitTxn, error) {
	r := newReader(p)
	txn := r.uint64()
	return CommitTxn{Txn: node.TxnID(txn)}, r.err()
}

// Checkpoint marks a point after which all prior node writebacks are
// durable; it carries no payload beyond its LSN.
type Checkpoint struct{}

func (r Checkpoint) encode() []byte { return nil }

func decodeCheckpoint(p []byte) (Checkpoint, error) { return Checkpoint{}, nil }

// FCreate records creation of a new tree file.
type FCreate struct {
	Txn      node.TxnID
	Filename string
	Mode     uint32
}

func (r FCreate) encode() []byte {
	b := appendUint64(nil, uint64(r.Txn))
	b = appendString(b, r.Filename)
	return appendUint32(b, r.Mode)
}

func decodeFCreate(p []byte) (FCreate, error) {
	r := newReader(p)
	txn := r.uint64()
	name := r.string()
	mode := r.uint32()
	return FCreate{Txn: node.TxnID(txn), Filename: name, Mode: mode}, r.err()
}

// FOpen records opening an existing tree file under a logical file number.
type FOpen struct {
	Txn      node.TxnID
	Filename string
	FileNum  FileNum
}

func (r FOpen) encode() []byte {
	b := appendUint64(nil, uint64(r.Txn))
	b = appendString(b, r.Filename)
	return appendUint32(b, uint32(r.FileNum))
}

func decodeFOpen(p []byte) (FOpen, error) {
	r := newReader(p)
	txn := r.uint64()
	name := r.string()
	fn := r.uint32()
	return FOpen{Txn: node.TxnID(txn), Filename: name, FileNum: FileNum(fn)}, r.err()
}

// FHeader records a header image write for a file.
type FHeader struct {
	Txn         node.TxnID
	File        FileNum
	HeaderImage []byte
}

func (r FHeader) encode() []byte {
	b := appendUint64(nil, uint64(r.Txn))
	b = appendUint32(b, uint32(r.File))
	return appendBytes(b, r.HeaderImage)
}

func decodeFHeader(p []byte) (FHeader, error) {
	r := newReader(p)
	txn := r.uint64()
	file := r.uint32()
	img := r.bytes()
	return FHeader{Txn: node.TxnID(txn), File: FileNum(file), HeaderImage: img}, r.err()
}

// NewBRTNode records the allocation of a fresh node.
type NewBRTNode struct {
	File     FileNum
	Offset   node.Offset
	Height   uint32
	NodeSize uint32
	DupFlag  uint32
	Salt     uint32
}

func (r NewBRTNode) encode() []byte {
	b := appendUint32(nil, uint32(r.File))
	b = appendUint64(b, uint64(r.Offset))
	b = appendUint32(b, r.Height)
	b = appendUint32(b, r.NodeSize)
	b = appendUint32(b, r.DupFlag)
	return appendUint32(b, r.Salt)
}

func decodeNewBRTNode(p []byte) (NewBRTNode, error) {
	r := newReader(p)
	file := r.uint32()
	off := r.uint64()
	height := r.uint32()
	nodeSize := r.uint32()
	dup := r.uint32()
	salt := r.uint32()
	return NewBRTNode{FileNum(file), node.Offset(off), height, nodeSize, dup, salt}, r.err()
}

// childEditHeader is the common (file, offset, child-index) prefix shared
// by every internal-node edit record.
type childEditHeader struct {
	File   FileNum
	Offset node.Offset
	Index  int
}

func (h childEditHeader) encode() []byte {
	b := appendUint32(nil, uint32(h.File))
	b = appendUint64(b, uint64(h.Offset))
	return appendUint32(b, uint32(h.Index))
}

func decodeChildEditHeader(r *reader) childEditHeader {
	file := r.uint32()
	off := r.uint64()
	idx := r.uint32()
	return childEditHeader{FileNum(file), node.Offset(off), int(idx)}
}

// AddChild records insertion of a new child slot at Index.
type AddChild struct {
	childEditHeader
	Child node.Offset
}

func (r AddChild) encode() []byte {
	return appendUint64(r.childEditHeader.encode(), uint64(r.Child))
}

func decodeAddChild(p []byte) (AddChild, error) {
	r := newReader(p)
	h := decodeChildEditHeader(r)
	child := r.uint64()
	return AddChild{h, node.Offset(child)}, r.err()
}

// DelChild records removal of the child slot at Index.
type DelChild struct{ childEditHeader }

func (r DelChild) encode() []byte { return r.childEditHeader.encode() }

func decodeDelChild(p []byte) (DelChild, error) {
	r := newReader(p)
	h := decodeChildEditHeader(r)
	return DelChild{h}, r.err()
}

// SetChild records overwriting the child offset at Index.
type SetChild struct {
	childEditHeader
	Child node.Offset
}

func (r SetChild) encode() []byte {
	return appendUint64(r.childEditHeader.encode(), uint64(r.Child))
}

func decodeSetChild(p []byte) (SetChild, error) {
	r := newReader(p)
	h := decodeChildEditHeader(r)
	child := r.uint64()
	return SetChild{h, node.Offset(child)}, r.err()
}

// SetPivot records overwriting the pivot key at Index.
type SetPivot struct {
	childEditHeader
	Pivot []byte
}

func (r SetPivot) encode() []byte {
	return appendBytes(r.childEditHeader.encode(), r.Pivot)
}

func decodeSetPivot(p []byte) (SetPivot, error) {
	r := newReader(p)
	h := decodeChildEditHeader(r)
	pivot := r.bytes()
	return SetPivot{h, pivot}, r.err()
}

// ChangeChildFingerprint records an update to a child's subtree fingerprint.
type ChangeChildFingerprint struct {
	childEditHeader
	OldFP uint32
	NewFP uint32
}

func (r ChangeChildFingerprint) encode() []byte {
	b := r.childEditHeader.encode()
	b = appendUint32(b, r.OldFP)
	return appendUint32(b, r.NewFP)
}

func decodeChangeChildFingerprint(p []byte) (ChangeChildFingerprint, error) {
	r := newReader(p)
	h := decodeChildEditHeader(r)
	oldFP := r.uint32()
	newFP := r.uint32()
	return ChangeChildFingerprint{h, oldFP, newFP}, r.err()
}

// BRTEnq records a message enqueued onto a child's buffer.
type BRTEnq struct {
	childEditHeader
	Msg     node.Message
	MsgSize int
}

func (r BRTEnq) encode() []byte {
	b := r.childEditHeader.encode()
	b = append(b, byte(r.Msg.Type))
	b = appendBytes(b, r.Msg.Key)
	b = appendBytes(b, r.Msg.Value)
	b = appendUint64(b, uint64(r.Msg.Txn))
	return appendUint32(b, uint32(r.MsgSize))
}

func decodeBRTEnq(p []byte) (BRTEnq, error) {
	r := newReader(p)
	h := decodeChildEditHeader(r)
	msgType := node.MessageType(r.byte())
	key := r.bytes()
	value := r.bytes()
	txn := r.uint64()
	size := r.uint32()
	msg := node.Message{Type: msgType, Key: key, Value: value, Txn: node.TxnID(txn)}
	return BRTEnq{h, msg, int(size)}, r.err()
}

// BRTDeq records a message dequeued from the front of a child's buffer.
type BRTDeq struct{ childEditHeader }

func (r BRTDeq) encode() []byte { return r.childEditHeader.encode() }

func decodeBRTDeq(p []byte) (BRTDeq, error) {
	r := newReader(p)
	h := decodeChildEditHeader(r)
	return BRTDeq{h}, r.err()
}

// leafEditHeader is the common (file, offset) prefix for leaf edits.
type leafEditHeader struct {
	File   FileNum
	Offset node.Offset
}

func (h leafEditHeader) encode() []byte {
	b := appendUint32(nil, uint32(h.File))
	return appendUint64(b, uint64(h.Offset))
}

func decodeLeafEditHeader(r *reader) leafEditHeader {
	file := r.uint32()
	off := r.uint64()
	return leafEditHeader{FileNum(file), node.Offset(off)}
}

// InsertInLeaf records an entry inserted at Position in a leaf's store.
type InsertInLeaf struct {
	leafEditHeader
	Position int
	Key      []byte
	Value    []byte
}

func (r InsertInLeaf) encode() []byte {
	b := r.leafEditHeader.encode()
	b = appendUint32(b, uint32(r.Position))
	b = appendBytes(b, r.Key)
	return appendBytes(b, r.Value)
}

func decodeInsertInLeaf(p []byte) (InsertInLeaf, error) {
	r := newReader(p)
	h := decodeLeafEditHeader(r)
	pos := r.uint32()
	key := r.bytes()
	val := r.bytes()
	return InsertInLeaf{h, int(pos), key, val}, r.err()
}

// DeleteInLeaf records an entry removed from Position in a leaf's store.
type DeleteInLeaf struct {
	leafEditHeader
	Position int
	Key      []byte
	Value    []byte
}

func (r DeleteInLeaf) encode() []byte {
	b := r.leafEditHeader.encode()
	b = appendUint32(b, uint32(r.Position))
	b = appendBytes(b, r.Key)
	return appendBytes(b, r.Value)
}

func decodeDeleteInLeaf(p []byte) (DeleteInLeaf, error) {
	r := newReader(p)
	h := decodeLeafEditHeader(r)
	pos := r.uint32()
	key := r.bytes()
	val := r.bytes()
	return DeleteInLeaf{h, int(pos), key, val}, r.err()
}

// ResizePMA records a leaf store's backing array growing or shrinking.
type ResizePMA struct {
	leafEditHeader
	OldSize uint32
	NewSize uint32
}

func (r ResizePMA) encode() []byte {
	b := r.leafEditHeader.encode()
	b = appendUint32(b, r.OldSize)
	return appendUint32(b, r.NewSize)
}

func decodeResizePMA(p []byte) (ResizePMA, error) {
	r := newReader(p)
	h := decodeLeafEditHeader(r)
	oldSize := r.uint32()
	newSize := r.uint32()
	return ResizePMA{h, oldSize, newSize}, r.err()
}

// PMADistribute records entries rebalanced from one leaf offset to another
// during a split (the spec's name for this comes from TokuDB's packed
// memory array; brtkv's leafstore is a plain slice, so this record marks
// the split point rather than an index-pair redistribution table).
type PMADistribute struct {
	File      FileNum
	OldOffset node.Offset
	NewOffset node.Offset
	SplitKey  []byte
}

func (r PMADistribute) encode() []byte {
	b := appendUint32(nil, uint32(r.File))
	b = appendUint64(b, uint64(r.OldOffset))
	b = appendUint64(b, uint64(r.NewOffset))
	return appendBytes(b, r.SplitKey)
}

func decodePMADistribute(p []byte) (PMADistribute, error) {
	r := newReader(p)
	file := r.uint32()
	old := r.uint64()
	nw := r.uint64()
	key := r.bytes()
	return PMADistribute{FileNum(file), node.Offset(old), node.Offset(nw), key}, r.err()
}

// ChangeUnnamedRoot records the header's unnamed-db root offset changing.
type ChangeUnnamedRoot struct {
	File    FileNum
	NewRoot node.Offset
}

func (r ChangeUnnamedRoot) encode() []byte {
	b := appendUint32(nil, uint32(r.File))
	return appendUint64(b, uint64(r.NewRoot))
}

func decodeChangeUnnamedRoot(p []byte) (ChangeUnnamedRoot, error) {
	r := newReader(p)
	file := r.uint32()
	root := r.uint64()
	return ChangeUnnamedRoot{FileNum(file), node.Offset(root)}, r.err()
}

// ChangeNamedRoot records a named sub-database's root offset changing.
type ChangeNamedRoot struct {
	File    FileNum
	Name    string
	NewRoot node.Offset
}

func (r ChangeNamedRoot) encode() []byte {
	b := appendUint32(nil, uint32(r.File))
	b = appendString(b, r.Name)
	return appendUint64(b, uint64(r.NewRoot))
}

func decodeChangeNamedRoot(p []byte) (ChangeNamedRoot, error) {
	r := newReader(p)
	file := r.uint32()
	name := r.string()
	root := r.uint64()
	return ChangeNamedRoot{FileNum(file), name, node.Offset(root)}, r.err()
}

// ChangeUnusedMemory records the header's allocation watermark advancing.
type ChangeUnusedMemory struct {
	File         FileNum
	NewWatermark node.Offset
}

func (r ChangeUnusedMemory) encode() []byte {
	b := appendUint32(nil, uint32(r.File))
	return appendUint64(b, uint64(r.NewWatermark))
}

func decodeChangeUnusedMemory(p []byte) (ChangeUnusedMemory, error) {
	r := newReader(p)
	file := r.uint32()
	wm := r.uint64()
	return ChangeUnusedMemory{FileNum(file), node.Offset(wm)}, r.err()
}
