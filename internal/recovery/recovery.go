// Package recovery replays a tree's write-ahead log forward from its
// oldest retained segment, reconstructing the durable parts of each
// file's header and reporting which transactions never reached a commit
// record (spec §4.7). It is grounded on the teacher's LoadLog: the same
// decode-and-dispatch loop that production logging writes, run backward
// through time at startup instead of forward during normal operation.
//
// Every node image this engine writes is a single complete frame (see
// internal/serialize and internal/engine's cachetable flush callback), so
// most of what Replay needs is narrower than a classical ARIES-style
// redo log: rebuilding the header fields a crash could have left stale
// (the allocation watermark and the root directory) and identifying
// transactions to abort.
//
// Leaf content is the one exception. A leaf's node image is only ever
// written to the data file by the cachetable's flush callback (eviction,
// FlushAll, or Close); a crash before any of those can leave a leaf with
// no durably-written copy on disk at all, even though every edit that
// built it was logged. So Replay also rebuilds leaf content
// from NewBRTNode/InsertInLeaf/DeleteInLeaf records, keyed by (file,
// offset), the same way leafstore.Store itself would have built it had
// the edits been applied live. Internal-node buffer/pivot/child redo is
// deliberately not attempted (see DESIGN.md): an internal node's own
// image is comparatively cheap to lose (it holds no leaf data, only
// routing structure) next to the complexity of replaying AddChild/
// SetPivot/BRTEnq/BRTDeq in the right order, so engine.Tree.Open falls
// back to whatever internal-node image is on disk and relies on the
// restored leaves under it.
package recovery

import (
	"bytes"
	"fmt"

	"github.com/coreframe/brtkv/internal/leafstore"
	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/internal/wal"
	"github.com/coreframe/brtkv/pkg/kvlog"
)

// FileState is the reconstructed durable header state for one file, as of
// the end of the replayed log.
type FileState struct {
	UnusedMemory node.Offset
	UnnamedRoot  node.Offset
	SubDBs       []node.SubDBRoot
}

func (fs *FileState) setSubDB(name string, root node.Offset) {
	for i, e := range fs.SubDBs {
		if e.Name == name {
			fs.SubDBs[i].Root = root
			return
		}
	}
	fs.SubDBs = append(fs.SubDBs, node.SubDBRoot{Name: name, Root: root})
}

// leafKey identifies one leaf's node image by the file and offset its
// NewBRTNode/InsertInLeaf/DeleteInLeaf records carry.
type leafKey struct {
	File   wal.FileNum
	Offset node.Offset
}

// Result is everything Replay learned from the log.
type Result struct {
	Files map[wal.FileNum]*FileState

	// Leaves holds every leaf whose content Replay could rebuild from
	// NewBRTNode/InsertInLeaf/DeleteInLeaf records, keyed by the file and
	// offset it was logged under. A leaf whose creating NewBRTNode record
	// fell off the retained log (this implementation never garbage
	// collects segments, so in practice this only happens for leaves
	// created before Replay's earliest segment) is silently absent; the
	// caller falls back to whatever image is already on disk for it.
	Leaves map[leafKey]*leafstore.Store

	// UncommittedTxns lists every transaction that has a BeginTxn record
	// but no matching CommitTxn by the end of the replayed log. The
	// caller is responsible for aborting these against a live tree; a
	// transaction already committed before the crash is never listed
	// here even if its effects were not yet flushed to disk, since the
	// commit record itself is the durability boundary.
	UncommittedTxns []node.TxnID

	// TruncatedAt is the byte offset within the last scanned segment at
	// which scanning stopped: the end of its last well-formed record,
	// whether that is the clean end of the file or the start of a corrupt
	// or partial record. It is -1 only when there were no segments to scan.
	TruncatedAt int64
}

// LeavesForFile returns the leaves Replay rebuilt for file f, keyed by
// their node offset within that file.
func (r *Result) LeavesForFile(f wal.FileNum) map[node.Offset]*leafstore.Store {
	out := make(map[node.Offset]*leafstore.Store)
	for k, v := range r.Leaves {
		if k.File == f {
			out[k.Offset] = v
		}
	}
	return out
}

func (r *Result) fileState(f wal.FileNum) *FileState {
	fs, ok := r.Files[f]
	if !ok {
		fs = &FileState{}
		r.Files[f] = fs
	}
	return fs
}

// Replay scans every WAL segment in dir, oldest first, and returns the
// reconstructed header state per file, the leaves it could rebuild from
// leaf-edit records, and the set of transactions left open at the point
// scanning stopped. sealer must be the same one the tree was opened
// with, since InsertInLeaf/DeleteInLeaf carry plaintext values and the
// rebuilt leafstore.Store reseals them exactly as the live store would
// have on the original write.
func Replay(dir string, sealer leafstore.Sealer) (*Result, error) {
	segments, err := wal.ListSegments(dir)
	if err != nil {
		return nil, fmt.Errorf("recovery: list segments: %w", err)
	}

	res := &Result{
		Files:  make(map[wal.FileNum]*FileState),
		Leaves: make(map[leafKey]*leafstore.Store),
		TruncatedAt: -1,
	}
	open := make(map[node.TxnID]struct{})
	log := kvlog.WithComponent("recovery")

	// ScanSegment's returned offset marks where reading stopped, whether
	// that is a clean end-of-file or a corrupt trailing record; in
	// practice only the most recently written segment can be torn by a
	// crash, so every earlier segment is expected to scan to completion
	// and only the last one's stopping point is reported.
	for _, seg := range segments {
		truncatedAt, err := wal.ScanSegment(seg, func(rec wal.Record) error {
			return res.apply(rec, open, sealer, log)
		})
		if err != nil {
			return nil, fmt.Errorf("recovery: scan %s: %w", seg, err)
		}
		res.TruncatedAt = truncatedAt
	}
	if n := len(segments); n > 0 {
		log.Infof("replayed %d segment(s), last stopped at offset %d", n, res.TruncatedAt)
	}

	for txn := range open {
		res.UncommittedTxns = append(res.UncommittedTxns, txn)
		log.Warnf("transaction %d began but never committed, caller must abort", txn)
	}
	return res, nil
}

func (r *Result) apply(rec wal.Record, open map[node.TxnID]struct{}, sealer leafstore.Sealer, log kvlog.Logger) error {
	payload, err := wal.Decode(rec.Type, rec.Payload)
	if err != nil {
		return fmt.Errorf("recovery: decode %s at lsn %d: %w", rec.Type, rec.LSN, err)
	}
	switch p := payload.(type) {
	case wal.BeginTxn:
		open[p.Txn] = struct{}{}
	case wal.CommitTxn:
		delete(open, p.Txn)
	case wal.ChangeUnusedMemory:
		r.fileState(p.File).UnusedMemory = p.NewWatermark
	case wal.ChangeUnnamedRoot:
		r.fileState(p.File).UnnamedRoot = p.NewRoot
	case wal.ChangeNamedRoot:
		r.fileState(p.File).setSubDB(p.Name, p.NewRoot)

	case wal.NewBRTNode:
		if p.Height != 0 {
			break // internal-node redo is out of scope, see package doc.
		}
		key := leafKey{File: p.File, Offset: p.Offset}
		r.Leaves[key] = leafstore.New(node.DupFromFlags(p.DupFlag), p.Salt, nodeKeyCmp, nodeValCmp, sealer)

	case wal.InsertInLeaf:
		key := leafKey{File: p.File, Offset: p.Offset}
		store, ok := r.Leaves[key]
		if !ok {
			log.Warnf("insert_in_leaf at (%d,%d) with no preceding new_brt_node record, skipped", p.File, p.Offset)
			break
		}
		if _, err := store.InsertOrReplace(p.Key, p.Value); err != nil {
			return fmt.Errorf("recovery: replay insert_in_leaf at (%d,%d): %w", p.File, p.Offset, err)
		}

	case wal.DeleteInLeaf:
		key := leafKey{File: p.File, Offset: p.Offset}
		store, ok := r.Leaves[key]
		if !ok {
			log.Warnf("delete_in_leaf at (%d,%d) with no preceding new_brt_node record, skipped", p.File, p.Offset)
			break
		}
		var delErr error
		if len(p.Value) == 0 {
			_, delErr = store.Delete(p.Key)
		} else {
			delErr = store.DeleteBoth(p.Key, p.Value)
		}
		if delErr != nil && delErr != leafstore.ErrNotFound {
			return fmt.Errorf("recovery: replay delete_in_leaf at (%d,%d): %w", p.File, p.Offset, delErr)
		}
	}
	return nil
}

// nodeKeyCmp/nodeValCmp order entries the same way every leafstore.Store
// in this codebase does; Replay has no access to a tree's own comparator
// (the log never records which one a file was opened with), so it
// assumes the byte-lexicographic default every caller in this repo uses.
func nodeKeyCmp(a, b []byte) int { return bytes.Compare(a, b) }
func nodeValCmp(a, b []byte) int { return bytes.Compare(a, b) }
