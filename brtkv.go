// Package brtkv is the public facade over the buffered repository tree
// engine: one open file, its write-ahead log, its node cache, and crash
// recovery, wired together the way the teacher's kayveedb.go wires a
// BTree, its Cache, and its log file behind a single constructor. Where
// the teacher exposes one monolithic *BTree with HMAC-keyed node offsets
// and an ad hoc gob log, brtkv splits the same responsibilities across
// internal/engine (tree), internal/wal (log), internal/cachetable (LRU),
// internal/rollback (abort), and internal/recovery (crash restart), and
// this package is only the glue: construct each one, open them in the
// right order, and hand back a DB.
package brtkv

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coreframe/brtkv/internal/cachetable"
	"github.com/coreframe/brtkv/internal/engine"
	"github.com/coreframe/brtkv/internal/leafstore"
	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/internal/recovery"
	"github.com/coreframe/brtkv/internal/rollback"
	"github.com/coreframe/brtkv/internal/serialize"
	"github.com/coreframe/brtkv/internal/wal"
	"github.com/coreframe/brtkv/pkg/kvlog"
	"github.com/coreframe/brtkv/pkg/metrics"
)

// DefaultSubDatabase selects a file's unnamed root, per spec §3.
const DefaultSubDatabase = ""

// Options configures Open. Every field has a zero-value default suitable
// for a quick local database: WALDir defaults to <data file's
// directory>/wal, and a nil Registry simply leaves the metrics
// collectors this Open builds unregistered (they still count, just
// nobody scrapes them), so opening several DBs in one process or in
// tests never panics on a duplicate metric name.
type Options struct {
	NodeSize uint32  // node_size, default 4096 (spec §4.1)
	Dup      node.Dup // duplicate mode, fixed at file creation (spec §4.3)
	SubDB    string   // sub-database name, "" for DefaultSubDatabase

	CacheBudgetBytes int // cachetable byte budget, 0 means unbounded

	WALDir          string // defaults to filepath.Dir(path)+"/wal"
	EncryptionKey   []byte // 32-byte XChaCha20-Poly1305 key, optional
	Registry        *prometheus.Registry // optional; nil skips metrics registration
}

// DB is one open database: a tree file and its write-ahead log. The
// cache and rollback manager Open constructs live only inside the tree
// (engine.Tree owns and closes them as part of its own Close).
type DB struct {
	tree *engine.Tree
	wal  *wal.Logger
	log  kvlog.Logger
}

// Open opens (creating if necessary) the database file at path, replays
// its write-ahead log to reconstruct the durable header state a crash may
// have left stale, and returns a ready DB.
func Open(path string, opts Options) (*DB, error) {
	if opts.WALDir == "" {
		opts.WALDir = filepath.Join(filepath.Dir(path), "wal")
	}
	log := kvlog.WithComponent("brtkv")

	walMetrics := metrics.NewWAL(opts.Registry)
	logger, err := wal.Open(opts.WALDir, walMetrics)
	if err != nil {
		return nil, fmt.Errorf("brtkv: open wal: %w", err)
	}

	sealer, err := newSealer(opts.EncryptionKey)
	if err != nil {
		logger.Close()
		return nil, err
	}
	var leafSealer leafstore.Sealer
	if sealer != nil {
		leafSealer = sealer
	}

	// internal/recovery.Replay must run before the tree touches the file,
	// since its header-restoration decision (RestoreRecoveredHeader)
	// overwrites whatever the tree itself would otherwise read off disk,
	// and RestoreRecoveredLeaves below writes leaf images the tree has
	// never read yet either.
	rec, err := recovery.Replay(opts.WALDir, leafSealer)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("brtkv: replay wal: %w", err)
	}

	cache := cachetable.New(opts.CacheBudgetBytes, metrics.NewCachetable(opts.Registry))
	rb := rollback.NewManager()

	tree, err := engine.Open(path, engine.Options{
		NodeSize: opts.NodeSize,
		Dup:      opts.Dup,
		KeyCmp:   defaultCompare,
		ValCmp:   defaultCompare,
		Sealer:   leafSealer,
		SubDB:    opts.SubDB,
		Cache:    cache,
		WAL:      logger,
		Rollback: rb,
		Metrics:  metrics.NewEngine(opts.Registry),
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("brtkv: open tree: %w", err)
	}

	// The facade opens exactly one file through this CacheTable, so its
	// FileID is deterministically 1 (cachetable.CacheTable.OpenFile's
	// counter starts at 1 and this is the first call against a fresh
	// CacheTable); that is also the wal.FileNum every WAL record for this
	// file was logged under.
	if fs, ok := rec.Files[wal.FileNum(1)]; ok {
		if err := tree.RestoreRecoveredHeader(fs.UnusedMemory, fs.UnnamedRoot, fs.SubDBs); err != nil {
			tree.Close()
			logger.Close()
			return nil, fmt.Errorf("brtkv: restore header: %w", err)
		}
	}
	if leaves := rec.LeavesForFile(wal.FileNum(1)); len(leaves) > 0 {
		if err := tree.RestoreRecoveredLeaves(leaves); err != nil {
			tree.Close()
			logger.Close()
			return nil, fmt.Errorf("brtkv: restore leaves: %w", err)
		}
	}
	for _, txn := range rec.UncommittedTxns {
		// No undo records survive a process restart (internal/rollback is
		// in-memory only, see DESIGN.md): a transaction open at crash time
		// cannot be unwound here. It is reported so an operator can decide
		// whether its partial effects are acceptable for this workload.
		log.Warnf("transaction %d was open at last shutdown and cannot be rolled back automatically", txn)
	}

	return &DB{tree: tree, wal: logger, log: log}, nil
}

func defaultCompare(a, b []byte) int { return bytes.Compare(a, b) }

// Close flushes and closes the tree, the WAL, and every cached node.
func (db *DB) Close() error {
	if err := db.tree.Close(); err != nil {
		db.log.Errorf("close tree: %v", err)
		return translateErr(err)
	}
	if err := db.wal.Close(); err != nil {
		db.log.Errorf("close wal: %v", err)
		return translateErr(err)
	}
	return nil
}

// Insert stores value under key, replacing any existing DupNone value
// (spec §4.2 "insert"). txn is 0 to auto-commit outside a transaction, or
// an id returned by Begin.
func (db *DB) Insert(txn Txn, key, value []byte) error {
	return translateErr(db.tree.Insert(node.TxnID(txn), key, value))
}

// DeletePoint removes every value stored under key (spec §4.2 "delete_point").
func (db *DB) DeletePoint(txn Txn, key []byte) error {
	return translateErr(db.tree.DeletePoint(node.TxnID(txn), key))
}

// DeleteBoth removes exactly the (key, value) pair (spec §4.2 "delete_both").
func (db *DB) DeleteBoth(txn Txn, key, value []byte) error {
	return translateErr(db.tree.DeleteBoth(node.TxnID(txn), key, value))
}

// Lookup returns the value stored under key, or ErrNotFound.
func (db *DB) Lookup(key []byte) ([]byte, error) {
	v, err := db.tree.Lookup(key)
	return v, translateErr(err)
}

// Keyrange returns the approximate number of keys less than, equal to, and
// greater than key (spec §4.2/§6 "keyrange"). An empty database reports
// all three counts as zero.
func (db *DB) Keyrange(key []byte) (less, equal, greater uint64, err error) {
	less, equal, greater, err = db.tree.Keyrange(key)
	return less, equal, greater, translateErr(err)
}

// Sync forces the write-ahead log's buffered records out to their
// segment file and fsyncs it, per spec §5's checkpoint-ordering
// invariant: a node must not be evicted dirty until its log_lsn is
// durable this way. It does not flush node content to the data file
// itself; Close (or eviction) is what makes that durable.
func (db *DB) Sync() error {
	return translateErr(db.wal.Fsync())
}

// translateErr maps errors from internal packages onto this package's
// sentinels so callers only ever need errors.Is against brtkv's own
// error values, never against internal/leafstore.ErrNotFound or
// *serialize.FormatError directly.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var fe *serialize.FormatError
	if errors.As(err, &fe) {
		return fmt.Errorf("%w: %s", ErrFormat, fe)
	}
	if errors.Is(err, leafstore.ErrNotFound) || errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w", ErrNotFound)
	}
	if errors.Is(err, wal.ErrPanicked) {
		return fmt.Errorf("%w", ErrPanicked)
	}
	if errors.Is(err, engine.ErrKeyEmpty) {
		return fmt.Errorf("%w", ErrKeyEmpty)
	}
	return err
}
