package brtkv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/internal/wal"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	dir := t.TempDir()
	opts.WALDir = filepath.Join(dir, "wal")
	db, err := Open(filepath.Join(dir, "data.brt"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertLookupDelete(t *testing.T) {
	db := openTestDB(t, Options{NodeSize: 512})

	require.NoError(t, db.Insert(0, []byte("a"), []byte("1")))
	require.NoError(t, db.Insert(0, []byte("b"), []byte("2")))

	v, err := db.Lookup([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, db.DeletePoint(0, []byte("a")))
	_, err = db.Lookup([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyKeyRejected(t *testing.T) {
	db := openTestDB(t, Options{})
	require.ErrorIs(t, db.Insert(0, nil, []byte("x")), ErrKeyEmpty)
}

func TestTransactionAbortUndoesAcrossFacade(t *testing.T) {
	db := openTestDB(t, Options{})

	txn, err := db.Begin(0)
	require.NoError(t, err)
	require.NoError(t, db.Insert(txn, []byte("k"), []byte("v")))
	require.NoError(t, db.Abort(txn))

	_, err = db.Lookup([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionCommitKeepsValueAcrossFacade(t *testing.T) {
	db := openTestDB(t, Options{})

	txn, err := db.Begin(0)
	require.NoError(t, err)
	require.NoError(t, db.Insert(txn, []byte("k"), []byte("v")))
	require.NoError(t, db.Commit(txn))

	v, err := db.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestCursorSeekBothAndDeleteUnder(t *testing.T) {
	db := openTestDB(t, Options{Dup: node.DupUnsort})

	require.NoError(t, db.Insert(0, []byte("k"), []byte("v1")))
	require.NoError(t, db.Insert(0, []byte("k"), []byte("v2")))

	c := db.NewCursor()
	defer c.Close()
	require.NoError(t, c.SeekBoth([]byte("k"), []byte("v1")))
	key, val, ok := c.GetCurrent()
	require.True(t, ok)
	require.Equal(t, []byte("k"), key)
	require.Equal(t, []byte("v1"), val)

	require.NoError(t, c.DeleteUnder(0))

	v, err := db.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)
}

func TestEncryptedValuesRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	db := openTestDB(t, Options{EncryptionKey: key})

	require.NoError(t, db.Insert(0, []byte("secret"), []byte("plaintext-value")))
	v, err := db.Lookup([]byte("secret"))
	require.NoError(t, err)
	require.Equal(t, []byte("plaintext-value"), v)
}

// TestRecoveryAfterCrashReplaysUnflushedInsert is the literal "recovery
// after crash" scenario: an insert made after the last Sync must still be
// visible after the process is abandoned (simulating a crash by never
// calling Close, so the cachetable's dirty pages are discarded rather
// than flushed) and the database is reopened from the same files.
func TestRecoveryAfterCrashReplaysUnflushedInsert(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.brt")
	walDir := filepath.Join(dir, "wal")

	db1, err := Open(path, Options{WALDir: walDir})
	require.NoError(t, err)

	require.NoError(t, db1.Insert(0, []byte("A"), []byte("1")))
	require.NoError(t, db1.Insert(0, []byte("B"), []byte("2")))
	require.NoError(t, db1.Insert(0, []byte("C"), []byte("3")))
	require.NoError(t, db1.Sync())

	require.NoError(t, db1.Insert(0, []byte("A"), []byte("4")))
	// No Sync and no Close: db1 is simply abandoned here, simulating a
	// crash that discards the cachetable's in-memory pages (none of
	// which were ever flushed to the data file) along with them.

	db2, err := Open(path, Options{WALDir: walDir})
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Lookup([]byte("A"))
	require.NoError(t, err)
	require.Equal(t, []byte("4"), v)

	v, err = db2.Lookup([]byte("B"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)

	v, err = db2.Lookup([]byte("C"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), v)
}

// TestRecoveryAfterCrashWithCorruptTrailingRecordKeepsLastGoodValue is the
// scenario's corrupted-trailing-record variant: if the last WAL record's
// CRC is damaged, replay must stop before it and recover the last value
// that record would have overwritten, not the corrupted one.
func TestRecoveryAfterCrashWithCorruptTrailingRecordKeepsLastGoodValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.brt")
	walDir := filepath.Join(dir, "wal")

	db1, err := Open(path, Options{WALDir: walDir})
	require.NoError(t, err)

	require.NoError(t, db1.Insert(0, []byte("A"), []byte("1")))
	require.NoError(t, db1.Insert(0, []byte("B"), []byte("2")))
	require.NoError(t, db1.Insert(0, []byte("C"), []byte("3")))
	require.NoError(t, db1.Sync())

	require.NoError(t, db1.Insert(0, []byte("A"), []byte("4")))
	require.NoError(t, db1.Sync())

	segs, err := wal.ListSegments(walDir)
	require.NoError(t, err)
	require.NotEmpty(t, segs)
	raw, err := os.ReadFile(segs[len(segs)-1])
	require.NoError(t, err)
	raw[len(raw)-10] ^= 0xFF
	require.NoError(t, os.WriteFile(segs[len(segs)-1], raw, 0o644))

	db2, err := Open(path, Options{WALDir: walDir})
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Lookup([]byte("A"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestReopenAfterCleanCloseRestoresData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.brt")
	walDir := filepath.Join(dir, "wal")

	db, err := Open(path, Options{WALDir: walDir})
	require.NoError(t, err)
	require.NoError(t, db.Insert(0, []byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db2, err := Open(path, Options{WALDir: walDir})
	require.NoError(t, err)
	defer db2.Close()

	v, err := db2.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
