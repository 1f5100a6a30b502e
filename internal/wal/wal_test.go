package wal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/node"
)

func tempWAL(t *testing.T) *Logger {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	l := tempWAL(t)
	lsn1, err := l.LogBeginTxn(BeginTxn{Txn: 1})
	require.NoError(t, err)
	lsn2, err := l.LogCommitTxn(CommitTxn{Txn: 1})
	require.NoError(t, err)
	require.Equal(t, lsn1+1, lsn2)
	require.Equal(t, lsn2, l.LastLSN())
}

func TestFsyncThenScanReadsBackRecords(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, nil)
	require.NoError(t, err)

	_, err = l.LogBeginTxn(BeginTxn{Txn: 5, Parent: 0})
	require.NoError(t, err)
	_, err = l.LogInsertInLeaf(InsertInLeaf{
		leafEditHeader: leafEditHeader{File: 1, Offset: 4096},
		Position:       0,
		Key:            []byte("k"),
		Value:          []byte("v"),
	})
	require.NoError(t, err)
	_, err = l.LogCommitTxn(CommitTxn{Txn: 5})
	require.NoError(t, err)
	require.NoError(t, l.Fsync())
	require.NoError(t, l.Close())

	segs, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, segs, 1)

	var got []Record
	truncatedAt, err := ScanSegment(segs[0], func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, truncatedAt, int64(0))
	require.Len(t, got, 3)
	require.Equal(t, RecBeginTxn, got[0].Type)
	require.Equal(t, RecInsertInLeaf, got[1].Type)
	require.Equal(t, RecCommitTxn, got[2].Type)

	decoded, err := Decode(got[1].Type, got[1].Payload)
	require.NoError(t, err)
	insert := decoded.(InsertInLeaf)
	require.Equal(t, []byte("k"), insert.Key)
	require.Equal(t, []byte("v"), insert.Value)
	require.Equal(t, node.Offset(4096), insert.Offset)
}

func TestScanStopsAtCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, nil)
	require.NoError(t, err)
	_, err = l.LogBeginTxn(BeginTxn{Txn: 1})
	require.NoError(t, err)
	_, err = l.LogCommitTxn(CommitTxn{Txn: 1})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	segs, err := ListSegments(dir)
	require.NoError(t, err)

	raw, err := os.ReadFile(segs[0])
	require.NoError(t, err)
	// Flip a byte inside the second record's payload region so its CRC
	// check fails; the scan must stop there rather than erroring out.
	raw[len(raw)-10] ^= 0xFF
	require.NoError(t, os.WriteFile(segs[0], raw, 0o644))

	var got []Record
	_, err = ScanSegment(segs[0], func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, RecBeginTxn, got[0].Type)
}

func TestPanicLatchBlocksFurtherAppends(t *testing.T) {
	l := tempWAL(t)
	l.latch(os.ErrClosed)
	_, err := l.LogCommitTxn(CommitTxn{Txn: 1})
	require.Error(t, err)
}

func TestNextSegmentNumberResumesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	l1, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := Open(dir, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), l2.segNum)
	require.NoError(t, l2.Close())
}
