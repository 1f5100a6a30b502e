package recovery

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/internal/wal"
)

func TestReplayReconstructsHeaderAndOpenTxns(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(dir, nil)
	require.NoError(t, err)

	_, err = l.LogChangeUnusedMemory(wal.ChangeUnusedMemory{File: 1, NewWatermark: 4096})
	require.NoError(t, err)
	_, err = l.LogChangeUnnamedRoot(wal.ChangeUnnamedRoot{File: 1, NewRoot: 4096})
	require.NoError(t, err)
	_, err = l.LogChangeUnusedMemory(wal.ChangeUnusedMemory{File: 1, NewWatermark: 8192})
	require.NoError(t, err)

	_, err = l.LogBeginTxn(wal.BeginTxn{Txn: 1})
	require.NoError(t, err)
	_, err = l.LogCommitTxn(wal.CommitTxn{Txn: 1})
	require.NoError(t, err)

	_, err = l.LogBeginTxn(wal.BeginTxn{Txn: 2})
	require.NoError(t, err)
	// txn 2 never commits.

	require.NoError(t, l.Fsync())
	require.NoError(t, l.Close())

	res, err := Replay(dir, nil)
	require.NoError(t, err)

	fs := res.Files[wal.FileNum(1)]
	require.NotNil(t, fs)
	require.Equal(t, node.Offset(8192), fs.UnusedMemory)
	require.Equal(t, node.Offset(4096), fs.UnnamedRoot)

	require.Equal(t, []node.TxnID{2}, res.UncommittedTxns)
}

func TestReplayStopsCleanlyAtCorruptTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	l, err := wal.Open(dir, nil)
	require.NoError(t, err)
	_, err = l.LogChangeUnusedMemory(wal.ChangeUnusedMemory{File: 1, NewWatermark: 100})
	require.NoError(t, err)
	_, err = l.LogChangeUnusedMemory(wal.ChangeUnusedMemory{File: 1, NewWatermark: 200})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	segs, err := wal.ListSegments(dir)
	require.NoError(t, err)
	raw, err := os.ReadFile(segs[0])
	require.NoError(t, err)
	raw[len(raw)-10] ^= 0xFF
	require.NoError(t, os.WriteFile(segs[0], raw, 0o644))

	res, err := Replay(dir, nil)
	require.NoError(t, err)
	fs := res.Files[wal.FileNum(1)]
	require.NotNil(t, fs)
	require.Equal(t, node.Offset(100), fs.UnusedMemory)
}

func TestReplayOfEmptyDirReturnsEmptyResult(t *testing.T) {
	dir := t.TempDir()
	res, err := Replay(dir, nil)
	require.NoError(t, err)
	require.Empty(t, res.Files)
	require.Empty(t, res.UncommittedTxns)
}
