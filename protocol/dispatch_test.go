package protocol

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv"
)

func openTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	s, err := NewServer(filepath.Join(dir, "data.brt"), brtkv.Options{
		WALDir: filepath.Join(dir, "wal"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertPayload(key, value []byte) []byte {
	buf := putUint64(nil, 0)
	buf = putBytes(buf, key)
	buf = putBytes(buf, value)
	return buf
}

func TestDispatchInsertAndLookup(t *testing.T) {
	s := openTestServer(t)

	resp := s.Dispatch(Packet{CommandID: 1, CommandType: CommandInsert, Payload: insertPayload([]byte("k"), []byte("v"))})
	require.Equal(t, StatusSuccess, resp.Status)

	resp = s.Dispatch(Packet{CommandID: 2, CommandType: CommandLookup, Payload: putBytes(nil, []byte("k"))})
	require.Equal(t, StatusSuccess, resp.Status)
	require.Equal(t, []byte("v"), resp.Data)
}

func TestDispatchLookupMissingKeyReturnsNotFound(t *testing.T) {
	s := openTestServer(t)

	resp := s.Dispatch(Packet{CommandID: 3, CommandType: CommandLookup, Payload: putBytes(nil, []byte("missing"))})
	require.Equal(t, StatusNotFound, resp.Status)
}

func TestDispatchTransactionAbort(t *testing.T) {
	s := openTestServer(t)

	begin := s.Dispatch(Packet{CommandID: 4, CommandType: CommandBeginTxn, Payload: putUint64(nil, 0)})
	require.Equal(t, StatusTxnBegin, begin.Status)

	txnPayload := begin.Data
	payload := append(append([]byte{}, txnPayload...), putBytes(nil, []byte("k"))...)
	payload = append(payload, putBytes(nil, []byte("v"))...)

	resp := s.Dispatch(Packet{CommandID: 5, CommandType: CommandInsert, Payload: payload})
	require.Equal(t, StatusSuccess, resp.Status)

	resp = s.Dispatch(Packet{CommandID: 6, CommandType: CommandAbortTxn, Payload: txnPayload})
	require.Equal(t, StatusTxnAbort, resp.Status)

	resp = s.Dispatch(Packet{CommandID: 7, CommandType: CommandLookup, Payload: putBytes(nil, []byte("k"))})
	require.Equal(t, StatusNotFound, resp.Status)
}

func TestDispatchCursorWalk(t *testing.T) {
	s := openTestServer(t)

	require.Equal(t, StatusSuccess, s.Dispatch(Packet{CommandType: CommandInsert, Payload: insertPayload([]byte("a"), []byte("1"))}).Status)
	require.Equal(t, StatusSuccess, s.Dispatch(Packet{CommandType: CommandInsert, Payload: insertPayload([]byte("b"), []byte("2"))}).Status)

	open := s.Dispatch(Packet{CommandType: CommandCursorOpen})
	require.Equal(t, StatusCursorOpened, open.Status)
	cursorID := open.Data

	first := s.Dispatch(Packet{CommandType: CommandCursorSeekFirst, Payload: cursorID})
	require.Equal(t, StatusSuccess, first.Status)

	cur := s.Dispatch(Packet{CommandType: CommandCursorGetCurrent, Payload: cursorID})
	require.Equal(t, StatusSuccess, cur.Status)

	closeResp := s.Dispatch(Packet{CommandType: CommandCursorClose, Payload: cursorID})
	require.Equal(t, StatusCursorClosed, closeResp.Status)
}

func TestDispatchClientConnectDisconnect(t *testing.T) {
	s := openTestServer(t)

	id := uuid.New()
	idBytes, err := id.MarshalBinary()
	require.NoError(t, err)

	resp := s.Dispatch(Packet{CommandType: CommandConnect, Payload: idBytes})
	require.Equal(t, StatusClientAdded, resp.Status)

	resp = s.Dispatch(Packet{CommandType: CommandDisconnect, Payload: idBytes})
	require.Equal(t, StatusClientRemoved, resp.Status)
}
