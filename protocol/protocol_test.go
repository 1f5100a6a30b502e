package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializePacketRoundTrip(t *testing.T) {
	p := Packet{CommandID: 7, CommandType: CommandInsert, Payload: []byte("hello")}

	raw, err := SerializePacket(p)
	require.NoError(t, err)

	got, err := DeserializePacket(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestSerializeDeserializeResponseRoundTrip(t *testing.T) {
	r := Response{CommandID: 9, Status: StatusSuccess, Data: []byte("value")}

	raw, err := SerializeResponse(r)
	require.NoError(t, err)

	got, err := DeserializeResponse(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestDeserializePacketRejectsOversizedPayload(t *testing.T) {
	SetMaxPayloadSize(4)
	defer SetMaxPayloadSize(10 * 1024 * 1024)

	p := Packet{CommandID: 1, CommandType: CommandLookup, Payload: []byte("too long")}
	raw, err := SerializePacket(p)
	require.NoError(t, err)

	_, err = DeserializePacket(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestCommandTypeString(t *testing.T) {
	require.Equal(t, "Insert", CommandInsert.String())
	require.Equal(t, "CursorSeekBoth", CommandCursorSeekBoth.String())
	require.Equal(t, "Unknown", CommandType(0xFF).String())
}
