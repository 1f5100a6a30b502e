// Package protocol implements the wire format spoken by a brtkv server:
// a thin, in-scope-only transport, retargeted from the teacher's ad hoc
// Redis-style command set onto the buffered repository tree's own
// operations (point writes, point/exact-pair deletes, lookups,
// transactions, and cursor traversal).
//
// Framing is unchanged from the teacher: a fixed-width header followed
// by a payload, written and read with encoding/binary over BigEndian.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/coreframe/brtkv"
)

// CommandType identifies the operation a Packet requests.
type CommandType byte

const (
	CommandInsert      CommandType = 0x01
	CommandDeletePoint CommandType = 0x02
	CommandDeleteBoth  CommandType = 0x03
	CommandLookup      CommandType = 0x04

	CommandBeginTxn  CommandType = 0x10
	CommandCommitTxn CommandType = 0x11
	CommandAbortTxn  CommandType = 0x12

	CommandCursorOpen        CommandType = 0x20
	CommandCursorSeekFirst   CommandType = 0x21
	CommandCursorSeekLast    CommandType = 0x22
	CommandCursorSeekNext    CommandType = 0x23
	CommandCursorSeekPrev    CommandType = 0x24
	CommandCursorSeekKey     CommandType = 0x25
	CommandCursorSeekBoth    CommandType = 0x26
	CommandCursorGetCurrent  CommandType = 0x27
	CommandCursorDeleteUnder CommandType = 0x28
	CommandCursorClose       CommandType = 0x29

	CommandKeyrange CommandType = 0x30

	CommandConnect    CommandType = 0x40
	CommandDisconnect CommandType = 0x41
)

// StatusCode reports the outcome of a Packet.
type StatusCode uint32

const (
	StatusSuccess       StatusCode = 0x00
	StatusError         StatusCode = 0x01
	StatusTxnBegin      StatusCode = 0x02
	StatusTxnCommit     StatusCode = 0x03
	StatusTxnAbort      StatusCode = 0x04
	StatusClientAdded   StatusCode = 0x05
	StatusClientRemoved StatusCode = 0x06
	StatusCursorOpened  StatusCode = 0x07
	StatusCursorClosed  StatusCode = 0x08
	StatusNotFound      StatusCode = 0x09
)

// Packet represents a protocol packet sent by a client.
type Packet struct {
	CommandID   uint32
	CommandType CommandType
	Payload     []byte
}

// Response represents a reply sent back to a client.
type Response struct {
	CommandID uint32
	Status    StatusCode
	Data      []byte
}

var (
	mu             sync.RWMutex
	maxPayloadSize uint32 = 10 * 1024 * 1024 // Default 10 MB
)

// Server holds the open buffered repository tree a listener dispatches
// Packets against, plus the connected-client and open-cursor tables a
// long-lived connection needs tracked across requests.
type Server struct {
	db *brtkv.DB

	mu      sync.RWMutex
	clients map[uuid.UUID]struct{}
	cursors map[uuid.UUID]*brtkv.Cursor
}

// NewServer opens the data file at path and wires it into a Server
// ready to dispatch Packets.
func NewServer(path string, opts brtkv.Options) (*Server, error) {
	db, err := brtkv.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("protocol: open %s: %w", path, err)
	}
	return &Server{
		db:      db,
		clients: make(map[uuid.UUID]struct{}),
		cursors: make(map[uuid.UUID]*brtkv.Cursor),
	}, nil
}

// Close closes the underlying database.
func (s *Server) Close() error {
	return s.db.Close()
}

// HandleClientConnect registers a newly connected client.
func (s *Server) HandleClientConnect(clientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[clientID] = struct{}{}
	return nil
}

// HandleClientDisconnect forgets a client and closes any cursors it
// left open, since a cursor holds a path down the tree that only makes
// sense for the connection that opened it.
func (s *Server) HandleClientDisconnect(clientID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
	for id, c := range s.cursors {
		c.Close()
		delete(s.cursors, id)
	}
	return nil
}

// openCursor registers a fresh cursor and returns its handle.
func (s *Server) openCursor() uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.cursors[id] = s.db.NewCursor()
	s.mu.Unlock()
	return id
}

// cursor looks up a previously opened cursor by handle.
func (s *Server) cursor(id uuid.UUID) (*brtkv.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cursors[id]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown cursor %s", id)
	}
	return c, nil
}

// closeCursor closes and forgets a cursor handle.
func (s *Server) closeCursor(id uuid.UUID) error {
	s.mu.Lock()
	c, ok := s.cursors[id]
	delete(s.cursors, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("protocol: unknown cursor %s", id)
	}
	return c.Close()
}

// SetMaxPayloadSize sets a new maximum payload size.
func SetMaxPayloadSize(size uint32) {
	mu.Lock()
	defer mu.Unlock()
	maxPayloadSize = size
}

// GetMaxPayloadSize retrieves the current maximum payload size.
func GetMaxPayloadSize() uint32 {
	mu.RLock()
	defer mu.RUnlock()
	return maxPayloadSize
}

// SerializePacket serializes a Packet into bytes.
func SerializePacket(p Packet) ([]byte, error) {
	payloadSize := uint32(len(p.Payload))
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.BigEndian, p.CommandID); err != nil {
		return nil, fmt.Errorf("SerializePacket: failed to write CommandID: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, p.CommandType); err != nil {
		return nil, fmt.Errorf("SerializePacket: failed to write CommandType: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, payloadSize); err != nil {
		return nil, fmt.Errorf("SerializePacket: failed to write PayloadSize: %w", err)
	}
	if _, err := buf.Write(p.Payload); err != nil {
		return nil, fmt.Errorf("SerializePacket: failed to write Payload: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializePacket deserializes bytes read from reader into a Packet.
func DeserializePacket(reader io.Reader) (Packet, error) {
	var p Packet

	if err := binary.Read(reader, binary.BigEndian, &p.CommandID); err != nil {
		return p, fmt.Errorf("DeserializePacket: failed to read CommandID: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &p.CommandType); err != nil {
		return p, fmt.Errorf("DeserializePacket: failed to read CommandType: %w", err)
	}

	var payloadSize uint32
	if err := binary.Read(reader, binary.BigEndian, &payloadSize); err != nil {
		return p, fmt.Errorf("DeserializePacket: failed to read PayloadSize: %w", err)
	}
	if payloadSize > GetMaxPayloadSize() {
		return p, fmt.Errorf("DeserializePacket: payload size %d exceeds maximum allowed %d", payloadSize, GetMaxPayloadSize())
	}

	p.Payload = make([]byte, payloadSize)
	if _, err := io.ReadFull(reader, p.Payload); err != nil {
		return p, fmt.Errorf("DeserializePacket: failed to read Payload: %w", err)
	}

	return p, nil
}

// SerializeResponse serializes a Response into bytes.
func SerializeResponse(r Response) ([]byte, error) {
	dataSize := uint32(len(r.Data))
	buf := new(bytes.Buffer)

	if err := binary.Write(buf, binary.BigEndian, r.CommandID); err != nil {
		return nil, fmt.Errorf("SerializeResponse: failed to write CommandID: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(r.Status)); err != nil {
		return nil, fmt.Errorf("SerializeResponse: failed to write Status: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, dataSize); err != nil {
		return nil, fmt.Errorf("SerializeResponse: failed to write DataSize: %w", err)
	}
	if _, err := buf.Write(r.Data); err != nil {
		return nil, fmt.Errorf("SerializeResponse: failed to write Data: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializeResponse deserializes bytes into a Response.
func DeserializeResponse(reader io.Reader) (Response, error) {
	var r Response

	if err := binary.Read(reader, binary.BigEndian, &r.CommandID); err != nil {
		return r, fmt.Errorf("DeserializeResponse: failed to read CommandID: %w", err)
	}

	var status uint32
	if err := binary.Read(reader, binary.BigEndian, &status); err != nil {
		return r, fmt.Errorf("DeserializeResponse: failed to read Status: %w", err)
	}
	r.Status = StatusCode(status)

	var dataSize uint32
	if err := binary.Read(reader, binary.BigEndian, &dataSize); err != nil {
		return r, fmt.Errorf("DeserializeResponse: failed to read DataSize: %w", err)
	}
	if dataSize > GetMaxPayloadSize() {
		return r, fmt.Errorf("DeserializeResponse: data size %d exceeds maximum allowed %d", dataSize, GetMaxPayloadSize())
	}

	r.Data = make([]byte, dataSize)
	if _, err := io.ReadFull(reader, r.Data); err != nil {
		return r, fmt.Errorf("DeserializeResponse: failed to read Data: %w", err)
	}

	return r, nil
}

func (c CommandType) String() string {
	switch c {
	case CommandInsert:
		return "Insert"
	case CommandDeletePoint:
		return "DeletePoint"
	case CommandDeleteBoth:
		return "DeleteBoth"
	case CommandLookup:
		return "Lookup"
	case CommandBeginTxn:
		return "BeginTxn"
	case CommandCommitTxn:
		return "CommitTxn"
	case CommandAbortTxn:
		return "AbortTxn"
	case CommandCursorOpen:
		return "CursorOpen"
	case CommandCursorSeekFirst:
		return "CursorSeekFirst"
	case CommandCursorSeekLast:
		return "CursorSeekLast"
	case CommandCursorSeekNext:
		return "CursorSeekNext"
	case CommandCursorSeekPrev:
		return "CursorSeekPrev"
	case CommandCursorSeekKey:
		return "CursorSeekKey"
	case CommandCursorSeekBoth:
		return "CursorSeekBoth"
	case CommandCursorGetCurrent:
		return "CursorGetCurrent"
	case CommandCursorDeleteUnder:
		return "CursorDeleteUnder"
	case CommandCursorClose:
		return "CursorClose"
	case CommandKeyrange:
		return "Keyrange"
	case CommandConnect:
		return "Connect"
	case CommandDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

func (s StatusCode) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusError:
		return "Error"
	case StatusTxnBegin:
		return "TxnBegin"
	case StatusTxnCommit:
		return "TxnCommit"
	case StatusTxnAbort:
		return "TxnAbort"
	case StatusClientAdded:
		return "ClientAdded"
	case StatusClientRemoved:
		return "ClientRemoved"
	case StatusCursorOpened:
		return "CursorOpened"
	case StatusCursorClosed:
		return "CursorClosed"
	case StatusNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}
