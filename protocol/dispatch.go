package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/coreframe/brtkv"
)

// payloadReader walks a Packet's payload field by field. Every Dispatch
// handler below reads exactly the fields its command defines and nothing
// more, so a short or malformed payload surfaces as an error rather than
// a panic.
type payloadReader struct {
	buf []byte
}

func (r *payloadReader) txn() (brtkv.Txn, error) {
	if len(r.buf) < 8 {
		return 0, fmt.Errorf("protocol: payload too short for txn id")
	}
	v := binary.BigEndian.Uint64(r.buf[:8])
	r.buf = r.buf[8:]
	return brtkv.Txn(v), nil
}

func (r *payloadReader) cursorID() (uuid.UUID, error) {
	if len(r.buf) < 16 {
		return uuid.Nil, fmt.Errorf("protocol: payload too short for cursor id")
	}
	id, err := uuid.FromBytes(r.buf[:16])
	if err != nil {
		return uuid.Nil, fmt.Errorf("protocol: malformed cursor id: %w", err)
	}
	r.buf = r.buf[16:]
	return id, nil
}

func (r *payloadReader) bytes() ([]byte, error) {
	if len(r.buf) < 4 {
		return nil, fmt.Errorf("protocol: payload too short for length prefix")
	}
	n := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	if uint32(len(r.buf)) < n {
		return nil, fmt.Errorf("protocol: payload too short for %d-byte field", n)
	}
	v := r.buf[:n]
	r.buf = r.buf[n:]
	return v, nil
}

func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putBytes(buf []byte, v []byte) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(v)))
	buf = append(buf, b[:]...)
	return append(buf, v...)
}

// Dispatch runs a single Packet against the Server's database and
// returns the Response to send back. It never returns a Go error
// itself: every failure becomes a StatusError Response so a connection
// handler can always write one Response per Packet.
func (s *Server) Dispatch(p Packet) Response {
	data, status, err := s.dispatch(p)
	if err != nil {
		return Response{CommandID: p.CommandID, Status: StatusError, Data: []byte(err.Error())}
	}
	return Response{CommandID: p.CommandID, Status: status, Data: data}
}

func (s *Server) dispatch(p Packet) ([]byte, StatusCode, error) {
	r := &payloadReader{buf: p.Payload}

	switch p.CommandType {
	case CommandConnect:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		if err := s.HandleClientConnect(id); err != nil {
			return nil, 0, err
		}
		return nil, StatusClientAdded, nil

	case CommandDisconnect:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		if err := s.HandleClientDisconnect(id); err != nil {
			return nil, 0, err
		}
		return nil, StatusClientRemoved, nil

	case CommandInsert:
		txn, err := r.txn()
		if err != nil {
			return nil, 0, err
		}
		key, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		value, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		if err := s.db.Insert(txn, key, value); err != nil {
			return nil, 0, err
		}
		return nil, StatusSuccess, nil

	case CommandDeletePoint:
		txn, err := r.txn()
		if err != nil {
			return nil, 0, err
		}
		key, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		if err := s.db.DeletePoint(txn, key); err != nil {
			return nil, 0, err
		}
		return nil, StatusSuccess, nil

	case CommandDeleteBoth:
		txn, err := r.txn()
		if err != nil {
			return nil, 0, err
		}
		key, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		value, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		if err := s.db.DeleteBoth(txn, key, value); err != nil {
			return nil, 0, err
		}
		return nil, StatusSuccess, nil

	case CommandLookup:
		key, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		value, err := s.db.Lookup(key)
		if err != nil {
			if errors.Is(err, brtkv.ErrNotFound) {
				return nil, StatusNotFound, nil
			}
			return nil, 0, err
		}
		return value, StatusSuccess, nil

	case CommandKeyrange:
		key, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		less, equal, greater, err := s.db.Keyrange(key)
		if err != nil {
			return nil, 0, err
		}
		out := putUint64(nil, less)
		out = putUint64(out, equal)
		out = putUint64(out, greater)
		return out, StatusSuccess, nil

	case CommandBeginTxn:
		parent, err := r.txn()
		if err != nil {
			return nil, 0, err
		}
		txn, err := s.db.Begin(parent)
		if err != nil {
			return nil, 0, err
		}
		return putUint64(nil, uint64(txn)), StatusTxnBegin, nil

	case CommandCommitTxn:
		txn, err := r.txn()
		if err != nil {
			return nil, 0, err
		}
		if err := s.db.Commit(txn); err != nil {
			return nil, 0, err
		}
		return nil, StatusTxnCommit, nil

	case CommandAbortTxn:
		txn, err := r.txn()
		if err != nil {
			return nil, 0, err
		}
		if err := s.db.Abort(txn); err != nil {
			return nil, 0, err
		}
		return nil, StatusTxnAbort, nil

	case CommandCursorOpen:
		id := s.openCursor()
		b, err := id.MarshalBinary()
		if err != nil {
			return nil, 0, err
		}
		return b, StatusCursorOpened, nil

	case CommandCursorClose:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		if err := s.closeCursor(id); err != nil {
			return nil, 0, err
		}
		return nil, StatusCursorClosed, nil

	case CommandCursorSeekFirst, CommandCursorSeekLast, CommandCursorSeekNext, CommandCursorSeekPrev:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		c, err := s.cursor(id)
		if err != nil {
			return nil, 0, err
		}
		var seekErr error
		switch p.CommandType {
		case CommandCursorSeekFirst:
			seekErr = c.SeekFirst()
		case CommandCursorSeekLast:
			seekErr = c.SeekLast()
		case CommandCursorSeekNext:
			seekErr = c.SeekNext()
		case CommandCursorSeekPrev:
			seekErr = c.SeekPrev()
		}
		if seekErr != nil {
			if errors.Is(seekErr, brtkv.ErrNotFound) {
				return nil, StatusNotFound, nil
			}
			return nil, 0, seekErr
		}
		return nil, StatusSuccess, nil

	case CommandCursorSeekKey:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		key, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		c, err := s.cursor(id)
		if err != nil {
			return nil, 0, err
		}
		if err := c.SeekKey(key); err != nil {
			if errors.Is(err, brtkv.ErrNotFound) {
				return nil, StatusNotFound, nil
			}
			return nil, 0, err
		}
		return nil, StatusSuccess, nil

	case CommandCursorSeekBoth:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		key, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		value, err := r.bytes()
		if err != nil {
			return nil, 0, err
		}
		c, err := s.cursor(id)
		if err != nil {
			return nil, 0, err
		}
		if err := c.SeekBoth(key, value); err != nil {
			if errors.Is(err, brtkv.ErrNotFound) {
				return nil, StatusNotFound, nil
			}
			return nil, 0, err
		}
		return nil, StatusSuccess, nil

	case CommandCursorGetCurrent:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		c, err := s.cursor(id)
		if err != nil {
			return nil, 0, err
		}
		key, value, ok := c.GetCurrent()
		if !ok {
			return nil, StatusNotFound, nil
		}
		out := putBytes(nil, key)
		out = putBytes(out, value)
		return out, StatusSuccess, nil

	case CommandCursorDeleteUnder:
		id, err := r.cursorID()
		if err != nil {
			return nil, 0, err
		}
		txn, err := r.txn()
		if err != nil {
			return nil, 0, err
		}
		c, err := s.cursor(id)
		if err != nil {
			return nil, 0, err
		}
		if err := c.DeleteUnder(txn); err != nil {
			return nil, 0, err
		}
		return nil, StatusSuccess, nil

	default:
		return nil, 0, fmt.Errorf("protocol: unknown command type %s", p.CommandType)
	}
}
