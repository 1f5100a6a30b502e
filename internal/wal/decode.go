package wal

import "fmt"

// Decode dispatches a record's type tag and payload to the matching typed
// decoder, returning one of the record structs in records.go. Recovery
// uses this to replay each record against a fresh cachetable.
func Decode(t RecordType, payload []byte) (any, error) {
	switch t {
	case RecBeginTxn:
		return decodeBeginTxn(payload)
	case RecCommitTxn:
		return decodeCommitTxn(payload)
	case RecCheckpoint:
		return decodeCheckpoint(payload)
	case RecFCreate:
		return decodeFCreate(payload)
	case RecFOpen:
		return decodeFOpen(payload)
	case RecFHeader:
		return decodeFHeader(payload)
	case RecNewBRTNode:
		return decodeNewBRTNode(payload)
	case RecAddChild:
		return decodeAddChild(payload)
	case RecDelChild:
		return decodeDelChild(payload)
	case RecSetChild:
		return decodeSetChild(payload)
	case RecSetPivot:
		return decodeSetPivot(payload)
	case RecChangeChildFingerprint:
		return decodeChangeChildFingerprint(payload)
	case RecBRTEnq:
		return decodeBRTEnq(payload)
	case RecBRTDeq:
		return decodeBRTDeq(payload)
	case RecInsertInLeaf:
		return decodeInsertInLeaf(payload)
	case RecDeleteInLeaf:
		return decodeDeleteInLeaf(payload)
	case RecResizePMA:
		return decodeResizePMA(payload)
	case RecPMADistribute:
		return decodePMADistribute(payload)
	case RecChangeUnnamedRoot:
		return decodeChangeUnnamedRoot(payload)
	case RecChangeNamedRoot:
		return decodeChangeNamedRoot(payload)
	case RecChangeUnusedMemory:
		return decodeChangeUnusedMemory(payload)
	default:
		return nil, fmt.Errorf("wal: unknown record type %d", t)
	}
}
