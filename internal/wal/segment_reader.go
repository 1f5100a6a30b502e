package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Record is one decoded-but-not-yet-dispatched WAL entry, as produced by
// scanning a segment file forward.
type Record struct {
	Type    RecordType
	LSN     uint64
	Payload []byte
}

// ListSegments returns the WAL segment paths in dir, sorted by their
// numeric suffix (spec §6: "recovery sorts by decimal").
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: readdir %s: %w", dir, err)
	}
	type numbered struct {
		n    uint64
		path string
	}
	var segs []numbered
	for _, e := range entries {
		var n uint64
		if _, err := fmt.Sscanf(e.Name(), "log%012d.brtwal", &n); err == nil {
			segs = append(segs, numbered{n, filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].n < segs[j].n })
	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}

// ScanSegment reads every well-formed record from path in order, invoking
// fn for each. It stops at the first record whose magic/length/CRC check
// fails and returns truncatedAt, the byte offset where the bad record
// begins, per spec §4.7 step 1 ("on mismatch, truncate at the last valid
// record and stop").
func ScanSegment(path string, fn func(Record) error) (truncatedAt int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, len(segmentMagic)+4)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, fmt.Errorf("wal: read segment header %s: %w", path, err)
	}
	if string(header[:len(segmentMagic)]) != segmentMagic {
		return 0, fmt.Errorf("wal: bad magic in segment %s", path)
	}
	version := binary.BigEndian.Uint32(header[len(segmentMagic):])
	if version != formatVersion {
		return 0, fmt.Errorf("wal: unsupported segment version %d in %s", version, path)
	}

	offset := int64(len(header))
	for {
		rec, consumed, ok, scanErr := readOneRecord(f)
		if scanErr != nil {
			return 0, fmt.Errorf("wal: read segment %s at %d: %w", path, offset, scanErr)
		}
		if !ok {
			return offset, nil
		}
		if err := fn(rec); err != nil {
			return 0, err
		}
		offset += consumed
	}
}

// readOneRecord reads one record from f. ok is false (with no error) at a
// clean EOF or at the first corrupt record, signalling the scan should
// stop without treating it as fatal.
func readOneRecord(f *os.File) (rec Record, consumed int64, ok bool, err error) {
	lenBuf := make([]byte, 4)
	n, readErr := io.ReadFull(f, lenBuf)
	if readErr == io.EOF || (readErr == io.ErrUnexpectedEOF && n == 0) {
		return Record{}, 0, false, nil
	}
	if readErr != nil {
		// A partial header at EOF reads as a torn write from a crash, not
		// a hard error: recovery simply stops here.
		return Record{}, 0, false, nil
	}
	totalLen := binary.BigEndian.Uint32(lenBuf)
	if totalLen < recordHeaderSize+recordTrailerSize {
		return Record{}, 0, false, nil
	}

	rest := make([]byte, totalLen-4)
	if _, err := io.ReadFull(f, rest); err != nil {
		return Record{}, 0, false, nil
	}

	body := append(lenBuf, rest...)
	payloadEnd := len(body) - recordTrailerSize
	crcField := binary.BigEndian.Uint32(body[payloadEnd : payloadEnd+4])
	lenRepeat := binary.BigEndian.Uint32(body[payloadEnd+4:])
	if lenRepeat != totalLen {
		return Record{}, 0, false, nil
	}
	gotCRC := crc32.ChecksumIEEE(body[:payloadEnd])
	if gotCRC != crcField {
		return Record{}, 0, false, nil
	}

	typeTag := RecordType(body[4])
	lsn := binary.BigEndian.Uint64(body[5:13])
	payload := body[13:payloadEnd]

	return Record{Type: typeTag, LSN: lsn, Payload: payload}, int64(totalLen), true, nil
}
