// Package serialize encodes and decodes BRT node and header images to and
// from the on-disk block format described in spec §4.1: a 4-byte size
// prefix, a 1-byte type tag, a layout version, the payload, a CRC32
// trailer, and a trailing size word that lets the serializer (and a human
// with a hex dump) sanity-check either end of the block. Blocks are
// variable-length, exactly as long as their contents; they are not padded
// to the node size.
package serialize

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/coreframe/brtkv/internal/fifo"
	"github.com/coreframe/brtkv/internal/node"
)

// FormatError is returned for any integrity or layout violation detected
// on decode: truncated block, size mismatch, CRC mismatch, wrong type
// tag, or a fingerprint that does not match the reconstituted contents.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "brt: format error: " + e.Reason }

func formatErrorf(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

const (
	nodeTypeTag   byte = 0xB7 // "the BRT-node constant" (spec §4.1)
	headerTypeTag byte = 0xEA
	layoutVersion byte = 1
)

var byteOrder = binary.BigEndian

// --- node image -------------------------------------------------------

// EncodeInternal renders an internal node's on-disk image.
func EncodeInternal(n *node.Internal) []byte {
	var body []byte
	body = appendUint32(body, n.Height)
	body = appendUint32(body, 0) // flags, reserved
	body = appendUint32(body, uint32(len(n.Children)))

	for _, c := range n.Children {
		body = appendUint64(body, uint64(c.Child))
		body = appendUint32(body, c.SubtreeFingerprint)
	}
	for _, p := range n.Pivots {
		body = appendBytes(body, p)
	}
	for _, c := range n.Children {
		var msgs []node.Message
		if c.Buffer != nil {
			c.Buffer.Each(func(m node.Message) { msgs = append(msgs, m) })
		}
		body = appendUint32(body, uint32(len(msgs)))
		for _, m := range msgs {
			body = append(body, byte(m.Type))
			body = appendBytes(body, m.Key)
			body = appendNullableBytes(body, m.Value)
			body = appendUint64(body, uint64(m.Txn))
		}
	}
	body = appendUint32(body, n.Salt)
	body = appendUint32(body, n.LocalFP)
	body = appendUint64(body, n.DiskLSN)
	body = appendUint64(body, n.LogLSN)

	return frame(body)
}

// EncodeLeaf renders a leaf node's on-disk image.
func EncodeLeaf(l *node.Leaf) []byte {
	var body []byte
	body = appendUint32(body, 0) // height == 0, kept explicit for symmetry
	body = appendUint32(body, uint32(l.Dup))
	body = appendUint32(body, uint32(len(l.Entries)))

	for _, e := range l.Entries {
		body = appendBytes(body, e.Key)
		body = appendNullableBytes(body, e.Value)
	}
	body = appendUint32(body, l.Salt)
	body = appendUint32(body, l.LocalFP)
	body = appendUint64(body, l.DiskLSN)
	body = appendUint64(body, l.LogLSN)

	return frame(body)
}

// Decoded is the result of decoding a node block: exactly one of Internal
// or Leaf is non-nil.
type Decoded struct {
	Internal *node.Internal
	Leaf     *node.Leaf
}

// DecodeNode validates and decodes a node image produced by EncodeInternal
// or EncodeLeaf. Any framing, CRC, or fingerprint mismatch is reported as
// a *FormatError.
func DecodeNode(block []byte) (*Decoded, error) {
	body, err := unframe(block, nodeTypeTag)
	if err != nil {
		return nil, err
	}
	r := &reader{buf: body}
	height := r.uint32()
	if height > 0 {
		return decodeInternalBody(height, r)
	}
	return decodeLeafBody(r)
}

func decodeInternalBody(height uint32, r *reader) (*Decoded, error) {
	_ = r.uint32() // flags, reserved
	n := uint32ToInt(r.uint32())

	type childHead struct {
		offset node.Offset
		subfp  uint32
	}
	heads := make([]childHead, n)
	for i := range heads {
		heads[i] = childHead{offset: node.Offset(r.uint64()), subfp: r.uint32()}
	}
	pivotCount := 0
	if n > 0 {
		pivotCount = n - 1
	}
	pivots := make([][]byte, pivotCount)
	for i := range pivots {
		pivots[i] = r.bytes()
	}
	children := make([]node.ChildSlot, n)
	for i := range children {
		f := fifo.New()
		count := uint32ToInt(r.uint32())
		for j := 0; j < count; j++ {
			mt := node.MessageType(r.byte())
			key := r.bytes()
			val := r.nullableBytes()
			txn := node.TxnID(r.uint64())
			m := node.Message{Type: mt, Key: key, Value: val, Txn: txn}
			f.Enqueue(m, node.EntrySize(key, val))
		}
		children[i] = node.ChildSlot{Child: heads[i].offset, Buffer: f, SubtreeFingerprint: heads[i].subfp}
	}
	salt := r.uint32()
	localFP := r.uint32()
	diskLSN := r.uint64()
	logLSN := r.uint64()
	if err := r.err; err != nil {
		return nil, formatErrorf("truncated internal node body: %v", err)
	}

	in := &node.Internal{
		Height:   height,
		Children: children,
		Pivots:   pivots,
		Salt:     salt,
		LocalFP:  localFP,
		DiskLSN:  diskLSN,
		LogLSN:   logLSN,
	}
	if got := node.RecomputeInternalFingerprint(in); got != localFP {
		return nil, formatErrorf("internal node fingerprint mismatch: stored=%d recomputed=%d", localFP, got)
	}
	return &Decoded{Internal: in}, nil
}

func decodeLeafBody(r *reader) (*Decoded, error) {
	dup := node.Dup(r.uint32())
	n := uint32ToInt(r.uint32())
	entries := make([]node.LeafEntry, n)
	for i := range entries {
		key := r.bytes()
		val := r.nullableBytes()
		entries[i] = node.LeafEntry{Key: key, Value: val}
	}
	salt := r.uint32()
	localFP := r.uint32()
	diskLSN := r.uint64()
	logLSN := r.uint64()
	if err := r.err; err != nil {
		return nil, formatErrorf("truncated leaf node body: %v", err)
	}

	l := &node.Leaf{Entries: entries, Dup: dup, Salt: salt, LocalFP: localFP, DiskLSN: diskLSN, LogLSN: logLSN}
	for _, e := range entries {
		l.ByteCount += node.EntrySize(e.Key, e.Value)
	}
	if got := node.RecomputeLeafFingerprint(l); got != localFP {
		return nil, formatErrorf("leaf fingerprint mismatch: stored=%d recomputed=%d", localFP, got)
	}
	return &Decoded{Leaf: l}, nil
}

// --- header image -------------------------------------------------------

// EncodeHeader renders the header's fixed-offset-0 image.
func EncodeHeader(h *node.Header) []byte {
	var body []byte
	body = appendUint32(body, h.Flags)
	body = appendUint32(body, h.NodeSize)
	body = appendUint64(body, uint64(h.FreelistHead))
	body = appendUint64(body, uint64(h.UnusedMemory))
	body = appendUint64(body, uint64(h.UnnamedRoot))
	body = appendUint32(body, uint32(len(h.SubDBs)))
	for _, e := range h.SubDBs {
		body = appendBytes(body, []byte(e.Name))
		body = appendUint64(body, uint64(e.Root))
	}
	return frameTagged(body, headerTypeTag)
}

// DecodeHeader validates and decodes a header image.
func DecodeHeader(block []byte) (*node.Header, error) {
	body, err := unframe(block, headerTypeTag)
	if err != nil {
		return nil, err
	}
	r := &reader{buf: body}
	h := &node.Header{}
	h.Flags = r.uint32()
	h.NodeSize = r.uint32()
	h.FreelistHead = node.Offset(r.uint64())
	h.UnusedMemory = node.Offset(r.uint64())
	h.UnnamedRoot = node.Offset(r.uint64())
	n := uint32ToInt(r.uint32())
	h.SubDBs = make([]node.SubDBRoot, n)
	for i := range h.SubDBs {
		name := r.bytes()
		root := node.Offset(r.uint64())
		h.SubDBs[i] = node.SubDBRoot{Name: string(name), Root: root}
	}
	if err := r.err; err != nil {
		return nil, formatErrorf("truncated header: %v", err)
	}
	return h, nil
}

// --- framing -------------------------------------------------------------

// frame wraps body with the node type tag, layout version, CRC32 trailer,
// and size prefix/postfix.
func frame(body []byte) []byte {
	return frameTagged(body, nodeTypeTag)
}

func frameTagged(body []byte, tag byte) []byte {
	payload := make([]byte, 0, len(body)+2)
	payload = append(payload, tag, layoutVersion)
	payload = append(payload, body...)

	crc := crc32.ChecksumIEEE(payload)
	size := uint32(4 + len(payload) + 4 + 4) // prefix + payload + crc + postfix

	out := make([]byte, 0, size)
	out = appendUint32(out, size)
	out = append(out, payload...)
	out = appendUint32(out, crc)
	out = appendUint32(out, size)
	return out
}

// unframe validates the prefix/trailer/CRC/tag and returns the body
// (everything after tag+version, before the CRC trailer).
func unframe(block []byte, wantTag byte) ([]byte, error) {
	if len(block) < 4+2+4+4 {
		return nil, formatErrorf("block too small: %d bytes", len(block))
	}
	size := byteOrder.Uint32(block[0:4])
	if int(size) != len(block) {
		return nil, formatErrorf("size prefix %d does not match block length %d", size, len(block))
	}
	postfix := byteOrder.Uint32(block[len(block)-4:])
	if postfix != size {
		return nil, formatErrorf("size postfix %d does not match prefix %d", postfix, size)
	}
	payload := block[4 : len(block)-8]
	wantCRC := byteOrder.Uint32(block[len(block)-8 : len(block)-4])
	gotCRC := crc32.ChecksumIEEE(payload)
	if gotCRC != wantCRC {
		return nil, formatErrorf("crc mismatch: stored=%d computed=%d", wantCRC, gotCRC)
	}
	if len(payload) < 2 {
		return nil, formatErrorf("payload too small for tag+version")
	}
	if payload[0] != wantTag {
		return nil, formatErrorf("unexpected type tag: got=0x%02x want=0x%02x", payload[0], wantTag)
	}
	// payload[1] is the layout version; a single supported version today.
	if payload[1] != layoutVersion {
		return nil, formatErrorf("unsupported layout version: %d", payload[1])
	}
	return payload[2:], nil
}

// --- little encode/decode helpers ---------------------------------------

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	byteOrder.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	byteOrder.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBytes(b []byte, v []byte) []byte {
	b = appendUint32(b, uint32(len(v)))
	return append(b, v...)
}

// appendNullableBytes encodes a possibly-nil byte slice, using length
// 0xFFFFFFFF as the nil sentinel (distinct from a present empty slice).
func appendNullableBytes(b []byte, v []byte) []byte {
	if v == nil {
		return appendUint32(b, 0xFFFFFFFF)
	}
	return appendBytes(b, v)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = errors.New("unexpected end of buffer")
		return false
	}
	return true
}

func (r *reader) byte() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := byteOrder.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := byteOrder.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes() []byte {
	n := r.uint32()
	if !r.need(uint32ToInt(n)) {
		return nil
	}
	v := append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return v
}

func (r *reader) nullableBytes() []byte {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.need(4)
		return nil
	}
	n := byteOrder.Uint32(r.buf[r.off:])
	if n == 0xFFFFFFFF {
		r.off += 4
		return nil
	}
	return r.bytes2(n)
}

func (r *reader) bytes2(n uint32) []byte {
	r.off += 4
	if !r.need(uint32ToInt(n)) {
		return nil
	}
	v := append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return v
}

func uint32ToInt(v uint32) int { return int(v) }
