// Package fifo implements the per-child message queue an internal node
// keeps for each of its children: an ordered, append-at-back,
// remove-from-front-only buffer of tagged insert/delete messages.
//
// Spec §9 calls this out explicitly ("FIFO as polymorphic iterator"):
// enqueue, dequeue-front, peek-front, iterate-in-order, byte-count, and
// nothing else. The engine is single-threaded per spec §5, so the FIFO
// itself carries no lock.
package fifo

import "github.com/coreframe/brtkv/internal/node"

type entry struct {
	msg  node.Message
	size int
}

// FIFO is a slice-backed queue: dequeues advance a head index, and Enqueue
// compacts the consumed slots away once they fill half the slice. A slice
// (rather than container/list) keeps the allocation count down to one growable backing
// array per child, and matches the "no random access, front-only removal"
// restriction without the per-element pointer chasing a linked list would
// add.
type FIFO struct {
	entries []entry
	head    int // index of the front entry
	bytes   int
}

// New returns an empty FIFO.
func New() *FIFO {
	return &FIFO{}
}

// Enqueue appends a message to the back of the queue. sz is the caller's
// byte-accounting unit for this message (see node.EntrySize); the FIFO
// tracks it so ByteCount is O(1).
func (f *FIFO) Enqueue(m node.Message, sz int) {
	f.compact()
	f.entries = append(f.entries, entry{msg: m, size: sz})
	f.bytes += sz
}

// DequeueFront removes and returns the message at the front of the queue.
func (f *FIFO) DequeueFront() (node.Message, int, bool) {
	if f.head >= len(f.entries) {
		return node.Message{}, 0, false
	}
	e := f.entries[f.head]
	f.entries[f.head] = entry{}
	f.head++
	f.bytes -= e.size
	return e.msg, e.size, true
}

// PeekFront returns the front message without removing it.
func (f *FIFO) PeekFront() (node.Message, int, bool) {
	if f.head >= len(f.entries) {
		return node.Message{}, 0, false
	}
	e := f.entries[f.head]
	return e.msg, e.size, true
}

// Each visits every buffered message in enqueue order.
func (f *FIFO) Each(fn func(node.Message)) {
	for i := f.head; i < len(f.entries); i++ {
		fn(f.entries[i].msg)
	}
}

// ByteCount returns the total accounted size of all buffered messages.
func (f *FIFO) ByteCount() int { return f.bytes }

// Len returns the number of buffered messages.
func (f *FIFO) Len() int { return len(f.entries) - f.head }

// compact reclaims dequeued slots once they dominate the backing array, so
// a long-lived child slot does not grow without bound across many
// flush/enqueue cycles.
func (f *FIFO) compact() {
	if f.head == 0 {
		return
	}
	if f.head < len(f.entries)/2 {
		return
	}
	n := copy(f.entries, f.entries[f.head:])
	f.entries = f.entries[:n]
	f.head = 0
}

var _ node.FIFO = (*FIFO)(nil)
