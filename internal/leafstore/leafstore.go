// Package leafstore implements the ordered key/value container carried
// inside a height-0 BRT node (spec §4.3). The name "PMA" is historical
// (packed memory array); this implementation keeps entries in a sorted
// Go slice rather than a packed array with gaps, since the BRT splits
// rather than resizes once a leaf is oversize (spec §4.3 "density
// invariants").
package leafstore

import (
	"bytes"
	"errors"
	"sort"

	"github.com/coreframe/brtkv/internal/node"
)

// ErrNotFound is returned by Delete/DeleteBoth/Lookup when the key (or
// key/value pair) is absent.
var ErrNotFound = errors.New("leafstore: not found")

// CompareFunc orders keys the way bytes.Compare does.
type CompareFunc func(a, b []byte) int

// Sealer optionally transforms values before they are accounted and
// fingerprinted, and reverses the transform on read. This is the hook the
// root package uses to carry the teacher's XChaCha20-Poly1305 at-rest
// encryption forward (see DESIGN.md); a nil Sealer stores values as-is.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// InsertOutcome reports whether Insert replaced an existing value or added
// a new one, per spec §4.3.
type InsertOutcome int

const (
	InsertedNew InsertOutcome = iota
	ReplacedOldSize
)

// Store is the ordered key/value container for one leaf node.
type Store struct {
	dup      node.Dup
	keyCmp   CompareFunc
	valCmp   CompareFunc
	sealer   Sealer
	salt     uint32
	entries  []node.LeafEntry
	bytes    int
	localFP  uint32
}

// New creates an empty leaf store. valCmp is only consulted under
// DupSort and may be nil otherwise.
func New(dup node.Dup, salt uint32, keyCmp, valCmp CompareFunc, sealer Sealer) *Store {
	return &Store{dup: dup, keyCmp: keyCmp, valCmp: valCmp, sealer: sealer, salt: salt}
}

// FromEntries rebuilds a store (e.g. after deserialization) from already
// sealed entries, recomputing the byte count and fingerprint.
func FromEntries(dup node.Dup, salt uint32, keyCmp, valCmp CompareFunc, sealer Sealer, entries []node.LeafEntry) *Store {
	s := New(dup, salt, keyCmp, valCmp, sealer)
	s.entries = entries
	s.recompute()
	return s
}

func (s *Store) recompute() {
	s.bytes = 0
	var sum uint32
	for _, e := range s.entries {
		s.bytes += node.EntrySize(e.Key, e.Value)
		sum += node.EntryCRC32(e)
	}
	s.localFP = s.salt * sum
}

// Len reports the number of stored pairs.
func (s *Store) Len() int { return len(s.entries) }

// ByteCount reports the store's contribution to the leaf's size budget.
func (s *Store) ByteCount() int { return s.bytes }

// LocalFingerprint returns salt * sum(CRC32(key,value)) over the store's
// current contents, maintained incrementally by every mutator.
func (s *Store) LocalFingerprint() uint32 { return s.localFP }

// RecomputeFingerprint recomputes from scratch; used by tests and recovery
// to cross-check the incrementally maintained value (spec §8 Round-trip).
func (s *Store) RecomputeFingerprint() uint32 {
	var sum uint32
	for _, e := range s.entries {
		sum += node.EntryCRC32(e)
	}
	return s.salt * sum
}

// Entries exposes the current contents in key order (ascending, and for
// DupSort also ascending by value within a key). Callers must not mutate
// the returned slice.
func (s *Store) Entries() []node.LeafEntry { return s.entries }

func (s *Store) seal(v []byte) ([]byte, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Seal(v)
}

func (s *Store) open(v []byte) ([]byte, error) {
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Open(v)
}

// Unseal reverses Seal on a raw stored value, as returned by Entries. Used
// by the engine when it needs a plaintext value outside the normal
// Lookup path, e.g. to rebuild a rollback undo record from an entry about
// to be deleted.
func (s *Store) Unseal(v []byte) ([]byte, error) { return s.open(v) }

// firstIndexOf returns the smallest index i such that keys[i] >= key
// (sort.Search lower bound).
func (s *Store) firstIndexOf(key []byte) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return s.keyCmp(s.entries[i].Key, key) >= 0
	})
}

// InsertOrReplace stores value under key per the store's duplicate mode:
//   - DupNone: replaces any existing value for key.
//   - DupUnsort: appends a new (key,value) pair after any existing ones
//     for that key, preserving insertion order among duplicates.
//   - DupSort: inserts in value order among entries sharing the key.
//
// The returned InsertOutcome is ReplacedOldSize only under DupNone when an
// existing pair for key was overwritten.
func (s *Store) InsertOrReplace(key, value []byte) (InsertOutcome, error) {
	sealed, err := s.seal(value)
	if err != nil {
		return 0, err
	}
	switch s.dup {
	case node.DupNone:
		i := s.firstIndexOf(key)
		if i < len(s.entries) && s.keyCmp(s.entries[i].Key, key) == 0 {
			old := s.entries[i]
			s.bytes -= node.EntrySize(old.Key, old.Value)
			s.localFP -= s.salt * node.EntryCRC32(old)
			s.entries[i].Value = sealed
			s.bytes += node.EntrySize(key, sealed)
			s.localFP += s.salt * node.EntryCRC32(s.entries[i])
			return ReplacedOldSize, nil
		}
		s.insertAt(i, node.LeafEntry{Key: append([]byte(nil), key...), Value: sealed})
		return InsertedNew, nil

	case node.DupUnsort:
		i := s.lastIndexOfKey(key)
		s.insertAt(i, node.LeafEntry{Key: append([]byte(nil), key...), Value: sealed})
		return InsertedNew, nil

	default: // DupSort
		i := s.sortedInsertIndex(key, sealed)
		s.insertAt(i, node.LeafEntry{Key: append([]byte(nil), key...), Value: sealed})
		return InsertedNew, nil
	}
}

func (s *Store) insertAt(i int, e node.LeafEntry) {
	s.entries = append(s.entries, node.LeafEntry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	s.bytes += node.EntrySize(e.Key, e.Value)
	s.localFP += s.salt * node.EntryCRC32(e)
}

// lastIndexOfKey returns one past the last entry equal to key (i.e. the
// insertion point that appends after existing duplicates).
func (s *Store) lastIndexOfKey(key []byte) int {
	i := s.firstIndexOf(key)
	for i < len(s.entries) && s.keyCmp(s.entries[i].Key, key) == 0 {
		i++
	}
	return i
}

func (s *Store) sortedInsertIndex(key, sealedValue []byte) int {
	lo := s.firstIndexOf(key)
	hi := lo
	for hi < len(s.entries) && s.keyCmp(s.entries[hi].Key, key) == 0 {
		hi++
	}
	i := sort.Search(hi-lo, func(i int) bool {
		return s.valCmp(s.entries[lo+i].Value, sealedValue) >= 0
	})
	return lo + i
}

// Lookup returns the first stored value for key (the smallest value under
// DupSort, per spec §4.2 "lookup"), or ErrNotFound.
func (s *Store) Lookup(key []byte) ([]byte, error) {
	i := s.firstIndexOf(key)
	if i >= len(s.entries) || s.keyCmp(s.entries[i].Key, key) != 0 {
		return nil, ErrNotFound
	}
	return s.open(s.entries[i].Value)
}

// Delete removes every entry for key (DELETE_POINT), returning the total
// removed byte accounting, or ErrNotFound if key was absent.
func (s *Store) Delete(key []byte) (int, error) {
	lo := s.firstIndexOf(key)
	hi := lo
	for hi < len(s.entries) && s.keyCmp(s.entries[hi].Key, key) == 0 {
		hi++
	}
	if lo == hi {
		return 0, ErrNotFound
	}
	removed := 0
	for _, e := range s.entries[lo:hi] {
		removed += node.EntrySize(e.Key, e.Value)
		s.localFP -= s.salt * node.EntryCRC32(e)
	}
	s.entries = append(s.entries[:lo], s.entries[hi:]...)
	s.bytes -= removed
	return removed, nil
}

// DeleteBoth removes exactly the (key,value) pair (DELETE_BOTH), comparing
// the sealed-on-disk representation of value.
func (s *Store) DeleteBoth(key, value []byte) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	lo := s.firstIndexOf(key)
	for i := lo; i < len(s.entries) && s.keyCmp(s.entries[i].Key, key) == 0; i++ {
		if bytes.Equal(s.entries[i].Value, sealed) {
			e := s.entries[i]
			s.bytes -= node.EntrySize(e.Key, e.Value)
			s.localFP -= s.salt * node.EntryCRC32(e)
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// SplitTo partitions this store into two roughly equal halves: the
// receiver keeps the left half, dst (which must be empty) receives the
// right half, and the smallest key of the right half is returned as the
// split key. The split key is the key alone in every duplicate mode,
// including DupSort; no value is returned with it.
//
// A run of duplicate keys is kept intact on one side whenever possible:
// the midpoint is first nudged forward past the end of a run it would
// otherwise cut, or backward to the run's start if it runs off the end of
// the leaf. Only when a single key's duplicates fill the entire leaf is
// there no boundary that avoids cutting the run; in that one case the
// split falls back to the exact midpoint, and a DELETE_POINT landing on
// that key must consult both children (node.Internal.ChildRange exists
// for this).
func (s *Store) SplitTo(dst *Store) []byte {
	mid := len(s.entries) / 2
	orig := mid
	for mid > 0 && mid < len(s.entries) && s.keyCmp(s.entries[mid-1].Key, s.entries[mid].Key) == 0 {
		mid++
	}
	if mid >= len(s.entries) {
		mid = orig
		for mid > 0 && s.keyCmp(s.entries[mid-1].Key, s.entries[mid].Key) == 0 {
			mid--
		}
		if mid == 0 {
			mid = orig
		}
	}
	right := append([]node.LeafEntry(nil), s.entries[mid:]...)
	s.entries = s.entries[:mid]
	s.recompute()

	dst.entries = right
	dst.recompute()

	if len(right) == 0 {
		return nil
	}
	return right[0].Key
}
