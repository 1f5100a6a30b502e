package brtkv

import "errors"

// Sentinel errors returned by the public API, always tested with
// errors.Is since the engine and its dependencies wrap them with context.
var (
	// ErrNotFound is returned by Lookup for an absent key, by Cursor.SeekKey
	// and Cursor.SeekBoth when nothing matches, and by Cursor.DeleteUnder on
	// an unpositioned cursor. Keyrange on an empty tree returns zero counts,
	// and SeekFirst/SeekLast/SeekNext/SeekPrev that find nothing return nil
	// with the cursor left unpositioned.
	ErrNotFound = errors.New("brtkv: not found")

	// ErrAlreadyPresent is reserved for a future strict-insert mode; the
	// current Insert always replaces (spec §4.2), so nothing returns this
	// yet. Kept as a sentinel so client code can errors.Is-match it
	// without a breaking import change if that mode is added later.
	ErrAlreadyPresent = errors.New("brtkv: key already present")

	// ErrKeyEmpty is returned by any mutating or lookup call given a nil
	// or zero-length key.
	ErrKeyEmpty = errors.New("brtkv: key must not be empty")

	// ErrFormat wraps any on-disk framing/checksum mismatch surfaced by
	// internal/serialize or internal/wal.
	ErrFormat = errors.New("brtkv: format error")

	// ErrOverBudget is returned when the cachetable cannot make room for
	// a new entry because every resident node is pinned.
	ErrOverBudget = errors.New("brtkv: cache over budget")

	// ErrPanicked is returned by every subsequent call once the WAL
	// logger has latched into its panic state after an unrecoverable
	// write failure (spec §4.5).
	ErrPanicked = errors.New("brtkv: logger panicked")

	// ErrInvalidArgument covers malformed caller input that is not
	// specifically an empty key (e.g. a negative cache budget).
	ErrInvalidArgument = errors.New("brtkv: invalid argument")
)
