// Package cachetable implements the bounded-memory, pinning page cache
// that mediates between the BRT engine and file I/O (spec §4.4). It is a
// generalization of the teacher's lib.Cache: the same LRU-chain-plus-
// flush-callback idea, extended with pin counts, cachefile refcounting
// for multi-file sharing, and OverBudget eviction semantics.
package cachetable

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/coreframe/brtkv/internal/node"
	"github.com/coreframe/brtkv/pkg/kvlog"
	"github.com/coreframe/brtkv/pkg/metrics"
)

// ErrOverBudget is returned by Put/GetAndPin when the cache is at its byte
// limit and every entry is pinned, so nothing can be evicted to make room.
// Spec §7 treats this as fatal for the current operation.
var ErrOverBudget = errors.New("cachetable: over budget, nothing evictable")

// ErrAlreadyPresent is returned by Put when an entry already exists for
// the given key.
var ErrAlreadyPresent = errors.New("cachetable: already present")

// ErrNotInCache is returned by MaybeGetAndPin on a miss.
var ErrNotInCache = errors.New("cachetable: not in cache")

// FileID identifies an open cachefile. Keys are (FileID, node.Offset).
type FileID uint32

// Key is the cachetable's lookup key: a cachefile plus a node offset.
type Key struct {
	File   FileID
	Offset node.Offset
}

// FlushFunc writes a (possibly dirty) cached value back to its file. It is
// called on eviction, on FlushAll, and on Remove(writeOut=true).
type FlushFunc func(ctx any, key Key, value any, dirty bool) error

// FetchFunc reads a value from its file on a cache miss.
type FetchFunc func(ctx any, key Key) (value any, size int, err error)

type entry struct {
	key      Key
	value    any
	size     int
	pin      int
	dirty    bool
	flush    FlushFunc
	fetch    FetchFunc
	ctx      any
	lruElem  *list.Element
	hashNext *entry // chainedTable collision chain
}

// CacheFile is a refcounted handle to one underlying file. Opening the
// same path twice returns the same handle with an incremented refcount
// (spec §4.4 "Multi-file sharing"); Close decrements it.
type CacheFile struct {
	ID   FileID
	Path string
	refs int
}

// CacheTable is a process-wide set of cachefiles and their cached node
// entries, bounded to Limit bytes of payload.
type CacheTable struct {
	mu    sync.Mutex
	limit int
	bytes int

	table *chainedTable
	lru   *list.List // *entry, front = most recently used

	files      map[string]*CacheFile
	nextFileID FileID

	log     zeroLogger
	metrics *metrics.Cachetable
}

// zeroLogger is the minimal surface cachetable needs from kvlog, kept as
// an interface so tests can run without initializing the global logger.
type zeroLogger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// New creates a CacheTable bounded to limitBytes of cached payload. A nil
// metrics collector disables instrumentation.
func New(limitBytes int, m *metrics.Cachetable) *CacheTable {
	return &CacheTable{
		limit:   limitBytes,
		table:   newChainedTable(),
		lru:     list.New(),
		files:   make(map[string]*CacheFile),
		log:     kvlog.WithComponent("cachetable"),
		metrics: m,
	}
}

// OpenFile returns the CacheFile handle for path, creating and assigning
// it a fresh FileID on first open, or incrementing the refcount of an
// already-open handle.
func (c *CacheTable) OpenFile(path string) *CacheFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cf, ok := c.files[path]; ok {
		cf.refs++
		return cf
	}
	c.nextFileID++
	cf := &CacheFile{ID: c.nextFileID, Path: path, refs: 1}
	c.files[path] = cf
	return cf
}

// CloseFile decrements path's refcount and, once it reaches zero, flushes
// and evicts every entry belonging to it (spec §4.4 "flush_all(file) on
// file close").
func (c *CacheTable) CloseFile(cf *CacheFile) error {
	c.mu.Lock()
	cf.refs--
	closeOut := cf.refs <= 0
	if closeOut {
		delete(c.files, cf.Path)
	}
	c.mu.Unlock()
	if closeOut {
		return c.FlushAll(cf.ID)
	}
	return nil
}

// Put inserts a brand-new entry, pinned with count 1.
func (c *CacheTable) Put(key Key, value any, size int, flush FlushFunc, fetch FetchFunc, ctx any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table.get(key) != nil {
		return ErrAlreadyPresent
	}
	if err := c.makeRoom(size); err != nil {
		return err
	}
	e := &entry{key: key, value: value, size: size, pin: 1, dirty: true, flush: flush, fetch: fetch, ctx: ctx}
	e.lruElem = c.lru.PushFront(e)
	c.table.insert(e)
	c.bytes += size
	c.touchMetrics()
	return nil
}

// GetAndPin returns the cached value for key, fetching it from disk via
// fetch on a miss. The pin count is incremented either way.
func (c *CacheTable) GetAndPin(key Key, flush FlushFunc, fetch FetchFunc, ctx any) (any, int, error) {
	c.mu.Lock()
	if e := c.table.get(key); e != nil {
		e.pin++
		c.lru.MoveToFront(e.lruElem)
		v, sz := e.value, e.size
		c.mu.Unlock()
		return v, sz, nil
	}
	c.mu.Unlock()

	value, size, err := fetch(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("cachetable: fetch %+v: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.table.get(key); e != nil {
		// Lost a race with a concurrent fetch of the same key; spec §5
		// treats the engine as single-operation-in-flight, so this is a
		// defensive fallback rather than the expected path.
		e.pin++
		c.lru.MoveToFront(e.lruElem)
		return e.value, e.size, nil
	}
	if err := c.makeRoom(size); err != nil {
		return nil, 0, err
	}
	e := &entry{key: key, value: value, size: size, pin: 1, dirty: false, flush: flush, fetch: fetch, ctx: ctx}
	e.lruElem = c.lru.PushFront(e)
	c.table.insert(e)
	c.bytes += size
	c.touchMetrics()
	return value, size, nil
}

// MaybeGetAndPin is a non-blocking, hit-only lookup: it never calls fetch.
func (c *CacheTable) MaybeGetAndPin(key Key) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.table.get(key)
	if e == nil {
		return nil, ErrNotInCache
	}
	e.pin++
	c.lru.MoveToFront(e.lruElem)
	return e.value, nil
}

// Unpin decrements the pin count, updates the value/size if the caller
// changed it, and marks the entry dirty if this was a dirty write.
func (c *CacheTable) Unpin(key Key, value any, dirty bool, newSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.table.get(key)
	if e == nil {
		return fmt.Errorf("cachetable: unpin of absent key %+v", key)
	}
	if e.pin <= 0 {
		return fmt.Errorf("cachetable: unpin of unpinned key %+v", key)
	}
	e.pin--
	if value != nil {
		e.value = value
	}
	if dirty {
		e.dirty = true
	}
	if newSize > 0 && newSize != e.size {
		c.bytes += newSize - e.size
		e.size = newSize
	}
	return nil
}

// Remove evicts key without going through the LRU walk; if writeOut is
// true and the entry is dirty, it is flushed first.
func (c *CacheTable) Remove(key Key, writeOut bool) error {
	c.mu.Lock()
	e := c.table.get(key)
	if e == nil {
		c.mu.Unlock()
		return nil
	}
	c.table.remove(key)
	c.lru.Remove(e.lruElem)
	c.bytes -= e.size
	c.touchMetrics()
	c.mu.Unlock()

	if writeOut && e.dirty && e.flush != nil {
		return e.flush(e.ctx, key, e.value, true)
	}
	return nil
}

// FlushAll evicts every entry belonging to file, writing dirty ones.
func (c *CacheTable) FlushAll(file FileID) error {
	c.mu.Lock()
	var victims []*entry
	c.table.each(func(e *entry) {
		if e.key.File == file {
			victims = append(victims, e)
		}
	})
	for _, e := range victims {
		c.table.remove(e.key)
		c.lru.Remove(e.lruElem)
		c.bytes -= e.size
	}
	c.touchMetrics()
	c.mu.Unlock()

	for _, e := range victims {
		if e.dirty && e.flush != nil {
			if err := e.flush(e.ctx, e.key, e.value, true); err != nil {
				return fmt.Errorf("cachetable: flush_all %+v: %w", e.key, err)
			}
		}
	}
	return nil
}

// makeRoom evicts least-recently-used unpinned entries until there is
// room for addBytes more, or returns ErrOverBudget if every entry is
// pinned. Must be called with c.mu held.
func (c *CacheTable) makeRoom(addBytes int) error {
	if c.limit <= 0 {
		return nil // unbounded cache
	}
	for c.bytes+addBytes > c.limit {
		victim := c.findEvictable()
		if victim == nil {
			if c.metrics != nil {
				c.metrics.OverBudget.Inc()
			}
			return ErrOverBudget
		}
		c.table.remove(victim.key)
		c.lru.Remove(victim.lruElem)
		c.bytes -= victim.size
		if victim.dirty && victim.flush != nil {
			// Flush happens synchronously and outside any caller lock by
			// design (spec §5: get_and_pin/eviction may block on I/O);
			// here it runs under c.mu because eviction must be atomic
			// with the accounting update it protects. The flush callback
			// itself must not re-enter the cachetable.
			//
			// A flush failure here (fingerprint mismatch, write error) is
			// fatal, not a warning: the dirty node is about to be dropped
			// from the only place that holds it, so spec §7's refuse-to-
			// continue-touching-that-file rule applies. Propagate instead
			// of logging and proceeding as if eviction had succeeded.
			if err := victim.flush(victim.ctx, victim.key, victim.value, true); err != nil {
				return fmt.Errorf("cachetable: flush on evict %+v: %w", victim.key, err)
			}
			c.log.Debugf("cachetable: flushed dirty entry %+v on evict", victim.key)
		}
		if c.metrics != nil {
			c.metrics.Evictions.Inc()
		}
	}
	return nil
}

func (c *CacheTable) findEvictable() *entry {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.pin == 0 {
			return e
		}
	}
	return nil
}

func (c *CacheTable) touchMetrics() {
	if c.metrics == nil {
		return
	}
	c.metrics.Entries.Set(float64(c.table.count))
	c.metrics.Bytes.Set(float64(c.bytes))
}
