package cachetable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/node"
)

func noopFlush(ctx any, key Key, value any, dirty bool) error { return nil }

func TestPutGetAndPinUnpinRoundTrip(t *testing.T) {
	ct := New(0, nil)
	k := Key{File: 1, Offset: node.Offset(100)}

	err := ct.Put(k, "leaf-100", 10, noopFlush, nil, nil)
	require.NoError(t, err)

	v, _, err := ct.GetAndPin(k, noopFlush, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "leaf-100", v)

	require.NoError(t, ct.Unpin(k, nil, false, 0))
	require.NoError(t, ct.Unpin(k, nil, false, 0))
}

func TestPutRejectsDuplicateKey(t *testing.T) {
	ct := New(0, nil)
	k := Key{File: 1, Offset: node.Offset(1)}
	require.NoError(t, ct.Put(k, "a", 1, noopFlush, nil, nil))
	err := ct.Put(k, "b", 1, noopFlush, nil, nil)
	require.ErrorIs(t, err, ErrAlreadyPresent)
}

func TestMaybeGetAndPinMissDoesNotFetch(t *testing.T) {
	ct := New(0, nil)
	_, err := ct.MaybeGetAndPin(Key{File: 1, Offset: 1})
	require.ErrorIs(t, err, ErrNotInCache)
}

func TestFetchOnMissCallsFetchFunc(t *testing.T) {
	ct := New(0, nil)
	k := Key{File: 2, Offset: 5}
	fetch := func(ctx any, key Key) (any, int, error) {
		require.Equal(t, k, key)
		return "fetched", 4, nil
	}
	v, sz, err := ct.GetAndPin(k, noopFlush, fetch, nil)
	require.NoError(t, err)
	require.Equal(t, "fetched", v)
	require.Equal(t, 4, sz)

	// Second call is a cache hit and must not call fetch again.
	v2, _, err := ct.GetAndPin(k, noopFlush, func(any, Key) (any, int, error) {
		t.Fatal("fetch should not be called on a hit")
		return nil, 0, nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "fetched", v2)
}

func TestEvictionPicksLeastRecentlyUsedUnpinned(t *testing.T) {
	ct := New(20, nil)
	var flushed []Key
	flush := func(ctx any, key Key, value any, dirty bool) error {
		flushed = append(flushed, key)
		return nil
	}

	k1, k2, k3 := Key{Offset: 1}, Key{Offset: 2}, Key{Offset: 3}
	require.NoError(t, ct.Put(k1, "v1", 10, flush, nil, nil))
	require.NoError(t, ct.Unpin(k1, nil, true, 0))
	require.NoError(t, ct.Put(k2, "v2", 10, flush, nil, nil))
	require.NoError(t, ct.Unpin(k2, nil, true, 0))

	// k1 is now least-recently-used among unpinned entries; inserting k3
	// (10 bytes) pushes total to 30, past the 20-byte budget, and must evict k1.
	require.NoError(t, ct.Put(k3, "v3", 10, flush, nil, nil))

	require.Equal(t, []Key{k1}, flushed)
	_, err := ct.MaybeGetAndPin(k1)
	require.ErrorIs(t, err, ErrNotInCache)
}

func TestOverBudgetWhenEverythingPinned(t *testing.T) {
	ct := New(10, nil)
	k1 := Key{Offset: 1}
	require.NoError(t, ct.Put(k1, "v1", 10, noopFlush, nil, nil)) // pinned, count=1

	err := ct.Put(Key{Offset: 2}, "v2", 10, noopFlush, nil, nil)
	require.ErrorIs(t, err, ErrOverBudget)
}

func TestFlushAllFlushesOnlyMatchingFile(t *testing.T) {
	ct := New(0, nil)
	var flushed []Key
	flush := func(ctx any, key Key, value any, dirty bool) error {
		flushed = append(flushed, key)
		return nil
	}

	kA := Key{File: 1, Offset: 1}
	kB := Key{File: 2, Offset: 1}
	require.NoError(t, ct.Put(kA, "a", 1, flush, nil, nil))
	require.NoError(t, ct.Unpin(kA, nil, true, 0))
	require.NoError(t, ct.Put(kB, "b", 1, flush, nil, nil))
	require.NoError(t, ct.Unpin(kB, nil, true, 0))

	require.NoError(t, ct.FlushAll(1))
	require.Equal(t, []Key{kA}, flushed)

	_, err := ct.MaybeGetAndPin(kA)
	require.ErrorIs(t, err, ErrNotInCache)
	_, err = ct.MaybeGetAndPin(kB)
	require.NoError(t, err)
}

func TestCacheFileRefcounting(t *testing.T) {
	ct := New(0, nil)
	cf1 := ct.OpenFile("/tmp/x.brt")
	cf2 := ct.OpenFile("/tmp/x.brt")
	require.Equal(t, cf1.ID, cf2.ID)

	require.NoError(t, ct.CloseFile(cf1))
	// Still open (refcount 1 remaining); a put under its FileID must not
	// be flushed out by the first close.
	k := Key{File: cf1.ID, Offset: 1}
	require.NoError(t, ct.Put(k, "v", 1, noopFlush, nil, nil))
	require.NoError(t, ct.Unpin(k, nil, false, 0))

	require.NoError(t, ct.CloseFile(cf2))
	_, err := ct.MaybeGetAndPin(k)
	require.ErrorIs(t, err, ErrNotInCache)
}

func TestHashTableGrowsAndShrinks(t *testing.T) {
	tbl := newChainedTable()
	initial := len(tbl.buckets)

	entries := make([]*entry, 0, 64)
	for i := 0; i < 64; i++ {
		e := &entry{key: Key{Offset: node.Offset(i)}}
		entries = append(entries, e)
		tbl.insert(e)
	}
	require.Greater(t, len(tbl.buckets), initial)

	for _, e := range entries {
		tbl.remove(e.key)
	}
	require.Equal(t, primes[0], len(tbl.buckets))
	require.Equal(t, 0, tbl.count)
}
