package leafstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreframe/brtkv/internal/node"
)

func TestInsertReplaceLookupUnique(t *testing.T) {
	s := New(node.DupNone, 7, bytes.Compare, bytes.Compare, nil)

	outcome, err := s.InsertOrReplace([]byte("a"), []byte("1"))
	require.NoError(t, err)
	require.Equal(t, InsertedNew, outcome)

	outcome, err = s.InsertOrReplace([]byte("a"), []byte("2"))
	require.NoError(t, err)
	require.Equal(t, ReplacedOldSize, outcome)

	v, err := s.Lookup([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), v)
	require.Equal(t, 1, s.Len())
	require.Equal(t, s.RecomputeFingerprint(), s.LocalFingerprint())
}

func TestDuplicateUnsortedPreservesInsertionOrder(t *testing.T) {
	s := New(node.DupUnsort, 3, bytes.Compare, bytes.Compare, nil)
	_, err := s.InsertOrReplace([]byte("k"), []byte("3"))
	require.NoError(t, err)
	_, err = s.InsertOrReplace([]byte("k"), []byte("1"))
	require.NoError(t, err)
	_, err = s.InsertOrReplace([]byte("k"), []byte("2"))
	require.NoError(t, err)

	var got []string
	for _, e := range s.Entries() {
		got = append(got, string(e.Value))
	}
	require.Equal(t, []string{"3", "1", "2"}, got)
}

func TestDuplicateSortedOrdersByValue(t *testing.T) {
	s := New(node.DupSort, 11, bytes.Compare, bytes.Compare, nil)
	for _, v := range []string{"3", "1", "2"} {
		_, err := s.InsertOrReplace([]byte("K"), []byte(v))
		require.NoError(t, err)
	}
	var got []string
	for _, e := range s.Entries() {
		got = append(got, string(e.Value))
	}
	require.Equal(t, []string{"1", "2", "3"}, got)

	require.NoError(t, s.DeleteBoth([]byte("K"), []byte("2")))
	got = got[:0]
	for _, e := range s.Entries() {
		got = append(got, string(e.Value))
	}
	require.Equal(t, []string{"1", "3"}, got)

	n, err := s.Delete([]byte("K"))
	require.NoError(t, err)
	require.Greater(t, n, 0)
	require.Equal(t, 0, s.Len())
}

func TestDeleteNotFound(t *testing.T) {
	s := New(node.DupNone, 1, bytes.Compare, bytes.Compare, nil)
	_, err := s.Delete([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Lookup([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSplitToKeepsOrderAndFingerprints(t *testing.T) {
	s := New(node.DupNone, 5, bytes.Compare, bytes.Compare, nil)
	for i := byte(0); i < 10; i++ {
		_, err := s.InsertOrReplace([]byte{i}, []byte{i})
		require.NoError(t, err)
	}
	right := New(node.DupNone, 5, bytes.Compare, bytes.Compare, nil)
	splitKey := s.SplitTo(right)
	require.NotNil(t, splitKey)

	require.Equal(t, 5, s.Len())
	require.Equal(t, 5, right.Len())
	require.Equal(t, s.RecomputeFingerprint(), s.LocalFingerprint())
	require.Equal(t, right.RecomputeFingerprint(), right.LocalFingerprint())

	last := s.Entries()[s.Len()-1].Key
	first := right.Entries()[0].Key
	require.Equal(t, -1, bytes.Compare(last, first))
}

type xorSealer struct{ key byte }

func (x xorSealer) Seal(p []byte) ([]byte, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = b ^ x.key
	}
	return out, nil
}

func (x xorSealer) Open(s []byte) ([]byte, error) { return x.Seal(s) }

func TestSealerRoundTrips(t *testing.T) {
	s := New(node.DupNone, 9, bytes.Compare, bytes.Compare, xorSealer{key: 0x42})
	_, err := s.InsertOrReplace([]byte("k"), []byte("secret"))
	require.NoError(t, err)

	// The on-disk representation must not equal the plaintext.
	require.NotEqual(t, []byte("secret"), s.Entries()[0].Value)

	v, err := s.Lookup([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), v)
}
