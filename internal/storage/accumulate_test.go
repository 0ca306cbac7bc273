package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawkakani/denokv-postgres/internal/kvproto"
)

func TestI64RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, math.MaxInt64, math.MinInt64, 42} {
		raw := encodeI64LE(v)
		require.Len(t, raw, 8)
		got, err := decodeI64LE(raw)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestDecodeI64BadWidth(t *testing.T) {
	_, err := decodeI64LE([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestSumWrapsOnOverflow(t *testing.T) {
	got := sumOp(math.MaxInt64, 1)
	require.Equal(t, int64(math.MinInt64), got, "sum must wrap around on signed overflow")
}

func TestMinMaxOps(t *testing.T) {
	require.Equal(t, int64(3), minOp(5, 3))
	require.Equal(t, int64(3), minOp(3, 5))
	require.Equal(t, int64(5), maxOp(5, 3))
	require.Equal(t, int64(5), maxOp(3, 5))
}

func TestSuffixedKeyAppendsVersionstamp(t *testing.T) {
	var vs kvproto.Versionstamp
	copy(vs[:], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	got := suffixedKey([]byte("p/"), vs)
	require.Equal(t, append([]byte("p/"), vs[:]...), got)

	// Must not alias the caller's prefix slice.
	prefix := []byte("p/")
	out := suffixedKey(prefix, vs)
	out[0] = 'X'
	require.Equal(t, byte('p'), prefix[0])
}
