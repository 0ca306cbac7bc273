package versionstamp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIsUniqueAndStableWidth(t *testing.T) {
	var g Generator

	seen := make(map[[10]byte]bool)
	for i := 0; i < 1000; i++ {
		vs, err := g.Next()
		require.NoError(t, err)
		require.Len(t, vs, 10)
		require.False(t, seen[vs], "versionstamp collision within a single process run")
		seen[vs] = true
	}
}
