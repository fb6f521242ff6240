package wpeer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/wyvern/wpeer"
)

func TestRandomIdentity(t *testing.T) {
	t.Parallel()

	seen := make(map[wpeer.Identity]bool)
	for range 64 {
		id := wpeer.RandomIdentity()
		require.Len(t, id.Bytes(), 16)
		require.False(t, seen[id], "identity %s repeated", id)
		seen[id] = true
	}
}

func TestIdentityFromBytes(t *testing.T) {
	t.Parallel()

	b := []byte{0xde, 0xad, 0xbe, 0xef}
	id := wpeer.IdentityFromBytes(b)

	require.Equal(t, b, id.Bytes())
	require.Equal(t, "deadbeef", id.String())

	// The identity does not follow later changes to the source slice.
	b[0] = 0x00
	require.Equal(t, "deadbeef", id.String())
}
