package activity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupFIFO_RejectsRepeats(t *testing.T) {
	d := newDedupFIFO()
	require.False(t, d.Seen("a"))
	require.True(t, d.Seen("a"))
	require.False(t, d.Seen("b"))
}

func TestDedupFIFO_EvictsOldestAtCapacity(t *testing.T) {
	d := newDedupFIFO()
	for i := 0; i < dedupCapacity; i++ {
		require.False(t, d.Seen(fmt.Sprintf("id-%d", i)))
	}
	// id-0 has now been evicted by id-dedupCapacity; it should be treated
	// as unseen again.
	require.False(t, d.Seen(fmt.Sprintf("id-%d", dedupCapacity)))
	require.False(t, d.Seen("id-0"))
	// But the most recently seen id is still held.
	require.True(t, d.Seen(fmt.Sprintf("id-%d", dedupCapacity-1)))
}
