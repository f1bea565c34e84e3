package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecompute_CoversWholeRangeWithNoGapsOrOverlaps(t *testing.T) {
	c := New(0, 9999, 4)
	snap := c.Recompute([]string{"node-b", "node-a", "node-c"})

	require.Len(t, snap.Assignments, 4)
	assert.Equal(t, int64(1), snap.Epoch)

	covered := 0
	for i, a := range snap.Assignments {
		assert.LessOrEqual(t, a.RangeStart, a.RangeEnd)
		covered += a.RangeEnd - a.RangeStart + 1
		if i > 0 {
			assert.Equal(t, snap.Assignments[i-1].RangeEnd+1, a.RangeStart, "ranges must be contiguous")
		}
	}
	assert.Equal(t, 10000, covered)
	assert.Equal(t, 0, snap.Assignments[0].RangeStart)
	assert.Equal(t, 9999, snap.Assignments[len(snap.Assignments)-1].RangeEnd)
}

func TestRecompute_IsDeterministicRegardlessOfInputOrder(t *testing.T) {
	c1 := New(0, 999, 3)
	c2 := New(0, 999, 3)

	snap1 := c1.Recompute([]string{"a", "b", "c"})
	snap2 := c2.Recompute([]string{"c", "a", "b"})

	assert.Equal(t, snap1.Assignments, snap2.Assignments)
}

func TestRecompute_RoundRobinsOverFewerNodesThanShards(t *testing.T) {
	c := New(0, 399, 4)
	snap := c.Recompute([]string{"only-node"})

	for _, a := range snap.Assignments {
		assert.Equal(t, "only-node", a.NodeID)
	}
}

func TestRecompute_BumpsEpochEachCall(t *testing.T) {
	c := New(0, 99, 2)
	first := c.Recompute([]string{"a", "b"})
	second := c.Recompute([]string{"a", "b", "c"})

	assert.Equal(t, int64(1), first.Epoch)
	assert.Equal(t, int64(2), second.Epoch)
}

func TestForRank_FindsOwningAssignment(t *testing.T) {
	c := New(0, 999, 2)
	snap := c.Recompute([]string{"a", "b"})

	a, ok := snap.ForRank(0)
	require.True(t, ok)
	assert.Equal(t, "p-00000-00499", a.ShardID)

	_, ok = snap.ForRank(-1)
	assert.False(t, ok)
}

func TestRecompute_NoNodesYieldsNoAssignments(t *testing.T) {
	c := New(0, 99, 4)
	snap := c.Recompute(nil)
	assert.Empty(t, snap.Assignments)
}
