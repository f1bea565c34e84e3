package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rankmatch/internal/assignment"
	"github.com/dreamware/rankmatch/internal/registry"
	"github.com/dreamware/rankmatch/internal/rmconfig"
	"github.com/dreamware/rankmatch/internal/router"
)

func testSnapshot() assignment.Snapshot {
	return assignment.Snapshot{
		Epoch: 1,
		Assignments: []assignment.Assignment{
			{ShardID: "shard-0", RangeStart: 0, RangeEnd: 499, NodeID: "node-a", Epoch: 1},
			{ShardID: "shard-1", RangeStart: 500, RangeEnd: 999, NodeID: "node-b", Epoch: 1},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	rt := router.New()
	addrBook := func(nodeID string) (string, bool) {
		if nodeID == "node-b" {
			return "http://node-b.internal:8081", true
		}
		return "", false
	}
	m := New("node-a", rmconfig.Defaults(), reg, rt, nil, nil, func() int64 { return time.Now().UnixMilli() }, addrBook, nil)
	return m, reg
}

func TestReconcile_StartsOnlyLocallyOwnedShards(t *testing.T) {
	m, reg := newTestManager(t)
	m.Reconcile(testSnapshot())

	_, ok := reg.Get(registry.Key{ShardID: "shard-0", Epoch: 1})
	assert.True(t, ok, "node-a should host shard-0")

	_, ok = reg.Get(registry.Key{ShardID: "shard-1", Epoch: 1})
	assert.False(t, ok, "node-a must not host shard-1, owned by node-b")
}

func TestReconcile_RoutesLocalAndRemoteRanks(t *testing.T) {
	m, _ := newTestManager(t)
	m.Reconcile(testSnapshot())

	localRef, epoch, err := m.Router().Route(10)
	require.NoError(t, err)
	require.NotNil(t, localRef)
	assert.Equal(t, int64(1), epoch)

	remoteRef, _, err := m.Router().Route(600)
	require.NoError(t, err)
	assert.NotNil(t, remoteRef)
}

func TestReconcile_StopsShardNoLongerOwned(t *testing.T) {
	m, reg := newTestManager(t)
	m.Reconcile(testSnapshot())

	reassigned := assignment.Snapshot{
		Epoch: 2,
		Assignments: []assignment.Assignment{
			{ShardID: "shard-0", RangeStart: 0, RangeEnd: 499, NodeID: "node-b", Epoch: 2},
			{ShardID: "shard-1", RangeStart: 500, RangeEnd: 999, NodeID: "node-a", Epoch: 2},
		},
	}
	m.Reconcile(reassigned)

	_, ok := reg.Get(registry.Key{ShardID: "shard-0", Epoch: 1})
	assert.False(t, ok, "stale epoch's worker must be stopped")

	_, ok = reg.Get(registry.Key{ShardID: "shard-1", Epoch: 2})
	assert.True(t, ok, "newly owned shard must be started")
}

func TestReconcileDebounced_CollapsesRapidUpdates(t *testing.T) {
	m, reg := newTestManager(t)

	m.ReconcileDebounced(testSnapshot(), 10*time.Millisecond)
	m.ReconcileDebounced(testSnapshot(), 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := reg.Get(registry.Key{ShardID: "shard-0", Epoch: 1})
		return ok
	}, time.Second, time.Millisecond)
}

func TestForceReconcile_BypassesPendingDebounce(t *testing.T) {
	m, reg := newTestManager(t)

	m.ReconcileDebounced(testSnapshot(), time.Hour)
	m.ForceReconcile(testSnapshot())

	_, ok := reg.Get(registry.Key{ShardID: "shard-0", Epoch: 1})
	assert.True(t, ok)
}
