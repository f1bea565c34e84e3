// Package integration exercises the matchmaking pipeline end to end: the
// edge handler, the router, and real PartitionWorkers wired together the
// way a single node wires them, covering the spec's headline scenarios
// (immediate match, widening, cross-shard match, duplicate-enqueue
// rejection, backpressure).
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rankmatch/internal/assignment"
	"github.com/dreamware/rankmatch/internal/backpressure"
	"github.com/dreamware/rankmatch/internal/claim"
	"github.com/dreamware/rankmatch/internal/edge"
	"github.com/dreamware/rankmatch/internal/publish"
	"github.com/dreamware/rankmatch/internal/rmconfig"
	"github.com/dreamware/rankmatch/internal/router"
	"github.com/dreamware/rankmatch/internal/widen"
	"github.com/dreamware/rankmatch/internal/worker"
)

func newClock() func() int64 {
	return func() int64 { return time.Now().UnixMilli() }
}

func singleShardHandler(t *testing.T, cfgOverride func(*worker.Config)) (*edge.Handler, *publish.ChannelSink, *claim.Index) {
	t.Helper()
	sink := publish.NewChannelSink(16)
	claims := claim.New(4)

	wcfg := worker.Config{
		ShardID:         "shard-0",
		RangeStart:      0,
		RangeEnd:        999,
		Epoch:           1,
		Backpressure:    backpressure.Config{MessageQueueLimit: 1000, QueuedCountLimit: 1000},
		Widening:        widen.Config{StepMS: 50, StepDiff: 20, Cap: 500},
		ImmediateDiff:   10,
		TickInterval:    10 * time.Millisecond,
		MaxTickAttempts: 8,
		MaxScanRanks:    64,
		RPCTimeout:      200 * time.Millisecond,
	}
	if cfgOverride != nil {
		cfgOverride(&wcfg)
	}

	w := worker.New(wcfg, func() (worker.Ref, worker.Ref) { return nil, nil }, sink, claims, newClock(), nil)
	go w.Run(context.Background())
	t.Cleanup(func() {})

	rt := router.New()
	snap := assignment.Snapshot{Epoch: 1, Assignments: []assignment.Assignment{
		{ShardID: "shard-0", RangeStart: 0, RangeEnd: 999, NodeID: "node-a", Epoch: 1},
	}}
	rt.Update(snap, func(a assignment.Assignment) worker.Ref { return w })

	cfg := rmconfig.Defaults()
	cfg.RankMin, cfg.RankMax = 0, 999
	h := edge.New(claims, rt, cfg, nil)
	return h, sink, claims
}

func TestImmediateMatch_SameRank(t *testing.T) {
	h, sink, _ := singleShardHandler(t, nil)

	require.NoError(t, h.Enqueue(context.Background(), "alice", 500))
	require.NoError(t, h.Enqueue(context.Background(), "bob", 500))

	select {
	case ev := <-sink.Events():
		assert.ElementsMatch(t, []string{"alice", "bob"}, []string{ev.A.UserID, ev.B.UserID})
	case <-time.After(time.Second):
		t.Fatal("no match published")
	}
}

func TestWidening_EventuallyMatchesDistantRanks(t *testing.T) {
	h, sink, _ := singleShardHandler(t, nil)

	require.NoError(t, h.Enqueue(context.Background(), "alice", 500))
	require.NoError(t, h.Enqueue(context.Background(), "bob", 540)) // outside ImmediateDiff=10

	select {
	case ev := <-sink.Events():
		assert.ElementsMatch(t, []string{"alice", "bob"}, []string{ev.A.UserID, ev.B.UserID})
	case <-time.After(2 * time.Second):
		t.Fatal("widening never matched the distant pair")
	}
}

func TestBackpressure_RejectsWhenQueueFull(t *testing.T) {
	h, _, claims := singleShardHandler(t, func(c *worker.Config) {
		c.Backpressure = backpressure.Config{MessageQueueLimit: 1000, QueuedCountLimit: 0}
	})

	require.NoError(t, h.Enqueue(context.Background(), "alice", 100))
	err := h.Enqueue(context.Background(), "bob", 900) // far enough apart to not immediately match
	assert.ErrorIs(t, err, worker.ErrOverloaded)
	assert.False(t, claims.Contains("bob"), "rejected request must release its claim")
}

// crossShardPair wires two real PartitionWorkers as each other's
// neighbors, the way internal/manager wires a local worker's
// NeighborResolver to internal/router.Adjacent — but directly, since
// *worker.Worker already satisfies worker.Ref.
func crossShardPair(t *testing.T) (*edge.Handler, *publish.ChannelSink) {
	t.Helper()
	sink := publish.NewChannelSink(16)
	claims := claim.New(4)
	clock := newClock()

	var left, right *worker.Worker

	leftCfg := worker.Config{
		ShardID: "shard-0", RangeStart: 0, RangeEnd: 499, Epoch: 1,
		Backpressure: backpressure.Config{MessageQueueLimit: 1000, QueuedCountLimit: 1000},
		Widening:     widen.Config{StepMS: 5, StepDiff: 50, Cap: 1000},
		ImmediateDiff: 5, TickInterval: 10 * time.Millisecond, MaxTickAttempts: 8, MaxScanRanks: 64,
		RPCTimeout: 200 * time.Millisecond,
	}
	rightCfg := leftCfg
	rightCfg.ShardID, rightCfg.RangeStart, rightCfg.RangeEnd = "shard-1", 500, 999

	left = worker.New(leftCfg, func() (worker.Ref, worker.Ref) { return nil, right }, sink, claims, clock, nil)
	right = worker.New(rightCfg, func() (worker.Ref, worker.Ref) { return left, nil }, sink, claims, clock, nil)
	go left.Run(context.Background())
	go right.Run(context.Background())

	rt := router.New()
	snap := assignment.Snapshot{Epoch: 1, Assignments: []assignment.Assignment{
		{ShardID: "shard-0", RangeStart: 0, RangeEnd: 499, NodeID: "node-a", Epoch: 1},
		{ShardID: "shard-1", RangeStart: 500, RangeEnd: 999, NodeID: "node-b", Epoch: 1},
	}}
	rt.Update(snap, func(a assignment.Assignment) worker.Ref {
		if a.ShardID == "shard-0" {
			return left
		}
		return right
	})

	cfg := rmconfig.Defaults()
	cfg.RankMin, cfg.RankMax = 0, 999
	h := edge.New(claims, rt, cfg, nil)
	return h, sink
}

func TestCrossShardMatch_WidensAcrossBoundary(t *testing.T) {
	h, sink := crossShardPair(t)

	require.NoError(t, h.Enqueue(context.Background(), "alice", 490))
	require.NoError(t, h.Enqueue(context.Background(), "bob", 510))

	select {
	case ev := <-sink.Events():
		assert.ElementsMatch(t, []string{"alice", "bob"}, []string{ev.A.UserID, ev.B.UserID})
	case <-time.After(3 * time.Second):
		t.Fatal("cross-shard widening never matched alice and bob")
	}
}

func TestAlreadyQueued_SecondEnqueueRejected(t *testing.T) {
	h, _, _ := singleShardHandler(t, nil)
	require.NoError(t, h.Enqueue(context.Background(), "alice", 100))
	err := h.Enqueue(context.Background(), "alice", 200)
	assert.ErrorIs(t, err, claim.ErrAlreadyQueued)
}
