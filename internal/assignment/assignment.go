// Package assignment computes and versions the cluster-wide mapping from
// rank ranges to shards to nodes, generalizing the teacher's
// internal/coordinator.ShardRegistry from a hash-bucketed key/node map to a
// contiguous, range-partitioned one — matchmaking needs adjacency between
// shards (for cross-shard widening) that hash bucketing cannot provide.
package assignment

import (
	"fmt"
	"sort"
	"sync"
)

// Assignment is one shard's slice of the global rank range and the node
// currently responsible for it.
type Assignment struct {
	ShardID    string `json:"shard_id"`
	RangeStart int    `json:"range_start"`
	RangeEnd   int    `json:"range_end"`
	NodeID     string `json:"node_id"`
	Epoch      int64  `json:"epoch"`
}

// Snapshot is a versioned, immutable view of the whole cluster's
// assignments. Every PartitionWorker and every router entry derived from a
// Snapshot carries its Epoch, so a routing decision made against a stale
// Snapshot is detectable rather than silently wrong.
type Snapshot struct {
	Epoch       int64        `json:"epoch"`
	Assignments []Assignment `json:"assignments"`
}

// ForRank returns the Assignment whose range contains rank, if any.
func (s Snapshot) ForRank(rank int) (Assignment, bool) {
	for _, a := range s.Assignments {
		if rank >= a.RangeStart && rank <= a.RangeEnd {
			return a, true
		}
	}
	return Assignment{}, false
}

// Coordinator computes and holds the current Snapshot. The coordinator
// process owns the only instance: it calls Recompute on membership changes
// and serves Current at its /assignments endpoint, while nodes receive each
// new Snapshot by broadcast rather than by calling Current.
type Coordinator struct {
	mu             sync.RWMutex
	current        Snapshot
	rankMin        int
	rankMax        int
	partitionCount int
}

// New creates a Coordinator for the given global rank range, split into
// partitionCount contiguous shards. The initial Snapshot is empty (epoch 0,
// no assignments) until the first Recompute.
func New(rankMin, rankMax, partitionCount int) *Coordinator {
	return &Coordinator{rankMin: rankMin, rankMax: rankMax, partitionCount: partitionCount}
}

// Current returns the most recently computed Snapshot.
func (c *Coordinator) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Recompute deterministically partitions [rankMin, rankMax] into
// partitionCount contiguous shards and assigns each to a node from nodeIDs
// round-robin over a sorted copy of nodeIDs, then stores and returns the
// resulting Snapshot at epoch = previous epoch + 1.
//
// Determinism matters here the way it mattered in the teacher's
// autoAssignShards: any two nodes computing Recompute from the same
// nodeIDs and the same previous epoch must reach the identical Snapshot,
// since in a split-brain both might compute before one becomes leader.
// Sorting nodeIDs before the round-robin pass is what makes that true
// regardless of slice iteration order from the caller.
func (c *Coordinator) Recompute(nodeIDs []string) Snapshot {
	sorted := append([]string(nil), nodeIDs...)
	sort.Strings(sorted)

	c.mu.Lock()
	defer c.mu.Unlock()
	epoch := c.current.Epoch + 1
	assignments := compute(sorted, c.rankMin, c.rankMax, c.partitionCount, epoch)
	c.current = Snapshot{Epoch: epoch, Assignments: assignments}
	return c.current
}

// compute is the pure partitioning function, factored out so it can be
// tested without a Coordinator instance. base_width = total/partitionCount
// applies uniformly to every partition except the last, which absorbs the
// full remainder by running to rankMax — a fixed, language-independent
// rule so any two implementations partitioning the same range agree on
// boundaries without needing to exchange them.
func compute(sortedNodeIDs []string, rankMin, rankMax, partitionCount int, epoch int64) []Assignment {
	if partitionCount <= 0 || len(sortedNodeIDs) == 0 {
		return nil
	}
	total := rankMax - rankMin + 1
	if total <= 0 {
		return nil
	}

	out := make([]Assignment, 0, partitionCount)
	base := total / partitionCount

	start := rankMin
	for i := 0; i < partitionCount; i++ {
		end := start + base - 1
		if i == partitionCount-1 {
			end = rankMax // last partition absorbs the full remainder
		}
		if end < start {
			continue
		}
		node := sortedNodeIDs[i%len(sortedNodeIDs)]
		out = append(out, Assignment{
			ShardID:    shardID(start, end),
			RangeStart: start,
			RangeEnd:   end,
			NodeID:     node,
			Epoch:      epoch,
		})
		start = end + 1
	}
	return out
}

// shardID formats a shard's ID from its zero-padded rank range, e.g.
// "p-00000-00499" — deterministic and collision-free across any
// partitioning of the same range, unlike an index-based name.
func shardID(rangeStart, rangeEnd int) string {
	return fmt.Sprintf("p-%05d-%05d", rangeStart, rangeEnd)
}
