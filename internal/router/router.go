// Package router holds the cluster-wide routing table that maps a rank to
// the worker.Ref currently responsible for it, and resolves a shard's
// immediate left/right neighbors for cross-shard tick matching. It is read
// on every enqueue and every tick, so updates swap in a whole new table via
// a single atomic pointer store rather than taking a lock on the hot path —
// the same tradeoff the design note calls out explicitly, and the same
// shape as the teacher's ShardRegistry, which instead used a RWMutex
// because its read/write ratio didn't need to go further.
package router

import (
	"errors"
	"sort"
	"sync/atomic"

	"github.com/dreamware/rankmatch/internal/assignment"
	"github.com/dreamware/rankmatch/internal/worker"
)

// ErrNoPartition is returned when the installed routing table is
// up to date with the coordinator's current epoch but simply has no
// assignment covering the requested rank — an empty or transient table,
// not a stale one.
var ErrNoPartition = errors.New("no_partition")

// ErrStaleRoutingSnapshot is returned when the installed routing table's
// epoch is behind the latest epoch this Router has learned the
// coordinator has published — the caller should retry shortly rather
// than treat the rank as unowned, since a PartitionManager reconcile for
// the newer epoch is presumably already in flight.
var ErrStaleRoutingSnapshot = errors.New("stale_routing_snapshot")

// RefFactory builds (or reuses) the worker.Ref for one Assignment — a local
// *worker.Worker if the assignment's NodeID is this process, or a
// clusterrpc client otherwise. Router doesn't know or care which.
type RefFactory func(assignment.Assignment) worker.Ref

// Router holds the current routing table behind an atomic pointer.
// coordinatorEpoch tracks the newest epoch this Router has learned the
// coordinator has published, independent of the table's own epoch —
// learning of a new epoch (e.g. from a just-arrived broadcast still
// waiting out PartitionManager's debounce) before the table is swapped
// is exactly what lets Route tell "stale" apart from "no partition here".
type Router struct {
	table            atomic.Pointer[table]
	coordinatorEpoch atomic.Int64
}

type table struct {
	epoch   int64
	entries []entry // sorted by RangeStart
}

type entry struct {
	assignment.Assignment
	ref worker.Ref
}

// New returns an empty Router; call Update once a Snapshot is available.
func New() *Router {
	r := &Router{}
	r.table.Store(&table{})
	return r
}

// Update replaces the routing table with one derived from snap, building a
// worker.Ref for each assignment via factory. This is the only write path —
// called by the PartitionManager after every assignment.Coordinator
// Recompute, local or received from the leader.
func (r *Router) Update(snap assignment.Snapshot, factory RefFactory) {
	entries := make([]entry, 0, len(snap.Assignments))
	for _, a := range snap.Assignments {
		entries = append(entries, entry{Assignment: a, ref: factory(a)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RangeStart < entries[j].RangeStart })
	r.table.Store(&table{epoch: snap.Epoch, entries: entries})
	r.NoteCoordinatorEpoch(snap.Epoch)
}

// NoteCoordinatorEpoch records that the coordinator has published at least
// up to epoch, even if the routing table itself hasn't been swapped to
// match yet (e.g. a broadcast received just before PartitionManager's
// debounce fires). It only ever advances — an out-of-order or duplicate
// notification for an older epoch is a no-op.
func (r *Router) NoteCoordinatorEpoch(epoch int64) {
	for {
		cur := r.coordinatorEpoch.Load()
		if epoch <= cur {
			return
		}
		if r.coordinatorEpoch.CompareAndSwap(cur, epoch) {
			return
		}
	}
}

// Epoch returns the epoch of the currently installed routing table.
func (r *Router) Epoch() int64 {
	return r.table.Load().epoch
}

// Route returns the worker.Ref responsible for rank and the epoch that
// decision was made under, or an error: ErrStaleRoutingSnapshot if the
// installed table is behind the latest epoch this Router has learned the
// coordinator has published, else ErrNoPartition if the table is current
// but no assignment covers rank. Callers that later get ErrStaleEpoch back
// from the returned Ref should re-Route rather than retry blindly — the
// table may have moved on again since this call.
func (r *Router) Route(rank int) (ref worker.Ref, epoch int64, err error) {
	t := r.table.Load()
	if t.epoch < r.coordinatorEpoch.Load() {
		return nil, t.epoch, ErrStaleRoutingSnapshot
	}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].RangeEnd >= rank })
	if i >= len(t.entries) || rank < t.entries[i].RangeStart {
		return nil, t.epoch, ErrNoPartition
	}
	return t.entries[i].ref, t.epoch, nil
}

// Adjacent returns the worker.Ref for the shard immediately below and
// immediately above the shard owning rank — nil on either side if rank's
// shard sits at the edge of the global range, or if no routing table has
// been installed yet.
func (r *Router) Adjacent(rank int) (left, right worker.Ref) {
	t := r.table.Load()
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].RangeEnd >= rank })
	if i >= len(t.entries) || rank < t.entries[i].RangeStart {
		return nil, nil
	}
	if i > 0 {
		left = t.entries[i-1].ref
	}
	if i+1 < len(t.entries) {
		right = t.entries[i+1].ref
	}
	return left, right
}

// ShardIDFor returns the shard_id owning rank, for logging and admin
// endpoints that want a human-readable identity rather than a Ref.
func (r *Router) ShardIDFor(rank int) (string, bool) {
	t := r.table.Load()
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].RangeEnd >= rank })
	if i >= len(t.entries) || rank < t.entries[i].RangeStart {
		return "", false
	}
	return t.entries[i].ShardID, true
}
