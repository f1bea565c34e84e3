// Package queue implements QueueState, the pure per-shard data structure that
// holds queued tickets grouped by rank plus a sorted index of non-empty
// ranks. QueueState is mutated only by the PartitionWorker that owns it —
// see internal/worker — so this package does no locking of its own.
package queue

import (
	"sort"

	"github.com/dreamware/rankmatch/internal/ticket"
)

// Config carries the immutable range and identity parameters of a shard.
type Config struct {
	ShardID     string
	RangeStart  int
	RangeEnd    int
	Epoch       int64
	MaxScanRank int // max_scan_ranks, consumed by internal/search
}

// State is the per-shard queue: a FIFO per rank, plus an ordered index of
// ranks that currently hold at least one ticket.
//
// Invariants (checked by tests, not enforced at runtime for performance):
//  1. QueuedCount() == sum of len(queuesByRank[r]) for all r.
//  2. r is in nonEmptyRanks iff queuesByRank[r] exists and is non-empty.
//  3. every ticket in queuesByRank[r] has ticket.Rank == r, and
//     Config.RangeStart <= r <= Config.RangeEnd.
//
// State does not deduplicate users: cluster-wide single-enqueue is the
// ClaimIndex's job (internal/claim), not this package's.
type State struct {
	Config        Config
	queuesByRank  map[int][]ticket.Ticket
	nonEmptyRanks []int // sorted ascending
	queuedCount   int
}

// New creates an empty QueueState for the given shard configuration.
func New(cfg Config) *State {
	return &State{
		Config:       cfg,
		queuesByRank: make(map[int][]ticket.Ticket),
	}
}

// QueuedCount returns the total number of queued tickets across all ranks.
func (s *State) QueuedCount() int { return s.queuedCount }

// NonEmptyRanks returns the sorted ranks currently holding at least one
// ticket. The returned slice is owned by the caller (a defensive copy).
func (s *State) NonEmptyRanks() []int {
	out := make([]int, len(s.nonEmptyRanks))
	copy(out, s.nonEmptyRanks)
	return out
}

// Enqueue appends t to the tail of its rank's FIFO.
func (s *State) Enqueue(t ticket.Ticket) {
	s.pushRank(t.Rank)
	s.queuesByRank[t.Rank] = append(s.queuesByRank[t.Rank], t)
	s.queuedCount++
}

// EnqueueFront prepends t to the head of its rank's FIFO. Used only to roll
// back a requester after a failed remote reserve, preserving its original
// EnqueuedAtMonotonicMS so age-based fairness survives the retry.
func (s *State) EnqueueFront(t ticket.Ticket) {
	s.pushRank(t.Rank)
	q := s.queuesByRank[t.Rank]
	s.queuesByRank[t.Rank] = append([]ticket.Ticket{t}, q...)
	s.queuedCount++
}

// PeekHead returns the head ticket for rank, or ok=false if the rank is
// empty. It never mutates state.
func (s *State) PeekHead(rank int) (t ticket.Ticket, ok bool) {
	q := s.queuesByRank[rank]
	if len(q) == 0 {
		return ticket.Ticket{}, false
	}
	return q[0], true
}

// PeekHeadSkippingUser returns the head of rank's FIFO, unless it belongs to
// excludeUserID, in which case it returns the second element only — never
// deeper. This bounded skip keeps the search cheap: a requester never needs
// to look past its own ticket to find the next candidate at the same rank.
func (s *State) PeekHeadSkippingUser(rank int, excludeUserID string) (t ticket.Ticket, ok bool) {
	q := s.queuesByRank[rank]
	if len(q) == 0 {
		return ticket.Ticket{}, false
	}
	if q[0].UserID != excludeUserID {
		return q[0], true
	}
	if len(q) < 2 {
		return ticket.Ticket{}, false
	}
	return q[1], true
}

// DequeueHead pops and returns the head ticket for rank.
func (s *State) DequeueHead(rank int) (t ticket.Ticket, ok bool) {
	q := s.queuesByRank[rank]
	if len(q) == 0 {
		return ticket.Ticket{}, false
	}
	t = q[0]
	s.setRank(rank, q[1:])
	s.queuedCount--
	return t, true
}

// DequeueHeadIfMatches atomically (with respect to this single-threaded
// state — the owning worker serializes all access) pops rank's head only if
// it equals expected exactly. This is the primitive that lets two
// asynchronous decision paths — an immediate match and a tick — race for
// the same head without double-matching: at most one caller's expected
// ticket will match the current head.
func (s *State) DequeueHeadIfMatches(rank int, expected ticket.Ticket) bool {
	q := s.queuesByRank[rank]
	if len(q) == 0 || q[0] != expected {
		return false
	}
	s.setRank(rank, q[1:])
	s.queuedCount--
	return true
}

func (s *State) setRank(rank int, remaining []ticket.Ticket) {
	if len(remaining) == 0 {
		delete(s.queuesByRank, rank)
		s.popRank(rank)
		return
	}
	s.queuesByRank[rank] = remaining
}

// pushRank inserts rank into the sorted non-empty index if not already
// present.
func (s *State) pushRank(rank int) {
	if _, exists := s.queuesByRank[rank]; exists {
		return
	}
	i := sort.SearchInts(s.nonEmptyRanks, rank)
	s.nonEmptyRanks = append(s.nonEmptyRanks, 0)
	copy(s.nonEmptyRanks[i+1:], s.nonEmptyRanks[i:])
	s.nonEmptyRanks[i] = rank
}

// popRank removes rank from the sorted non-empty index.
func (s *State) popRank(rank int) {
	i := sort.SearchInts(s.nonEmptyRanks, rank)
	if i >= len(s.nonEmptyRanks) || s.nonEmptyRanks[i] != rank {
		return
	}
	s.nonEmptyRanks = append(s.nonEmptyRanks[:i], s.nonEmptyRanks[i+1:]...)
}

// LowerBound returns the index into NonEmptyRanks() of the first rank >=
// target, and the index of the last rank < target (or -1). Exposed for
// internal/search, which walks outward from the requester's rank.
func (s *State) LowerBound(target int) (atOrAbove, below int) {
	i := sort.SearchInts(s.nonEmptyRanks, target)
	atOrAbove = i
	if i >= len(s.nonEmptyRanks) {
		atOrAbove = -1
	}
	below = i - 1
	return atOrAbove, below
}

// RankAt returns the rank stored at index i of the sorted non-empty index.
func (s *State) RankAt(i int) int { return s.nonEmptyRanks[i] }

// NonEmptyLen returns the number of distinct non-empty ranks.
func (s *State) NonEmptyLen() int { return len(s.nonEmptyRanks) }
