// Package claim implements ClaimIndex, the cluster-wide enforcement of
// at-most-one-outstanding-request-per-user. It is sharded by hash of
// user_id so that claim/release contention is spread across many
// independent locks rather than a single cluster-wide mutex — the same
// sharding idea the teacher repo applies to data shards, applied here to
// an in-memory membership set.
//
// Claims live only in memory: a node restart silently drops every claim it
// held, by design (see the "Known limitation" in the package's design
// notes) — callers must not assume claims survive process restarts.
package claim

import (
	"errors"
	"hash/fnv"
	"time"
)

// ErrAlreadyQueued is returned by Claim when user_id already holds a claim
// somewhere in the index.
var ErrAlreadyQueued = errors.New("already_queued")

// ErrIndexUnavailable is returned by Claim after retrying a transiently
// unavailable shard without success.
var ErrIndexUnavailable = errors.New("index_unavailable")

const (
	defaultClaimAttempts = 3
	defaultRetrySpacing  = 20 * time.Millisecond
)

// Index is a sharded set of currently-claimed user_ids.
type Index struct {
	shards []*shard
	// sleep is overridable in tests to avoid real delays during retry.
	sleep func(time.Duration)
	// unavailable, when non-nil, simulates a shard being transiently
	// unreachable; used by tests to exercise the retry/index_unavailable
	// path. Production callers never set this.
	unavailable func(shardIndex int) bool
}

// New creates a ClaimIndex with shardCount independent shards. shardCount
// must be > 0.
func New(shardCount int) *Index {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = newShard()
	}
	return &Index{shards: shards, sleep: time.Sleep}
}

func (ix *Index) shardFor(userID string) (int, *shard) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	i := int(h.Sum32()) % len(ix.shards)
	return i, ix.shards[i]
}

// Claim attempts to compare-and-insert user_id into its owning shard.
// Transient shard unavailability is retried a small, bounded number of
// times before giving up with ErrIndexUnavailable.
func (ix *Index) Claim(userID string) error {
	i, s := ix.shardFor(userID)

	var lastUnavailable bool
	for attempt := 0; attempt < defaultClaimAttempts; attempt++ {
		if ix.unavailable != nil && ix.unavailable(i) {
			lastUnavailable = true
			if attempt < defaultClaimAttempts-1 {
				ix.sleep(defaultRetrySpacing)
			}
			continue
		}
		if !s.tryClaim(userID) {
			return ErrAlreadyQueued
		}
		return nil
	}
	if lastUnavailable {
		return ErrIndexUnavailable
	}
	return nil
}

// Release idempotently removes user_id's claim, if any. Safe to call any
// number of times; fire-and-forget from the caller's perspective.
func (ix *Index) Release(userID string) {
	_, s := ix.shardFor(userID)
	s.release(userID)
}

// Contains reports whether user_id currently holds a claim. Intended for
// tests and admin introspection, not hot-path decisions (those should rely
// on Claim's return value instead of check-then-act).
func (ix *Index) Contains(userID string) bool {
	_, s := ix.shardFor(userID)
	return s.contains(userID)
}

// Size returns the total number of claims held across all shards.
func (ix *Index) Size() int {
	total := 0
	for _, s := range ix.shards {
		total += s.size()
	}
	return total
}
