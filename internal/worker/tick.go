package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/rankmatch/internal/search"
	"github.com/dreamware/rankmatch/internal/ticket"
	"github.com/dreamware/rankmatch/internal/widen"
)

// candidate is one rank's proposed match: its head requester paired with
// the best opponent found for it, local or across a shard boundary.
type candidate struct {
	rank      int
	requester ticket.Ticket
	opponent  ticket.Ticket
	distance  int
	remote    Ref // nil when opponent is local to this shard
}

// runTick is find_globally_best_pair, run up to max_tick_attempts times:
// each attempt re-scans every non-empty rank fresh, gathers a candidate
// pair per rank, and resolves only the single globally-best one — so a
// closer or older pair at a rank visited late never loses out to a
// worse-but-earlier one, and a race lost to another path costs only that
// attempt, not the whole tick.
func (w *Worker) runTick() {
	for attempt := 0; attempt < w.cfg.MaxTickAttempts; attempt++ {
		best, found := w.findGloballyBestPair()
		if !found {
			break
		}
		w.resolvePair(best)
	}
}

// findGloballyBestPair gathers every non-empty rank's best candidate pair
// and returns the single overall best by the ordering in lessCandidate.
func (w *Worker) findGloballyBestPair() (candidate, bool) {
	var best candidate
	found := false
	for _, rank := range w.state.NonEmptyRanks() {
		requester, ok := w.state.PeekHead(rank)
		if !ok {
			continue
		}
		cand, ok := w.bestCandidateFor(requester)
		if !ok {
			continue
		}
		if !found || lessCandidate(cand, best) {
			best, found = cand, true
		}
	}
	return best, found
}

// bestCandidateFor gathers the local, left-neighbor, and right-neighbor
// candidates for requester and picks the best of the three via
// ticket.Less, the same strict ordering NearestSearch uses.
func (w *Worker) bestCandidateFor(requester ticket.Ticket) (candidate, bool) {
	now := w.clock()
	allowed := widen.AllowedDiff(requester.AgeMS(now), w.cfg.Widening)

	localBest, localFound := search.PeekBestOpponent(w.state, requester.Rank, allowed, requester.UserID)

	left, right := (Ref)(nil), (Ref)(nil)
	if w.neighbors != nil {
		left, right = w.neighbors()
	}

	var remoteBest ticket.Ticket
	var remoteFound bool
	var remoteRef Ref

	if left != nil && requester.Rank-allowed < w.cfg.RangeStart {
		if t, ok, err := w.peekRemote(left, requester.Rank, allowed, requester.UserID); err == nil && ok {
			remoteBest, remoteFound, remoteRef = t, true, left
		}
	}
	if right != nil && requester.Rank+allowed > w.cfg.RangeEnd {
		if t, ok, err := w.peekRemote(right, requester.Rank, allowed, requester.UserID); err == nil && ok {
			if !remoteFound || ticket.Less(requester.Rank, t, remoteBest) {
				remoteBest, remoteFound, remoteRef = t, true, right
			}
		}
	}

	switch {
	case localFound && (!remoteFound || ticket.Less(requester.Rank, localBest, remoteBest)):
		return candidate{
			rank: requester.Rank, requester: requester, opponent: localBest,
			distance: abs(localBest.Rank - requester.Rank),
		}, true
	case remoteFound:
		return candidate{
			rank: requester.Rank, requester: requester, opponent: remoteBest,
			distance: abs(remoteBest.Rank - requester.Rank), remote: remoteRef,
		}, true
	default:
		return candidate{}, false
	}
}

// lessCandidate reports whether a is the better of two candidate pairs
// drawn from different ranks, generalizing §4.3's strict ordering (which
// only compares opponents against one fixed requester) to a comparison
// across pairs: distance first, then the older of the pair's two tickets,
// then that ticket's rank, then its user_id.
func lessCandidate(a, b candidate) bool {
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	oa, ob := olderOf(a.requester, a.opponent), olderOf(b.requester, b.opponent)
	if oa.EnqueuedAtMonotonicMS != ob.EnqueuedAtMonotonicMS {
		return oa.EnqueuedAtMonotonicMS < ob.EnqueuedAtMonotonicMS
	}
	if oa.Rank != ob.Rank {
		return oa.Rank < ob.Rank
	}
	return oa.UserID < ob.UserID
}

func olderOf(a, b ticket.Ticket) ticket.Ticket {
	if a.EnqueuedAtMonotonicMS <= b.EnqueuedAtMonotonicMS {
		return a
	}
	return b
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// resolvePair attempts to commit the chosen candidate: atomically remove
// the requester from its rank, then either take the local opponent or
// reserve the remote one. Any lost race or failed reserve rolls the
// requester back onto its rank so the next attempt (or tick) retries it.
func (w *Worker) resolvePair(c candidate) {
	if !w.state.DequeueHeadIfMatches(c.rank, c.requester) {
		return // lost the race to another path; next attempt re-derives fresh candidates
	}

	if c.remote == nil {
		if !search.TakeBestOpponent(w.state, c.opponent) {
			// opponent vanished between peek and take; put the requester back.
			w.state.EnqueueFront(c.requester)
			return
		}
		w.finalize(c.requester, c.opponent)
		return
	}

	ctx, cancel := w.rpcContext()
	defer cancel()
	won, err := c.remote.Reserve(ctx, c.opponent.UserID, c.opponent.Rank, c.opponent.EnqueuedAtMonotonicMS, w.cfg.Epoch)
	if err != nil {
		w.log.Debug("cross-shard reserve failed, rolling back", zap.Error(err))
		w.state.EnqueueFront(c.requester)
		return
	}
	w.finalize(c.requester, won)
}

func (w *Worker) peekRemote(ref Ref, rank, allowed int, excludeUserID string) (ticket.Ticket, bool, error) {
	ctx, cancel := w.rpcContext()
	defer cancel()
	return ref.PeekNearest(ctx, rank, allowed, excludeUserID, w.cfg.Epoch)
}

func (w *Worker) rpcContext() (context.Context, context.CancelFunc) {
	timeout := w.cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 500_000_000 // 500ms, as a fallback if unset
	}
	return context.WithTimeout(context.Background(), timeout)
}
