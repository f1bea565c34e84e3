// Package search implements the closest-rank opponent search over a
// queue.State, with deterministic tie-breaking and a bounded scan.
package search

import (
	"github.com/dreamware/rankmatch/internal/queue"
	"github.com/dreamware/rankmatch/internal/ticket"
)

// PeekBestOpponent finds the best opponent ticket for a requester of the
// given rank within allowedDiff, excluding excludeUserID, without mutating
// state. Ordering follows ticket.Less; ties are resolved there.
//
// Algorithm: starting from requesterRank's insertion point in
// state.NonEmptyRanks(), alternate outward to the nearer of the two
// neighboring non-empty ranks (ties broken toward the lower rank, matching
// ticket.Less's own tie-break), stopping a side once its distance exceeds
// allowedDiff. At most state.Config.MaxScanRank distinct ranks are
// inspected, win or lose — a busy shard can never make this unbounded.
//
// Same-rank shortcut: if requesterRank itself holds a non-excluded ticket,
// that is the unique closest candidate (distance 0) and the search returns
// immediately without considering any other rank.
func PeekBestOpponent(state *queue.State, requesterRank int, allowedDiff int, excludeUserID string) (ticket.Ticket, bool) {
	if same, ok := state.PeekHeadSkippingUser(requesterRank, excludeUserID); ok {
		return same, true
	}

	above, below := state.LowerBound(requesterRank)
	// LowerBound(requesterRank) points at the first rank >= requesterRank;
	// since we already handled an exact match above via the shortcut, if
	// 'above' names requesterRank itself (its only ticket was the excluded
	// user), skip it — there is nothing more to extract from that rank.
	if above >= 0 && state.RankAt(above) == requesterRank {
		above++
		if above >= state.NonEmptyLen() {
			above = -1
		}
	}

	var best ticket.Ticket
	found := false
	scanned := 0
	maxScan := state.Config.MaxScanRank
	if maxScan <= 0 {
		maxScan = state.NonEmptyLen()
	}

	for (above != -1 || below != -1) && scanned < maxScan {
		useAbove := false
		switch {
		case above == -1:
			useAbove = false
		case below == -1:
			useAbove = true
		default:
			da := state.RankAt(above) - requesterRank
			db := requesterRank - state.RankAt(below)
			// Ties broken toward the lower rank, i.e. the "below" side,
			// matching ticket.Less's rank tie-break.
			useAbove = da < db
		}

		var rank int
		if useAbove {
			rank = state.RankAt(above)
		} else {
			rank = state.RankAt(below)
		}

		diff := rank - requesterRank
		if diff < 0 {
			diff = -diff
		}
		if diff > allowedDiff {
			if useAbove {
				above = -1
			} else {
				below = -1
			}
			continue
		}

		scanned++
		if cand, ok := state.PeekHeadSkippingUser(rank, excludeUserID); ok {
			if !found || ticket.Less(requesterRank, cand, best) {
				best = cand
				found = true
			}
		}

		if useAbove {
			above++
			if above >= state.NonEmptyLen() {
				above = -1
			}
		} else {
			below--
			if below < 0 {
				below = -1
			}
		}
	}

	return best, found
}

// TakeBestOpponent removes opponent from state if it is still the head of
// its rank, implementing the second half of a two-phase local match: peek
// (PeekBestOpponent), then atomic take. Returns false if another path
// already claimed it.
func TakeBestOpponent(state *queue.State, opponent ticket.Ticket) bool {
	return state.DequeueHeadIfMatches(opponent.Rank, opponent)
}
