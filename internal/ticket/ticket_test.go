package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLess_ClosestRankWins(t *testing.T) {
	a := Ticket{UserID: "a", Rank: 1010, EnqueuedAtMonotonicMS: 100}
	b := Ticket{UserID: "b", Rank: 1030, EnqueuedAtMonotonicMS: 50}
	assert.True(t, Less(1000, a, b), "closer rank should win regardless of age")
	assert.False(t, Less(1000, b, a))
}

func TestLess_TieBreaksByAgeThenRankThenUserID(t *testing.T) {
	older := Ticket{UserID: "zzz", Rank: 1010, EnqueuedAtMonotonicMS: 10}
	younger := Ticket{UserID: "aaa", Rank: 1010, EnqueuedAtMonotonicMS: 20}
	assert.True(t, Less(1000, older, younger), "older enqueue wins equal distance")

	sameAgeLowerRank := Ticket{UserID: "zzz", Rank: 990, EnqueuedAtMonotonicMS: 10}
	sameAgeHigherRank := Ticket{UserID: "aaa", Rank: 1010, EnqueuedAtMonotonicMS: 10}
	assert.True(t, Less(1000, sameAgeLowerRank, sameAgeHigherRank), "lower rank wins equal age and distance")

	sameEverythingA := Ticket{UserID: "a", Rank: 1010, EnqueuedAtMonotonicMS: 10}
	sameEverythingB := Ticket{UserID: "b", Rank: 1010, EnqueuedAtMonotonicMS: 10}
	assert.True(t, Less(1000, sameEverythingA, sameEverythingB), "lexicographically smaller user_id wins final tie")
}

func TestAgeMS_NeverNegative(t *testing.T) {
	tk := Ticket{EnqueuedAtMonotonicMS: 1000}
	assert.Equal(t, int64(0), tk.AgeMS(500))
	assert.Equal(t, int64(200), tk.AgeMS(1200))
}
