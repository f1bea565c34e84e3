package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rankmatch/internal/ticket"
)

func cfg() Config { return Config{ShardID: "p-00000-00999", RangeStart: 0, RangeEnd: 999} }

func TestEnqueueDequeue_FIFO(t *testing.T) {
	s := New(cfg())
	a := ticket.Ticket{UserID: "a", Rank: 500, EnqueuedAtMonotonicMS: 1}
	b := ticket.Ticket{UserID: "b", Rank: 500, EnqueuedAtMonotonicMS: 2}
	s.Enqueue(a)
	s.Enqueue(b)
	require.Equal(t, 2, s.QueuedCount())
	require.Equal(t, []int{500}, s.NonEmptyRanks())

	got, ok := s.DequeueHead(500)
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.Equal(t, 1, s.QueuedCount())

	got, ok = s.DequeueHead(500)
	require.True(t, ok)
	assert.Equal(t, b, got)
	assert.Equal(t, 0, s.QueuedCount())
	assert.Empty(t, s.NonEmptyRanks())
}

func TestNonEmptyRanks_StaysSorted(t *testing.T) {
	s := New(cfg())
	for _, r := range []int{500, 100, 900, 100, 300} {
		s.Enqueue(ticket.Ticket{UserID: "u", Rank: r})
	}
	assert.Equal(t, []int{100, 300, 500, 900}, s.NonEmptyRanks())
}

func TestDequeueHeadIfMatches_OnlyOneWinnerRace(t *testing.T) {
	s := New(cfg())
	tk := ticket.Ticket{UserID: "a", Rank: 500, EnqueuedAtMonotonicMS: 1}
	s.Enqueue(tk)

	firstWins := s.DequeueHeadIfMatches(500, tk)
	secondWins := s.DequeueHeadIfMatches(500, tk)
	assert.True(t, firstWins)
	assert.False(t, secondWins, "only one caller may win the race for the same ticket")
}

func TestDequeueHeadIfMatches_MismatchLeavesStateUntouched(t *testing.T) {
	s := New(cfg())
	tk := ticket.Ticket{UserID: "a", Rank: 500, EnqueuedAtMonotonicMS: 1}
	s.Enqueue(tk)

	other := ticket.Ticket{UserID: "b", Rank: 500, EnqueuedAtMonotonicMS: 2}
	assert.False(t, s.DequeueHeadIfMatches(500, other))
	assert.Equal(t, 1, s.QueuedCount())
}

func TestEnqueueFront_RollbackPreservesAge(t *testing.T) {
	s := New(cfg())
	existing := ticket.Ticket{UserID: "existing", Rank: 500, EnqueuedAtMonotonicMS: 5}
	s.Enqueue(existing)

	rollback := ticket.Ticket{UserID: "rolledback", Rank: 500, EnqueuedAtMonotonicMS: 1}
	s.EnqueueFront(rollback)

	head, ok := s.PeekHead(500)
	require.True(t, ok)
	assert.Equal(t, rollback, head, "rolled-back requester must be at the head with its original age")
}

func TestPeekHeadSkippingUser(t *testing.T) {
	s := New(cfg())
	a := ticket.Ticket{UserID: "a", Rank: 500, EnqueuedAtMonotonicMS: 1}
	b := ticket.Ticket{UserID: "b", Rank: 500, EnqueuedAtMonotonicMS: 2}
	s.Enqueue(a)
	s.Enqueue(b)

	got, ok := s.PeekHeadSkippingUser(500, "a")
	require.True(t, ok)
	assert.Equal(t, b, got)

	_, ok = s.PeekHeadSkippingUser(500, "a")
	require.True(t, ok) // peek never mutates
	got2, _ := s.PeekHead(500)
	assert.Equal(t, a, got2)
}

func TestPeekHeadSkippingUser_ExcludedSoleTicketYieldsNothing(t *testing.T) {
	s := New(cfg())
	a := ticket.Ticket{UserID: "a", Rank: 500}
	s.Enqueue(a)

	_, ok := s.PeekHeadSkippingUser(500, "a")
	assert.False(t, ok, "single-element queue headed by the excluded user yields no candidate")
}
