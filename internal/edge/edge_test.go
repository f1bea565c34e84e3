package edge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/rankmatch/internal/assignment"
	"github.com/dreamware/rankmatch/internal/claim"
	"github.com/dreamware/rankmatch/internal/rmconfig"
	"github.com/dreamware/rankmatch/internal/router"
	"github.com/dreamware/rankmatch/internal/ticket"
	"github.com/dreamware/rankmatch/internal/worker"
)

type stubRef struct {
	err error
}

func (s *stubRef) Enqueue(ctx context.Context, env worker.Envelope) error { return s.err }
func (s *stubRef) PeekNearest(ctx context.Context, rank, allowedDiff int, excludeUserID string, epoch int64) (ticket.Ticket, bool, error) {
	return ticket.Ticket{}, false, nil
}
func (s *stubRef) Reserve(ctx context.Context, userID string, rank int, enqueuedAtMS, epoch int64) (ticket.Ticket, error) {
	return ticket.Ticket{}, nil
}
func (s *stubRef) HealthCheck(ctx context.Context) error { return nil }

func newTestHandler(t *testing.T, refErr error) *Handler {
	t.Helper()
	rt := router.New()
	snap := assignment.Snapshot{Epoch: 1, Assignments: []assignment.Assignment{
		{ShardID: "shard-0", RangeStart: 0, RangeEnd: 999, NodeID: "node-a", Epoch: 1},
	}}
	rt.Update(snap, func(a assignment.Assignment) worker.Ref { return &stubRef{err: refErr} })
	return New(claim.New(4), rt, rmconfig.Defaults(), nil)
}

func TestEnqueue_Success(t *testing.T) {
	h := newTestHandler(t, nil)
	require.NoError(t, h.Enqueue(context.Background(), "alice", 500))
	assert.True(t, h.claims.Contains("alice"))
}

func TestEnqueue_InvalidRank(t *testing.T) {
	h := newTestHandler(t, nil)
	err := h.Enqueue(context.Background(), "alice", 999999)
	assert.ErrorIs(t, err, ErrInvalidRank)
	assert.False(t, h.claims.Contains("alice"))
}

func TestEnqueue_AlreadyQueuedRejected(t *testing.T) {
	h := newTestHandler(t, nil)
	require.NoError(t, h.Enqueue(context.Background(), "alice", 500))
	err := h.Enqueue(context.Background(), "alice", 600)
	assert.ErrorIs(t, err, claim.ErrAlreadyQueued)
}

func TestEnqueue_ReleasesClaimOnWorkerError(t *testing.T) {
	h := newTestHandler(t, worker.ErrOverloaded)
	err := h.Enqueue(context.Background(), "alice", 500)
	assert.ErrorIs(t, err, worker.ErrOverloaded)
	assert.False(t, h.claims.Contains("alice"), "claim must be released so the user can retry")
}

func TestEnqueue_UnroutedRankReleasesClaim(t *testing.T) {
	rt := router.New() // no Update call: empty table
	h := New(claim.New(4), rt, rmconfig.Defaults(), nil)

	err := h.Enqueue(context.Background(), "alice", 500)
	assert.ErrorIs(t, err, ErrUnrouted)
	assert.False(t, h.claims.Contains("alice"))
}

func TestEnqueue_EmptyUserIDRejected(t *testing.T) {
	h := newTestHandler(t, nil)
	err := h.Enqueue(context.Background(), "", 500)
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestEnqueue_StaleRoutingSnapshotReleasesClaim(t *testing.T) {
	rt := router.New()
	snap := assignment.Snapshot{Epoch: 1, Assignments: []assignment.Assignment{
		{ShardID: "shard-0", RangeStart: 0, RangeEnd: 999, NodeID: "node-a", Epoch: 1},
	}}
	rt.Update(snap, func(a assignment.Assignment) worker.Ref { return &stubRef{} })
	rt.NoteCoordinatorEpoch(2) // coordinator moved on; table not yet swapped

	h := New(claim.New(4), rt, rmconfig.Defaults(), nil)
	err := h.Enqueue(context.Background(), "alice", 500)
	assert.ErrorIs(t, err, ErrStaleRouting)
	assert.False(t, h.claims.Contains("alice"))
}
