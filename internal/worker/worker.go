// Package worker implements PartitionWorker: the per-shard actor that owns
// one queue.State and serializes every enqueue, peek, reserve, and tick
// through its own inbox. No other component ever touches a worker's
// queue.State directly — this is the sole mutator, exactly as
// internal/shard.Shard was the sole mutator of its storage backend in the
// teacher repo, generalized from a key-value store to a ranked ticket
// queue.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/rankmatch/internal/backpressure"
	"github.com/dreamware/rankmatch/internal/queue"
	"github.com/dreamware/rankmatch/internal/rmlog"
	"github.com/dreamware/rankmatch/internal/search"
	"github.com/dreamware/rankmatch/internal/ticket"
	"github.com/dreamware/rankmatch/internal/widen"
)

// Errors returned by worker operations. These are the Go-side spelling of
// the error taxonomy in the spec's §7 table.
var (
	ErrStaleEpoch    = errors.New("stale_epoch")
	ErrOverloaded    = errors.New("overloaded")
	ErrOutOfRange    = errors.New("out_of_range")
	ErrEpochMismatch = errors.New("epoch_mismatch")
	ErrNotFound      = errors.New("not_found")
)

// Envelope is the enqueue request shape, carrying the caller's view of
// epoch and shard so a routing race shows up as a clean stale_epoch error
// rather than a silent misroute.
type Envelope struct {
	Epoch   int64
	ShardID string
	UserID  string
	Rank    int
}

// Ref is the interface every caller (RequestHandler, a neighboring worker's
// tick, PartitionManager) uses to reach a worker — whether it lives in this
// process or another node. *Worker itself is the in-process
// implementation; internal/clusterrpc provides the cross-node one. Treating
// local and remote workers through the same interface is what lets tick
// processing peek a neighbor without caring where it runs.
type Ref interface {
	Enqueue(ctx context.Context, env Envelope) error
	PeekNearest(ctx context.Context, rank, allowedDiff int, excludeUserID string, epoch int64) (ticket.Ticket, bool, error)
	Reserve(ctx context.Context, userID string, rank int, enqueuedAtMS, epoch int64) (ticket.Ticket, error)
	HealthCheck(ctx context.Context) error
}

// Config bundles the tuning parameters a worker needs at construction.
// These are the projections of rmconfig.Config relevant to one shard.
type Config struct {
	ShardID         string
	RangeStart      int
	RangeEnd        int
	Epoch           int64
	Backpressure    backpressure.Config
	Widening        widen.Config
	ImmediateDiff   int
	TickInterval    time.Duration
	MaxTickAttempts int
	MaxScanRanks    int
	RPCTimeout      time.Duration
	MailboxCapacity int
}

// NeighborResolver returns the current left (lower range) and right (higher
// range) neighbor Refs for this worker's boundaries, or nil when no
// neighbor exists (edge of the global rank range) or is currently
// unreachable. It is called fresh on every tick, so it must reflect the
// live routing table rather than a value captured at worker construction.
type NeighborResolver func() (left, right Ref)

// Publisher is the sink a worker hands finalized matches to. Like the sinks
// in internal/publish, it is best-effort, never blocks the worker for long,
// and never returns an error the worker must act on.
type Publisher interface {
	PublishMatch(a, b ticket.Ticket)
}

// ClaimReleaser lets the worker release both sides' claims on match
// finalization without depending on the whole internal/claim package API.
type ClaimReleaser interface {
	Release(userID string)
}

// Worker is a single-threaded actor owning one queue.State. Create with New
// and run with Run in its own goroutine; all other interaction happens
// through its exported methods (Enqueue, PeekNearest, Reserve, HealthCheck),
// which run their work on the actor goroutine via the inbox.
type Worker struct {
	cfg       Config
	state     *queue.State
	neighbors NeighborResolver
	publisher Publisher
	claims    ClaimReleaser
	clock     func() int64 // monotonic milliseconds
	log       *rmlog.Logger

	inbox   chan call
	mailbox int32 // atomic: approximate pending-call depth for backpressure
	stopped chan struct{}
}

// call is one actor message: a closure that runs on the worker goroutine
// plus a reply channel the caller blocks on. Using a closure keeps the
// inbox a single channel type regardless of which public method enqueued
// the call, mirroring the "variant over typed messages" design note with
// less boilerplate than a tagged union would need in Go.
type call struct {
	run  func()
	done chan struct{}
}

// New constructs a Worker. neighbors, publisher, and claims may be
// supplied as no-ops in tests that don't exercise cross-shard or
// finalization behavior.
func New(cfg Config, neighbors NeighborResolver, publisher Publisher, claims ClaimReleaser, clock func() int64, log *rmlog.Logger) *Worker {
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = 256
	}
	if log == nil {
		log = rmlog.Nop()
	}
	return &Worker{
		cfg:       cfg,
		state:     queue.New(queue.Config{ShardID: cfg.ShardID, RangeStart: cfg.RangeStart, RangeEnd: cfg.RangeEnd, Epoch: cfg.Epoch, MaxScanRank: cfg.MaxScanRanks}),
		neighbors: neighbors,
		publisher: publisher,
		claims:    claims,
		clock:     clock,
		log:       log.With(zap.String("shard_id", cfg.ShardID), zap.Int64("epoch", cfg.Epoch)),
		inbox:     make(chan call, cfg.MailboxCapacity),
		stopped:   make(chan struct{}),
	}
}

// Run executes the actor loop until ctx is canceled.
// Call this in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	interval := w.cfg.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.log.Info("worker started")
	for {
		select {
		case c := <-w.inbox:
			atomic.AddInt32(&w.mailbox, -1)
			c.run()
			close(c.done)
		case <-ticker.C:
			w.runTick()
		case <-ctx.Done():
			w.log.Info("worker stopping: context canceled")
			close(w.stopped)
			return
		}
	}
}

// Stopped returns a channel closed once Run has exited.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }

// send enqueues fn onto the actor inbox and waits for it to run, honoring
// ctx's deadline. The caller never touches w.state directly — this is the
// only path in or out of the actor.
func (w *Worker) send(ctx context.Context, fn func()) error {
	c := call{run: fn, done: make(chan struct{})}
	atomic.AddInt32(&w.mailbox, 1)
	select {
	case w.inbox <- c:
	case <-ctx.Done():
		atomic.AddInt32(&w.mailbox, -1)
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) mailboxDepth() int { return int(atomic.LoadInt32(&w.mailbox)) }

// Enqueue implements Ref.Enqueue's logic on the actor goroutine. The order
// of checks is load-bearing: epoch, then overload, then range — cheapest
// and most load-shedding checks first.
func (w *Worker) Enqueue(ctx context.Context, env Envelope) error {
	var outErr error
	err := w.send(ctx, func() {
		if env.Epoch != w.cfg.Epoch {
			outErr = ErrStaleEpoch
			return
		}
		if backpressure.CheckOverload(w.cfg.Backpressure, w.mailboxDepth(), w.state.QueuedCount()) {
			outErr = ErrOverloaded
			return
		}
		if env.Rank < w.cfg.RangeStart || env.Rank > w.cfg.RangeEnd {
			outErr = ErrOutOfRange
			return
		}

		t := ticket.Ticket{UserID: env.UserID, Rank: env.Rank, EnqueuedAtMonotonicMS: w.clock()}

		if opponent, found := search.PeekBestOpponent(w.state, t.Rank, w.cfg.ImmediateDiff, t.UserID); found {
			if search.TakeBestOpponent(w.state, opponent) {
				w.finalize(t, opponent)
				return
			}
		}
		w.state.Enqueue(t)
	})
	if err != nil {
		return err
	}
	return outErr
}

// PeekNearest implements the read-only cross-shard RPC used by a
// neighbor's tick. It runs the same search as a local match attempt for
// the given rank and excluded user; nothing is stored or removed.
func (w *Worker) PeekNearest(ctx context.Context, rank, allowedDiff int, excludeUserID string, epoch int64) (ticket.Ticket, bool, error) {
	var result ticket.Ticket
	var found bool
	var outErr error
	err := w.send(ctx, func() {
		if epoch != w.cfg.Epoch {
			outErr = ErrEpochMismatch
			return
		}
		result, found = search.PeekBestOpponent(w.state, rank, allowedDiff, excludeUserID)
	})
	if err != nil {
		return ticket.Ticket{}, false, err
	}
	return result, found, outErr
}

// Reserve implements the write RPC that is the second phase of a
// cross-shard match commit. It removes the ticket but deliberately does
// not release any claim — the caller (the worker that initiated the tick)
// owns finalization, per the spec's "reserve is pure state-transfer"
// contract.
func (w *Worker) Reserve(ctx context.Context, userID string, rank int, enqueuedAtMS, epoch int64) (ticket.Ticket, error) {
	var result ticket.Ticket
	var outErr error
	err := w.send(ctx, func() {
		if epoch != w.cfg.Epoch {
			outErr = ErrEpochMismatch
			return
		}
		expected := ticket.Ticket{UserID: userID, Rank: rank, EnqueuedAtMonotonicMS: enqueuedAtMS}
		if !w.state.DequeueHeadIfMatches(rank, expected) {
			outErr = ErrNotFound
			return
		}
		result = expected
	})
	if err != nil {
		return ticket.Ticket{}, err
	}
	return result, outErr
}

// HealthCheck is a trivial liveness probe that round-trips through the actor
// inbox; nodes expose it at /rpc/shard/{id}/health.
func (w *Worker) HealthCheck(ctx context.Context) error {
	return w.send(ctx, func() {})
}

// QueuedCount reports the current queue size, for admin/info endpoints.
func (w *Worker) QueuedCount() int { return w.state.QueuedCount() }

// finalize completes a match, local or cross-shard: both tickets are already removed from
// queue state by the caller; this releases both claims and publishes the
// match. Must be called from the actor goroutine.
func (w *Worker) finalize(a, b ticket.Ticket) {
	if w.claims != nil {
		w.claims.Release(a.UserID)
		w.claims.Release(b.UserID)
	}
	if w.publisher != nil {
		w.publisher.PublishMatch(a, b)
	}
	w.log.Debug("match finalized", zap.String("user_a", a.UserID), zap.String("user_b", b.UserID))
}
