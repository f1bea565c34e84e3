// Package manager implements PartitionManager: the per-node component that
// reconciles a received assignment.Snapshot into running workers and an
// up-to-date router.Router. It generalizes the teacher's cmd/node.Node,
// which only ever added shards on demand, into something that also tears
// down shards this node no longer owns and distinguishes "same shard, new
// epoch" from "same shard, same epoch". logDiff uses golang.org/x/exp/slices
// to diff the previous and new shard key sets for logging.
package manager

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/rankmatch/internal/assignment"
	"github.com/dreamware/rankmatch/internal/clusterrpc"
	"github.com/dreamware/rankmatch/internal/registry"
	"github.com/dreamware/rankmatch/internal/rmconfig"
	"github.com/dreamware/rankmatch/internal/rmlog"
	"github.com/dreamware/rankmatch/internal/router"
	"github.com/dreamware/rankmatch/internal/worker"
)

// NodeAddressBook resolves a node ID to the base URL other nodes use to
// reach it, as handed out at registration time.
type NodeAddressBook func(nodeID string) (addr string, ok bool)

// Manager owns the registry and router for one node and keeps both in
// sync with the latest assignment.Snapshot it has seen.
type Manager struct {
	nodeID    string
	cfg       rmconfig.Config
	registry  *registry.Registry
	router    *router.Router
	publisher worker.Publisher
	claims    worker.ClaimReleaser
	clock     func() int64
	addrBook  NodeAddressBook
	log       *rmlog.Logger

	mu         sync.Mutex
	lastKeys   []registry.Key
	debounce   *time.Timer
	debounceMu sync.Mutex
}

// New constructs a Manager for nodeID.
func New(nodeID string, cfg rmconfig.Config, reg *registry.Registry, rt *router.Router, publisher worker.Publisher, claims worker.ClaimReleaser, clock func() int64, addrBook NodeAddressBook, log *rmlog.Logger) *Manager {
	if log == nil {
		log = rmlog.Nop()
	}
	return &Manager{
		nodeID: nodeID, cfg: cfg, registry: reg, router: rt,
		publisher: publisher, claims: claims, clock: clock, addrBook: addrBook, log: log,
	}
}

// Reconcile brings the local worker set and the router table in line with
// snap: starts any worker newly assigned to this node, stops any worker
// this node no longer owns (by shard or by epoch), and rebuilds the
// router's table so every rank resolves correctly.
func (m *Manager) Reconcile(snap assignment.Snapshot) {
	keep := make(map[registry.Key]struct{}, len(snap.Assignments))
	var newKeys []registry.Key

	for _, a := range snap.Assignments {
		if a.NodeID != m.nodeID {
			continue
		}
		key := registry.Key{ShardID: a.ShardID, Epoch: a.Epoch}
		keep[key] = struct{}{}
		newKeys = append(newKeys, key)

		rangeStart, rangeEnd := a.RangeStart, a.RangeEnd
		neighbors := func() (worker.Ref, worker.Ref) {
			mid := (rangeStart + rangeEnd) / 2
			return m.router.Adjacent(mid)
		}
		m.registry.Start(m.workerConfig(a), neighbors, m.publisher, m.claims, m.clock)
	}

	m.logDiff(newKeys)
	m.registry.StopAllExcept(keep)

	m.router.Update(snap, func(a assignment.Assignment) worker.Ref {
		if a.NodeID == m.nodeID {
			if w, ok := m.registry.Get(registry.Key{ShardID: a.ShardID, Epoch: a.Epoch}); ok {
				return w
			}
			return nil
		}
		addr, ok := m.addrBook(a.NodeID)
		if !ok {
			return nil
		}
		return clusterrpc.New(addr, a.ShardID)
	})

	m.mu.Lock()
	m.lastKeys = newKeys
	m.mu.Unlock()
}

func (m *Manager) logDiff(newKeys []registry.Key) {
	m.mu.Lock()
	old := m.lastKeys
	m.mu.Unlock()

	for _, k := range newKeys {
		if !slices.Contains(old, k) {
			m.log.Info("shard assigned to this node", zap.String("key", k.String()))
		}
	}
	for _, k := range old {
		if !slices.Contains(newKeys, k) {
			m.log.Info("shard no longer assigned to this node", zap.String("key", k.String()))
		}
	}
}

func (m *Manager) workerConfig(a assignment.Assignment) worker.Config {
	return worker.Config{
		ShardID:         a.ShardID,
		RangeStart:      a.RangeStart,
		RangeEnd:        a.RangeEnd,
		Epoch:           a.Epoch,
		Backpressure:    m.cfg.BackpressureConfig(),
		Widening:        m.cfg.WideningConfig(),
		ImmediateDiff:   m.cfg.ImmediateMatchAllowedDiff,
		TickInterval:    time.Duration(m.cfg.TickIntervalMS) * time.Millisecond,
		MaxTickAttempts: m.cfg.MaxTickAttempts,
		MaxScanRanks:    m.cfg.MaxScanRanks,
		RPCTimeout:      time.Duration(m.cfg.RPCTimeoutMS) * time.Millisecond,
	}
}

// ReconcileDebounced schedules Reconcile(snap) to run after delay, canceling
// any previously scheduled-but-not-yet-fired reconcile. Rapid-fire
// broadcasts (e.g. several unhealthy-node callbacks in quick succession)
// collapse into a single reconcile against the latest snapshot.
//
// The router learns snap.Epoch immediately, ahead of the debounced apply,
// so Route calls made during the debounce window correctly report
// stale_routing_snapshot instead of silently routing against a table that
// is about to be replaced.
func (m *Manager) ReconcileDebounced(snap assignment.Snapshot, delay time.Duration) {
	m.router.NoteCoordinatorEpoch(snap.Epoch)

	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()
	if m.debounce != nil {
		m.debounce.Stop()
	}
	m.debounce = time.AfterFunc(delay, func() { m.Reconcile(snap) })
}

// ForceReconcile bypasses any pending debounce and reconciles snap
// immediately — the manual-rebalance admin endpoint's entry point.
func (m *Manager) ForceReconcile(snap assignment.Snapshot) {
	m.debounceMu.Lock()
	if m.debounce != nil {
		m.debounce.Stop()
		m.debounce = nil
	}
	m.debounceMu.Unlock()
	m.Reconcile(snap)
}

// Router exposes the manager's router for read-only use by the edge
// request handler.
func (m *Manager) Router() *router.Router { return m.router }
