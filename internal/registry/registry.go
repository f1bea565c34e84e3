// Package registry is the per-node process registry mapping (epoch,
// shard_id) to a running PartitionWorker. It generalizes cmd/node's Node
// type in the teacher repo — which kept a map[int]*shard.Shard under a
// single RWMutex — to a map keyed by epoch as well as shard, since a
// PartitionWorker's identity is pinned to the epoch it was started under:
// a reassignment doesn't mutate a worker in place, it starts a new one and
// stops the old.
package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/rankmatch/internal/rmlog"
	"github.com/dreamware/rankmatch/internal/worker"
)

// Key identifies one running worker by the shard it serves and the epoch
// it was started under.
type Key struct {
	ShardID string
	Epoch   int64
}

func (k Key) String() string { return fmt.Sprintf("%s@%d", k.ShardID, k.Epoch) }

type entry struct {
	w      *worker.Worker
	cancel context.CancelFunc
}

// Registry owns every PartitionWorker running in this process.
type Registry struct {
	mu      sync.RWMutex
	workers map[Key]*entry
	log     *rmlog.Logger
}

// New returns an empty Registry.
func New(log *rmlog.Logger) *Registry {
	if log == nil {
		log = rmlog.Nop()
	}
	return &Registry{workers: make(map[Key]*entry), log: log}
}

// Start constructs a worker for cfg, launches its actor loop, and
// registers it under (cfg.ShardID, cfg.Epoch). It is a no-op returning the
// existing worker if that key is already registered, matching the
// teacher's AddShard idempotency.
func (r *Registry) Start(cfg worker.Config, neighbors worker.NeighborResolver, publisher worker.Publisher, claims worker.ClaimReleaser, clock func() int64) *worker.Worker {
	key := Key{ShardID: cfg.ShardID, Epoch: cfg.Epoch}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.workers[key]; ok {
		return e.w
	}

	w := worker.New(cfg, neighbors, publisher, claims, clock, r.log)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	r.workers[key] = &entry{w: w, cancel: cancel}
	r.log.Info("worker registered", zap.String("key", key.String()))
	return w
}

// Stop cancels and unregisters the worker at key, if any.
func (r *Registry) Stop(key Key) {
	r.mu.Lock()
	e, ok := r.workers[key]
	if ok {
		delete(r.workers, key)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	e.cancel()
	r.log.Info("worker stopped", zap.String("key", key.String()))
}

// StopAllExcept cancels every worker not in keep — used after a
// reassignment lands a new epoch's workers and the previous epoch's
// workers must be torn down.
func (r *Registry) StopAllExcept(keep map[Key]struct{}) {
	r.mu.Lock()
	var toStop []*entry
	for k, e := range r.workers {
		if _, ok := keep[k]; !ok {
			toStop = append(toStop, e)
			delete(r.workers, k)
		}
	}
	r.mu.Unlock()

	for _, e := range toStop {
		e.cancel()
	}
}

// Latest returns the worker for shardID at the highest epoch currently
// registered, regardless of exactly which epoch that is. RPC handlers use
// this to dispatch a request to "whichever worker is currently serving
// this shard" — the worker itself is still the one that validates the
// epoch carried in the request against its own.
func (r *Registry) Latest(shardID string) (*worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entry
	var bestEpoch int64 = -1
	for k, e := range r.workers {
		if k.ShardID == shardID && k.Epoch > bestEpoch {
			best, bestEpoch = e, k.Epoch
		}
	}
	if best == nil {
		return nil, false
	}
	return best.w, true
}

// Get returns the worker at key, if registered.
func (r *Registry) Get(key Key) (*worker.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.workers[key]
	if !ok {
		return nil, false
	}
	return e.w, true
}

// Keys returns every currently registered key, for admin/info endpoints.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Key, 0, len(r.workers))
	for k := range r.workers {
		out = append(out, k)
	}
	return out
}
