// Command node runs one rankmatch node: it hosts zero or more
// PartitionWorkers, accepts client enqueue requests and routes them to
// whichever shard — local or remote — currently owns the requested rank,
// answers cross-node RPCs for its own shards, and applies assignment
// snapshots broadcast by the coordinator.
//
// Configuration (environment):
//   - NODE_ID: unique node identifier (required)
//   - NODE_LISTEN: listen address (default ":8081")
//   - NODE_ADDR: public address other nodes use to reach this one
//     (default "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: coordinator base URL (required)
//   - RANKMATCH_CONFIG: path to a tuning YAML file (optional)
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/rankmatch/internal/assignment"
	"github.com/dreamware/rankmatch/internal/claim"
	"github.com/dreamware/rankmatch/internal/cluster"
	"github.com/dreamware/rankmatch/internal/clusterrpc"
	"github.com/dreamware/rankmatch/internal/edge"
	"github.com/dreamware/rankmatch/internal/manager"
	"github.com/dreamware/rankmatch/internal/publish"
	"github.com/dreamware/rankmatch/internal/registry"
	"github.com/dreamware/rankmatch/internal/rmconfig"
	"github.com/dreamware/rankmatch/internal/rmlog"
	"github.com/dreamware/rankmatch/internal/router"
	"github.com/dreamware/rankmatch/internal/worker"
)

// logFatal is a variable so tests can intercept a fatal condition without
// terminating the test process.
var logFatal = log.Fatalf

// addrBook is a concurrency-safe node-id-to-address cache, refreshed
// periodically from the coordinator's /nodes list. Assignment snapshots
// name shards by owning node ID, not address, so RPC dispatch needs this
// side channel to resolve "node-b" to something dialable.
type addrBook struct {
	mu   sync.RWMutex
	byID map[string]string
}

func newAddrBook() *addrBook { return &addrBook{byID: make(map[string]string)} }

func (a *addrBook) get(nodeID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	addr, ok := a.byID[nodeID]
	return addr, ok
}

func (a *addrBook) replace(nodes []cluster.NodeInfo) {
	next := make(map[string]string, len(nodes))
	for _, n := range nodes {
		next[n.ID] = n.Addr
	}
	a.mu.Lock()
	a.byID = next
	a.mu.Unlock()
}

func main() {
	nodeID := mustGetenv("NODE_ID")
	listen := getenv("NODE_LISTEN", ":8081")
	public := getenv("NODE_ADDR", "http://127.0.0.1:8081")
	coord := mustGetenv("COORDINATOR_ADDR")

	log := rmlog.New()
	defer log.Sync()

	cfg, err := rmconfig.Load(getenv("RANKMATCH_CONFIG", ""))
	if err != nil {
		logFatal("load config: %v", err)
	}

	claims := claim.New(cfg.UserIndexShardCount)
	reg := registry.New(log)
	rt := router.New()
	wsFanout := publish.NewWSFanout(log)
	channelSink := publish.NewChannelSink(256)
	pub := publish.NewMulti(channelSink, wsFanout)
	addrs := newAddrBook()
	clock := func() int64 { return time.Now().UnixMilli() }

	mgr := manager.New(nodeID, cfg, reg, rt, pub, claims, clock, addrs.get, log)
	edgeHandler := edge.New(claims, rt, cfg, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		handleNodeInfo(nodeID, reg, wsFanout, w)
	})
	mux.HandleFunc("/enqueue", func(w http.ResponseWriter, r *http.Request) {
		handleEnqueue(edgeHandler, cfg, w, r)
	})
	mux.HandleFunc("/assignments", func(w http.ResponseWriter, r *http.Request) {
		handleAssignments(mgr, w, r)
	})
	mux.Handle("/ws/matches", wsFanout)
	mux.HandleFunc("/rpc/shard/", func(w http.ResponseWriter, r *http.Request) {
		handleShardRPC(reg, cfg, w, r)
	})

	s := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("node listening", zap.String("node_id", nodeID), zap.String("listen", listen), zap.String("public", public))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	ctx, cancelPoll := context.WithCancel(context.Background())
	register(ctx, coord, nodeID, public, log)
	go pollNodeList(ctx, coord, addrs, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancelPoll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown error", zap.Error(err))
	}
	log.Info("node stopped")
}

// register attempts to register this node with the coordinator, retrying
// up to 10 times on a 400ms spacing to absorb coordinator startup delays.
func register(ctx context.Context, coord, id, addr string, log *rmlog.Logger) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var lastErr error

	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, coord+"/register", body, nil)
		if lastErr == nil {
			log.Info("registered with coordinator", zap.String("coordinator", coord))
			return
		}
		log.Warn("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		time.Sleep(400 * time.Millisecond)
	}
	logFatal("failed to register with coordinator: %v", lastErr)
}

// pollNodeList periodically refreshes the local node-address cache from
// the coordinator, so cross-shard RPC targets stay current even between
// assignment broadcasts.
func pollNodeList(ctx context.Context, coord string, addrs *addrBook, log *rmlog.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var nodes []cluster.NodeInfo
			if err := cluster.GetJSON(ctx, coord+"/nodes", &nodes); err != nil {
				log.Debug("node list poll failed", zap.Error(err))
				continue
			}
			addrs.replace(nodes)
		}
	}
}

type enqueueBody struct {
	UserID string `json:"user_id"`
	Rank   int    `json:"rank"`
}

func handleEnqueue(h *edge.Handler, cfg rmconfig.Config, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(cfg.EnqueueTimeoutMS)*time.Millisecond)
	defer cancel()

	if err := h.Enqueue(ctx, body.UserID, body.Rank); err != nil {
		writeEnqueueError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeEnqueueError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case strings.Contains(err.Error(), "invalid_rank"), strings.Contains(err.Error(), "must be a non-empty string"):
		status = http.StatusBadRequest
	case strings.Contains(err.Error(), "already_queued"):
		status = http.StatusConflict
	case strings.Contains(err.Error(), "overloaded"), strings.Contains(err.Error(), "stale_routing_snapshot"):
		status = http.StatusServiceUnavailable
	case strings.Contains(err.Error(), "unrouted"), strings.Contains(err.Error(), "out_of_range"):
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

// assignmentSnapshotWire mirrors assignment.Snapshot's JSON shape; kept
// local rather than imported so this handler doesn't need the coordinator's
// own assignment.Coordinator type, only the data it broadcasts.
type assignmentSnapshotWire struct {
	Epoch       int64 `json:"epoch"`
	Assignments []struct {
		ShardID    string `json:"shard_id"`
		RangeStart int    `json:"range_start"`
		RangeEnd   int    `json:"range_end"`
		NodeID     string `json:"node_id"`
		Epoch      int64  `json:"epoch"`
	} `json:"assignments"`
}

func handleAssignments(mgr *manager.Manager, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var wire assignmentSnapshotWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	assignments := make([]assignment.Assignment, 0, len(wire.Assignments))
	for _, a := range wire.Assignments {
		assignments = append(assignments, assignment.Assignment{
			ShardID: a.ShardID, RangeStart: a.RangeStart, RangeEnd: a.RangeEnd, NodeID: a.NodeID, Epoch: a.Epoch,
		})
	}
	snap := assignment.Snapshot{Epoch: wire.Epoch, Assignments: assignments}
	if r.URL.Query().Get("force") == "true" {
		mgr.ForceReconcile(snap)
	} else {
		mgr.ReconcileDebounced(snap, 200*time.Millisecond)
	}
	w.WriteHeader(http.StatusOK)
}

func handleNodeInfo(nodeID string, reg *registry.Registry, ws *publish.WSFanout, w http.ResponseWriter) {
	keys := reg.Keys()
	shardIDs := make([]string, 0, len(keys))
	queued := 0
	for _, k := range keys {
		shardIDs = append(shardIDs, k.String())
		if wk, ok := reg.Get(k); ok {
			queued += wk.QueuedCount()
		}
	}
	resp := map[string]any{
		"node_id":         nodeID,
		"shards":          shardIDs,
		"queued_total":    queued,
		"ws_client_count": ws.ClientCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleShardRPC dispatches POST /rpc/shard/{id}/{enqueue,peek,reserve} and
// GET /rpc/shard/{id}/health to whichever worker is currently registered
// for that shard, using Registry.Latest since the caller may not know the
// exact epoch a shard is running under.
func handleShardRPC(reg *registry.Registry, cfg rmconfig.Config, w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/rpc/shard/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	shardID, op := parts[0], parts[1]

	wk, ok := reg.Latest(shardID)
	if !ok {
		http.Error(w, "shard not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(cfg.RPCTimeoutMS)*time.Millisecond)
	defer cancel()

	switch op {
	case "enqueue":
		var req clusterrpc.EnqueueRequest
		json.NewDecoder(r.Body).Decode(&req)
		err := wk.Enqueue(ctx, worker.Envelope{Epoch: req.Epoch, ShardID: shardID, UserID: req.UserID, Rank: req.Rank})
		json.NewEncoder(w).Encode(clusterrpc.EnqueueResponse{Error: clusterrpc.ErrorToWire(err)})
	case "peek":
		var req clusterrpc.PeekRequest
		json.NewDecoder(r.Body).Decode(&req)
		t, found, err := wk.PeekNearest(ctx, req.Rank, req.AllowedDiff, req.ExcludeUserID, req.Epoch)
		json.NewEncoder(w).Encode(clusterrpc.PeekResponse{Found: found, Ticket: clusterrpc.ToWire(t), Error: clusterrpc.ErrorToWire(err)})
	case "reserve":
		var req clusterrpc.ReserveRequest
		json.NewDecoder(r.Body).Decode(&req)
		t, err := wk.Reserve(ctx, req.UserID, req.Rank, req.EnqueuedAtMS, req.Epoch)
		json.NewEncoder(w).Encode(clusterrpc.ReserveResponse{Ticket: clusterrpc.ToWire(t), Error: clusterrpc.ErrorToWire(err)})
	case "health":
		if err := wk.HealthCheck(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustGetenv(k string) string {
	v := os.Getenv(k)
	if v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
