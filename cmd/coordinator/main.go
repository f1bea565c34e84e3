// Command coordinator is rankmatch's control plane: it tracks which nodes
// are alive, computes the rank-range-to-shard-to-node assignment, and
// broadcasts each new assignment snapshot to every node so they can start
// or stop PartitionWorkers to match. It never touches a match queue
// itself — that's entirely the nodes' job.
//
// Configuration (environment):
//   - COORDINATOR_LISTEN: listen address (default ":8080")
//   - RANKMATCH_CONFIG: path to a tuning YAML file (optional); partition
//     count and rank range come from here
//   - HEALTH_CHECK_INTERVAL: Go duration string (default "5s")
package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/rankmatch/internal/assignment"
	"github.com/dreamware/rankmatch/internal/cluster"
	"github.com/dreamware/rankmatch/internal/health"
	"github.com/dreamware/rankmatch/internal/rmconfig"
	"github.com/dreamware/rankmatch/internal/rmlog"
)

func main() {
	listen := getenv("COORDINATOR_LISTEN", ":8080")

	log := rmlog.New()
	defer log.Sync()

	cfg, err := rmconfig.Load(getenv("RANKMATCH_CONFIG", ""))
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}

	healthInterval := 5 * time.Second
	if v := os.Getenv("HEALTH_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			healthInterval = d
		}
	}

	srv := newServer(cfg, healthInterval, log)

	ctx, cancelHealth := context.WithCancel(context.Background())
	go srv.healthMonitor.Start(ctx, srv.nodeSnapshot)

	mux := http.NewServeMux()
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/nodes", srv.handleListNodes)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/assignments", srv.handleAssignments)
	mux.HandleFunc("/assignments/rebalance", srv.handleRebalance)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("coordinator listening", zap.String("listen", listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stdlog.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("stopping health monitor")
	cancelHealth()
	srv.healthMonitor.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	log.Info("coordinator stopped")
}

// server holds the coordinator's runtime state: the set of registered
// nodes and the assignment.Coordinator that turns that set into a
// versioned rank-range partitioning.
type server struct {
	cfg           rmconfig.Config
	assign        *assignment.Coordinator
	healthMonitor *health.Monitor
	log           *rmlog.Logger

	mu    sync.RWMutex
	nodes []cluster.NodeInfo
}

func newServer(cfg rmconfig.Config, healthInterval time.Duration, log *rmlog.Logger) *server {
	s := &server{
		cfg:           cfg,
		assign:        assignment.New(cfg.RankMin, cfg.RankMax, cfg.PartitionCount),
		healthMonitor: health.New(healthInterval, log),
		log:           log,
	}
	s.healthMonitor.SetOnUnhealthy(func(nodeID string) {
		log.Warn("node unhealthy, recomputing assignments", zap.String("node_id", nodeID))
		s.removeNode(nodeID)
		s.recomputeAndBroadcast(false)
	})
	return s
}

func (s *server) nodeSnapshot() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cluster.NodeInfo(nil), s.nodes...)
}

func (s *server) removeNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == nodeID })
	if idx >= 0 {
		s.nodes = append(s.nodes[:idx], s.nodes[idx+1:]...)
	}
}

// handleRegister adds or updates a node, then recomputes and broadcasts a
// fresh assignment snapshot so the new node gets its shards immediately.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	isNew := idx < 0
	if isNew {
		s.nodes = append(s.nodes, req.Node)
	} else {
		s.nodes[idx] = req.Node
	}
	s.mu.Unlock()

	s.log.Info("node registered", zap.String("node_id", req.Node.ID), zap.String("addr", req.Node.Addr), zap.Bool("new", isNew))
	s.recomputeAndBroadcast(false)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.nodeSnapshot())
}

func (s *server) handleAssignments(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.assign.Current())
}

// handleRebalance is the manual admin trigger for recomputing assignments
// outside the normal register/unhealthy-driven path, for operators forcing
// a rebalance after manually fixing an imbalance.
func (s *server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.recomputeAndBroadcast(true)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.assign.Current())
}

// recomputeAndBroadcast recomputes the assignment snapshot from the
// current node list and POSTs it to every node's /assignments endpoint.
// force appends ?force=true so nodes bypass their reconcile debounce —
// used for the manual rebalance endpoint where an operator wants the
// change to land immediately.
func (s *server) recomputeAndBroadcast(force bool) {
	nodeIDs := make([]string, 0)
	for _, n := range s.nodeSnapshot() {
		nodeIDs = append(nodeIDs, n.ID)
	}
	snap := s.assign.Recompute(nodeIDs)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	for _, n := range s.nodeSnapshot() {
		url := n.Addr + "/assignments"
		if force {
			url += "?force=true"
		}
		if err := cluster.PostJSON(ctx, url, snap, nil); err != nil {
			s.log.Warn("broadcast assignment failed", zap.String("node_id", n.ID), zap.Error(err))
		}
	}
	s.log.Info("assignments broadcast", zap.Int64("epoch", snap.Epoch), zap.Int("assignments", len(snap.Assignments)), zap.Int("nodes", len(nodeIDs)))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
