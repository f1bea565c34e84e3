// Package health implements the coordinator-side node health monitor,
// generalized from the teacher's internal/coordinator.HealthMonitor: same
// poll-and-count-failures design, but logging through rmlog instead of the
// standard log package, and its unhealthy callback is wired to trigger an
// assignment.Coordinator.Recompute rather than a shard rebalance.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/rankmatch/internal/cluster"
	"github.com/dreamware/rankmatch/internal/rmlog"
)

// NodeHealth tracks one node's health as seen by the coordinator.
type NodeHealth struct {
	LastCheck        time.Time
	LastHealthy      time.Time
	NodeID           string
	Status           string // "healthy", "unhealthy", "unknown"
	ConsecutiveFails int
}

// Monitor polls every known node's /health endpoint on an interval and
// calls back once a node crosses the failure threshold, exactly the way
// the teacher's version feeds shard rebalancing — here it feeds
// assignment recomputation instead.
type Monitor struct {
	nodes       map[string]*NodeHealth
	httpClient  *http.Client
	checkFunc   func(addr string) error
	onUnhealthy func(nodeID string)
	interval    time.Duration
	maxFailures int
	log         *rmlog.Logger
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// New creates a Monitor that checks every interval, marking a node
// unhealthy after 3 consecutive failures with a 2s per-check timeout.
func New(interval time.Duration, log *rmlog.Logger) *Monitor {
	if log == nil {
		log = rmlog.Nop()
	}
	return &Monitor{
		interval:    interval,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		log:         log,
	}
}

// SetOnUnhealthy registers the callback fired the first time a node
// crosses the failure threshold (edge-triggered, not level-triggered).
func (m *Monitor) SetOnUnhealthy(callback func(nodeID string)) {
	m.onUnhealthy = callback
}

// SetCheckFunction overrides the default HTTP /health probe, for tests.
func (m *Monitor) SetCheckFunction(checkFunc func(addr string) error) {
	m.checkFunc = checkFunc
}

// Start runs the polling loop until ctx is canceled. Call in its own
// goroutine. nodeProvider is consulted fresh on every tick so a node
// added or removed between polls is picked up immediately.
func (m *Monitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	m.wg.Add(1)
	defer m.wg.Done()

	if m.checkFunc == nil {
		m.checkFunc = m.defaultHealthCheck
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("health monitor started", zap.Duration("interval", m.interval))
	m.checkAllNodes(nodeProvider())

	for {
		select {
		case <-ticker.C:
			m.checkAllNodes(nodeProvider())
		case <-ctx.Done():
			m.log.Info("health monitor stopping")
			return
		}
	}
}

// Wait blocks until Start's goroutine has returned, for graceful shutdown
// sequencing in cmd/coordinator.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) checkAllNodes(nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		current[n.ID] = true
		m.checkNode(n)
	}

	m.mu.Lock()
	for id := range m.nodes {
		if !current[id] {
			delete(m.nodes, id)
		}
	}
	m.mu.Unlock()
}

func (m *Monitor) checkNode(node cluster.NodeInfo) {
	m.mu.Lock()
	h, exists := m.nodes[node.ID]
	if !exists {
		h = &NodeHealth{NodeID: node.ID, Status: "unknown", LastCheck: time.Now(), LastHealthy: time.Now()}
		m.nodes[node.ID] = h
	}
	m.mu.Unlock()

	err := m.checkFunc(node.Addr)

	m.mu.Lock()
	h.LastCheck = time.Now()

	if err != nil {
		h.ConsecutiveFails++
		becameUnhealthy := h.ConsecutiveFails >= m.maxFailures && h.Status != "unhealthy"
		if h.ConsecutiveFails >= m.maxFailures {
			h.Status = "unhealthy"
		}
		m.mu.Unlock()

		if becameUnhealthy {
			m.log.Warn("node marked unhealthy", zap.String("node_id", node.ID), zap.Int("consecutive_fails", h.ConsecutiveFails))
			if m.onUnhealthy != nil {
				go m.onUnhealthy(node.ID)
			}
		}
		return
	}

	h.Status = "healthy"
	h.ConsecutiveFails = 0
	h.LastHealthy = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) defaultHealthCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	resp, err := m.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	return nil
}

// IsHealthy reports whether nodeID's last check succeeded.
func (m *Monitor) IsHealthy(nodeID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.nodes[nodeID]
	return ok && h.Status == "healthy"
}

// AllHealthy returns a defensive copy of every monitored node's health.
func (m *Monitor) AllHealthy() map[string]NodeHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]NodeHealth, len(m.nodes))
	for id, h := range m.nodes {
		out[id] = *h
	}
	return out
}
