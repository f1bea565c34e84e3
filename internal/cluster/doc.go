// Package cluster provides the node-to-node and node-to-coordinator
// membership types and JSON-over-HTTP transport helpers used throughout
// rankmatch, implementing the same coordinator-hub topology as the
// teacher's own cluster package, adapted from key/shard membership to
// rank-range/shard membership.
//
// # Architecture
//
// A single coordinator tracks every node's NodeInfo and computes the
// current assignment.Snapshot (see internal/assignment); nodes register
// on startup and poll the coordinator's /nodes endpoint to keep their own
// view of the cluster current. This package only carries the wire types
// and the PostJSON/GetJSON helpers both sides call — it has no opinion on
// what a request or response means, unlike the coordinator and node
// binaries that build on it.
//
// # Communication protocol
//
// Node registration (POST {coordinator}/register): a node announces its
// ID and address via RegisterRequest; the coordinator responds 204 and
// recomputes + broadcasts a fresh assignment.Snapshot.
//
// Node listing (GET {coordinator}/nodes): returns the coordinator's
// current []NodeInfo, polled periodically by every node to keep its
// node-ID-to-address cache (see cmd/node's addrBook) fresh.
//
// Assignment push (POST {node}/assignments): the coordinator broadcasts
// a newly computed assignment.Snapshot to every node whenever
// membership changes.
//
// # Concurrency
//
// PostJSON and GetJSON are safe for concurrent use — each call opens its
// own request against a shared *http.Client and holds no package-level
// mutable state.
package cluster
