// Package clusterrpc is the cross-node implementation of worker.Ref: a
// thin JSON-over-HTTP client shaped so closely after the local in-process
// call that a PartitionWorker's tick can peek or reserve against a
// neighbor on another node without any special-casing. It rides on
// internal/cluster's PostJSON/GetJSON, the same transport the teacher uses
// for node registration and broadcasts. The request/response types here
// are exported so cmd/node's HTTP handlers decode the identical wire
// shape rather than keep a second, hand-synced copy.
package clusterrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreamware/rankmatch/internal/cluster"
	"github.com/dreamware/rankmatch/internal/ticket"
	"github.com/dreamware/rankmatch/internal/worker"
)

// Client is a worker.Ref backed by RPC calls to one shard hosted on a
// remote node.
type Client struct {
	baseURL string
	shardID string
}

// New returns a Client addressing shardID on the node reachable at
// baseURL (e.g. "http://10.0.1.4:8081").
func New(baseURL, shardID string) *Client {
	return &Client{baseURL: baseURL, shardID: shardID}
}

var _ worker.Ref = (*Client)(nil)

// WireTicket is ticket.Ticket's JSON wire shape.
type WireTicket struct {
	UserID                string `json:"user_id"`
	Rank                  int    `json:"rank"`
	EnqueuedAtMonotonicMS int64  `json:"enqueued_at_monotonic_ms"`
}

// ToWire converts a ticket.Ticket to its wire shape.
func ToWire(t ticket.Ticket) WireTicket {
	return WireTicket{UserID: t.UserID, Rank: t.Rank, EnqueuedAtMonotonicMS: t.EnqueuedAtMonotonicMS}
}

// FromWire converts a wire ticket back to a ticket.Ticket.
func FromWire(w WireTicket) ticket.Ticket {
	return ticket.Ticket{UserID: w.UserID, Rank: w.Rank, EnqueuedAtMonotonicMS: w.EnqueuedAtMonotonicMS}
}

// ErrorFromWire maps the error taxonomy's string codes, as carried in RPC
// response bodies, back to the sentinel errors worker.Ref callers expect —
// so a caller can errors.Is a cross-shard RPC result the same way it would
// a local call.
func ErrorFromWire(code string) error {
	switch code {
	case "":
		return nil
	case "stale_epoch":
		return worker.ErrStaleEpoch
	case "overloaded":
		return worker.ErrOverloaded
	case "out_of_range":
		return worker.ErrOutOfRange
	case "epoch_mismatch":
		return worker.ErrEpochMismatch
	case "not_found":
		return worker.ErrNotFound
	default:
		return fmt.Errorf("clusterrpc: remote error: %s", code)
	}
}

// ErrorToWire is the inverse of ErrorFromWire, used by the RPC server side
// (cmd/node's transport handlers) to encode a worker error for the wire.
func ErrorToWire(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, worker.ErrStaleEpoch):
		return "stale_epoch"
	case errors.Is(err, worker.ErrOverloaded):
		return "overloaded"
	case errors.Is(err, worker.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, worker.ErrEpochMismatch):
		return "epoch_mismatch"
	case errors.Is(err, worker.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// EnqueueRequest is the wire body for POST /rpc/shard/{id}/enqueue.
type EnqueueRequest struct {
	Epoch  int64  `json:"epoch"`
	UserID string `json:"user_id"`
	Rank   int    `json:"rank"`
}

// EnqueueResponse is the wire body returned from /rpc/shard/{id}/enqueue.
type EnqueueResponse struct {
	Error string `json:"error,omitempty"`
}

// Enqueue implements worker.Ref.
func (c *Client) Enqueue(ctx context.Context, env worker.Envelope) error {
	var resp EnqueueResponse
	url := fmt.Sprintf("%s/rpc/shard/%s/enqueue", c.baseURL, c.shardID)
	req := EnqueueRequest{Epoch: env.Epoch, UserID: env.UserID, Rank: env.Rank}
	if err := cluster.PostJSON(ctx, url, req, &resp); err != nil {
		return err
	}
	return ErrorFromWire(resp.Error)
}

// PeekRequest is the wire body for POST /rpc/shard/{id}/peek.
type PeekRequest struct {
	Rank          int    `json:"rank"`
	AllowedDiff   int    `json:"allowed_diff"`
	ExcludeUserID string `json:"exclude_user_id"`
	Epoch         int64  `json:"epoch"`
}

// PeekResponse is the wire body returned from /rpc/shard/{id}/peek.
type PeekResponse struct {
	Found  bool       `json:"found"`
	Ticket WireTicket `json:"ticket"`
	Error  string     `json:"error,omitempty"`
}

// PeekNearest implements worker.Ref.
func (c *Client) PeekNearest(ctx context.Context, rank, allowedDiff int, excludeUserID string, epoch int64) (ticket.Ticket, bool, error) {
	var resp PeekResponse
	url := fmt.Sprintf("%s/rpc/shard/%s/peek", c.baseURL, c.shardID)
	req := PeekRequest{Rank: rank, AllowedDiff: allowedDiff, ExcludeUserID: excludeUserID, Epoch: epoch}
	if err := cluster.PostJSON(ctx, url, req, &resp); err != nil {
		return ticket.Ticket{}, false, err
	}
	if err := ErrorFromWire(resp.Error); err != nil {
		return ticket.Ticket{}, false, err
	}
	return FromWire(resp.Ticket), resp.Found, nil
}

// ReserveRequest is the wire body for POST /rpc/shard/{id}/reserve.
type ReserveRequest struct {
	UserID       string `json:"user_id"`
	Rank         int    `json:"rank"`
	EnqueuedAtMS int64  `json:"enqueued_at_monotonic_ms"`
	Epoch        int64  `json:"epoch"`
}

// ReserveResponse is the wire body returned from /rpc/shard/{id}/reserve.
type ReserveResponse struct {
	Ticket WireTicket `json:"ticket"`
	Error  string     `json:"error,omitempty"`
}

// Reserve implements worker.Ref.
func (c *Client) Reserve(ctx context.Context, userID string, rank int, enqueuedAtMS, epoch int64) (ticket.Ticket, error) {
	var resp ReserveResponse
	url := fmt.Sprintf("%s/rpc/shard/%s/reserve", c.baseURL, c.shardID)
	req := ReserveRequest{UserID: userID, Rank: rank, EnqueuedAtMS: enqueuedAtMS, Epoch: epoch}
	if err := cluster.PostJSON(ctx, url, req, &resp); err != nil {
		return ticket.Ticket{}, err
	}
	if err := ErrorFromWire(resp.Error); err != nil {
		return ticket.Ticket{}, err
	}
	return FromWire(resp.Ticket), nil
}

// HealthCheck implements worker.Ref.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/rpc/shard/%s/health", c.baseURL, c.shardID)
	return cluster.GetJSON(ctx, url, nil)
}
