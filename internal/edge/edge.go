// Package edge implements RequestHandler, the single entry point an
// external client request goes through: validate the rank, claim the
// user's single cluster-wide queue slot, route to the owning shard, and
// enqueue — releasing the claim on any failure along the way so a
// rejected request never leaves a user stuck unable to retry.
package edge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dreamware/rankmatch/internal/claim"
	"github.com/dreamware/rankmatch/internal/rmconfig"
	"github.com/dreamware/rankmatch/internal/rmlog"
	"github.com/dreamware/rankmatch/internal/router"
	"github.com/dreamware/rankmatch/internal/worker"
)

// ErrEmptyUserID is returned when user_id is the empty string.
var ErrEmptyUserID = errors.New("userId must be a non-empty string")

// ErrInvalidRank is returned when the requested rank falls outside the
// configured [RankMin, RankMax] range.
var ErrInvalidRank = errors.New("invalid_rank")

// ErrUnrouted is returned when the routing table is current but no shard
// owns the requested rank — the cluster has no assignment snapshot yet,
// or the rank is outside every assignment's range.
var ErrUnrouted = errors.New("unrouted")

// ErrStaleRouting is returned when the local routing table is behind the
// coordinator's current epoch. Unlike ErrUnrouted, this means the rank is
// very likely owned by someone — the caller should retry shortly rather
// than treat it as permanently unroutable.
var ErrStaleRouting = errors.New("stale_routing_snapshot")

// Handler is the RequestHandler: the one place an enqueue request from a
// client enters the system.
type Handler struct {
	claims *claim.Index
	router *router.Router
	cfg    rmconfig.Config
	log    *rmlog.Logger
}

// New constructs a Handler.
func New(claims *claim.Index, rt *router.Router, cfg rmconfig.Config, log *rmlog.Logger) *Handler {
	if log == nil {
		log = rmlog.Nop()
	}
	return &Handler{claims: claims, router: rt, cfg: cfg, log: log}
}

// Enqueue validates, claims, routes, and enqueues userID at rank. On any
// error after a successful claim, the claim is released before returning,
// so the caller is always free to retry.
func (h *Handler) Enqueue(ctx context.Context, userID string, rank int) error {
	if userID == "" {
		return fmt.Errorf("edge: %w", ErrEmptyUserID)
	}
	if rank < h.cfg.RankMin || rank > h.cfg.RankMax {
		return fmt.Errorf("edge: rank %d outside [%d, %d]: %w", rank, h.cfg.RankMin, h.cfg.RankMax, ErrInvalidRank)
	}

	if err := h.claims.Claim(userID); err != nil {
		return err
	}

	ref, epoch, err := h.router.Route(rank)
	if err != nil {
		h.claims.Release(userID)
		if errors.Is(err, router.ErrStaleRoutingSnapshot) {
			return fmt.Errorf("edge: rank %d: %w", rank, ErrStaleRouting)
		}
		return fmt.Errorf("edge: no shard owns rank %d: %w", rank, ErrUnrouted)
	}

	shardID, _ := h.router.ShardIDFor(rank)
	err = ref.Enqueue(ctx, worker.Envelope{Epoch: epoch, ShardID: shardID, UserID: userID, Rank: rank})
	if err != nil {
		h.claims.Release(userID)
		h.log.Debug("enqueue rejected", zap.String("user_id", userID), zap.Int("rank", rank), zap.Error(err))
		return err
	}

	return nil
}
