// Package reorg detects divergence between the stored chain tip and the
// daemon's chain tip, walks back to a common ancestor, and rewinds
// every materialized view to that ancestor.
package reorg

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/metrics"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

var log = logger.Get(logger.TagREOG)

// DepthExceededError is fatal: no common ancestor was found within
// maxDepth blocks, and the operator must intervene (e.g. restore from a
// trusted checkpoint further back, or raise the configured depth).
type DepthExceededError struct {
	FromHeight int64
	MaxDepth   int64
}

func (e *DepthExceededError) Error() string {
	return errors.Errorf("no common ancestor found within %d blocks of height %d", e.MaxDepth, e.FromHeight).Error()
}

// Store is the subset of the analytical store's surface the controller
// needs: resolve stored hashes, roll back rows above an ancestor
// height, persist the audit log, and advance SyncState to the ancestor.
type Store interface {
	GetBlockHashAtHeight(ctx context.Context, height int64) (string, error)
	RollbackAboveHeight(ctx context.Context, ancestorHeight int64) error
	InsertReorgEvent(ctx context.Context, event types.ReorgEvent) error
	SetSyncState(ctx context.Context, state types.SyncState) error
	AffectedAddresses(ctx context.Context, ancestorHeight int64) ([]string, error)
	AffectedProducers(ctx context.Context, ancestorHeight int64) ([]string, error)
	RebuildAddressSummaries(ctx context.Context, addresses []string) error
	RebuildProducers(ctx context.Context, identities []string) error
}

// Controller runs the walk-back-and-rewind algorithm.
type Controller struct {
	rpc   rpcclient.RPC
	store Store

	maxDepth int64
}

// New constructs a Controller.
func New(rpc rpcclient.RPC, store Store, maxDepth int64) *Controller {
	return &Controller{rpc: rpc, store: store, maxDepth: maxDepth}
}

// Handle runs the full reorg algorithm starting from fromHeight (the
// height at which a stored/daemon hash mismatch was first observed),
// returning the ancestor height the Sync Engine should resume from.
func (c *Controller) Handle(ctx context.Context, fromHeight int64) (ancestor int64, err error) {
	ancestor, oldHash, newHash, err := c.findCommonAncestor(ctx, fromHeight)
	if err != nil {
		return 0, err
	}
	log.Infof("reorg detected: rewinding from height %d to common ancestor %d", fromHeight, ancestor)
	metrics.ReorgsTotal.Inc()
	metrics.ReorgDepth.Observe(float64(fromHeight - ancestor))

	event := types.ReorgEvent{
		ID:             uuid.NewString(),
		FromHeight:     fromHeight,
		ToHeight:       ancestor,
		CommonAncestor: ancestor,
		OldHash:        oldHash,
		NewHash:        newHash,
		BlocksAffected: fromHeight - ancestor,
		OccurredAt:     time.Now().UTC(),
	}
	affectedAddresses, err := c.store.AffectedAddresses(ctx, ancestor)
	if err != nil {
		return 0, errors.Wrap(err, "collecting addresses affected by rollback")
	}
	affectedProducers, err := c.store.AffectedProducers(ctx, ancestor)
	if err != nil {
		return 0, errors.Wrap(err, "collecting producers affected by rollback")
	}

	if err := c.store.InsertReorgEvent(ctx, event); err != nil {
		return 0, errors.Wrap(err, "recording reorg event")
	}
	if err := c.store.RollbackAboveHeight(ctx, ancestor); err != nil {
		return 0, errors.Wrap(err, "rolling back rows above ancestor")
	}
	if err := c.store.RebuildAddressSummaries(ctx, affectedAddresses); err != nil {
		return 0, errors.Wrap(err, "rebuilding address summaries after rollback")
	}
	if err := c.store.RebuildProducers(ctx, affectedProducers); err != nil {
		return 0, errors.Wrap(err, "rebuilding producers after rollback")
	}

	ancestorHash, err := c.store.GetBlockHashAtHeight(ctx, ancestor)
	if err != nil {
		return 0, errors.Wrap(err, "resolving ancestor hash after rollback")
	}
	if err := c.store.SetSyncState(ctx, types.SyncState{
		CurrentHeight: ancestor,
		LastBlockHash: ancestorHash,
		LastSyncTime:  time.Now().UTC(),
	}); err != nil {
		return 0, errors.Wrap(err, "advancing sync state to ancestor")
	}

	return ancestor, nil
}

// findCommonAncestor walks back from fromHeight comparing stored and
// daemon hashes, returning the first height (scanning from closest to
// farthest) where they agree, along with the mismatched hashes observed
// at fromHeight (for the audit log).
func (c *Controller) findCommonAncestor(ctx context.Context, fromHeight int64) (ancestor int64, oldHash, newHash string, err error) {
	oldHash, err = c.store.GetBlockHashAtHeight(ctx, fromHeight)
	if err != nil {
		return 0, "", "", errors.Wrap(err, "reading stored hash at mismatch height")
	}
	newHash, err = c.rpc.GetBlockHash(ctx, fromHeight)
	if err != nil {
		return 0, "", "", errors.Wrap(err, "reading daemon hash at mismatch height")
	}

	for i := int64(1); i <= c.maxDepth; i++ {
		height := fromHeight - i
		if height < 0 {
			break
		}
		storedHash, err := c.store.GetBlockHashAtHeight(ctx, height)
		if err != nil {
			return 0, "", "", errors.Wrapf(err, "reading stored hash at height %d", height)
		}
		daemonHash, err := c.rpc.GetBlockHash(ctx, height)
		if err != nil {
			return 0, "", "", errors.Wrapf(err, "reading daemon hash at height %d", height)
		}
		if storedHash != "" && storedHash == daemonHash {
			return height, oldHash, newHash, nil
		}
	}
	return 0, "", "", &DepthExceededError{FromHeight: fromHeight, MaxDepth: c.maxDepth}
}
