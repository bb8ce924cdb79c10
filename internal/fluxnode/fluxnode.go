// Package fluxnode runs the FluxNode secondary sync: a slower, separate
// poll of listfluxnodes that maintains a liveness/tier projection and
// cross-references it against the on-chain registrations the Block
// Indexer already decoded, flagging any drift between what a node
// claims over RPC and what it last proved on-chain.
package fluxnode

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

var log = logger.Get(logger.TagFNOD)

// RPC is the subset of the RPC client the monitor depends on.
type RPC interface {
	ListFluxNodes(ctx context.Context) ([]rpcclient.FluxNodeEntry, error)
}

// Store is the subset of the analytical store the monitor depends on.
type Store interface {
	UpsertFluxNodeStatus(ctx context.Context, rows []store.FluxNodeStatusVersioned) error
	GetFluxNodeBenchmarkTier(ctx context.Context, collateralTxID string, collateralVout int32) (types.BenchmarkTier, bool, error)
}

// Monitor runs one polling cycle of the secondary sync, independent of
// the Sync Engine's own PollingInterval.
type Monitor struct {
	rpc   RPC
	store Store

	version atomic.Uint64
}

// New constructs a Monitor.
func New(rpc RPC, store Store) *Monitor {
	return &Monitor{rpc: rpc, store: store}
}

// Poll fetches the current listfluxnodes snapshot, cross-references
// each entry's reported tier against the last on-chain registration for
// its collateral, and upserts the resulting liveness rows.
func (m *Monitor) Poll(ctx context.Context) error {
	entries, err := m.rpc.ListFluxNodes(ctx)
	if err != nil {
		return errors.Wrap(err, "listing fluxnodes")
	}
	if len(entries) == 0 {
		return nil
	}

	rows := make([]store.FluxNodeStatusVersioned, 0, len(entries))
	for _, entry := range entries {
		txid, vout, err := splitCollateral(entry.CollateralOutpoint)
		if err != nil {
			log.Warnf("skipping fluxnode entry with malformed collateral %q: %s", entry.CollateralOutpoint, err)
			continue
		}

		reportedTier := types.BenchmarkTier(strings.ToUpper(entry.Tier))
		onChainTier, found, err := m.store.GetFluxNodeBenchmarkTier(ctx, txid, vout)
		if err != nil {
			return errors.Wrapf(err, "resolving on-chain tier for collateral %s:%d", txid, vout)
		}

		mismatch := found && onChainTier != "" && onChainTier != reportedTier
		if mismatch {
			log.Warnf("fluxnode %s:%d reports tier %s over RPC but last registered %s on-chain", txid, vout, reportedTier, onChainTier)
		}

		rows = append(rows, store.FluxNodeStatusVersioned{
			FluxNodeStatus: types.FluxNodeStatus{
				CollateralTxID: txid,
				CollateralVout: vout,
				IP:             entry.IP,
				PublicKey:      entry.PublicKey,
				Status:         entry.Status,
				Tier:           reportedTier,
				LastPaidHeight: entry.LastPaidHeight,
				TierMismatch:   mismatch,
			},
			Version: m.version.Add(1),
		})
	}

	if err := m.store.UpsertFluxNodeStatus(ctx, rows); err != nil {
		return errors.Wrap(err, "upserting fluxnode status")
	}
	log.Debugf("fluxnode poll: %d entries refreshed", len(rows))
	return nil
}

// splitCollateral parses the daemon's "txid:vout" collateral outpoint
// format, as seen in listfluxnodes responses.
func splitCollateral(collateral string) (txid string, vout int32, err error) {
	parts := strings.SplitN(collateral, ":", 2)
	if len(parts) != 2 {
		return "", 0, errors.Errorf("expected txid:vout, got %q", collateral)
	}
	n, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return "", 0, errors.Wrapf(err, "parsing vout from %q", collateral)
	}
	return parts[0], int32(n), nil
}
