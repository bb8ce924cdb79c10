// Package supply runs a non-fatal reconciliation check between the
// indexer's accumulated transparent supply and the daemon's own
// valuePools accounting, surfacing silent drift in the UTXO set without
// ever blocking the sync loop on the result.
package supply

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/metrics"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

var log = logger.Get(logger.TagSUPV)

// toleranceMinorUnits is the maximum acceptable drift (1 whole coin,
// expressed in 1e-8 minor units) before a discrepancy is logged.
const toleranceMinorUnits = 1e8

// transparentPoolID is the valuePools entry id the daemon reports for
// the transparent (non-shielded) pool.
const transparentPoolID = "transparent"

// Store is the subset of the analytical store the verifier reads.
type Store interface {
	GetLatestSupplyStats(ctx context.Context) (*types.SupplyStats, error)
}

// RPC is the subset of the RPC client the verifier reads.
type RPC interface {
	GetBlockchainInfo(ctx context.Context) (*rpcclient.BlockchainInfo, error)
}

// Verifier compares the indexer's running transparent supply against
// the daemon's self-reported valuePools on a periodic cadence.
type Verifier struct {
	rpc   RPC
	store Store
}

// New constructs a Verifier.
func New(rpc RPC, store Store) *Verifier {
	return &Verifier{rpc: rpc, store: store}
}

// Verify compares the stored supply at the last indexed height to the
// daemon's current valuePools snapshot. It never returns an error for
// a drift, only for failures to read either side; a detected drift is
// logged at warn with the full context an operator needs to triage it.
func (v *Verifier) Verify(ctx context.Context, atHeight int64) error {
	stats, err := v.store.GetLatestSupplyStats(ctx)
	if err != nil {
		return errors.Wrap(err, "reading latest supply stats")
	}
	if stats == nil {
		log.Debugf("supply verification skipped at height %d: no supply stats recorded yet", atHeight)
		return nil
	}

	info, err := v.rpc.GetBlockchainInfo(ctx)
	if err != nil {
		return errors.Wrap(err, "reading daemon blockchain info")
	}

	daemonTransparent, found := findPool(info.ValuePools, transparentPoolID)
	if !found {
		log.Debugf("supply verification skipped at height %d: daemon reported no transparent pool", atHeight)
		return nil
	}

	daemonMinorUnits := rpcclient.AmountToMinorUnits(daemonTransparent)
	storedMinorUnits := int64(stats.TransparentSupply)
	drift := daemonMinorUnits - storedMinorUnits
	metrics.SupplyDriftMinorUnits.Set(float64(drift))

	if math.Abs(float64(drift)) > toleranceMinorUnits {
		log.Warnf("supply drift detected at height %d: stored=%d daemon=%d drift=%d (recorded at block %d)",
			atHeight, storedMinorUnits, daemonMinorUnits, drift, stats.BlockHeight)
	}
	return nil
}

func findPool(pools []rpcclient.ValuePool, id string) (float64, bool) {
	for _, p := range pools {
		if p.ID == id {
			return p.ChainValue, true
		}
	}
	return 0, false
}
