// Package syncengine drives the indexer's top-level loop: read sync
// state, compute a target height, fetch and index a batch, flush, and
// either advance or hand off to the Reorg Controller.
package syncengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/indexer"
	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/metrics"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

var log = logger.Get(logger.TagSYNC)

// State is one of the Sync Engine's five (plus Reorging) states.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateIndexing
	StatePersisting
	StateVerifying
	StateReorging
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateIndexing:
		return "indexing"
	case StatePersisting:
		return "persisting"
	case StateVerifying:
		return "verifying"
	case StateReorging:
		return "reorging"
	default:
		return "idle"
	}
}

// Loader is the subset of the Bulk Loader's surface the engine drives.
type Loader interface {
	Accumulate(batch *indexer.RowBatch)
	Flush(ctx context.Context) error
}

// Store is the subset of the analytical store's surface the engine
// reads/writes directly (everything else flows through Loader/Indexer).
type Store interface {
	GetSyncState(ctx context.Context) (*types.SyncState, error)
	SetSyncState(ctx context.Context, state types.SyncState) error
	GetBlockHashAtHeight(ctx context.Context, height int64) (string, error)
}

// ReorgHandler runs the Reorg Controller's walk-back-and-rewind
// algorithm and returns the ancestor height to resume from.
type ReorgHandler interface {
	Handle(ctx context.Context, fromHeight int64) (ancestor int64, err error)
}

// SupplyVerifier runs the non-fatal supply-verification diagnostic.
type SupplyVerifier interface {
	Verify(ctx context.Context, atHeight int64) error
}

// Options tunes the engine's loop, mirroring internal/config.SyncOptions.
type Options struct {
	BatchSize           int
	PollingInterval     time.Duration
	StartHeight         int64
	SafetyBufferBlocks  int64
	FastSyncThreshold   int64
	SupplyCheckInterval int64
	EnableReorg         bool
}

// Engine is the Sync Engine.
type Engine struct {
	rpc    rpcclient.RPC
	index  *indexer.Indexer
	loader Loader
	store  Store
	reorg  ReorgHandler
	supply SupplyVerifier
	opts   Options

	state State
}

// New constructs an Engine.
func New(rpc rpcclient.RPC, index *indexer.Indexer, loader Loader, store Store, reorg ReorgHandler, supply SupplyVerifier, opts Options) *Engine {
	return &Engine{rpc: rpc, index: index, loader: loader, store: store, reorg: reorg, supply: supply, opts: opts}
}

// State reports the engine's current state, for health/metrics reporting.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) setState(s State) {
	e.state = s
	log.Debugf("sync engine state -> %s", s)
}

// RunOnce executes one iteration of the loop (steps 1-9 of the spec):
// read state, compute target, fetch/index/persist one batch, verify,
// and report whether the caller should immediately schedule another
// iteration (still far from target) or sleep for PollingInterval.
func (e *Engine) RunOnce(ctx context.Context) (scheduleImmediately bool, err error) {
	batchStart := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(batchStart).Seconds()) }()

	e.setState(StateFetching)

	syncState, err := e.store.GetSyncState(ctx)
	if err != nil {
		return false, errors.Wrap(err, "reading sync state")
	}
	if syncState == nil {
		syncState = &types.SyncState{CurrentHeight: e.opts.StartHeight - 1}
	}

	info, err := e.rpc.GetBlockchainInfo(ctx)
	if err != nil {
		return false, errors.Wrap(err, "reading blockchain info")
	}

	target := e.computeTarget(info)
	if syncState.CurrentHeight >= target {
		e.setState(StateIdle)
		if syncState.IsSyncing {
			syncState.IsSyncing = false
			syncState.LastSyncTime = time.Now().UTC()
			if err := e.store.SetSyncState(ctx, *syncState); err != nil {
				return false, errors.Wrap(err, "marking sync state idle")
			}
		}
		return false, nil
	}

	fastSync := target-syncState.CurrentHeight > e.opts.FastSyncThreshold

	from := syncState.CurrentHeight + 1
	to := from + int64(e.opts.BatchSize) - 1
	if to > target {
		to = target
	}
	heights := make([]int64, 0, to-from+1)
	for h := from; h <= to; h++ {
		heights = append(heights, h)
	}

	blocks, err := e.rpc.BatchGetBlocks(ctx, heights)
	if err != nil {
		return false, errors.Wrap(err, "fetching batch")
	}

	e.setState(StateIndexing)
	for _, block := range blocks {
		if block == nil {
			continue
		}
		if err := e.hydrateVerbosity1(ctx, block); err != nil {
			return false, errors.Wrapf(err, "hydrating block at height %d", block.Height)
		}
		batch, err := e.index.IndexBlock(block, fastSync)
		if err != nil {
			return false, errors.Wrapf(err, "indexing block at height %d", block.Height)
		}
		e.loader.Accumulate(batch)
	}

	e.setState(StatePersisting)
	if err := e.loader.Flush(ctx); err != nil {
		return false, errors.Wrap(err, "flushing batch")
	}

	e.setState(StateVerifying)
	lastHeight := heights[len(heights)-1]
	lastHash := blocks[len(blocks)-1].Hash
	daemonHash, err := e.rpc.GetBlockHash(ctx, lastHeight)
	if err != nil {
		return false, errors.Wrap(err, "verifying batch tip hash")
	}

	if daemonHash != lastHash {
		if !e.opts.EnableReorg {
			return false, errors.Errorf("tip hash mismatch at height %d but reorg handling is disabled", lastHeight)
		}
		e.setState(StateReorging)
		ancestor, err := e.reorg.Handle(ctx, lastHeight)
		if err != nil {
			return false, errors.Wrap(err, "handling reorg")
		}
		log.Infof("reorg resolved, resuming from height %d", ancestor)
		return true, nil
	}

	newState := types.SyncState{
		CurrentHeight: lastHeight,
		LastBlockHash: lastHash,
		ChainHeight:   info.Headers,
		IsSyncing:     true,
		LastSyncTime:  time.Now().UTC(),
		FastSync:      fastSync,
	}
	if err := e.store.SetSyncState(ctx, newState); err != nil {
		return false, errors.Wrap(err, "advancing sync state")
	}
	metrics.SyncHeight.Set(float64(lastHeight))
	metrics.ChainHeight.Set(float64(info.Headers))

	if e.supply != nil && e.opts.SupplyCheckInterval > 0 && lastHeight%e.opts.SupplyCheckInterval == 0 {
		if err := e.supply.Verify(ctx, lastHeight); err != nil {
			log.Warnf("supply verification failed at height %d: %s", lastHeight, err)
		}
	}

	return target-lastHeight > 0, nil
}

// hydrateVerbosity1 fetches each transaction of a block the daemon could
// only serialize at verbosity 1 (RawBlock.Tx holding plain txid strings
// rather than full transaction objects), replacing block.Tx with the
// fetched RawTransaction payloads so the rest of the pipeline never has
// to know the daemon fell back. The daemon rejects verbosity 2 precisely
// on blocks containing node transactions, so skipping this step would
// break sync on exactly the blocks the node-tx parser exists to handle.
func (e *Engine) hydrateVerbosity1(ctx context.Context, block *rpcclient.RawBlock) error {
	if block.Verbosity != 1 {
		return nil
	}
	txids, err := block.TxIDs()
	if err != nil {
		return errors.Wrap(err, "decoding verbosity-1 txids")
	}
	hydrated := make([]json.RawMessage, len(txids))
	for i, txid := range txids {
		tx, err := e.rpc.GetRawTransaction(ctx, txid, block.Hash)
		if err != nil {
			return errors.Wrapf(err, "fetching transaction %s", txid)
		}
		raw, err := json.Marshal(tx)
		if err != nil {
			return errors.Wrapf(err, "marshaling transaction %s", txid)
		}
		hydrated[i] = raw
	}
	block.Tx = hydrated
	block.Verbosity = 2
	return nil
}

// computeTarget implements the safety-buffer policy: while the daemon
// itself is still syncing (blocks < headers), target = headers -
// SafetyBufferBlocks; otherwise target = headers. The indexer's own
// height is not an input here, so the buffer applies for as long as the
// daemon is syncing, however far behind headers the indexer is.
func (e *Engine) computeTarget(info *rpcclient.BlockchainInfo) int64 {
	headers := info.Headers
	daemonBlocks := info.Blocks
	if daemonBlocks < headers {
		return headers - e.opts.SafetyBufferBlocks
	}
	return headers
}

// Run loops RunOnce until ctx is canceled, sleeping PollingInterval
// between iterations once caught up to target.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		immediate, err := e.RunOnce(ctx)
		if err != nil {
			log.Errorf("sync iteration failed: %s", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.opts.PollingInterval):
			}
			continue
		}
		if immediate {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.PollingInterval):
		}
	}
}
