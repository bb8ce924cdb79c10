package store

import (
	"context"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

// Writer is the subset of Store that the Bulk Loader depends on: one
// batch-insert (or replace-semantics upsert) method per entity. A
// RowBatch from the Block Indexer is fanned out across these calls.
type Writer interface {
	InsertBlocks(ctx context.Context, blocks []types.Block) error
	InsertCoinbaseOutputs(ctx context.Context, outputs []CoinbaseOutputRow) error
	InsertTransactions(ctx context.Context, txs []types.Transaction) error
	UpsertUTXOs(ctx context.Context, utxos []types.UTXO) error
	InsertAddressTransactions(ctx context.Context, rows []types.AddressTransaction) error
	UpsertAddressSummaries(ctx context.Context, rows []AddressSummaryVersioned) error
	InsertTransactionParticipants(ctx context.Context, rows []types.TransactionParticipants) error
	InsertFluxNodeTransactions(ctx context.Context, rows []types.FluxNodeTransaction) error
	InsertSupplyStats(ctx context.Context, rows []types.SupplyStats) error
	UpsertProducers(ctx context.Context, rows []ProducerVersioned) error
	UpsertFluxNodeStatus(ctx context.Context, rows []FluxNodeStatusVersioned) error
	SetSyncState(ctx context.Context, state types.SyncState) error
	InsertReorgEvent(ctx context.Context, event types.ReorgEvent) error
}

// Reader is the read-side subset of Store that the Bulk Loader depends
// on (seeding its version counter, running supply and projections, and
// the UTXO cache's store fallback on a miss); the Reorg Controller uses
// RollbackStore instead.
type Reader interface {
	GetSyncState(ctx context.Context) (*types.SyncState, error)
	GetMaxUTXOVersion(ctx context.Context) (uint64, error)
	GetAddressSummary(ctx context.Context, address string) (*types.AddressSummary, error)
	GetProducer(ctx context.Context, identity string) (*types.Producer, error)
	GetBlockHashAtHeight(ctx context.Context, height int64) (string, error)
	GetTipHeight(ctx context.Context) (int64, error)
	GetLatestSupplyStats(ctx context.Context) (*types.SupplyStats, error)
	GetUTXO(ctx context.Context, op types.OutPoint) (address string, value types.Amount, found bool, err error)
	GetFluxNodeBenchmarkTier(ctx context.Context, collateralTxID string, collateralVout int32) (types.BenchmarkTier, bool, error)
}

// CoinbaseOutputRow is a coinbase output row scoped to its block, the
// shape the coinbase_outputs table stores (types.CoinbaseOutput itself
// has no height field, since it's nested under types.Block in the
// in-memory model).
type CoinbaseOutputRow struct {
	BlockHeight int64
	types.CoinbaseOutput
}

// RollbackStore is the subset of Store the Reorg Controller depends on.
type RollbackStore interface {
	GetBlockHashAtHeight(ctx context.Context, height int64) (string, error)
	RollbackAboveHeight(ctx context.Context, ancestorHeight int64) error
	InsertReorgEvent(ctx context.Context, event types.ReorgEvent) error
	SetSyncState(ctx context.Context, state types.SyncState) error
	AffectedAddresses(ctx context.Context, ancestorHeight int64) ([]string, error)
	AffectedProducers(ctx context.Context, ancestorHeight int64) ([]string, error)
	RebuildAddressSummaries(ctx context.Context, addresses []string) error
	RebuildProducers(ctx context.Context, identities []string) error
}

var (
	_ Writer        = (*Store)(nil)
	_ Reader        = (*Store)(nil)
	_ RollbackStore = (*Store)(nil)
)
