package indexer

import (
	"time"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

// RowBatch is the Block Indexer's output unit for one block (IndexBlock
// builds one per block): one slice per destination table, ready to be handed to the
// Bulk Loader's Accumulate method. Indexing never writes to the store
// directly — it only shapes rows.
type RowBatch struct {
	Blocks                  []types.Block
	CoinbaseOutputs         []CoinbaseOutputRow
	Transactions            []types.Transaction
	UTXOsCreated            []UTXOCreate
	UTXOsSpent              []UTXOSpend
	AddressTransactions     []types.AddressTransaction
	TransactionParticipants []types.TransactionParticipants
	FluxNodeTransactions    []types.FluxNodeTransaction
	SupplyDeltas            []SupplyDelta

	// SkipSummaryUpdates is set when the Sync Engine is running in
	// fast-sync mode: AddressSummary/Producer incremental updates are
	// suppressed for this batch since they will be stale until the
	// indexer catches up to the chain tip, per the fast-sync policy.
	SkipSummaryUpdates bool
}

// CoinbaseOutputRow pairs a coinbase output with the block height it
// belongs to.
type CoinbaseOutputRow struct {
	BlockHeight int64
	types.CoinbaseOutput
}

// UTXOCreate describes a new UTXO produced by a transaction output. The
// Bulk Loader assigns the version and persists the row.
type UTXOCreate struct {
	OutPoint    types.OutPoint
	Address     string
	Value       types.Amount
	ScriptType  types.ScriptType
	BlockHeight int64
}

// UTXOSpend describes an existing UTXO consumed by a transaction input.
// The Bulk Loader resolves OutPoint against its cache (or the store) to
// find the UTXO's address and value before assigning a new version.
type UTXOSpend struct {
	OutPoint         types.OutPoint
	SpentByTxID      string
	SpentBlockHeight int64
	SpentTime        time.Time
}

// SupplyDelta is the per-block transparent-supply change plus the
// shielded pool totals as the daemon reports them. The Sync Engine (or
// the Bulk Loader on its behalf) accumulates TransparentDelta into a
// running total and persists one SupplyStats row per block.
type SupplyDelta struct {
	BlockHeight       int64
	TransparentDelta  types.Amount
	SaplingPool       types.Amount
	SproutPool        types.Amount
}
