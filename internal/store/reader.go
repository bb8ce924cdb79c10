package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

// GetSyncState returns the current singleton sync-state row, or nil if
// none has been written yet (a fresh deployment).
func (s *Store) GetSyncState(ctx context.Context) (*types.SyncState, error) {
	row := s.conn.QueryRow(ctx, `SELECT current_height, last_block_hash, chain_height, is_syncing, last_sync_time, fast_sync
		FROM sync_state FINAL WHERE id = 1`)
	var state types.SyncState
	var isSyncing, fastSync uint8
	if err := row.Scan(&state.CurrentHeight, &state.LastBlockHash, &state.ChainHeight, &isSyncing, &state.LastSyncTime, &fastSync); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning sync_state")
	}
	state.IsSyncing = isSyncing != 0
	state.FastSync = fastSync != 0
	return &state, nil
}

// GetMaxUTXOVersion returns the highest version currently stored, used
// to seed the Bulk Loader's monotonic version counter on startup.
func (s *Store) GetMaxUTXOVersion(ctx context.Context) (uint64, error) {
	row := s.conn.QueryRow(ctx, "SELECT max(version) FROM utxos")
	var maxVersion sql.NullInt64
	if err := row.Scan(&maxVersion); err != nil {
		return 0, errors.Wrap(err, "scanning max utxo version")
	}
	if !maxVersion.Valid {
		return 0, nil
	}
	return uint64(maxVersion.Int64), nil
}

// GetAddressSummary returns the latest-merged projection row for an
// address, or nil if the address has never been seen.
func (s *Store) GetAddressSummary(ctx context.Context, address string) (*types.AddressSummary, error) {
	row := s.conn.QueryRow(ctx, `SELECT address, balance, tx_count, total_received, total_sent,
		unspent_count, first_seen_height, last_activity_height
		FROM address_summaries FINAL WHERE address = ?`, address)
	var summary types.AddressSummary
	var balance, totalReceived, totalSent int64
	if err := row.Scan(&summary.Address, &balance, &summary.TxCount, &totalReceived, &totalSent,
		&summary.UnspentCount, &summary.FirstSeenHeight, &summary.LastActivityHeight); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning address_summaries")
	}
	summary.Balance = types.Amount(balance)
	summary.TotalReceived = types.Amount(totalReceived)
	summary.TotalSent = types.Amount(totalSent)
	return &summary, nil
}

// GetProducer returns the latest-merged projection row for a producer
// identity, or nil if the producer has never produced a block.
func (s *Store) GetProducer(ctx context.Context, identity string) (*types.Producer, error) {
	row := s.conn.QueryRow(ctx, `SELECT identity, blocks_produced, total_reward, first_block, last_block
		FROM producers FINAL WHERE identity = ?`, identity)
	var p types.Producer
	var totalReward int64
	if err := row.Scan(&p.Identity, &p.BlocksProduced, &totalReward, &p.FirstBlock, &p.LastBlock); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning producers")
	}
	p.TotalReward = types.Amount(totalReward)
	return &p, nil
}

// GetBlockHashAtHeight returns the stored hash at height, or "" if no
// block has been indexed at that height.
func (s *Store) GetBlockHashAtHeight(ctx context.Context, height int64) (string, error) {
	row := s.conn.QueryRow(ctx, "SELECT hash FROM blocks WHERE height = ?", height)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", errors.Wrap(err, "scanning block hash")
	}
	return hash, nil
}

// GetLatestSupplyStats returns the most recently recorded supply
// checkpoint, or nil if none has been written yet.
func (s *Store) GetLatestSupplyStats(ctx context.Context) (*types.SupplyStats, error) {
	row := s.conn.QueryRow(ctx, `SELECT block_height, transparent_supply, sapling_pool, sprout_pool
		FROM supply_stats ORDER BY block_height DESC LIMIT 1`)
	var stats types.SupplyStats
	var transparent, sapling, sprout int64
	if err := row.Scan(&stats.BlockHeight, &transparent, &sapling, &sprout); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning supply_stats")
	}
	stats.TransparentSupply = types.Amount(transparent)
	stats.SaplingPool = types.Amount(sapling)
	stats.SproutPool = types.Amount(sprout)
	return &stats, nil
}

// GetUTXO looks up a single UTXO's address and value by outpoint,
// serving the Bulk Loader's cache-miss fallback path.
func (s *Store) GetUTXO(ctx context.Context, op types.OutPoint) (string, types.Amount, bool, error) {
	row := s.conn.QueryRow(ctx, "SELECT address, value FROM utxos FINAL WHERE txid = ? AND vout = ?", op.TxID, op.Vout)
	var address string
	var value int64
	if err := row.Scan(&address, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, false, nil
		}
		return "", 0, false, errors.Wrap(err, "scanning utxo")
	}
	return address, types.Amount(value), true, nil
}

// GetFluxNodeBenchmarkTier returns the most recently seen on-chain
// benchmark tier for a collateral outpoint, from the node-registration
// ledger (not the liveness projection), or false if that collateral has
// never registered on-chain.
func (s *Store) GetFluxNodeBenchmarkTier(ctx context.Context, collateralTxID string, collateralVout int32) (types.BenchmarkTier, bool, error) {
	row := s.conn.QueryRow(ctx, `SELECT benchmark_tier FROM fluxnode_transactions
		WHERE collateral_txid = ? AND collateral_vout = ? AND benchmark_tier != ''
		ORDER BY block_height DESC LIMIT 1`, collateralTxID, collateralVout)
	var tier string
	if err := row.Scan(&tier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, errors.Wrap(err, "scanning fluxnode_transactions benchmark tier")
	}
	return types.BenchmarkTier(tier), true, nil
}

// GetTipHeight returns the highest height stored in blocks, or -1 if the
// store is empty.
func (s *Store) GetTipHeight(ctx context.Context) (int64, error) {
	row := s.conn.QueryRow(ctx, "SELECT max(height) FROM blocks")
	var height sql.NullInt64
	if err := row.Scan(&height); err != nil {
		return 0, errors.Wrap(err, "scanning tip height")
	}
	if !height.Valid {
		return -1, nil
	}
	return height.Int64, nil
}
