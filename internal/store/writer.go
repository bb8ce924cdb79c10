package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

// InsertBlocks appends block rows. Blocks are append-only: a height is
// written exactly once by the Sync Engine's forward path, and removed
// (never rewritten) by the Reorg Controller's rollback.
func (s *Store) InsertBlocks(ctx context.Context, blocks []types.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO blocks (height, hash, previous_hash, block_time, size, tx_count, producer, transparent_reward)")
	if err != nil {
		return errors.Wrap(err, "preparing blocks batch")
	}
	for _, b := range blocks {
		if err := batch.Append(b.Height, b.Hash, b.PreviousHash, b.Time, b.Size, b.TxCount, b.Producer, int64(b.TransparentReward)); err != nil {
			return errors.Wrap(err, "appending block row")
		}
	}
	return batch.Send()
}

// InsertCoinbaseOutputs appends labeled coinbase output rows.
func (s *Store) InsertCoinbaseOutputs(ctx context.Context, outputs []CoinbaseOutputRow) error {
	if len(outputs) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO coinbase_outputs (block_height, address, value, label)")
	if err != nil {
		return errors.Wrap(err, "preparing coinbase_outputs batch")
	}
	for _, o := range outputs {
		if err := batch.Append(o.BlockHeight, o.Address, int64(o.Value), string(o.Label)); err != nil {
			return errors.Wrap(err, "appending coinbase output row")
		}
	}
	return batch.Send()
}

// InsertTransactions appends transaction rows.
func (s *Store) InsertTransactions(ctx context.Context, txs []types.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO transactions
		(txid, block_height, block_hash, tx_time, version, size, input_count, output_count,
		 value_in, value_out, fee, is_coinbase, is_shielded, is_node_tx, node_tx_subtype)`)
	if err != nil {
		return errors.Wrap(err, "preparing transactions batch")
	}
	for _, tx := range txs {
		if err := batch.Append(
			tx.TxID, tx.BlockHeight, tx.BlockHash, tx.Time, tx.Version, tx.Size,
			tx.InputCount, tx.OutputCount, int64(tx.ValueIn), int64(tx.ValueOut), int64(tx.Fee),
			boolToUint8(tx.IsCoinbase), boolToUint8(tx.IsShielded), boolToUint8(tx.IsNodeTx), string(tx.NodeTxSubtype),
		); err != nil {
			return errors.Wrap(err, "appending transaction row")
		}
	}
	return batch.Send()
}

// UpsertUTXOs appends new-version UTXO rows. Because utxos uses
// ReplacingMergeTree keyed on (txid, vout) with version as the replace
// discriminant, "upsert" here means "insert a new row carrying a
// strictly higher version" — ClickHouse's background merge (or a
// query-time FINAL/argMax) resolves which row wins.
func (s *Store) UpsertUTXOs(ctx context.Context, utxos []types.UTXO) error {
	if len(utxos) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO utxos
		(txid, vout, address, value, script_type, block_height, spent, spent_by_txid,
		 spent_block_height, spent_time, version)`)
	if err != nil {
		return errors.Wrap(err, "preparing utxos batch")
	}
	for _, u := range utxos {
		if err := batch.Append(
			u.TxID, u.Vout, u.Address, int64(u.Value), string(u.ScriptType), u.BlockHeight,
			boolToUint8(u.Spent), u.SpentByTxID, u.SpentBlockHeight, u.SpentTime, u.Version,
		); err != nil {
			return errors.Wrap(err, "appending utxo row")
		}
	}
	return batch.Send()
}

// InsertAddressTransactions appends address-participation rows.
func (s *Store) InsertAddressTransactions(ctx context.Context, rows []types.AddressTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO address_transactions
		(address, txid, block_height, tx_time, block_hash, direction, received_value, sent_value)`)
	if err != nil {
		return errors.Wrap(err, "preparing address_transactions batch")
	}
	for _, r := range rows {
		if err := batch.Append(
			r.Address, r.TxID, r.BlockHeight, r.Time, r.BlockHash, string(r.Direction),
			int64(r.ReceivedValue), int64(r.SentValue),
		); err != nil {
			return errors.Wrap(err, "appending address_transaction row")
		}
	}
	return batch.Send()
}

// UpsertAddressSummaries appends new-version balance projection rows.
// Each row must be stamped with a strictly higher version than any
// prior row for the same address (the loader owns version assignment);
// this method only performs the insert.
func (s *Store) UpsertAddressSummaries(ctx context.Context, rows []AddressSummaryVersioned) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO address_summaries
		(address, balance, tx_count, total_received, total_sent, unspent_count,
		 first_seen_height, last_activity_height, version)`)
	if err != nil {
		return errors.Wrap(err, "preparing address_summaries batch")
	}
	for _, r := range rows {
		if err := batch.Append(
			r.Address, int64(r.Balance), r.TxCount, int64(r.TotalReceived), int64(r.TotalSent),
			r.UnspentCount, r.FirstSeenHeight, r.LastActivityHeight, r.Version,
		); err != nil {
			return errors.Wrap(err, "appending address_summary row")
		}
	}
	return batch.Send()
}

// InsertTransactionParticipants appends address-index acceleration rows.
func (s *Store) InsertTransactionParticipants(ctx context.Context, rows []types.TransactionParticipants) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO transaction_participants
		(txid, input_addresses, output_addresses, input_address_count, output_address_count)`)
	if err != nil {
		return errors.Wrap(err, "preparing transaction_participants batch")
	}
	for _, r := range rows {
		if err := batch.Append(r.TxID, r.InputAddresses, r.OutputAddresses, r.InputAddressCount, r.OutputAddressCount); err != nil {
			return errors.Wrap(err, "appending transaction_participants row")
		}
	}
	return batch.Send()
}

// InsertFluxNodeTransactions appends decoded node-registration rows.
func (s *Store) InsertFluxNodeTransactions(ctx context.Context, rows []types.FluxNodeTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO fluxnode_transactions
		(txid, block_height, tx_time, version, subtype, collateral_txid, collateral_vout,
		 ip, public_key, signature, p2sh_address, benchmark_tier, update_type, raw_hex)`)
	if err != nil {
		return errors.Wrap(err, "preparing fluxnode_transactions batch")
	}
	for _, r := range rows {
		if err := batch.Append(
			r.TxID, r.BlockHeight, r.Time, r.Version, string(r.Subtype), r.CollateralTxID, r.CollateralVout,
			r.IP, r.PublicKey, r.Signature, r.P2SHAddress, string(r.BenchmarkTier), r.UpdateType, r.RawHex,
		); err != nil {
			return errors.Wrap(err, "appending fluxnode_transaction row")
		}
	}
	return batch.Send()
}

// InsertSupplyStats appends a supply checkpoint row.
func (s *Store) InsertSupplyStats(ctx context.Context, rows []types.SupplyStats) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO supply_stats (block_height, transparent_supply, sapling_pool, sprout_pool)")
	if err != nil {
		return errors.Wrap(err, "preparing supply_stats batch")
	}
	for _, r := range rows {
		if err := batch.Append(r.BlockHeight, int64(r.TransparentSupply), int64(r.SaplingPool), int64(r.SproutPool)); err != nil {
			return errors.Wrap(err, "appending supply_stats row")
		}
	}
	return batch.Send()
}

// ProducerVersioned pairs a Producer projection with the loader-assigned
// merge version, mirroring AddressSummaryVersioned.
type ProducerVersioned struct {
	types.Producer
	Version uint64
}

// AddressSummaryVersioned pairs an AddressSummary projection with the
// loader-assigned merge version.
type AddressSummaryVersioned struct {
	types.AddressSummary
	Version uint64
}

// UpsertProducers appends new-version per-producer projection rows.
func (s *Store) UpsertProducers(ctx context.Context, rows []ProducerVersioned) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO producers
		(identity, blocks_produced, total_reward, first_block, last_block, version)`)
	if err != nil {
		return errors.Wrap(err, "preparing producers batch")
	}
	for _, r := range rows {
		if err := batch.Append(r.Identity, r.BlocksProduced, int64(r.TotalReward), r.FirstBlock, r.LastBlock, r.Version); err != nil {
			return errors.Wrap(err, "appending producer row")
		}
	}
	return batch.Send()
}

// SetSyncState appends a new-version singleton sync-state row (id=1),
// letting ReplacingMergeTree collapse to the latest write.
func (s *Store) SetSyncState(ctx context.Context, state types.SyncState) error {
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO sync_state
		(current_height, last_block_hash, chain_height, is_syncing, last_sync_time, fast_sync, version)`)
	if err != nil {
		return errors.Wrap(err, "preparing sync_state batch")
	}
	version := uint64(state.LastSyncTime.UnixNano())
	if err := batch.Append(
		state.CurrentHeight, state.LastBlockHash, state.ChainHeight,
		boolToUint8(state.IsSyncing), state.LastSyncTime, boolToUint8(state.FastSync), version,
	); err != nil {
		return errors.Wrap(err, "appending sync_state row")
	}
	return batch.Send()
}

// InsertReorgEvent appends one audit-log row.
func (s *Store) InsertReorgEvent(ctx context.Context, event types.ReorgEvent) error {
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO reorg_events
		(id, from_height, to_height, common_ancestor, old_hash, new_hash, blocks_affected, occurred_at)`)
	if err != nil {
		return errors.Wrap(err, "preparing reorg_events batch")
	}
	if err := batch.Append(
		event.ID, event.FromHeight, event.ToHeight, event.CommonAncestor,
		event.OldHash, event.NewHash, event.BlocksAffected, event.OccurredAt,
	); err != nil {
		return errors.Wrap(err, "appending reorg_event row")
	}
	return batch.Send()
}

// FluxNodeStatusVersioned pairs a FluxNodeStatus projection with the
// fluxnode monitor's own version counter, mirroring ProducerVersioned.
type FluxNodeStatusVersioned struct {
	types.FluxNodeStatus
	Version uint64
}

// UpsertFluxNodeStatus appends new-version node liveness/tier rows.
func (s *Store) UpsertFluxNodeStatus(ctx context.Context, rows []FluxNodeStatusVersioned) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO fluxnode_status
		(collateral_txid, collateral_vout, ip, public_key, status, tier,
		 last_paid_height, last_seen_height, tier_mismatch, version)`)
	if err != nil {
		return errors.Wrap(err, "preparing fluxnode_status batch")
	}
	for _, r := range rows {
		if err := batch.Append(
			r.CollateralTxID, r.CollateralVout, r.IP, r.PublicKey, r.Status, string(r.Tier),
			r.LastPaidHeight, r.LastSeenHeight, boolToUint8(r.TierMismatch), r.Version,
		); err != nil {
			return errors.Wrap(err, "appending fluxnode_status row")
		}
	}
	return batch.Send()
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
