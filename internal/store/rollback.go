package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var zeroTime time.Time

// RollbackAboveHeight deletes every row referencing a height strictly
// greater than ancestorHeight, and restores UTXOs that the discarded
// blocks had marked spent. ClickHouse has no multi-statement ACID
// transaction, so the Reorg Controller is responsible for ensuring no
// other writer runs concurrently with this call (the Sync Engine is the
// store's only writer, and pauses its own loop while reorg handling is
// in progress).
func (s *Store) RollbackAboveHeight(ctx context.Context, ancestorHeight int64) error {
	heightTables := []string{
		"blocks", "coinbase_outputs", "transactions", "address_transactions",
		"fluxnode_transactions", "supply_stats", "transaction_participants",
	}
	for _, table := range heightTables {
		column := "block_height"
		if table == "blocks" {
			column = "height"
		}
		if table == "transaction_participants" {
			// transaction_participants has no height column of its own;
			// it is pruned by joining against transactions instead.
			continue
		}
		stmt := "ALTER TABLE " + table + " DELETE WHERE " + column + " > ?"
		if err := s.conn.Exec(ctx, stmt, ancestorHeight); err != nil {
			return errors.Wrapf(err, "rolling back table %s above height %d", table, ancestorHeight)
		}
	}

	if err := s.conn.Exec(ctx, `ALTER TABLE transaction_participants DELETE WHERE txid IN
		(SELECT txid FROM transactions WHERE block_height > ?)`, ancestorHeight); err != nil {
		return errors.Wrap(err, "rolling back transaction_participants")
	}

	// UTXOs created above the ancestor height never existed on the
	// surviving chain: delete them outright.
	if err := s.conn.Exec(ctx, "ALTER TABLE utxos DELETE WHERE block_height > ?", ancestorHeight); err != nil {
		return errors.Wrap(err, "deleting utxos created above ancestor height")
	}

	// UTXOs spent by a now-discarded transaction must be un-spent: insert
	// a new, higher-version row with spent cleared. The discarded spend
	// rows themselves remain (ReplacingMergeTree resolves to the latest
	// version on merge/FINAL), so no separate delete is needed here.
	// block_height <= ancestorHeight is required here, not just implied
	// by the DELETE above: that mutation applies asynchronously (no
	// mutations_sync is set), so without this clause a UTXO created and
	// spent entirely above the ancestor could still be picked up by this
	// SELECT before its DELETE lands, and get reinserted as a spurious
	// unspent row.
	rows, err := s.conn.Query(ctx, `SELECT txid, vout, address, value, script_type, block_height, version
		FROM utxos FINAL WHERE spent = 1 AND spent_block_height > ? AND block_height <= ?`, ancestorHeight, ancestorHeight)
	if err != nil {
		return errors.Wrap(err, "selecting utxos to unspend")
	}
	defer rows.Close()

	var toRestore []restoredUTXO
	for rows.Next() {
		var r restoredUTXO
		if err := rows.Scan(&r.txid, &r.vout, &r.address, &r.value, &r.scriptType, &r.blockHeight, &r.version); err != nil {
			return errors.Wrap(err, "scanning utxo to unspend")
		}
		toRestore = append(toRestore, r)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating utxos to unspend")
	}
	if len(toRestore) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO utxos
		(txid, vout, address, value, script_type, block_height, spent, spent_by_txid,
		 spent_block_height, spent_time, version)`)
	if err != nil {
		return errors.Wrap(err, "preparing utxo restore batch")
	}
	for _, r := range toRestore {
		if err := batch.Append(
			r.txid, r.vout, r.address, r.value, r.scriptType, r.blockHeight,
			uint8(0), "", int64(0), zeroTime, r.version+1,
		); err != nil {
			return errors.Wrap(err, "appending restored utxo row")
		}
	}
	return batch.Send()
}

type restoredUTXO struct {
	txid        string
	vout        int32
	address     string
	value       int64
	scriptType  string
	blockHeight int64
	version     uint64
}
