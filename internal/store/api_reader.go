package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

// APIReader is the subset of Store the Read API queries; it is wider
// than Reader (which only serves the sync pipeline's own needs) and
// intentionally does no caching or pre-aggregation, matching the Read
// API's scope as a thin query surface over the analytical store.
type APIReader interface {
	Reader
	GetLatestBlock(ctx context.Context) (*types.Block, error)
	GetBlockByHeight(ctx context.Context, height int64) (*types.Block, error)
	GetBlockByHash(ctx context.Context, hash string) (*types.Block, error)
	ListBlocks(ctx context.Context, limit, offset int) ([]types.Block, error)
	GetTransaction(ctx context.Context, txid string) (*types.Transaction, error)
	GetTransactionsBatch(ctx context.Context, txids []string) ([]types.Transaction, error)
	GetAddressTransactionsPage(ctx context.Context, address string, beforeHeight int64, limit int) ([]types.AddressTransaction, error)
	GetAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error)
	GetRichList(ctx context.Context, limit int) ([]types.AddressSummary, error)
	ListProducers(ctx context.Context, limit, offset int) ([]types.Producer, error)
	ListFluxNodeStatus(ctx context.Context, limit, offset int) ([]types.FluxNodeStatus, error)
	GetFluxNodeStatusByIP(ctx context.Context, ip string) (*types.FluxNodeStatus, error)
	CountMempoolLikeRecentTransactions(ctx context.Context, sinceHeight int64) (int64, error)
}

var _ APIReader = (*Store)(nil)

func (s *Store) scanBlock(row rowScanner) (*types.Block, error) {
	var b types.Block
	var reward int64
	if err := row.Scan(&b.Height, &b.Hash, &b.PreviousHash, &b.Time, &b.Size, &b.TxCount, &b.Producer, &reward); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "scanning block")
	}
	b.TransparentReward = types.Amount(reward)
	return &b, nil
}

// rowScanner matches both *sql.Row-style and driver.Row-style Scan
// methods so scanBlock can serve single-row and range query call sites.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) GetLatestBlock(ctx context.Context) (*types.Block, error) {
	row := s.conn.QueryRow(ctx, `SELECT height, hash, previous_hash, block_time, size, tx_count, producer, transparent_reward
		FROM blocks ORDER BY height DESC LIMIT 1`)
	return s.scanBlock(row)
}

func (s *Store) GetBlockByHeight(ctx context.Context, height int64) (*types.Block, error) {
	row := s.conn.QueryRow(ctx, `SELECT height, hash, previous_hash, block_time, size, tx_count, producer, transparent_reward
		FROM blocks WHERE height = ?`, height)
	return s.scanBlock(row)
}

func (s *Store) GetBlockByHash(ctx context.Context, hash string) (*types.Block, error) {
	row := s.conn.QueryRow(ctx, `SELECT height, hash, previous_hash, block_time, size, tx_count, producer, transparent_reward
		FROM blocks WHERE hash = ?`, hash)
	return s.scanBlock(row)
}

func (s *Store) ListBlocks(ctx context.Context, limit, offset int) ([]types.Block, error) {
	rows, err := s.conn.Query(ctx, `SELECT height, hash, previous_hash, block_time, size, tx_count, producer, transparent_reward
		FROM blocks ORDER BY height DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "querying blocks")
	}
	defer rows.Close()

	var out []types.Block
	for rows.Next() {
		var b types.Block
		var reward int64
		if err := rows.Scan(&b.Height, &b.Hash, &b.PreviousHash, &b.Time, &b.Size, &b.TxCount, &b.Producer, &reward); err != nil {
			return nil, errors.Wrap(err, "scanning block row")
		}
		b.TransparentReward = types.Amount(reward)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetTransaction(ctx context.Context, txid string) (*types.Transaction, error) {
	row := s.conn.QueryRow(ctx, `SELECT txid, block_height, block_hash, tx_time, version, size, input_count, output_count,
		value_in, value_out, fee, is_coinbase, is_shielded, is_node_tx, node_tx_subtype
		FROM transactions WHERE txid = ?`, txid)
	tx, found, err := scanTransaction(row)
	if err != nil || !found {
		return nil, err
	}
	return tx, nil
}

func (s *Store) GetTransactionsBatch(ctx context.Context, txids []string) ([]types.Transaction, error) {
	if len(txids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, `SELECT txid, block_height, block_hash, tx_time, version, size, input_count, output_count,
		value_in, value_out, fee, is_coinbase, is_shielded, is_node_tx, node_tx_subtype
		FROM transactions WHERE txid IN ?`, txids)
	if err != nil {
		return nil, errors.Wrap(err, "querying transactions batch")
	}
	defer rows.Close()

	var out []types.Transaction
	for rows.Next() {
		tx, found, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, *tx)
		}
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*types.Transaction, bool, error) {
	var tx types.Transaction
	var valueIn, valueOut, fee int64
	var isCoinbase, isShielded, isNodeTx uint8
	var subtype string
	if err := row.Scan(&tx.TxID, &tx.BlockHeight, &tx.BlockHash, &tx.Time, &tx.Version, &tx.Size,
		&tx.InputCount, &tx.OutputCount, &valueIn, &valueOut, &fee, &isCoinbase, &isShielded, &isNodeTx, &subtype); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "scanning transaction")
	}
	tx.ValueIn = types.Amount(valueIn)
	tx.ValueOut = types.Amount(valueOut)
	tx.Fee = types.Amount(fee)
	tx.IsCoinbase = isCoinbase != 0
	tx.IsShielded = isShielded != 0
	tx.IsNodeTx = isNodeTx != 0
	tx.NodeTxSubtype = types.NodeTxSubtype(subtype)
	return &tx, true, nil
}

// GetAddressTransactionsPage returns up to limit rows strictly below
// beforeHeight (or the most recent page when beforeHeight <= 0),
// implementing the API's cursor pagination with block height as cursor.
func (s *Store) GetAddressTransactionsPage(ctx context.Context, address string, beforeHeight int64, limit int) ([]types.AddressTransaction, error) {
	query := `SELECT address, txid, block_height, tx_time, block_hash, direction, received_value, sent_value
		FROM address_transactions WHERE address = ?`
	args := []interface{}{address}
	if beforeHeight > 0 {
		query += " AND block_height < ?"
		args = append(args, beforeHeight)
	}
	query += " ORDER BY block_height DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying address_transactions page")
	}
	defer rows.Close()

	var out []types.AddressTransaction
	for rows.Next() {
		var r types.AddressTransaction
		var received, sent int64
		if err := rows.Scan(&r.Address, &r.TxID, &r.BlockHeight, &r.Time, &r.BlockHash, &r.Direction, &received, &sent); err != nil {
			return nil, errors.Wrap(err, "scanning address_transaction row")
		}
		r.ReceivedValue = types.Amount(received)
		r.SentValue = types.Amount(sent)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error) {
	rows, err := s.conn.Query(ctx, `SELECT txid, vout, address, value, script_type, block_height, spent, spent_by_txid, spent_block_height, spent_time
		FROM utxos FINAL WHERE address = ? AND spent = 0`, address)
	if err != nil {
		return nil, errors.Wrap(err, "querying address utxos")
	}
	defer rows.Close()

	var out []types.UTXO
	for rows.Next() {
		var u types.UTXO
		var value int64
		var spent uint8
		if err := rows.Scan(&u.TxID, &u.Vout, &u.Address, &value, &u.ScriptType, &u.BlockHeight, &spent, &u.SpentByTxID, &u.SpentBlockHeight, &u.SpentTime); err != nil {
			return nil, errors.Wrap(err, "scanning utxo row")
		}
		u.Value = types.Amount(value)
		u.Spent = spent != 0
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) GetRichList(ctx context.Context, limit int) ([]types.AddressSummary, error) {
	rows, err := s.conn.Query(ctx, `SELECT address, balance, tx_count, total_received, total_sent, unspent_count, first_seen_height, last_activity_height
		FROM address_summaries FINAL WHERE address != ? ORDER BY balance DESC LIMIT ?`, types.ShieldedAddress, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying richlist")
	}
	defer rows.Close()

	var out []types.AddressSummary
	for rows.Next() {
		var a types.AddressSummary
		var balance, received, sent int64
		if err := rows.Scan(&a.Address, &balance, &a.TxCount, &received, &sent, &a.UnspentCount, &a.FirstSeenHeight, &a.LastActivityHeight); err != nil {
			return nil, errors.Wrap(err, "scanning richlist row")
		}
		a.Balance = types.Amount(balance)
		a.TotalReceived = types.Amount(received)
		a.TotalSent = types.Amount(sent)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListProducers(ctx context.Context, limit, offset int) ([]types.Producer, error) {
	rows, err := s.conn.Query(ctx, `SELECT identity, blocks_produced, total_reward, first_block, last_block
		FROM producers FINAL ORDER BY blocks_produced DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "querying producers")
	}
	defer rows.Close()

	var out []types.Producer
	for rows.Next() {
		var p types.Producer
		var reward int64
		if err := rows.Scan(&p.Identity, &p.BlocksProduced, &reward, &p.FirstBlock, &p.LastBlock); err != nil {
			return nil, errors.Wrap(err, "scanning producer row")
		}
		p.TotalReward = types.Amount(reward)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListFluxNodeStatus(ctx context.Context, limit, offset int) ([]types.FluxNodeStatus, error) {
	rows, err := s.conn.Query(ctx, `SELECT collateral_txid, collateral_vout, ip, public_key, status, tier, last_paid_height, last_seen_height, tier_mismatch
		FROM fluxnode_status FINAL ORDER BY last_paid_height DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "querying fluxnode_status")
	}
	defer rows.Close()

	var out []types.FluxNodeStatus
	for rows.Next() {
		n, err := scanFluxNodeStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) GetFluxNodeStatusByIP(ctx context.Context, ip string) (*types.FluxNodeStatus, error) {
	row := s.conn.QueryRow(ctx, `SELECT collateral_txid, collateral_vout, ip, public_key, status, tier, last_paid_height, last_seen_height, tier_mismatch
		FROM fluxnode_status FINAL WHERE ip = ? LIMIT 1`, ip)
	n, err := scanFluxNodeStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return n, nil
}

func scanFluxNodeStatus(row rowScanner) (*types.FluxNodeStatus, error) {
	var n types.FluxNodeStatus
	var tier string
	var mismatch uint8
	if err := row.Scan(&n.CollateralTxID, &n.CollateralVout, &n.IP, &n.PublicKey, &n.Status, &tier, &n.LastPaidHeight, &n.LastSeenHeight, &mismatch); err != nil {
		return nil, errors.Wrap(err, "scanning fluxnode_status row")
	}
	n.Tier = types.BenchmarkTier(tier)
	n.TierMismatch = mismatch != 0
	return &n, nil
}

// CountMempoolLikeRecentTransactions approximates mempool activity with
// the count of transactions indexed within sinceHeight of the tip, since
// this indexer only ever observes confirmed, block-included transactions
// (see DESIGN.md on the dropped mempool relay dependency).
func (s *Store) CountMempoolLikeRecentTransactions(ctx context.Context, sinceHeight int64) (int64, error) {
	row := s.conn.QueryRow(ctx, "SELECT count() FROM transactions WHERE block_height >= ?", sinceHeight)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, errors.Wrap(err, "counting recent transactions")
	}
	return count, nil
}
