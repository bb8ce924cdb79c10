package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

// RebuildAddressSummaries recomputes the AddressSummary projection for
// each address directly from the now-authoritative utxos table, the
// rebuild path the Reorg Controller uses for every address that
// produced or consumed a UTXO above the rollback's common ancestor
// (step 2h of the rollback algorithm).
func (s *Store) RebuildAddressSummaries(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	rows, err := s.conn.Query(ctx, `SELECT
		address,
		sumIf(value, spent = 0) AS balance,
		countIf(spent = 0) AS unspent_count,
		sumIf(value, 1) AS total_received,
		sumIf(value, spent = 1) AS total_sent,
		count() AS tx_count,
		min(block_height) AS first_seen_height,
		max(if(spent = 1, spent_block_height, block_height)) AS last_activity_height
		FROM utxos FINAL
		WHERE address IN ?
		GROUP BY address`, addresses)
	if err != nil {
		return errors.Wrap(err, "aggregating address summaries from utxos")
	}
	defer rows.Close()

	version := uint64(time.Now().UnixNano())
	var rebuilt []AddressSummaryVersioned
	for rows.Next() {
		var r AddressSummaryVersioned
		var balance, totalReceived, totalSent int64
		if err := rows.Scan(&r.Address, &balance, &r.UnspentCount, &totalReceived, &totalSent,
			&r.TxCount, &r.FirstSeenHeight, &r.LastActivityHeight); err != nil {
			return errors.Wrap(err, "scanning rebuilt address summary")
		}
		r.Balance = types.Amount(balance)
		r.TotalReceived = types.Amount(totalReceived)
		r.TotalSent = types.Amount(totalSent)
		r.Version = version
		rebuilt = append(rebuilt, r)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating rebuilt address summaries")
	}
	return s.UpsertAddressSummaries(ctx, rebuilt)
}

// RebuildProducers recomputes the Producer projection from the
// now-authoritative blocks table, covering every producer that
// authored a block above the rollback's common ancestor.
func (s *Store) RebuildProducers(ctx context.Context, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	rows, err := s.conn.Query(ctx, `SELECT
		producer,
		count() AS blocks_produced,
		sum(transparent_reward) AS total_reward,
		min(height) AS first_block,
		max(height) AS last_block
		FROM blocks
		WHERE producer IN ?
		GROUP BY producer`, identities)
	if err != nil {
		return errors.Wrap(err, "aggregating producers from blocks")
	}
	defer rows.Close()

	version := uint64(time.Now().UnixNano())
	var rebuilt []ProducerVersioned
	for rows.Next() {
		var r ProducerVersioned
		var totalReward int64
		if err := rows.Scan(&r.Identity, &r.BlocksProduced, &totalReward, &r.FirstBlock, &r.LastBlock); err != nil {
			return errors.Wrap(err, "scanning rebuilt producer")
		}
		r.TotalReward = types.Amount(totalReward)
		r.Version = version
		rebuilt = append(rebuilt, r)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating rebuilt producers")
	}
	return s.UpsertProducers(ctx, rebuilt)
}

// AffectedAddresses returns the distinct set of addresses that produced
// or consumed any UTXO at a height strictly greater than ancestorHeight,
// the input to RebuildAddressSummaries.
func (s *Store) AffectedAddresses(ctx context.Context, ancestorHeight int64) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT address FROM utxos FINAL
		WHERE address != ? AND (block_height > ? OR (spent = 1 AND spent_block_height > ?))`,
		types.ShieldedAddress, ancestorHeight, ancestorHeight)
	if err != nil {
		return nil, errors.Wrap(err, "querying affected addresses")
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, errors.Wrap(err, "scanning affected address")
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

// AffectedProducers returns the distinct set of producer identities
// that authored a block at a height strictly greater than
// ancestorHeight.
func (s *Store) AffectedProducers(ctx context.Context, ancestorHeight int64) ([]string, error) {
	rows, err := s.conn.Query(ctx, "SELECT DISTINCT producer FROM blocks WHERE producer != '' AND height > ?", ancestorHeight)
	if err != nil {
		return nil, errors.Wrap(err, "querying affected producers")
	}
	defer rows.Close()

	var producers []string
	for rows.Next() {
		var producer string
		if err := rows.Scan(&producer); err != nil {
			return nil, errors.Wrap(err, "scanning affected producer")
		}
		producers = append(producers, producer)
	}
	return producers, rows.Err()
}
