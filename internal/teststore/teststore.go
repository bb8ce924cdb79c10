// Package teststore is an in-memory stand-in for internal/store,
// implementing the store.Writer/Reader/RollbackStore surface the sync
// pipeline depends on, so end-to-end scenarios can run without a live
// ClickHouse instance (spec's "test harness with an in-memory store").
package teststore

import (
	"context"
	"sync"

	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

// Store is an in-memory implementation of store.Writer, store.Reader,
// and store.RollbackStore. Versioned entities keep only their
// highest-version row per key, mirroring ClickHouse's
// ReplacingMergeTree collapse-on-read (FINAL) semantics.
type Store struct {
	mu sync.Mutex

	blocks                map[int64]types.Block
	coinbaseOutputs       []store.CoinbaseOutputRow
	transactions          map[string]types.Transaction
	utxos                 map[types.OutPoint]types.UTXO
	addressTransactions   []types.AddressTransaction
	addressSummaries      map[string]store.AddressSummaryVersioned
	transactionParticipants map[string]types.TransactionParticipants
	fluxNodeTransactions  []types.FluxNodeTransaction
	fluxNodeStatus        map[string]store.FluxNodeStatusVersioned
	supplyStats           []types.SupplyStats
	producers             map[string]store.ProducerVersioned
	syncState             *types.SyncState
	reorgEvents           []types.ReorgEvent
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		blocks:                  make(map[int64]types.Block),
		transactions:            make(map[string]types.Transaction),
		utxos:                   make(map[types.OutPoint]types.UTXO),
		addressSummaries:        make(map[string]store.AddressSummaryVersioned),
		transactionParticipants: make(map[string]types.TransactionParticipants),
		fluxNodeStatus:          make(map[string]store.FluxNodeStatusVersioned),
		producers:               make(map[string]store.ProducerVersioned),
	}
}

var (
	_ store.Writer        = (*Store)(nil)
	_ store.Reader        = (*Store)(nil)
	_ store.RollbackStore = (*Store)(nil)
)

func (s *Store) InsertBlocks(ctx context.Context, blocks []types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		s.blocks[b.Height] = b
	}
	return nil
}

func (s *Store) InsertCoinbaseOutputs(ctx context.Context, outputs []store.CoinbaseOutputRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coinbaseOutputs = append(s.coinbaseOutputs, outputs...)
	return nil
}

func (s *Store) InsertTransactions(ctx context.Context, txs []types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		s.transactions[tx.TxID] = tx
	}
	return nil
}

func (s *Store) UpsertUTXOs(ctx context.Context, utxos []types.UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range utxos {
		op := types.OutPoint{TxID: u.TxID, Vout: u.Vout}
		if existing, ok := s.utxos[op]; ok && existing.Version > u.Version {
			continue
		}
		s.utxos[op] = u
	}
	return nil
}

func (s *Store) InsertAddressTransactions(ctx context.Context, rows []types.AddressTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressTransactions = append(s.addressTransactions, rows...)
	return nil
}

func (s *Store) UpsertAddressSummaries(ctx context.Context, rows []store.AddressSummaryVersioned) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if existing, ok := s.addressSummaries[r.Address]; ok && existing.Version > r.Version {
			continue
		}
		s.addressSummaries[r.Address] = r
	}
	return nil
}

func (s *Store) InsertTransactionParticipants(ctx context.Context, rows []types.TransactionParticipants) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.transactionParticipants[r.TxID] = r
	}
	return nil
}

func (s *Store) InsertFluxNodeTransactions(ctx context.Context, rows []types.FluxNodeTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fluxNodeTransactions = append(s.fluxNodeTransactions, rows...)
	return nil
}

func (s *Store) UpsertFluxNodeStatus(ctx context.Context, rows []store.FluxNodeStatusVersioned) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		key := r.CollateralTxID
		if existing, ok := s.fluxNodeStatus[key]; ok && existing.Version > r.Version {
			continue
		}
		s.fluxNodeStatus[key] = r
	}
	return nil
}

func (s *Store) InsertSupplyStats(ctx context.Context, rows []types.SupplyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supplyStats = append(s.supplyStats, rows...)
	return nil
}

func (s *Store) UpsertProducers(ctx context.Context, rows []store.ProducerVersioned) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if existing, ok := s.producers[r.Identity]; ok && existing.Version > r.Version {
			continue
		}
		s.producers[r.Identity] = r
	}
	return nil
}

func (s *Store) SetSyncState(ctx context.Context, state types.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := state
	s.syncState = &st
	return nil
}

func (s *Store) InsertReorgEvent(ctx context.Context, event types.ReorgEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reorgEvents = append(s.reorgEvents, event)
	return nil
}

func (s *Store) GetSyncState(ctx context.Context) (*types.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncState == nil {
		return nil, nil
	}
	st := *s.syncState
	return &st, nil
}

func (s *Store) GetMaxUTXOVersion(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint64
	for _, u := range s.utxos {
		if u.Version > max {
			max = u.Version
		}
	}
	return max, nil
}

func (s *Store) GetAddressSummary(ctx context.Context, address string) (*types.AddressSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.addressSummaries[address]; ok {
		summary := r.AddressSummary
		return &summary, nil
	}
	return nil, nil
}

func (s *Store) GetProducer(ctx context.Context, identity string) (*types.Producer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.producers[identity]; ok {
		p := r.Producer
		return &p, nil
	}
	return nil, nil
}

func (s *Store) GetBlockHashAtHeight(ctx context.Context, height int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blocks[height]; ok {
		return b.Hash, nil
	}
	return "", nil
}

func (s *Store) GetTipHeight(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tip := int64(-1)
	for h := range s.blocks {
		if h > tip {
			tip = h
		}
	}
	return tip, nil
}

func (s *Store) GetLatestSupplyStats(ctx context.Context) (*types.SupplyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.supplyStats) == 0 {
		return nil, nil
	}
	latest := s.supplyStats[0]
	for _, st := range s.supplyStats[1:] {
		if st.BlockHeight > latest.BlockHeight {
			latest = st
		}
	}
	return &latest, nil
}

func (s *Store) GetUTXO(ctx context.Context, op types.OutPoint) (string, types.Amount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.utxos[op]; ok {
		return u.Address, u.Value, true, nil
	}
	return "", 0, false, nil
}

func (s *Store) GetFluxNodeBenchmarkTier(ctx context.Context, collateralTxID string, collateralVout int32) (types.BenchmarkTier, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *types.FluxNodeTransaction
	for i := range s.fluxNodeTransactions {
		row := s.fluxNodeTransactions[i]
		if row.CollateralTxID != collateralTxID || row.CollateralVout != collateralVout || row.BenchmarkTier == "" {
			continue
		}
		if best == nil || row.BlockHeight > best.BlockHeight {
			best = &row
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.BenchmarkTier, true, nil
}

// RollbackAboveHeight deletes every row tied to a height greater than
// ancestorHeight and un-spends any UTXO spent above it, mirroring
// store.Store.RollbackAboveHeight's ClickHouse mutations.
func (s *Store) RollbackAboveHeight(ctx context.Context, ancestorHeight int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h := range s.blocks {
		if h > ancestorHeight {
			delete(s.blocks, h)
		}
	}
	for txid, tx := range s.transactions {
		if tx.BlockHeight > ancestorHeight {
			delete(s.transactions, txid)
			delete(s.transactionParticipants, txid)
		}
	}

	var keptCoinbase []store.CoinbaseOutputRow
	for _, o := range s.coinbaseOutputs {
		if o.BlockHeight <= ancestorHeight {
			keptCoinbase = append(keptCoinbase, o)
		}
	}
	s.coinbaseOutputs = keptCoinbase

	var keptAddrTx []types.AddressTransaction
	for _, r := range s.addressTransactions {
		if r.BlockHeight <= ancestorHeight {
			keptAddrTx = append(keptAddrTx, r)
		}
	}
	s.addressTransactions = keptAddrTx

	var keptSupply []types.SupplyStats
	for _, r := range s.supplyStats {
		if r.BlockHeight <= ancestorHeight {
			keptSupply = append(keptSupply, r)
		}
	}
	s.supplyStats = keptSupply

	var keptFluxTx []types.FluxNodeTransaction
	for _, r := range s.fluxNodeTransactions {
		if r.BlockHeight <= ancestorHeight {
			keptFluxTx = append(keptFluxTx, r)
		}
	}
	s.fluxNodeTransactions = keptFluxTx

	for op, u := range s.utxos {
		if u.BlockHeight > ancestorHeight {
			delete(s.utxos, op)
			continue
		}
		if u.Spent && u.SpentBlockHeight > ancestorHeight {
			u.Spent = false
			u.SpentByTxID = ""
			u.SpentBlockHeight = 0
			u.Version++
			s.utxos[op] = u
		}
	}

	return nil
}

// AffectedAddresses returns every address touched by a block above
// ancestorHeight, read BEFORE RollbackAboveHeight removes those rows.
func (s *Store) AffectedAddresses(ctx context.Context, ancestorHeight int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{})
	for _, r := range s.addressTransactions {
		if r.BlockHeight > ancestorHeight {
			set[r.Address] = struct{}{}
		}
	}
	for _, u := range s.utxos {
		if u.BlockHeight > ancestorHeight || (u.Spent && u.SpentBlockHeight > ancestorHeight) {
			set[u.Address] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out, nil
}

// AffectedProducers returns every producer identity of a block above
// ancestorHeight, read BEFORE RollbackAboveHeight removes those rows.
func (s *Store) AffectedProducers(ctx context.Context, ancestorHeight int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{})
	for h, b := range s.blocks {
		if h > ancestorHeight && b.Producer != "" {
			set[b.Producer] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out, nil
}

// RebuildAddressSummaries recomputes each address's balance projection
// from the now-authoritative utxos map, the in-memory equivalent of the
// ClickHouse aggregate rebuild in store.Store.RebuildAddressSummaries.
func (s *Store) RebuildAddressSummaries(ctx context.Context, addresses []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, address := range addresses {
		var summary types.AddressSummary
		summary.Address = address
		var version uint64
		for _, u := range s.utxos {
			if u.Address != address {
				continue
			}
			if u.Version > version {
				version = u.Version
			}
			summary.TotalReceived += u.Value
			if u.Spent {
				summary.TotalSent += u.Value
			} else {
				summary.Balance += u.Value
				summary.UnspentCount++
			}
		}
		existing := s.addressSummaries[address]
		s.addressSummaries[address] = store.AddressSummaryVersioned{AddressSummary: summary, Version: existing.Version + 1}
	}
	return nil
}

// RebuildProducers recomputes each producer's block-production
// projection from the now-authoritative blocks map.
func (s *Store) RebuildProducers(ctx context.Context, identities []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range identities {
		var p types.Producer
		p.Identity = identity
		first := true
		for _, b := range s.blocks {
			if b.Producer != identity {
				continue
			}
			p.BlocksProduced++
			p.TotalReward += b.TransparentReward
			if first || b.Height < p.FirstBlock {
				p.FirstBlock = b.Height
			}
			if b.Height > p.LastBlock {
				p.LastBlock = b.Height
			}
			first = false
		}
		existing := s.producers[identity]
		s.producers[identity] = store.ProducerVersioned{Producer: p, Version: existing.Version + 1}
	}
	return nil
}
