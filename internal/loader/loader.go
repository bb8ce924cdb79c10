// Package loader accumulates the Block Indexer's row batches across
// many blocks and flushes them to the analytical store at high
// throughput, resolving UTXO spends through a short-lived cache
// instead of round-tripping the store for every input.
package loader

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/indexer"
	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

var log = logger.Get(logger.TagBULK)

// FlushError wraps a failure during Flush, naming which sub-insert
// failed so the Sync Engine can log precisely where a batch boundary
// broke without advancing SyncState.
type FlushError struct {
	Stage string
	Err   error
}

func (e *FlushError) Error() string {
	return "flushing " + e.Stage + ": " + e.Err.Error()
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// estimatedBytesPerRow estimates how many bytes a pending buffer holds, as a
// crude proxy (row count × a fixed per-row estimate) since ClickHouse's
// native batch API doesn't expose a running byte count pre-Send.
const estimatedBytesPerRow = 128

// Loader buffers rows by table, assigns UTXO/projection merge versions,
// and drains buffers into the store.
type Loader struct {
	writer store.Writer
	reader store.Reader

	flushThresholdBytes int
	nextVersion         atomic.Uint64
	runningSupply       int64

	mu                      sync.Mutex
	cache                   *utxoCache
	blocks                  []types.Block
	coinbaseOutputs         []store.CoinbaseOutputRow
	transactions            []types.Transaction
	utxos                   []types.UTXO
	addressTransactions     []types.AddressTransaction
	transactionParticipants []types.TransactionParticipants
	fluxNodeTransactions    []types.FluxNodeTransaction
	supplyStats             []types.SupplyStats
	addressSummaries        map[string]*types.AddressSummary
	producers               map[string]*types.Producer
	dirtySummaries          map[string]struct{}
	dirtyProducers          map[string]struct{}
	bufferedRows            int
}

// New constructs a Loader. reader supplies the starting version counter
// (seeded from the highest version already stored, so "spend after
// create" stays strictly increasing across restarts) and the running
// supply total (seeded from the last SupplyStats checkpoint).
func New(ctx context.Context, writer store.Writer, reader store.Reader, cacheCapacity int, flushThresholdBytes int) (*Loader, error) {
	maxVersion, err := reader.GetMaxUTXOVersion(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "seeding version counter")
	}
	runningSupply := int64(0)
	if stats, err := reader.GetLatestSupplyStats(ctx); err != nil {
		return nil, errors.Wrap(err, "seeding running supply")
	} else if stats != nil {
		runningSupply = int64(stats.TransparentSupply)
	}

	l := &Loader{
		writer:               writer,
		reader:               reader,
		flushThresholdBytes:  flushThresholdBytes,
		runningSupply:        runningSupply,
		cache:                newUTXOCache(cacheCapacity),
		addressSummaries:     make(map[string]*types.AddressSummary),
		producers:            make(map[string]*types.Producer),
		dirtySummaries:       make(map[string]struct{}),
		dirtyProducers:       make(map[string]struct{}),
	}
	l.nextVersion.Store(maxVersion + 1)
	return l, nil
}

// Resolve implements indexer.UTXOResolver: a cache lookup, falling back
// to the store on a miss (an input spending a UTXO the bounded cache no
// longer, or never, held). indexer.UTXOResolver has no
// context parameter since it sits on the hot per-input path of a
// synchronous indexing pass; context.Background() is appropriate here
// because the fallback query carries no cancellation-sensitive work of
// its own beyond the store's own query timeout.
func (l *Loader) Resolve(op types.OutPoint) (string, types.Amount, bool) {
	if entry, ok := l.cache.Get(op); ok {
		return entry.Address, entry.Value, true
	}
	if l.reader == nil {
		return "", 0, false
	}
	address, value, found, err := l.reader.GetUTXO(context.Background(), op)
	if err != nil {
		log.Warnf("store fallback lookup for outpoint %s:%d failed: %s", op.TxID, op.Vout, err)
		return "", 0, false
	}
	if found {
		l.cache.Put(op, CacheEntry{Address: address, Value: value})
	}
	return address, value, found
}

var _ indexer.UTXOResolver = (*Loader)(nil)

// Accumulate buffers one RowBatch's rows, assigning UTXO merge versions
// and maintaining the AddressSummary/Producer projections in memory
// unless the batch is in fast-sync skip-summary mode.
func (l *Loader) Accumulate(batch *indexer.RowBatch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.blocks = append(l.blocks, batch.Blocks...)
	l.coinbaseOutputs = append(l.coinbaseOutputs, batch.CoinbaseOutputs...)
	l.transactions = append(l.transactions, batch.Transactions...)
	l.addressTransactions = append(l.addressTransactions, batch.AddressTransactions...)
	l.transactionParticipants = append(l.transactionParticipants, batch.TransactionParticipants...)
	l.fluxNodeTransactions = append(l.fluxNodeTransactions, batch.FluxNodeTransactions...)
	l.bufferedRows += len(batch.Blocks) + len(batch.CoinbaseOutputs) + len(batch.Transactions) +
		len(batch.AddressTransactions) + len(batch.TransactionParticipants) + len(batch.FluxNodeTransactions)

	for _, c := range batch.UTXOsCreated {
		version := l.nextVersion.Add(1)
		l.cache.Put(c.OutPoint, CacheEntry{Address: c.Address, Value: c.Value})
		l.utxos = append(l.utxos, types.UTXO{
			TxID:        c.OutPoint.TxID,
			Vout:        c.OutPoint.Vout,
			Address:     c.Address,
			Value:       c.Value,
			ScriptType:  c.ScriptType,
			BlockHeight: c.BlockHeight,
			Spent:       false,
			Version:     version,
		})
		l.bufferedRows++
		if !batch.SkipSummaryUpdates && c.Address != types.ShieldedAddress {
			l.touchSummaryOnCreate(c)
		}
	}

	for _, sp := range batch.UTXOsSpent {
		entry, ok := l.cache.Get(sp.OutPoint)
		if !ok {
			log.Warnf("spend for unresolved outpoint %s:%d at height %d dropped", sp.OutPoint.TxID, sp.OutPoint.Vout, sp.SpentBlockHeight)
			continue
		}
		version := l.nextVersion.Add(1)
		l.utxos = append(l.utxos, types.UTXO{
			TxID:             sp.OutPoint.TxID,
			Vout:             sp.OutPoint.Vout,
			Address:          entry.Address,
			Value:            entry.Value,
			BlockHeight:      sp.SpentBlockHeight,
			Spent:            true,
			SpentByTxID:      sp.SpentByTxID,
			SpentBlockHeight: sp.SpentBlockHeight,
			SpentTime:        sp.SpentTime,
			Version:          version,
		})
		l.bufferedRows++
		if !batch.SkipSummaryUpdates && entry.Address != types.ShieldedAddress {
			l.touchSummaryOnSpend(entry, sp)
		}
	}

	for _, d := range batch.SupplyDeltas {
		l.runningSupply += int64(d.TransparentDelta)
		l.supplyStats = append(l.supplyStats, types.SupplyStats{
			BlockHeight:       d.BlockHeight,
			TransparentSupply: types.Amount(l.runningSupply),
			SaplingPool:       d.SaplingPool,
			SproutPool:        d.SproutPool,
		})
		l.bufferedRows++
	}

	if !batch.SkipSummaryUpdates {
		for _, b := range batch.Blocks {
			if b.Producer == "" {
				continue
			}
			l.touchProducer(b)
		}
	}
}

// loadOrInitSummary returns the in-memory running projection for
// address, seeding it from the store on first touch in this process so
// a restart doesn't silently truncate an address's history back to
// zero the next time its projection is flushed.
func (l *Loader) loadOrInitSummary(address string, firstSeenHeight int64) *types.AddressSummary {
	if s, ok := l.addressSummaries[address]; ok {
		return s
	}
	var s *types.AddressSummary
	if l.reader != nil {
		if stored, err := l.reader.GetAddressSummary(context.Background(), address); err != nil {
			log.Warnf("seeding address summary for %s from store failed: %s", address, err)
		} else if stored != nil {
			seeded := *stored
			s = &seeded
		}
	}
	if s == nil {
		s = &types.AddressSummary{Address: address, FirstSeenHeight: firstSeenHeight}
	}
	l.addressSummaries[address] = s
	return s
}

// loadOrInitProducer is loadOrInitSummary's counterpart for the
// per-producer projection.
func (l *Loader) loadOrInitProducer(identity string, firstBlock int64) *types.Producer {
	if p, ok := l.producers[identity]; ok {
		return p
	}
	var p *types.Producer
	if l.reader != nil {
		if stored, err := l.reader.GetProducer(context.Background(), identity); err != nil {
			log.Warnf("seeding producer for %s from store failed: %s", identity, err)
		} else if stored != nil {
			seeded := *stored
			p = &seeded
		}
	}
	if p == nil {
		p = &types.Producer{Identity: identity, FirstBlock: firstBlock}
	}
	l.producers[identity] = p
	return p
}

func (l *Loader) touchSummaryOnCreate(c indexer.UTXOCreate) {
	l.dirtySummaries[c.Address] = struct{}{}
	s := l.loadOrInitSummary(c.Address, c.BlockHeight)
	s.Balance += c.Value
	s.TotalReceived += c.Value
	s.UnspentCount++
	s.TxCount++
	if s.FirstSeenHeight == 0 || c.BlockHeight < s.FirstSeenHeight {
		s.FirstSeenHeight = c.BlockHeight
	}
	if c.BlockHeight > s.LastActivityHeight {
		s.LastActivityHeight = c.BlockHeight
	}
}

func (l *Loader) touchSummaryOnSpend(entry CacheEntry, sp indexer.UTXOSpend) {
	l.dirtySummaries[entry.Address] = struct{}{}
	s := l.loadOrInitSummary(entry.Address, sp.SpentBlockHeight)
	s.Balance -= entry.Value
	s.TotalSent += entry.Value
	s.UnspentCount--
	s.TxCount++
	if sp.SpentBlockHeight > s.LastActivityHeight {
		s.LastActivityHeight = sp.SpentBlockHeight
	}
}

func (l *Loader) touchProducer(b types.Block) {
	l.dirtyProducers[b.Producer] = struct{}{}
	p := l.loadOrInitProducer(b.Producer, b.Height)
	p.BlocksProduced++
	p.TotalReward += b.TransparentReward
	if p.FirstBlock == 0 || b.Height < p.FirstBlock {
		p.FirstBlock = b.Height
	}
	if b.Height > p.LastBlock {
		p.LastBlock = b.Height
	}
}

// ShouldFlush reports whether the buffered row count, summed across all
// tables and multiplied by estimatedBytesPerRow, has crossed the
// configured threshold. The estimate avoids depending on ClickHouse's
// wire encoding size. It is a single total, not a per-table check, and
// the Sync Engine does not call it: flushes happen once per batch.
func (l *Loader) ShouldFlush() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bufferedRows*estimatedBytesPerRow >= l.flushThresholdBytes
}

// Flush synchronously drains every buffered table to the store. The
// Sync Engine calls this at batch and reorg boundaries, before
// SyncState is advanced, per the bulk loader's drain contract.
func (l *Loader) Flush(ctx context.Context) error {
	l.mu.Lock()
	blocks := l.blocks
	coinbaseOutputs := l.coinbaseOutputs
	transactions := l.transactions
	utxos := l.utxos
	addressTransactions := l.addressTransactions
	transactionParticipants := l.transactionParticipants
	fluxNodeTransactions := l.fluxNodeTransactions
	supplyStats := l.supplyStats
	summaries := l.drainSummariesLocked()
	producers := l.drainProducersLocked()
	l.resetLocked()
	l.mu.Unlock()

	if err := l.writer.InsertBlocks(ctx, blocks); err != nil {
		return &FlushError{Stage: "blocks", Err: err}
	}
	if err := l.writer.InsertCoinbaseOutputs(ctx, coinbaseOutputs); err != nil {
		return &FlushError{Stage: "coinbase_outputs", Err: err}
	}
	if err := l.writer.InsertTransactions(ctx, transactions); err != nil {
		return &FlushError{Stage: "transactions", Err: err}
	}
	if err := l.writer.UpsertUTXOs(ctx, utxos); err != nil {
		return &FlushError{Stage: "utxos", Err: err}
	}
	if err := l.writer.InsertAddressTransactions(ctx, addressTransactions); err != nil {
		return &FlushError{Stage: "address_transactions", Err: err}
	}
	if err := l.writer.InsertTransactionParticipants(ctx, transactionParticipants); err != nil {
		return &FlushError{Stage: "transaction_participants", Err: err}
	}
	if err := l.writer.InsertFluxNodeTransactions(ctx, fluxNodeTransactions); err != nil {
		return &FlushError{Stage: "fluxnode_transactions", Err: err}
	}
	if err := l.writer.InsertSupplyStats(ctx, supplyStats); err != nil {
		return &FlushError{Stage: "supply_stats", Err: err}
	}
	if len(summaries) > 0 {
		if err := l.writer.UpsertAddressSummaries(ctx, summaries); err != nil {
			return &FlushError{Stage: "address_summaries", Err: err}
		}
	}
	if len(producers) > 0 {
		if err := l.writer.UpsertProducers(ctx, producers); err != nil {
			return &FlushError{Stage: "producers", Err: err}
		}
	}
	return nil
}

// drainSummariesLocked emits the full, cumulative projection for every
// address touched since the last flush. The projections themselves
// (l.addressSummaries) persist across flushes so each emitted row is
// the complete running total: ReplacingMergeTree keeps only the
// highest-version row per address, so a row carrying a partial delta
// would silently erase everything accumulated before it.
func (l *Loader) drainSummariesLocked() []store.AddressSummaryVersioned {
	if len(l.dirtySummaries) == 0 {
		return nil
	}
	out := make([]store.AddressSummaryVersioned, 0, len(l.dirtySummaries))
	for address := range l.dirtySummaries {
		s := l.addressSummaries[address]
		out = append(out, store.AddressSummaryVersioned{AddressSummary: *s, Version: l.nextVersion.Add(1)})
	}
	return out
}

// drainProducersLocked is drainSummariesLocked's counterpart for the
// per-producer projection.
func (l *Loader) drainProducersLocked() []store.ProducerVersioned {
	if len(l.dirtyProducers) == 0 {
		return nil
	}
	out := make([]store.ProducerVersioned, 0, len(l.dirtyProducers))
	for identity := range l.dirtyProducers {
		p := l.producers[identity]
		out = append(out, store.ProducerVersioned{Producer: *p, Version: l.nextVersion.Add(1)})
	}
	return out
}

func (l *Loader) resetLocked() {
	l.blocks = nil
	l.coinbaseOutputs = nil
	l.transactions = nil
	l.utxos = nil
	l.addressTransactions = nil
	l.transactionParticipants = nil
	l.fluxNodeTransactions = nil
	l.supplyStats = nil
	l.dirtySummaries = make(map[string]struct{})
	l.dirtyProducers = make(map[string]struct{})
	l.bufferedRows = 0
}
