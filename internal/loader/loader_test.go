package loader

import (
	"context"
	"testing"

	"github.com/flux-indexer/fluxindexer/internal/indexer"
	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

type fakeWriter struct {
	utxos       []types.UTXO
	blocks      []types.Block
	summaries   []store.AddressSummaryVersioned
	producers   []store.ProducerVersioned
	supplyStats []types.SupplyStats
}

func (f *fakeWriter) InsertBlocks(ctx context.Context, blocks []types.Block) error {
	f.blocks = append(f.blocks, blocks...)
	return nil
}
func (f *fakeWriter) InsertCoinbaseOutputs(ctx context.Context, outputs []store.CoinbaseOutputRow) error {
	return nil
}
func (f *fakeWriter) InsertTransactions(ctx context.Context, txs []types.Transaction) error {
	return nil
}
func (f *fakeWriter) UpsertUTXOs(ctx context.Context, utxos []types.UTXO) error {
	f.utxos = append(f.utxos, utxos...)
	return nil
}
func (f *fakeWriter) InsertAddressTransactions(ctx context.Context, rows []types.AddressTransaction) error {
	return nil
}
func (f *fakeWriter) UpsertAddressSummaries(ctx context.Context, rows []store.AddressSummaryVersioned) error {
	f.summaries = append(f.summaries, rows...)
	return nil
}
func (f *fakeWriter) InsertTransactionParticipants(ctx context.Context, rows []types.TransactionParticipants) error {
	return nil
}
func (f *fakeWriter) InsertFluxNodeTransactions(ctx context.Context, rows []types.FluxNodeTransaction) error {
	return nil
}
func (f *fakeWriter) InsertSupplyStats(ctx context.Context, rows []types.SupplyStats) error {
	f.supplyStats = append(f.supplyStats, rows...)
	return nil
}
func (f *fakeWriter) UpsertProducers(ctx context.Context, rows []store.ProducerVersioned) error {
	f.producers = append(f.producers, rows...)
	return nil
}
func (f *fakeWriter) UpsertFluxNodeStatus(ctx context.Context, rows []store.FluxNodeStatusVersioned) error {
	return nil
}
func (f *fakeWriter) SetSyncState(ctx context.Context, state types.SyncState) error { return nil }
func (f *fakeWriter) InsertReorgEvent(ctx context.Context, event types.ReorgEvent) error {
	return nil
}

type fakeReader struct {
	maxVersion uint64
}

func (f *fakeReader) GetSyncState(ctx context.Context) (*types.SyncState, error) { return nil, nil }
func (f *fakeReader) GetMaxUTXOVersion(ctx context.Context) (uint64, error)      { return f.maxVersion, nil }
func (f *fakeReader) GetAddressSummary(ctx context.Context, address string) (*types.AddressSummary, error) {
	return nil, nil
}
func (f *fakeReader) GetProducer(ctx context.Context, identity string) (*types.Producer, error) {
	return nil, nil
}
func (f *fakeReader) GetBlockHashAtHeight(ctx context.Context, height int64) (string, error) {
	return "", nil
}
func (f *fakeReader) GetTipHeight(ctx context.Context) (int64, error) { return -1, nil }
func (f *fakeReader) GetLatestSupplyStats(ctx context.Context) (*types.SupplyStats, error) {
	return nil, nil
}
func (f *fakeReader) GetUTXO(ctx context.Context, op types.OutPoint) (string, types.Amount, bool, error) {
	return "", 0, false, nil
}
func (f *fakeReader) GetFluxNodeBenchmarkTier(ctx context.Context, collateralTxID string, collateralVout int32) (types.BenchmarkTier, bool, error) {
	return "", false, nil
}

func TestLoader_AccumulateAndFlush_VersionsIncrease(t *testing.T) {
	writer := &fakeWriter{}
	reader := &fakeReader{maxVersion: 10}
	l, err := New(context.Background(), writer, reader, 100, 1<<30)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	op := types.OutPoint{TxID: "tx1", Vout: 0}
	batch := &indexer.RowBatch{
		UTXOsCreated: []indexer.UTXOCreate{
			{OutPoint: op, Address: "addrA", Value: 1000, ScriptType: types.ScriptTypeP2PKH, BlockHeight: 5},
		},
	}
	l.Accumulate(batch)

	spendBatch := &indexer.RowBatch{
		UTXOsSpent: []indexer.UTXOSpend{
			{OutPoint: op, SpentByTxID: "tx2", SpentBlockHeight: 6},
		},
	}
	l.Accumulate(spendBatch)

	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %s", err)
	}

	if len(writer.utxos) != 2 {
		t.Fatalf("expected 2 utxo rows (create + spend), got %d", len(writer.utxos))
	}
	createRow, spendRow := writer.utxos[0], writer.utxos[1]
	if createRow.Spent {
		t.Fatalf("expected first row to be unspent")
	}
	if !spendRow.Spent {
		t.Fatalf("expected second row to be spent")
	}
	if spendRow.Version <= createRow.Version {
		t.Fatalf("expected spend version (%d) to exceed create version (%d)", spendRow.Version, createRow.Version)
	}
	if spendRow.Version <= 10 {
		t.Fatalf("expected version counter to be seeded above the reader's max version (10), got %d", spendRow.Version)
	}
}

func TestLoader_Resolve_CacheHitBeforeStoreFallback(t *testing.T) {
	writer := &fakeWriter{}
	reader := &fakeReader{}
	l, err := New(context.Background(), writer, reader, 10, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	op := types.OutPoint{TxID: "tx1", Vout: 0}
	l.Accumulate(&indexer.RowBatch{
		UTXOsCreated: []indexer.UTXOCreate{
			{OutPoint: op, Address: "addrA", Value: 500, BlockHeight: 1},
		},
	})
	address, value, ok := l.Resolve(op)
	if !ok || address != "addrA" || value != 500 {
		t.Fatalf("expected cache hit for addrA/500, got %s/%d/%v", address, value, ok)
	}
}

func TestLoader_AddressSummary_CumulativeAcrossFlushes(t *testing.T) {
	writer := &fakeWriter{}
	reader := &fakeReader{}
	l, err := New(context.Background(), writer, reader, 10, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	l.Accumulate(&indexer.RowBatch{
		UTXOsCreated: []indexer.UTXOCreate{
			{OutPoint: types.OutPoint{TxID: "tx1", Vout: 0}, Address: "addrA", Value: 500, BlockHeight: 1},
		},
	})
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %s", err)
	}

	l.Accumulate(&indexer.RowBatch{
		UTXOsCreated: []indexer.UTXOCreate{
			{OutPoint: types.OutPoint{TxID: "tx2", Vout: 0}, Address: "addrA", Value: 300, BlockHeight: 2},
		},
	})
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected second flush error: %s", err)
	}

	if len(writer.summaries) != 2 {
		t.Fatalf("expected one summary row per flush, got %d", len(writer.summaries))
	}
	latest := writer.summaries[len(writer.summaries)-1]
	if latest.Balance != 800 {
		t.Fatalf("expected the second flush's row to carry the cumulative balance 800, got %d", latest.Balance)
	}
	if latest.Version <= writer.summaries[0].Version {
		t.Fatalf("expected the second flush's row to carry a higher version than the first")
	}
}

func TestLoader_AddressSummary_SkippedInFastSync(t *testing.T) {
	writer := &fakeWriter{}
	reader := &fakeReader{}
	l, err := New(context.Background(), writer, reader, 10, 1<<20)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	l.Accumulate(&indexer.RowBatch{
		SkipSummaryUpdates: true,
		UTXOsCreated: []indexer.UTXOCreate{
			{OutPoint: types.OutPoint{TxID: "tx1", Vout: 0}, Address: "addrA", Value: 500, BlockHeight: 1},
		},
	})
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %s", err)
	}
	if len(writer.summaries) != 0 {
		t.Fatalf("expected no address summary writes in fast-sync mode, got %d", len(writer.summaries))
	}
}
