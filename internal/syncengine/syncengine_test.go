package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/flux-indexer/fluxindexer/internal/indexer"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

type stubResolver struct{}

func (stubResolver) Resolve(op types.OutPoint) (string, types.Amount, bool) { return "", 0, false }

type stubLoader struct {
	accumulated []*indexer.RowBatch
	flushCount  int
}

func (l *stubLoader) Accumulate(batch *indexer.RowBatch) { l.accumulated = append(l.accumulated, batch) }
func (l *stubLoader) Flush(ctx context.Context) error    { l.flushCount++; return nil }

type stubStore struct {
	state *types.SyncState
	hash  string
}

func (s *stubStore) GetSyncState(ctx context.Context) (*types.SyncState, error) { return s.state, nil }
func (s *stubStore) SetSyncState(ctx context.Context, state types.SyncState) error {
	s.state = &state
	return nil
}
func (s *stubStore) GetBlockHashAtHeight(ctx context.Context, height int64) (string, error) {
	return s.hash, nil
}

type stubRPC struct {
	info           *rpcclient.BlockchainInfo
	blocksByHeight map[int64]*rpcclient.RawBlock
	hashesByHeight map[int64]string
	txsByID        map[string]*rpcclient.RawTransaction
	fetchedTxIDs   []string
}

func (r *stubRPC) GetBlockchainInfo(ctx context.Context) (*rpcclient.BlockchainInfo, error) {
	return r.info, nil
}
func (r *stubRPC) GetBlockCount(ctx context.Context) (int64, error) { return 0, nil }
func (r *stubRPC) GetBlockHash(ctx context.Context, height int64) (string, error) {
	return r.hashesByHeight[height], nil
}
func (r *stubRPC) GetBlock(ctx context.Context, hash string, verbosity int) (*rpcclient.RawBlock, error) {
	return nil, nil
}
func (r *stubRPC) GetRawTransaction(ctx context.Context, txid string, blockhash string) (*rpcclient.RawTransaction, error) {
	r.fetchedTxIDs = append(r.fetchedTxIDs, txid)
	tx, ok := r.txsByID[txid]
	if !ok {
		return nil, fmt.Errorf("stubRPC: no transaction %s", txid)
	}
	return tx, nil
}
func (r *stubRPC) GetChainTips(ctx context.Context) ([]rpcclient.ChainTip, error) { return nil, nil }
func (r *stubRPC) ListFluxNodes(ctx context.Context) ([]rpcclient.FluxNodeEntry, error) {
	return nil, nil
}
func (r *stubRPC) BatchGetBlockHashes(ctx context.Context, heights []int64) (map[int64]string, error) {
	return nil, nil
}
func (r *stubRPC) BatchGetBlocks(ctx context.Context, heights []int64) ([]*rpcclient.RawBlock, error) {
	out := make([]*rpcclient.RawBlock, len(heights))
	for i, h := range heights {
		out[i] = r.blocksByHeight[h]
	}
	return out, nil
}

func coinbaseBlock(t *testing.T, height int64, hash string) *rpcclient.RawBlock {
	t.Helper()
	tx := rpcclient.RawTransaction{
		TxID: "cb",
		Vin:  []rpcclient.Vin{{Coinbase: "00"}},
		Vout: []rpcclient.Vout{{N: 0, Value: 375, ScriptPubKey: rpcclient.ScriptPubKey{Type: "pubkeyhash", Addresses: []string{"miner"}}}},
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal tx: %s", err)
	}
	return &rpcclient.RawBlock{Hash: hash, Height: height, Tx: []json.RawMessage{raw}}
}

func TestEngine_RunOnce_AdvancesOneBatch(t *testing.T) {
	rpc := &stubRPC{
		info: &rpcclient.BlockchainInfo{Blocks: 10, Headers: 10},
		blocksByHeight: map[int64]*rpcclient.RawBlock{
			1: coinbaseBlock(t, 1, "hash1"),
		},
		hashesByHeight: map[int64]string{1: "hash1"},
	}
	st := &stubStore{state: &types.SyncState{CurrentHeight: 0}}
	ld := &stubLoader{}
	ix := indexer.New(stubResolver{})

	e := New(rpc, ix, ld, st, nil, nil, Options{BatchSize: 1, SafetyBufferBlocks: 1000, FastSyncThreshold: 2000, EnableReorg: true})

	again, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if st.state.CurrentHeight != 1 {
		t.Fatalf("expected current height 1, got %d", st.state.CurrentHeight)
	}
	if ld.flushCount != 1 {
		t.Fatalf("expected exactly 1 flush, got %d", ld.flushCount)
	}
	if !again {
		t.Fatalf("expected an immediate reschedule: target is 10 and only height 1 was synced")
	}
}

func TestEngine_RunOnce_HydratesVerbosity1Block(t *testing.T) {
	tx := rpcclient.RawTransaction{
		TxID: "cb",
		Vin:  []rpcclient.Vin{{Coinbase: "00"}},
		Vout: []rpcclient.Vout{{N: 0, Value: 375, ScriptPubKey: rpcclient.ScriptPubKey{Type: "pubkeyhash", Addresses: []string{"miner"}}}},
	}
	txidJSON, err := json.Marshal("cb")
	if err != nil {
		t.Fatalf("marshal txid: %s", err)
	}
	block := &rpcclient.RawBlock{
		Hash:      "hash1",
		Height:    1,
		Verbosity: 1,
		Tx:        []json.RawMessage{txidJSON},
	}

	rpc := &stubRPC{
		info:           &rpcclient.BlockchainInfo{Blocks: 10, Headers: 10},
		blocksByHeight: map[int64]*rpcclient.RawBlock{1: block},
		hashesByHeight: map[int64]string{1: "hash1"},
		txsByID:        map[string]*rpcclient.RawTransaction{"cb": &tx},
	}
	st := &stubStore{state: &types.SyncState{CurrentHeight: 0}}
	ld := &stubLoader{}
	ix := indexer.New(stubResolver{})

	e := New(rpc, ix, ld, st, nil, nil, Options{BatchSize: 1, SafetyBufferBlocks: 1000, FastSyncThreshold: 2000, EnableReorg: true})

	if _, err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(rpc.fetchedTxIDs) != 1 || rpc.fetchedTxIDs[0] != "cb" {
		t.Fatalf("expected a fetch of txid cb, got %v", rpc.fetchedTxIDs)
	}
	if len(ld.accumulated) != 1 {
		t.Fatalf("expected one indexed batch, got %d", len(ld.accumulated))
	}
	if len(ld.accumulated[0].UTXOsCreated) != 1 {
		t.Fatalf("expected the hydrated coinbase output to be indexed, got %d utxo rows", len(ld.accumulated[0].UTXOsCreated))
	}
}

func TestEngine_RunOnce_NoOpWhenCaughtUp(t *testing.T) {
	rpc := &stubRPC{info: &rpcclient.BlockchainInfo{Blocks: 5, Headers: 5}}
	st := &stubStore{state: &types.SyncState{CurrentHeight: 5, IsSyncing: true}}
	ld := &stubLoader{}
	ix := indexer.New(stubResolver{})

	e := New(rpc, ix, ld, st, nil, nil, Options{BatchSize: 10, SafetyBufferBlocks: 1000, FastSyncThreshold: 2000})
	again, err := e.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if again {
		t.Fatalf("did not expect an immediate reschedule when already at target")
	}
	if st.state.IsSyncing {
		t.Fatalf("expected IsSyncing to be cleared once caught up")
	}
	if ld.flushCount != 0 {
		t.Fatalf("expected no flush when there is nothing to sync")
	}
}

func TestEngine_ComputeTarget_SafetyBuffer(t *testing.T) {
	e := &Engine{opts: Options{SafetyBufferBlocks: 1000}}
	target := e.computeTarget(&rpcclient.BlockchainInfo{Blocks: 500, Headers: 2000})
	if target != 1000 {
		t.Fatalf("expected safety-buffered target of 1000 (2000-1000), got %d", target)
	}

	caughtUp := e.computeTarget(&rpcclient.BlockchainInfo{Blocks: 2000, Headers: 2000})
	if caughtUp != 2000 {
		t.Fatalf("expected full target of 2000 when daemon is caught up, got %d", caughtUp)
	}
}
