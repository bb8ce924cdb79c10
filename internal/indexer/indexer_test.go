package indexer

import (
	"encoding/json"
	"testing"

	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

type fakeResolver struct {
	entries map[types.OutPoint]CacheEntryStub
}

type CacheEntryStub struct {
	Address string
	Value   types.Amount
}

func (f *fakeResolver) Resolve(op types.OutPoint) (string, types.Amount, bool) {
	e, ok := f.entries[op]
	if !ok {
		return "", 0, false
	}
	return e.Address, e.Value, true
}

func rawTxJSON(t *testing.T, tx rpcclient.RawTransaction) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshaling tx: %s", err)
	}
	return b
}

func TestIndexBlock_CoinbaseAndRegularTx(t *testing.T) {
	resolver := &fakeResolver{entries: map[types.OutPoint]CacheEntryStub{
		{TxID: "prevtx", Vout: 0}: {Address: "addrA", Value: 1000},
	}}
	ix := New(resolver)

	coinbaseTx := rpcclient.RawTransaction{
		TxID:    "coinbasetx",
		Version: 1,
		Vin:     []rpcclient.Vin{{Coinbase: "aabbcc"}},
		Vout: []rpcclient.Vout{
			{N: 0, Value: 375, ScriptPubKey: rpcclient.ScriptPubKey{Type: "pubkeyhash", Addresses: []string{"minerAddr"}}},
		},
	}
	regularTx := rpcclient.RawTransaction{
		TxID:    "regulartx",
		Version: 1,
		Vin:     []rpcclient.Vin{{TxID: "prevtx", Vout: 0}},
		Vout: []rpcclient.Vout{
			{N: 0, Value: 0.00000500, ScriptPubKey: rpcclient.ScriptPubKey{Type: "pubkeyhash", Addresses: []string{"addrB"}}},
		},
		Hex: "01000000000000000000",
	}

	block := &rpcclient.RawBlock{
		Hash:              "blockhash1",
		Height:            100,
		PreviousBlockHash: "blockhash0",
		Time:              1700000000,
		Size:              1000,
		Tx:                []json.RawMessage{rawTxJSON(t, coinbaseTx), rawTxJSON(t, regularTx)},
	}

	batch, err := ix.IndexBlock(block, false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if len(batch.Blocks) != 1 {
		t.Fatalf("expected 1 block row, got %d", len(batch.Blocks))
	}
	if batch.Blocks[0].Producer != "minerAddr" {
		t.Fatalf("expected producer minerAddr, got %s", batch.Blocks[0].Producer)
	}
	if len(batch.Transactions) != 2 {
		t.Fatalf("expected 2 transaction rows, got %d", len(batch.Transactions))
	}
	if !batch.Transactions[0].IsCoinbase {
		t.Fatalf("expected first transaction to be coinbase")
	}
	if batch.Transactions[1].IsCoinbase {
		t.Fatalf("did not expect regular transaction to be coinbase")
	}
	if len(batch.UTXOsSpent) != 1 {
		t.Fatalf("expected 1 spent utxo, got %d", len(batch.UTXOsSpent))
	}
	if len(batch.UTXOsCreated) != 2 {
		t.Fatalf("expected 2 created utxos, got %d", len(batch.UTXOsCreated))
	}
}

func TestIndexBlock_SkipSummaryPropagates(t *testing.T) {
	resolver := &fakeResolver{entries: map[types.OutPoint]CacheEntryStub{}}
	ix := New(resolver)
	block := &rpcclient.RawBlock{
		Hash:   "h",
		Height: 1,
		Tx: []json.RawMessage{rawTxJSON(t, rpcclient.RawTransaction{
			TxID: "cb",
			Vin:  []rpcclient.Vin{{Coinbase: "00"}},
			Vout: []rpcclient.Vout{{N: 0, Value: 375, ScriptPubKey: rpcclient.ScriptPubKey{Type: "pubkeyhash", Addresses: []string{"a"}}}},
		})},
	}
	batch, err := ix.IndexBlock(block, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !batch.SkipSummaryUpdates {
		t.Fatalf("expected SkipSummaryUpdates to propagate")
	}
}
