// Package testfixture is a scripted, in-memory stand-in for the node
// daemon's JSON-RPC surface, letting the sync pipeline's integration
// tests drive real blocks (including a reorg) through the real
// Engine/Indexer/Loader/Controller stack without a live daemon.
package testfixture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
)

// Daemon is a mutable, in-memory chain exposing the rpcclient.RPC
// surface. Tests build a chain with AppendBlock and can later call
// Rewind+AppendBlock to script a reorg (S3) mid-run.
type Daemon struct {
	mu sync.Mutex

	blocksByHeight map[int64]*rpcclient.RawBlock
	blocksByHash   map[string]*rpcclient.RawBlock
	txsByID        map[string]*rpcclient.RawTransaction
	tip            int64

	fluxNodes  []rpcclient.FluxNodeEntry
	valuePools []rpcclient.ValuePool
}

// New constructs an empty Daemon at height -1 (no blocks yet).
func New() *Daemon {
	return &Daemon{
		blocksByHeight: make(map[int64]*rpcclient.RawBlock),
		blocksByHash:   make(map[string]*rpcclient.RawBlock),
		txsByID:        make(map[string]*rpcclient.RawTransaction),
		tip:            -1,
	}
}

var _ rpcclient.RPC = (*Daemon)(nil)

// AppendBlock adds a block at the current tip+1 and advances the tip.
func (d *Daemon) AppendBlock(block *rpcclient.RawBlock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.putLocked(block)
	if block.Height > d.tip {
		d.tip = block.Height
	}
}

func (d *Daemon) putLocked(block *rpcclient.RawBlock) {
	d.blocksByHeight[block.Height] = block
	d.blocksByHash[block.Hash] = block
	txs, err := block.Txs()
	if err == nil {
		for _, tx := range txs {
			d.txsByID[tx.TxID] = tx
		}
	}
}

// Rewind discards every block above height, simulating the daemon
// having reorganized away from them. The caller appends the replacement
// chain with AppendBlock afterward.
func (d *Daemon) Rewind(height int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h := height + 1; h <= d.tip; h++ {
		if b, ok := d.blocksByHeight[h]; ok {
			delete(d.blocksByHash, b.Hash)
			delete(d.blocksByHeight, h)
		}
	}
	d.tip = height
}

// SetValuePools configures the sapling/sprout/transparent pool values
// reported by GetBlockchainInfo and embedded in subsequently-built
// blocks' ValuePools.
func (d *Daemon) SetValuePools(pools []rpcclient.ValuePool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.valuePools = pools
}

// SetFluxNodes configures the listfluxnodes response.
func (d *Daemon) SetFluxNodes(entries []rpcclient.FluxNodeEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fluxNodes = entries
}

func (d *Daemon) GetBlockchainInfo(ctx context.Context) (*rpcclient.BlockchainInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hash := ""
	if b, ok := d.blocksByHeight[d.tip]; ok {
		hash = b.Hash
	}
	return &rpcclient.BlockchainInfo{
		Chain:         "test",
		Blocks:        d.tip,
		Headers:       d.tip,
		BestBlockHash: hash,
		ValuePools:    d.valuePools,
	}, nil
}

func (d *Daemon) GetBlockCount(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tip, nil
}

func (d *Daemon) GetBlockHash(ctx context.Context, height int64) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blocksByHeight[height]
	if !ok {
		return "", fmt.Errorf("testfixture: no block at height %d", height)
	}
	return b.Hash, nil
}

func (d *Daemon) GetBlock(ctx context.Context, hash string, verbosity int) (*rpcclient.RawBlock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blocksByHash[hash]
	if !ok {
		return nil, fmt.Errorf("testfixture: no block with hash %s", hash)
	}
	cp := *b
	cp.Verbosity = verbosity
	return &cp, nil
}

func (d *Daemon) GetRawTransaction(ctx context.Context, txid string, blockhash string) (*rpcclient.RawTransaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx, ok := d.txsByID[txid]
	if !ok {
		return nil, fmt.Errorf("testfixture: no transaction %s", txid)
	}
	return tx, nil
}

func (d *Daemon) GetChainTips(ctx context.Context) ([]rpcclient.ChainTip, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.blocksByHeight[d.tip]
	if !ok {
		return nil, nil
	}
	return []rpcclient.ChainTip{{Height: d.tip, Hash: b.Hash, Status: "active"}}, nil
}

func (d *Daemon) ListFluxNodes(ctx context.Context) ([]rpcclient.FluxNodeEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fluxNodes, nil
}

func (d *Daemon) BatchGetBlockHashes(ctx context.Context, heights []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(heights))
	for _, h := range heights {
		hash, err := d.GetBlockHash(ctx, h)
		if err != nil {
			return nil, err
		}
		out[h] = hash
	}
	return out, nil
}

func (d *Daemon) BatchGetBlocks(ctx context.Context, heights []int64) ([]*rpcclient.RawBlock, error) {
	out := make([]*rpcclient.RawBlock, len(heights))
	for i, h := range heights {
		hash, err := d.GetBlockHash(ctx, h)
		if err != nil {
			return nil, err
		}
		block, err := d.GetBlock(ctx, hash, 2)
		if err != nil {
			return nil, err
		}
		out[i] = block
	}
	return out, nil
}

// --- block/tx builders ---

// TxInput references a previously-built output to spend.
type TxInput struct {
	TxID string
	Vout int32
}

// TxOutput describes one output of a built transaction.
type TxOutput struct {
	Address string
	Value   float64 // whole coins, as the daemon's JSON-RPC reports it
}

// BuildCoinbaseTx constructs a single-output coinbase transaction paying
// the given address the given whole-coin amount.
func BuildCoinbaseTx(txid string, out TxOutput) *rpcclient.RawTransaction {
	return &rpcclient.RawTransaction{
		TxID:    txid,
		Version: 1,
		Size:    200,
		Vin:     []rpcclient.Vin{{Coinbase: "00"}},
		Vout: []rpcclient.Vout{{
			Value: out.Value,
			N:     0,
			ScriptPubKey: rpcclient.ScriptPubKey{
				Type:      "pubkeyhash",
				Addresses: []string{out.Address},
			},
		}},
	}
}

// BuildSpendTx constructs a transaction spending the given inputs into
// the given outputs.
func BuildSpendTx(txid string, inputs []TxInput, outputs []TxOutput) *rpcclient.RawTransaction {
	vin := make([]rpcclient.Vin, len(inputs))
	for i, in := range inputs {
		vin[i] = rpcclient.Vin{TxID: in.TxID, Vout: in.Vout}
	}
	vout := make([]rpcclient.Vout, len(outputs))
	for i, out := range outputs {
		vout[i] = rpcclient.Vout{
			Value: out.Value,
			N:     int32(i),
			ScriptPubKey: rpcclient.ScriptPubKey{
				Type:      "pubkeyhash",
				Addresses: []string{out.Address},
			},
		}
	}
	return &rpcclient.RawTransaction{
		TxID:    txid,
		Version: 1,
		Size:    250,
		Vin:     vin,
		Vout:    vout,
	}
}

// BuildBlock assembles a RawBlock from already-built transactions,
// encoding them as the json.RawMessage elements RawBlock.Txs expects
// (i.e. as if fetched at verbosity 2).
func BuildBlock(height int64, hash, previousHash string, blockTime int64, valuePools []rpcclient.ValuePool, txs ...*rpcclient.RawTransaction) *rpcclient.RawBlock {
	rawTxs := make([]json.RawMessage, len(txs))
	for i, tx := range txs {
		raw, err := json.Marshal(tx)
		if err != nil {
			panic(err)
		}
		rawTxs[i] = raw
	}
	return &rpcclient.RawBlock{
		Hash:              hash,
		Height:            height,
		PreviousBlockHash: previousHash,
		Time:              blockTime,
		Size:              1000,
		Tx:                rawTxs,
		ValuePools:        valuePools,
	}
}
