package rpcclient

import "encoding/json"

// BlockchainInfo is the decoded response of getblockchaininfo.
type BlockchainInfo struct {
	Chain           string         `json:"chain"`
	Blocks          int64          `json:"blocks"`
	Headers         int64          `json:"headers"`
	BestBlockHash   string         `json:"bestblockhash"`
	ValuePools      []ValuePool    `json:"valuePools"`
}

// ValuePool is one entry of getblockchaininfo's valuePools array.
type ValuePool struct {
	ID         string  `json:"id"`
	ChainValue float64 `json:"chainValue"`
}

// ChainTip is one entry of getchaintips.
type ChainTip struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

// FluxNodeEntry is one entry of listfluxnodes.
type FluxNodeEntry struct {
	CollateralOutpoint string `json:"collateral"`
	IP                 string `json:"ip"`
	Tier               string `json:"tier"`
	PublicKey          string `json:"pubkey"`
	Status             string `json:"status"`
	LastPaidHeight     int64  `json:"lastpaidheight"`
}

// ScriptPubKey is the decoded scriptPubKey of a transaction output.
type ScriptPubKey struct {
	Hex       string   `json:"hex"`
	Type      string   `json:"type"`
	Addresses []string `json:"addresses"`
}

// Vin is one decoded transaction input.
type Vin struct {
	TxID     string `json:"txid"`
	Vout     int32  `json:"vout"`
	Coinbase string `json:"coinbase"`
}

// IsCoinbase reports whether this input is a coinbase input (no previous
// outpoint referenced).
func (v Vin) IsCoinbase() bool {
	return v.TxID == "" && v.Coinbase != ""
}

// Vout is one decoded transaction output.
type Vout struct {
	Value        float64      `json:"value"`
	N            int32        `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// RawTransaction is the decoded response of getrawtransaction(verbose=true)
// or one element of a verbosity-2 block's tx array.
type RawTransaction struct {
	TxID        string `json:"txid"`
	Hex         string `json:"hex"`
	Version     int32  `json:"version"`
	Size        int64  `json:"size"`
	LockTime    int64  `json:"locktime"`
	Vin         []Vin  `json:"vin"`
	Vout        []Vout `json:"vout"`
	BlockHash   string `json:"blockhash"`
	Time        int64  `json:"time"`
}

// RawBlock is the decoded response of getblock at verbosity 1 or 2. At
// verbosity 1, Tx elements are plain txid strings; at verbosity 2 they are
// full RawTransaction objects. Both are captured as json.RawMessage and
// decoded lazily by the caller via TxIDs/Txs.
type RawBlock struct {
	Hash              string            `json:"hash"`
	Height            int64             `json:"height"`
	PreviousBlockHash string            `json:"previousblockhash"`
	Time              int64             `json:"time"`
	Size              int64             `json:"size"`
	Tx                []json.RawMessage `json:"tx"`
	ValuePools        []ValuePool       `json:"valuePools"`
	Verbosity         int
}

// TxIDs decodes Tx as a list of plain txid strings. Valid only for blocks
// fetched at verbosity 1.
func (b *RawBlock) TxIDs() ([]string, error) {
	ids := make([]string, len(b.Tx))
	for i, raw := range b.Tx {
		if err := json.Unmarshal(raw, &ids[i]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Txs decodes Tx as a list of full RawTransaction objects. Valid only for
// blocks fetched at verbosity 2.
func (b *RawBlock) Txs() ([]*RawTransaction, error) {
	txs := make([]*RawTransaction, len(b.Tx))
	for i, raw := range b.Tx {
		tx := &RawTransaction{}
		if err := json.Unmarshal(raw, tx); err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return txs, nil
}

// AmountToMinorUnits converts a floating point coin amount, as reported by
// the daemon's JSON-RPC surface, to an integer count of 1e-8 minor units.
func AmountToMinorUnits(f float64) int64 {
	if f >= 0 {
		return int64(f*1e8 + 0.5)
	}
	return -int64(-f*1e8 + 0.5)
}
