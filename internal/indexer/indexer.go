// Package indexer normalizes a single daemon block into the row
// batches every downstream table needs, deriving coinbase/shielded/
// node-tx flags and the producer/reward breakdown along the way.
package indexer

import (
	"time"

	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/nodetx"
	"github.com/flux-indexer/fluxindexer/internal/rewardrule"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

var log = logger.Get(logger.TagBLKI)

// UTXOResolver resolves a previously-created UTXO's address and value
// given its outpoint, consulting the Bulk Loader's cache first and the
// store on a miss. The indexer never talks to the store directly; this
// narrow interface is the loader's half of that contract.
type UTXOResolver interface {
	Resolve(op types.OutPoint) (address string, value types.Amount, ok bool)
}

// Indexer turns raw RPC blocks into RowBatch rows.
type Indexer struct {
	resolver UTXOResolver
}

// New constructs an Indexer backed by the given UTXO resolver.
func New(resolver UTXOResolver) *Indexer {
	return &Indexer{resolver: resolver}
}

// IndexBlock normalizes one raw block into a RowBatch. The caller (the
// Sync Engine) is responsible for hydrating any block the daemon could
// only serialize at verbosity 1 before calling this, since raw.Txs()
// requires full transaction objects. skipSummary implements the indexer's
// "skip summary" fast-sync mode: AddressTransaction/TransactionParticipants
// rows are still produced (they're needed for address-history reads),
// but the caller should suppress AddressSummary/Producer incremental
// updates for batches with SkipSummaryUpdates set.
func (ix *Indexer) IndexBlock(raw *rpcclient.RawBlock, skipSummary bool) (*RowBatch, error) {
	txs, err := raw.Txs()
	if err != nil {
		return nil, err
	}

	batch := &RowBatch{SkipSummaryUpdates: skipSummary}
	blockTime := time.Unix(raw.Time, 0).UTC()

	var coinbaseOutputs []types.CoinbaseOutput
	var producer string
	var transparentReward types.Amount
	var transparentOutTotal, transparentInTotal int64

	for i, tx := range txs {
		isCoinbase := i == 0 || (looksLikeCoinbase(tx) && hasRewardMatch(tx, raw.Height))
		txOutValue := int64(0)
		txInValue := int64(0)

		var created []UTXOCreate
		for _, vout := range tx.Vout {
			scriptType, address := classifyScript(vout.ScriptPubKey)
			value := types.Amount(rpcclient.AmountToMinorUnits(vout.Value))
			txOutValue += int64(value)

			created = append(created, UTXOCreate{
				OutPoint:    types.OutPoint{TxID: tx.TxID, Vout: vout.N},
				Address:     address,
				Value:       value,
				ScriptType:  scriptType,
				BlockHeight: raw.Height,
			})

			if isCoinbase {
				label := rewardrule.Classify(int64(value), raw.Height)
				coinbaseOutputs = append(coinbaseOutputs, types.CoinbaseOutput{
					Address: address,
					Value:   value,
					Label:   label,
				})
				if label == types.RewardLabelMining {
					producer = address
					transparentReward += value
				}
			}
		}
		batch.UTXOsCreated = append(batch.UTXOsCreated, created...)
		transparentOutTotal += txOutValue

		var spent []UTXOSpend
		transparentInputCount := 0
		for _, vin := range tx.Vin {
			if vin.IsCoinbase() {
				continue
			}
			transparentInputCount++
			op := types.OutPoint{TxID: vin.TxID, Vout: vin.Vout}
			address, value, ok := ix.resolver.Resolve(op)
			if !ok {
				log.Debugf("block %d tx %s: could not resolve spent outpoint %s:%d, skipping", raw.Height, tx.TxID, op.TxID, op.Vout)
				continue
			}
			txInValue += int64(value)
			spent = append(spent, UTXOSpend{
				OutPoint:         op,
				SpentByTxID:      tx.TxID,
				SpentBlockHeight: raw.Height,
				SpentTime:        blockTime,
			})
			_ = address
		}
		batch.UTXOsSpent = append(batch.UTXOsSpent, spent...)
		transparentInTotal += txInValue

		transparentOutputCount := len(tx.Vout)
		isShielded := transparentInputCount == 0 && transparentOutputCount == 0 && !isCoinbase

		nodeResult, nodeErr := nodetx.Parse(tx.Hex)
		isNodeTx := nodeErr == nil && nodeResult.Kind != nodetx.KindNotNodeTx
		var subtype types.NodeTxSubtype
		if isNodeTx {
			switch nodeResult.Kind {
			case nodetx.KindStart:
				subtype = types.NodeTxStart
			case nodetx.KindConfirm:
				subtype = types.NodeTxConfirm
			case nodetx.KindLegacy:
				subtype = types.NodeTxLegacy
			}
			batch.FluxNodeTransactions = append(batch.FluxNodeTransactions, buildFluxNodeTransaction(tx, raw.Height, blockTime, nodeResult))
		}

		fee := types.Amount(txInValue - txOutValue)
		if isCoinbase {
			fee = 0
		}

		batch.Transactions = append(batch.Transactions, types.Transaction{
			TxID:          tx.TxID,
			BlockHeight:   raw.Height,
			BlockHash:     raw.Hash,
			Time:          blockTime,
			Version:       tx.Version,
			Size:          tx.Size,
			InputCount:    int32(len(tx.Vin)),
			OutputCount:   int32(len(tx.Vout)),
			ValueIn:       types.Amount(txInValue),
			ValueOut:      types.Amount(txOutValue),
			Fee:           fee,
			IsCoinbase:    isCoinbase,
			IsShielded:    isShielded,
			IsNodeTx:      isNodeTx,
			NodeTxSubtype: subtype,
		})

		addrTx, participants := aggregateAddressActivity(tx, created, spent, ix.resolver, raw.Height, raw.Hash, blockTime)
		batch.AddressTransactions = append(batch.AddressTransactions, addrTx...)
		batch.TransactionParticipants = append(batch.TransactionParticipants, participants)
	}

	for _, o := range coinbaseOutputs {
		batch.CoinbaseOutputs = append(batch.CoinbaseOutputs, CoinbaseOutputRow{BlockHeight: raw.Height, CoinbaseOutput: o})
	}

	sapling, sprout := poolValues(raw.ValuePools)
	batch.SupplyDeltas = append(batch.SupplyDeltas, SupplyDelta{
		BlockHeight:      raw.Height,
		TransparentDelta: types.Amount(transparentOutTotal - transparentInTotal),
		SaplingPool:      sapling,
		SproutPool:       sprout,
	})

	batch.Blocks = append(batch.Blocks, types.Block{
		Height:            raw.Height,
		Hash:              raw.Hash,
		PreviousHash:      raw.PreviousBlockHash,
		Time:              blockTime,
		Size:              raw.Size,
		TxCount:           int64(len(txs)),
		Producer:          producer,
		TransparentReward: transparentReward,
		CoinbaseOutputs:   coinbaseOutputs,
	})

	return batch, nil
}

func poolValues(pools []rpcclient.ValuePool) (sapling, sprout types.Amount) {
	for _, p := range pools {
		switch p.ID {
		case "sapling":
			sapling = types.Amount(rpcclient.AmountToMinorUnits(p.ChainValue))
		case "sprout":
			sprout = types.Amount(rpcclient.AmountToMinorUnits(p.ChainValue))
		}
	}
	return sapling, sprout
}

func looksLikeCoinbase(tx *rpcclient.RawTransaction) bool {
	if len(tx.Vin) == 0 {
		return false
	}
	for _, vin := range tx.Vin {
		if !vin.IsCoinbase() {
			return false
		}
	}
	return true
}

func hasRewardMatch(tx *rpcclient.RawTransaction, height int64) bool {
	for _, vout := range tx.Vout {
		value := rpcclient.AmountToMinorUnits(vout.Value)
		if rewardrule.Classify(value, height) != types.RewardLabelUnknown {
			return true
		}
	}
	return false
}

func classifyScript(spk rpcclient.ScriptPubKey) (types.ScriptType, string) {
	address := types.ShieldedAddress
	if len(spk.Addresses) > 0 {
		address = spk.Addresses[0]
	}
	switch spk.Type {
	case "pubkeyhash":
		return types.ScriptTypeP2PKH, address
	case "scripthash":
		return types.ScriptTypeP2SH, address
	case "pubkey":
		return types.ScriptTypeP2PK, address
	case "multisig":
		return types.ScriptTypeMultisig, address
	case "nulldata":
		return types.ScriptTypeNullData, types.ShieldedAddress
	default:
		return types.ScriptTypeNonStandard, address
	}
}

func aggregateAddressActivity(
	tx *rpcclient.RawTransaction,
	created []UTXOCreate,
	spent []UTXOSpend,
	resolver UTXOResolver,
	height int64,
	blockHash string,
	blockTime time.Time,
) ([]types.AddressTransaction, types.TransactionParticipants) {
	received := make(map[string]int64)
	sent := make(map[string]int64)
	inputAddrSet := make(map[string]struct{})
	outputAddrSet := make(map[string]struct{})

	for _, c := range created {
		if c.Address == types.ShieldedAddress {
			continue
		}
		received[c.Address] += int64(c.Value)
		outputAddrSet[c.Address] = struct{}{}
	}
	for _, sp := range spent {
		address, value, ok := resolver.Resolve(sp.OutPoint)
		if !ok || address == types.ShieldedAddress {
			continue
		}
		sent[address] += int64(value)
		inputAddrSet[address] = struct{}{}
	}

	addresses := make(map[string]struct{}, len(received)+len(sent))
	for a := range received {
		addresses[a] = struct{}{}
	}
	for a := range sent {
		addresses[a] = struct{}{}
	}

	rows := make([]types.AddressTransaction, 0, len(addresses))
	for address := range addresses {
		r := received[address]
		s := sent[address]
		direction := types.DirectionSent
		if r >= s {
			direction = types.DirectionReceived
		}
		rows = append(rows, types.AddressTransaction{
			Address:       address,
			TxID:          tx.TxID,
			BlockHeight:   height,
			Time:          blockTime,
			BlockHash:     blockHash,
			Direction:     direction,
			ReceivedValue: types.Amount(r),
			SentValue:     types.Amount(s),
		})
	}

	inputAddrs := setToSlice(inputAddrSet)
	outputAddrs := setToSlice(outputAddrSet)
	participants := types.TransactionParticipants{
		TxID:               tx.TxID,
		InputAddresses:     inputAddrs,
		OutputAddresses:    outputAddrs,
		InputAddressCount:  int32(len(inputAddrs)),
		OutputAddressCount: int32(len(outputAddrs)),
	}

	return rows, participants
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func buildFluxNodeTransaction(tx *rpcclient.RawTransaction, height int64, blockTime time.Time, result *nodetx.ParseResult) types.FluxNodeTransaction {
	row := types.FluxNodeTransaction{
		TxID:        tx.TxID,
		BlockHeight: height,
		Time:        blockTime,
		Version:     tx.Version,
		RawHex:      tx.Hex,
	}
	switch result.Kind {
	case nodetx.KindStart:
		s := result.Start
		row.Subtype = types.NodeTxStart
		row.CollateralTxID = s.Collateral.TxID
		row.CollateralVout = int32(s.Collateral.Vout)
		row.PublicKey = s.PublicKey
		row.Signature = s.Signature
		if s.Dialect == "p2sh" {
			row.P2SHAddress = s.RedeemScript
		}
	case nodetx.KindConfirm:
		c := result.Confirm
		row.Subtype = types.NodeTxConfirm
		row.CollateralTxID = c.Collateral.TxID
		row.CollateralVout = int32(c.Collateral.Vout)
		row.IP = c.IP
		row.Signature = c.Signature
		row.BenchmarkTier = types.BenchmarkTier(c.BenchmarkTier)
		row.UpdateType = c.UpdateType
	case nodetx.KindLegacy:
		row.Subtype = types.NodeTxLegacy
	}
	return row
}
