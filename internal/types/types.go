// Package types holds the shared domain model materialized by the sync
// engine: one Go struct per entity in the data model, with explicit
// minor-unit integer amounts so no floating point ever touches a balance.
package types

import "time"

// Amount is an integer count of minor units (1e-8 of the base coin).
type Amount int64

// ScriptType classifies the output script of a UTXO.
type ScriptType string

const (
	ScriptTypeP2PKH        ScriptType = "p2pkh"
	ScriptTypeP2SH         ScriptType = "p2sh"
	ScriptTypeP2PK         ScriptType = "p2pk"
	ScriptTypeMultisig     ScriptType = "multisig"
	ScriptTypeNonStandard  ScriptType = "nonstandard"
	ScriptTypeNullData     ScriptType = "nulldata"
)

// ShieldedAddress is the sentinel address used for UTXOs and balances
// that belong to the shielded pool rather than a transparent address.
const ShieldedAddress = "shielded"

// RewardLabel classifies a coinbase output per the reward-label rule.
type RewardLabel string

const (
	RewardLabelMining     RewardLabel = "MINING"
	RewardLabelFoundation RewardLabel = "FOUNDATION"
	RewardLabelCumulus    RewardLabel = "CUMULUS"
	RewardLabelNimbus     RewardLabel = "NIMBUS"
	RewardLabelStratus    RewardLabel = "STRATUS"
	RewardLabelUnknown    RewardLabel = "UNKNOWN"
)

// BenchmarkTier is a FluxNode collateral tier.
type BenchmarkTier string

const (
	TierCumulus BenchmarkTier = "CUMULUS"
	TierNimbus  BenchmarkTier = "NIMBUS"
	TierStratus BenchmarkTier = "STRATUS"
	TierUnknown BenchmarkTier = "UNKNOWN"
)

// NodeTxSubtype distinguishes the two on-chain FluxNode messages plus the
// legacy single-field variant.
type NodeTxSubtype string

const (
	NodeTxNone    NodeTxSubtype = ""
	NodeTxStart   NodeTxSubtype = "start"
	NodeTxConfirm NodeTxSubtype = "confirm"
	NodeTxLegacy  NodeTxSubtype = "legacy"
)

// Direction is the direction of value flow for an AddressTransaction row.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// Block is one row of the Block entity.
type Block struct {
	Height           int64
	Hash             string
	PreviousHash     string
	Time             time.Time
	Size             int64
	TxCount          int64
	Producer         string
	TransparentReward Amount
	CoinbaseOutputs  []CoinbaseOutput
}

// CoinbaseOutput is a single labeled output of a block's coinbase
// transaction, used to derive Block.Producer and Block.TransparentReward.
type CoinbaseOutput struct {
	Address string
	Value   Amount
	Label   RewardLabel
}

// Transaction is one row of the Transaction entity.
type Transaction struct {
	TxID         string
	BlockHeight  int64
	BlockHash    string
	Time         time.Time
	Version      int32
	Size         int64
	InputCount   int32
	OutputCount  int32
	ValueIn      Amount
	ValueOut     Amount
	Fee          Amount
	IsCoinbase   bool
	IsShielded   bool
	IsNodeTx     bool
	NodeTxSubtype NodeTxSubtype
}

// UTXO is one row of the UTXO entity, keyed by (TxID, Vout).
type UTXO struct {
	TxID            string
	Vout            int32
	Address         string
	Value           Amount
	ScriptType      ScriptType
	BlockHeight     int64
	Spent           bool
	SpentByTxID     string
	SpentBlockHeight int64
	SpentTime       time.Time
	Version         uint64
}

// OutPoint identifies a UTXO by the transaction that created it and its
// output index within that transaction.
type OutPoint struct {
	TxID string
	Vout int32
}

// AddressTransaction is one row of the AddressTransaction entity, keyed
// by (Address, TxID).
type AddressTransaction struct {
	Address       string
	TxID          string
	BlockHeight   int64
	Time          time.Time
	BlockHash     string
	Direction     Direction
	ReceivedValue Amount
	SentValue     Amount
}

// AddressSummary is the incrementally-maintained balance projection for
// one address.
type AddressSummary struct {
	Address           string
	Balance           Amount
	TxCount           int64
	TotalReceived     Amount
	TotalSent         Amount
	UnspentCount      int64
	FirstSeenHeight   int64
	LastActivityHeight int64
}

// TransactionParticipants accelerates address-history reads by recording
// the distinct input/output addresses of a transaction.
type TransactionParticipants struct {
	TxID                string
	InputAddresses      []string
	OutputAddresses     []string
	InputAddressCount   int32
	OutputAddressCount  int32
}

// FluxNodeTransaction is one row of the FluxNodeTransaction entity.
type FluxNodeTransaction struct {
	TxID               string
	BlockHeight        int64
	Time               time.Time
	Version            int32
	Subtype            NodeTxSubtype
	CollateralTxID     string
	CollateralVout     int32
	IP                 string
	PublicKey          string
	Signature          string
	P2SHAddress        string
	BenchmarkTier      BenchmarkTier
	UpdateType         int8
	RawHex             string
}

// SupplyStats is one row of the SupplyStats entity, recorded per
// processed block (or per checkpoint).
type SupplyStats struct {
	BlockHeight         int64
	TransparentSupply   Amount
	SaplingPool         Amount
	SproutPool          Amount
}

// Producer is the incrementally-maintained per-producer projection.
type Producer struct {
	Identity     string
	BlocksProduced int64
	TotalReward  Amount
	FirstBlock   int64
	LastBlock    int64
}

// FluxNodeStatus is the incrementally-maintained liveness/tier
// projection for one FluxNode, keyed by its collateral outpoint and
// refreshed on the FluxNode secondary sync's own cadence.
type FluxNodeStatus struct {
	CollateralTxID   string
	CollateralVout   int32
	IP               string
	PublicKey        string
	Status           string
	Tier             BenchmarkTier
	LastPaidHeight   int64
	LastSeenHeight   int64
	TierMismatch     bool
}

// SyncState is the singleton row tracking indexer progress.
type SyncState struct {
	CurrentHeight  int64
	LastBlockHash  string
	ChainHeight    int64
	IsSyncing      bool
	LastSyncTime   time.Time
	FastSync       bool
}

// ReorgEvent is one append-only audit log row.
type ReorgEvent struct {
	ID             string
	FromHeight     int64
	ToHeight       int64
	CommonAncestor int64
	OldHash        string
	NewHash        string
	BlocksAffected int64
	OccurredAt     time.Time
}
