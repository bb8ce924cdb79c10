package rpcclient

import "context"

// RPC is the subset of Client's behavior that the sync engine, the
// FluxNode poller, and the supply verifier depend on. Depending on the
// interface rather than the concrete Client lets tests substitute a
// scripted fake daemon.
type RPC interface {
	GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error)
	GetBlockCount(ctx context.Context) (int64, error)
	GetBlockHash(ctx context.Context, height int64) (string, error)
	GetBlock(ctx context.Context, hash string, verbosity int) (*RawBlock, error)
	GetRawTransaction(ctx context.Context, txid string, blockhash string) (*RawTransaction, error)
	GetChainTips(ctx context.Context) ([]ChainTip, error)
	ListFluxNodes(ctx context.Context) ([]FluxNodeEntry, error)
	BatchGetBlockHashes(ctx context.Context, heights []int64) (map[int64]string, error)
	BatchGetBlocks(ctx context.Context, heights []int64) ([]*RawBlock, error)
}

var _ RPC = (*Client)(nil)
