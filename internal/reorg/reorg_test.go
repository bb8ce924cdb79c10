package reorg

import (
	"context"
	"testing"

	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

type fakeRPC struct {
	hashesByHeight map[int64]string
}

func (f *fakeRPC) GetBlockchainInfo(ctx context.Context) (*rpcclient.BlockchainInfo, error) {
	return nil, nil
}
func (f *fakeRPC) GetBlockCount(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeRPC) GetBlockHash(ctx context.Context, height int64) (string, error) {
	return f.hashesByHeight[height], nil
}
func (f *fakeRPC) GetBlock(ctx context.Context, hash string, verbosity int) (*rpcclient.RawBlock, error) {
	return nil, nil
}
func (f *fakeRPC) GetRawTransaction(ctx context.Context, txid string, blockhash string) (*rpcclient.RawTransaction, error) {
	return nil, nil
}
func (f *fakeRPC) GetChainTips(ctx context.Context) ([]rpcclient.ChainTip, error) { return nil, nil }
func (f *fakeRPC) ListFluxNodes(ctx context.Context) ([]rpcclient.FluxNodeEntry, error) {
	return nil, nil
}
func (f *fakeRPC) BatchGetBlockHashes(ctx context.Context, heights []int64) (map[int64]string, error) {
	return nil, nil
}
func (f *fakeRPC) BatchGetBlocks(ctx context.Context, heights []int64) ([]*rpcclient.RawBlock, error) {
	return nil, nil
}

type fakeStore struct {
	hashesByHeight   map[int64]string
	rolledBackAbove  int64
	rollbackCalled   bool
	eventInserted    *types.ReorgEvent
	syncStateUpdated *types.SyncState
}

func (f *fakeStore) GetBlockHashAtHeight(ctx context.Context, height int64) (string, error) {
	return f.hashesByHeight[height], nil
}
func (f *fakeStore) RollbackAboveHeight(ctx context.Context, ancestorHeight int64) error {
	f.rollbackCalled = true
	f.rolledBackAbove = ancestorHeight
	return nil
}
func (f *fakeStore) InsertReorgEvent(ctx context.Context, event types.ReorgEvent) error {
	f.eventInserted = &event
	return nil
}
func (f *fakeStore) SetSyncState(ctx context.Context, state types.SyncState) error {
	f.syncStateUpdated = &state
	return nil
}
func (f *fakeStore) AffectedAddresses(ctx context.Context, ancestorHeight int64) ([]string, error) {
	return []string{"addrA"}, nil
}
func (f *fakeStore) AffectedProducers(ctx context.Context, ancestorHeight int64) ([]string, error) {
	return []string{"minerA"}, nil
}
func (f *fakeStore) RebuildAddressSummaries(ctx context.Context, addresses []string) error {
	return nil
}
func (f *fakeStore) RebuildProducers(ctx context.Context, identities []string) error { return nil }

func TestController_Handle_FindsCommonAncestor(t *testing.T) {
	rpc := &fakeRPC{hashesByHeight: map[int64]string{
		100: "daemon100",
		99:  "daemon99",
		98:  "shared98",
	}}
	store := &fakeStore{hashesByHeight: map[int64]string{
		100: "stored100",
		99:  "stored99",
		98:  "shared98",
	}}
	c := New(rpc, store, 10)

	ancestor, err := c.Handle(context.Background(), 100)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if ancestor != 98 {
		t.Fatalf("expected ancestor height 98, got %d", ancestor)
	}
	if !store.rollbackCalled || store.rolledBackAbove != 98 {
		t.Fatalf("expected rollback above height 98, got called=%v at=%d", store.rollbackCalled, store.rolledBackAbove)
	}
	if store.eventInserted == nil {
		t.Fatalf("expected a reorg event to be recorded")
	}
	if store.eventInserted.BlocksAffected != 2 {
		t.Fatalf("expected 2 blocks affected, got %d", store.eventInserted.BlocksAffected)
	}
	if store.syncStateUpdated == nil || store.syncStateUpdated.CurrentHeight != 98 {
		t.Fatalf("expected sync state advanced to height 98")
	}
}

func TestController_Handle_DepthExceeded(t *testing.T) {
	rpc := &fakeRPC{hashesByHeight: map[int64]string{}}
	store := &fakeStore{hashesByHeight: map[int64]string{}}
	c := New(rpc, store, 3)

	_, err := c.Handle(context.Background(), 100)
	if err == nil {
		t.Fatalf("expected a depth-exceeded error")
	}
	var depthErr *DepthExceededError
	if de, ok := err.(*DepthExceededError); ok {
		depthErr = de
	}
	if depthErr == nil {
		t.Fatalf("expected *DepthExceededError, got %T: %s", err, err)
	}
}
