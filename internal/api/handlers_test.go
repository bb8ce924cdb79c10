package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flux-indexer/fluxindexer/internal/config"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

type fakeAPIStore struct {
	syncState *types.SyncState
	blocks    map[int64]types.Block
	summaries map[string]types.AddressSummary
}

func (f *fakeAPIStore) GetSyncState(ctx context.Context) (*types.SyncState, error) { return f.syncState, nil }
func (f *fakeAPIStore) GetMaxUTXOVersion(ctx context.Context) (uint64, error)      { return 0, nil }
func (f *fakeAPIStore) GetAddressSummary(ctx context.Context, address string) (*types.AddressSummary, error) {
	if s, ok := f.summaries[address]; ok {
		return &s, nil
	}
	return nil, nil
}
func (f *fakeAPIStore) GetProducer(ctx context.Context, identity string) (*types.Producer, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetBlockHashAtHeight(ctx context.Context, height int64) (string, error) {
	return "", nil
}
func (f *fakeAPIStore) GetTipHeight(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeAPIStore) GetLatestSupplyStats(ctx context.Context) (*types.SupplyStats, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetUTXO(ctx context.Context, op types.OutPoint) (string, types.Amount, bool, error) {
	return "", 0, false, nil
}
func (f *fakeAPIStore) GetFluxNodeBenchmarkTier(ctx context.Context, collateralTxID string, collateralVout int32) (types.BenchmarkTier, bool, error) {
	return "", false, nil
}
func (f *fakeAPIStore) GetLatestBlock(ctx context.Context) (*types.Block, error) { return nil, nil }
func (f *fakeAPIStore) GetBlockByHeight(ctx context.Context, height int64) (*types.Block, error) {
	if b, ok := f.blocks[height]; ok {
		return &b, nil
	}
	return nil, nil
}
func (f *fakeAPIStore) GetBlockByHash(ctx context.Context, hash string) (*types.Block, error) {
	for _, b := range f.blocks {
		if b.Hash == hash {
			return &b, nil
		}
	}
	return nil, nil
}
func (f *fakeAPIStore) ListBlocks(ctx context.Context, limit, offset int) ([]types.Block, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetTransaction(ctx context.Context, txid string) (*types.Transaction, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetTransactionsBatch(ctx context.Context, txids []string) ([]types.Transaction, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetAddressTransactionsPage(ctx context.Context, address string, beforeHeight int64, limit int) ([]types.AddressTransaction, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetRichList(ctx context.Context, limit int) ([]types.AddressSummary, error) {
	return nil, nil
}
func (f *fakeAPIStore) ListProducers(ctx context.Context, limit, offset int) ([]types.Producer, error) {
	return nil, nil
}
func (f *fakeAPIStore) ListFluxNodeStatus(ctx context.Context, limit, offset int) ([]types.FluxNodeStatus, error) {
	return nil, nil
}
func (f *fakeAPIStore) GetFluxNodeStatusByIP(ctx context.Context, ip string) (*types.FluxNodeStatus, error) {
	return nil, nil
}
func (f *fakeAPIStore) CountMempoolLikeRecentTransactions(ctx context.Context, sinceHeight int64) (int64, error) {
	return 0, nil
}

var _ store.APIReader = (*fakeAPIStore)(nil)

type fakeRPC struct{}

func (fakeRPC) GetBlockchainInfo(ctx context.Context) (*rpcclient.BlockchainInfo, error) {
	return &rpcclient.BlockchainInfo{Chain: "main", Blocks: 42}, nil
}

func newTestServer(s *fakeAPIStore) *Server {
	return NewServer(config.APIOptions{Host: "127.0.0.1", Port: 0}, s, fakeRPC{})
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakeAPIStore{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %s", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestStatus_NoDataYet_503(t *testing.T) {
	srv := newTestServer(&fakeAPIStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestSync_ReportsPercentage(t *testing.T) {
	srv := newTestServer(&fakeAPIStore{syncState: &types.SyncState{
		CurrentHeight: 50, ChainHeight: 100, IsSyncing: true, LastSyncTime: time.Now(),
	}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %s", err)
	}
	if body["percentage"].(float64) != 50.0 {
		t.Fatalf("expected 50%% sync progress, got %v", body["percentage"])
	}
}

func TestBlockByHeightOrHash_NotFound(t *testing.T) {
	srv := newTestServer(&fakeAPIStore{blocks: map[int64]types.Block{}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/blocks/999", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBlockByHeightOrHash_FoundByHeight(t *testing.T) {
	srv := newTestServer(&fakeAPIStore{blocks: map[int64]types.Block{
		7: {Height: 7, Hash: "hash7"},
	}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/blocks/7", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var block types.Block
	if err := json.NewDecoder(rec.Body).Decode(&block); err != nil {
		t.Fatalf("decoding response: %s", err)
	}
	if block.Hash != "hash7" {
		t.Fatalf("expected hash7, got %s", block.Hash)
	}
}

func TestAddress_NotFound(t *testing.T) {
	srv := newTestServer(&fakeAPIStore{summaries: map[string]types.AddressSummary{}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/addresses/unknown", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
