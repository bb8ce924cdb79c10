package fluxnode

import (
	"context"
	"testing"

	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

type fakeRPC struct {
	entries []rpcclient.FluxNodeEntry
}

func (f fakeRPC) ListFluxNodes(ctx context.Context) ([]rpcclient.FluxNodeEntry, error) {
	return f.entries, nil
}

type fakeStore struct {
	tiersByCollateral map[string]types.BenchmarkTier
	upserted          []store.FluxNodeStatusVersioned
}

func (f *fakeStore) UpsertFluxNodeStatus(ctx context.Context, rows []store.FluxNodeStatusVersioned) error {
	f.upserted = rows
	return nil
}

func (f *fakeStore) GetFluxNodeBenchmarkTier(ctx context.Context, collateralTxID string, collateralVout int32) (types.BenchmarkTier, bool, error) {
	tier, found := f.tiersByCollateral[collateralTxID]
	return tier, found, nil
}

func TestMonitor_Poll_FlagsTierMismatch(t *testing.T) {
	rpc := fakeRPC{entries: []rpcclient.FluxNodeEntry{
		{CollateralOutpoint: "abc:0", Tier: "nimbus", IP: "1.2.3.4", Status: "ENABLED"},
	}}
	st := &fakeStore{tiersByCollateral: map[string]types.BenchmarkTier{"abc": types.TierStratus}}
	m := New(rpc, st)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(st.upserted) != 1 {
		t.Fatalf("expected 1 upserted row, got %d", len(st.upserted))
	}
	if !st.upserted[0].TierMismatch {
		t.Fatalf("expected tier mismatch to be flagged (RPC says NIMBUS, chain says STRATUS)")
	}
}

func TestMonitor_Poll_NoMismatchWhenTiersAgree(t *testing.T) {
	rpc := fakeRPC{entries: []rpcclient.FluxNodeEntry{
		{CollateralOutpoint: "def:1", Tier: "cumulus"},
	}}
	st := &fakeStore{tiersByCollateral: map[string]types.BenchmarkTier{"def": types.TierCumulus}}
	m := New(rpc, st)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if st.upserted[0].TierMismatch {
		t.Fatalf("did not expect a tier mismatch when RPC and chain agree")
	}
}

func TestMonitor_Poll_SkipsMalformedCollateral(t *testing.T) {
	rpc := fakeRPC{entries: []rpcclient.FluxNodeEntry{
		{CollateralOutpoint: "not-a-valid-outpoint"},
	}}
	st := &fakeStore{tiersByCollateral: map[string]types.BenchmarkTier{}}
	m := New(rpc, st)

	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(st.upserted) != 0 {
		t.Fatalf("expected malformed collateral entry to be skipped, got %d rows", len(st.upserted))
	}
}
