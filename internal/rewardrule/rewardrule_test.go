package rewardrule

import (
	"testing"

	"github.com/flux-indexer/fluxindexer/internal/types"
)

func TestClassify_GenesisEpoch(t *testing.T) {
	cases := []struct {
		name   string
		value  int64
		height int64
		want   types.RewardLabel
	}{
		{"mining", 375 * 1e8, 100, types.RewardLabelMining},
		{"foundation", 25 * 1e8, 100, types.RewardLabelFoundation},
		{"cumulus exact", 375 * 1e8, 100, types.RewardLabelMining}, // same amount as mining in epoch 0; mining wins by order
		{"nimbus", 750 * 1e8, 100, types.RewardLabelNimbus},
		{"stratus", 1500 * 1e8, 100, types.RewardLabelStratus},
		{"within tolerance", 25*1e8 + 1, 100, types.RewardLabelFoundation},
		{"unknown", 42, 100, types.RewardLabelUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Classify(c.value, c.height)
			if got != c.want {
				t.Fatalf("Classify(%d, %d) = %s, want %s", c.value, c.height, got, c.want)
			}
		})
	}
}

func TestClassify_SecondEpoch(t *testing.T) {
	got := Classify(187_500_000, 700_000)
	if got != types.RewardLabelMining {
		t.Fatalf("expected MINING in second epoch, got %s", got)
	}
}

func TestClassify_EpochBoundary(t *testing.T) {
	justBefore := Classify(375*1e8, 655_349)
	if justBefore != types.RewardLabelMining {
		t.Fatalf("expected first-epoch amount to still classify just below the boundary, got %s", justBefore)
	}
	atBoundary := Classify(187_500_000, 655_350)
	if atBoundary != types.RewardLabelMining {
		t.Fatalf("expected second-epoch amount to classify at the boundary height, got %s", atBoundary)
	}
}
