// Package rewardrule classifies coinbase outputs into reward labels
// (mining, foundation, or one of the three FluxNode tiers) by matching
// an output's value against a height-ordered schedule of expected
// amounts.
package rewardrule

import "github.com/flux-indexer/fluxindexer/internal/types"

// tolerance is the integer slop, in minor units, allowed when matching
// an output's value against a schedule amount. Much tighter than the
// one-coin (1e8 minor unit) tolerance used for collateral-tier inference
// in internal/nodetx.
const tolerance = 1

// Epoch is one row of the reward schedule: the amounts expected for
// each label from FromHeight until the next epoch's FromHeight.
type Epoch struct {
	FromHeight       int64
	MiningAmount     int64
	FoundationAmount int64
	CumulusAmount    int64
	NimbusAmount     int64
	StratusAmount    int64
}

// schedule is an illustrative 3-epoch reward table modeled on a
// halving-style emission curve. It is NOT the authoritative chain
// parameter table for any real network; an operator deploying this
// indexer against a live chain must replace it with that chain's real
// values before trusting reward-label output.
var schedule = []Epoch{
	{
		FromHeight:       0,
		MiningAmount:     375 * 1e8,
		FoundationAmount: 25 * 1e8,
		CumulusAmount:    375 * 1e8,
		NimbusAmount:     750 * 1e8,
		StratusAmount:    1500 * 1e8,
	},
	{
		FromHeight:       655_350,
		MiningAmount:     187_500_000,
		FoundationAmount: 12_500_000,
		CumulusAmount:    187_500_000,
		NimbusAmount:     375_000_000,
		StratusAmount:    750_000_000,
	},
	{
		FromHeight:       1_310_700,
		MiningAmount:     93_750_000,
		FoundationAmount: 6_250_000,
		CumulusAmount:    93_750_000,
		NimbusAmount:     187_500_000,
		StratusAmount:    375_000_000,
	},
}

// epochAt returns the schedule row in effect at height, assuming
// schedule is sorted ascending by FromHeight (it is, by construction).
func epochAt(height int64) Epoch {
	e := schedule[0]
	for _, candidate := range schedule {
		if candidate.FromHeight > height {
			break
		}
		e = candidate
	}
	return e
}

func within(value, target int64) bool {
	diff := value - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// Classify labels a single coinbase output value at the given block
// height. Ties are broken by schedule order (mining, foundation,
// cumulus, nimbus, stratus); a value matching none of the epoch's
// amounts within tolerance is RewardLabelUnknown.
func Classify(valueMinorUnits int64, height int64) types.RewardLabel {
	e := epochAt(height)
	switch {
	case within(valueMinorUnits, e.MiningAmount):
		return types.RewardLabelMining
	case within(valueMinorUnits, e.FoundationAmount):
		return types.RewardLabelFoundation
	case within(valueMinorUnits, e.CumulusAmount):
		return types.RewardLabelCumulus
	case within(valueMinorUnits, e.NimbusAmount):
		return types.RewardLabelNimbus
	case within(valueMinorUnits, e.StratusAmount):
		return types.RewardLabelStratus
	default:
		return types.RewardLabelUnknown
	}
}
