package patcher

import (
	"fmt"

	differ "github.com/defistate/defistate-dex-go/differ"
	engine "github.com/defistate/defistate-dex-go/engine"
	"github.com/holiman/uint256"
)

// Patch creates a new State by applying the diff to the old state.
//
// CONTRACT:
// 1. Immutability: oldState is never mutated. Unchanged balances are shared by reference,
// changed ones are replaced with copies from the diff.
// 2. Integrity: the diff must start at oldState's sequence, additions must be new
// assets and updates must name existing ones.
func Patch(oldState *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	if oldState == nil || diff == nil {
		return nil, fmt.Errorf("patcher: nil state or diff")
	}
	if oldState.Sequence != diff.FromSequence {
		return nil, fmt.Errorf("patcher: mismatch fromSequence (state=%d, diff=%d)", oldState.Sequence, diff.FromSequence)
	}

	pools := make(map[engine.AssetID]*uint256.Int, len(oldState.Pools)+len(diff.Additions))
	for asset, balance := range oldState.Pools {
		pools[asset] = balance
	}

	for _, entry := range diff.Additions {
		if _, exists := pools[entry.Asset]; exists {
			return nil, fmt.Errorf("patcher: addition for existing asset %d", entry.Asset)
		}
		if entry.Balance == nil {
			return nil, fmt.Errorf("patcher: addition for asset %d has no balance", entry.Asset)
		}
		pools[entry.Asset] = entry.Balance.Clone()
	}

	for _, entry := range diff.Updates {
		if _, exists := oldState.Pools[entry.Asset]; !exists {
			return nil, fmt.Errorf("patcher: update for unknown asset %d", entry.Asset)
		}
		if entry.Balance == nil {
			return nil, fmt.Errorf("patcher: update for asset %d has no balance", entry.Asset)
		}
		pools[entry.Asset] = entry.Balance.Clone()
	}

	return &engine.State{
		Sequence:  diff.ToSequence,
		Timestamp: diff.Timestamp,
		Treasury:  oldState.Treasury,
		Pools:     pools,
	}, nil
}
