package differ

import (
	"github.com/defistate/defistate-dex-go/engine"
	"github.com/holiman/uint256"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type PoolEntry struct {
	Asset   engine.AssetID `json:"asset"`
	Balance *uint256.Int   `json:"balance"`
}

// StateDiff summarises the pool changes from FromSequence to ToSequence.
// Pool entries are never deleted, so there are no deletions.
type StateDiff struct {
	Timestamp    uint64      `json:"timestamp"`
	FromSequence uint64      `json:"fromSequence"`
	ToSequence   uint64      `json:"toSequence"`
	Additions    []PoolEntry `json:"additions,omitempty"`
	Updates      []PoolEntry `json:"updates,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d *StateDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0
}
