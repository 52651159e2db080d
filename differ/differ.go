package differ

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/prometheus/client_golang/prometheus"
)

// StateDifferConfig holds the dependencies of a StateDiffer.
type StateDifferConfig struct {
	Registry prometheus.Registerer
	Logger   Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// StateDiffer computes diffs between consecutive pool snapshots.
type StateDiffer struct {
	metrics *Metrics
	logger  Logger
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &StateDiffer{
		metrics: NewMetrics(cfg.Registry),
		logger:  cfg.Logger,
	}, nil
}

// Diff compares two snapshots and records the result in the differ's metrics.
func (d *StateDiffer) Diff(old, new *engine.State) (*StateDiff, error) {
	timer := prometheus.NewTimer(d.metrics.diffDuration.WithLabelValues())
	defer timer.ObserveDuration()

	diff, err := Differ(old, new)
	if err != nil {
		d.metrics.diffsTotal.WithLabelValues("error").Inc()
		d.logger.Error("Failed to diff pool state", "from", old.Sequence, "to", new.Sequence, "error", err)
		return nil, err
	}

	d.metrics.diffsTotal.WithLabelValues("ok").Inc()
	d.metrics.entriesTotal.WithLabelValues("addition").Add(float64(len(diff.Additions)))
	d.metrics.entriesTotal.WithLabelValues("update").Add(float64(len(diff.Updates)))
	return diff, nil
}

// Differ calculates the difference between two pool snapshots:
// 1. Every asset in new but not in old is an addition.
// 2. Every asset in both whose balance changed is an update.
// 3. An asset in old but missing from new is an error, pool entries are never removed.
// Entries are sorted by asset so the output is deterministic.
func Differ(old, new *engine.State) (*StateDiff, error) {
	if old == nil || new == nil {
		return nil, errors.New("differ: nil state")
	}
	if new.Sequence < old.Sequence {
		return nil, fmt.Errorf("differ: new sequence %d precedes old sequence %d", new.Sequence, old.Sequence)
	}

	var additions, updates []PoolEntry
	for asset, newBalance := range new.Pools {
		oldBalance, exists := old.Pools[asset]
		if !exists {
			additions = append(additions, PoolEntry{Asset: asset, Balance: newBalance.Clone()})
			continue
		}
		if !oldBalance.Eq(newBalance) {
			updates = append(updates, PoolEntry{Asset: asset, Balance: newBalance.Clone()})
		}
	}

	for asset := range old.Pools {
		if _, exists := new.Pools[asset]; !exists {
			return nil, fmt.Errorf("differ: pool entry for asset %d disappeared", asset)
		}
	}

	sortEntries(additions)
	sortEntries(updates)

	return &StateDiff{
		Timestamp:    uint64(time.Now().UnixNano()),
		FromSequence: old.Sequence,
		ToSequence:   new.Sequence,
		Additions:    additions,
		Updates:      updates,
	}, nil
}

func sortEntries(entries []PoolEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Asset < entries[j].Asset })
}
