// Package tally counts, per chain, the blocks processed, the extrinsics
// grouped by pallet and the events grouped by pallet and variant.
package tally

import (
	"sync"

	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// Counts is a point-in-time copy of one chain's counters.
type Counts struct {
	Blocks     uint64
	Extrinsics map[string]uint64 // keyed by pallet name
	Events     map[string]uint64 // keyed by "Pallet.Variant"
}

type counter struct {
	mu         sync.Mutex
	blocks     uint64
	extrinsics types.DefaultMap[string, uint64]
	events     types.DefaultMap[string, uint64]
}

func zero() uint64 { return 0 }

func newCounter() *counter {
	return &counter{
		extrinsics: types.NewDefaultMap[string](zero),
		events:     types.NewDefaultMap[string](zero),
	}
}

// Tally holds one set of counters per chain, each with its own lock.
type Tally struct {
	mu      sync.RWMutex
	entries map[string]*counter
}

// New returns an empty Tally.
func New() *Tally {
	return &Tally{entries: make(map[string]*counter)}
}

func (t *Tally) counter(chain string) *counter {
	t.mu.RLock()
	c, ok := t.entries[chain]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.entries[chain]; ok {
		return c
	}

	c = newCounter()
	t.entries[chain] = c
	return c
}

// ObserveBlock counts one processed block.
func (t *Tally) ObserveBlock(chain string) {
	c := t.counter(chain)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks++
}

// ObserveExtrinsic counts one decoded extrinsic of pallet.
func (t *Tally) ObserveExtrinsic(chain, pallet string) {
	c := t.counter(chain)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.extrinsics.Set(pallet, c.extrinsics.Get(pallet)+1)
}

// ObserveEvent counts one decoded event.
func (t *Tally) ObserveEvent(chain, pallet, variant string) {
	c := t.counter(chain)
	key := pallet + "." + variant

	c.mu.Lock()
	defer c.mu.Unlock()

	c.events.Set(key, c.events.Get(key)+1)
}

// Snapshot returns a copy of every chain's counters.
func (t *Tally) Snapshot() map[string]Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]Counts, len(t.entries))
	for chain, c := range t.entries {
		c.mu.Lock()
		snapshot[chain] = Counts{
			Blocks:     c.blocks,
			Extrinsics: c.extrinsics.Clone(),
			Events:     c.events.Clone(),
		}
		c.mu.Unlock()
	}

	return snapshot
}
