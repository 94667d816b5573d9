// Package watermark tracks the lowest and highest block height seen on each
// chain.
package watermark

import (
	"maps"
	"slices"
	"sync"
)

// Mark is the height range observed on one chain.
type Mark struct {
	Lowest  uint64
	Highest uint64
}

type entry struct {
	mu   sync.Mutex
	seen bool
	mark Mark
}

// Tracker holds one Mark per chain. Observations on different chains do not
// contend; the map lock is only taken to find or create an entry.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

func (t *Tracker) entry(chain string) *entry {
	t.mu.RLock()
	e, ok := t.entries[chain]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[chain]; ok {
		return e
	}

	e = &entry{}
	t.entries[chain] = e
	return e
}

// Observe widens the chain's range to include height. Lowest never increases
// and Highest never decreases.
func (t *Tracker) Observe(chain string, height uint64) {
	e := t.entry(chain)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.seen {
		e.seen = true
		e.mark = Mark{Lowest: height, Highest: height}
		return
	}

	e.mark.Lowest = min(e.mark.Lowest, height)
	e.mark.Highest = max(e.mark.Highest, height)
}

// Get returns the chain's Mark. ok is false before its first observation.
func (t *Tracker) Get(chain string) (Mark, bool) {
	t.mu.RLock()
	e, ok := t.entries[chain]
	t.mu.RUnlock()
	if !ok {
		return Mark{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.mark, e.seen
}

// Snapshot returns a copy of every chain's Mark.
func (t *Tracker) Snapshot() map[string]Mark {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]Mark, len(t.entries))
	for chain, e := range t.entries {
		e.mu.Lock()
		if e.seen {
			snapshot[chain] = e.mark
		}
		e.mu.Unlock()
	}

	return snapshot
}

// Highest returns the chain with the greatest Highest height. Ties go to the
// lexicographically smallest chain. ok is false when nothing was observed.
func (t *Tracker) Highest() (string, Mark, bool) {
	return reduce(t.Snapshot(), func(candidate, best Mark) bool {
		return candidate.Highest > best.Highest
	})
}

// Lowest returns the chain with the smallest Lowest height, with the same
// tie-break as Highest.
func (t *Tracker) Lowest() (string, Mark, bool) {
	return reduce(t.Snapshot(), func(candidate, best Mark) bool {
		return candidate.Lowest < best.Lowest
	})
}

// reduce walks chains in sorted order and keeps the first one no later
// candidate beats.
func reduce(snapshot map[string]Mark, beats func(candidate, best Mark) bool) (string, Mark, bool) {
	var (
		bestChain string
		best      Mark
		found     bool
	)

	for _, chain := range slices.Sorted(maps.Keys(snapshot)) {
		mark := snapshot[chain]
		if !found || beats(mark, best) {
			bestChain, best, found = chain, mark, true
		}
	}

	return bestChain, best, found
}
