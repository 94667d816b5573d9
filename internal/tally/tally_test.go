package tally

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTally(t *testing.T) {
	t.Run("empty tally", func(t *testing.T) {
		assert.Empty(t, New().Snapshot())
	})

	t.Run("counts per chain", func(t *testing.T) {
		ta := New()
		ta.ObserveBlock("Polkadot")
		ta.ObserveBlock("Polkadot")
		ta.ObserveExtrinsic("Polkadot", "Timestamp")
		ta.ObserveExtrinsic("Polkadot", "Balances")
		ta.ObserveExtrinsic("Polkadot", "Balances")
		ta.ObserveEvent("Polkadot", "Balances", "Transfer")
		ta.ObserveEvent("Polkadot", "System", "ExtrinsicSuccess")
		ta.ObserveEvent("Polkadot", "System", "ExtrinsicSuccess")
		ta.ObserveBlock("Kusama")

		assert.Equal(t, map[string]Counts{
			"Polkadot": {
				Blocks:     2,
				Extrinsics: map[string]uint64{"Timestamp": 1, "Balances": 2},
				Events:     map[string]uint64{"Balances.Transfer": 1, "System.ExtrinsicSuccess": 2},
			},
			"Kusama": {
				Blocks:     1,
				Extrinsics: map[string]uint64{},
				Events:     map[string]uint64{},
			},
		}, ta.Snapshot())
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		ta := New()
		ta.ObserveExtrinsic("X", "System")

		snapshot := ta.Snapshot()
		snapshot["X"].Extrinsics["System"] = 100
		ta.ObserveExtrinsic("X", "System")

		assert.Equal(t, uint64(2), ta.Snapshot()["X"].Extrinsics["System"])
	})

	t.Run("concurrent observations", func(t *testing.T) {
		ta := New()

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				ta.ObserveBlock("X")
				ta.ObserveExtrinsic("X", "Balances")
				ta.ObserveEvent("X", "Balances", "Transfer")
			}()
			go func() {
				defer wg.Done()
				ta.ObserveBlock("Y")
			}()
		}
		wg.Wait()

		snapshot := ta.Snapshot()
		require.Contains(t, snapshot, "X")
		assert.Equal(t, uint64(50), snapshot["X"].Blocks)
		assert.Equal(t, uint64(50), snapshot["X"].Extrinsics["Balances"])
		assert.Equal(t, uint64(50), snapshot["X"].Events["Balances.Transfer"])
		assert.Equal(t, uint64(50), snapshot["Y"].Blocks)
	})
}
