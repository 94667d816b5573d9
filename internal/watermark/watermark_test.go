package watermark

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Observe(t *testing.T) {
	t.Run("first observation sets both bounds", func(t *testing.T) {
		tr := New()
		tr.Observe("X", 10)

		mark, ok := tr.Get("X")
		require.True(t, ok)
		assert.Equal(t, Mark{Lowest: 10, Highest: 10}, mark)
	})

	t.Run("out of order heights widen the range", func(t *testing.T) {
		tr := New()
		for _, h := range []uint64{5, 2, 9, 1} {
			tr.Observe("X", h)
		}

		mark, ok := tr.Get("X")
		require.True(t, ok)
		assert.Equal(t, Mark{Lowest: 1, Highest: 9}, mark)
	})

	t.Run("bounds are monotonic", func(t *testing.T) {
		tr := New()
		prev := Mark{}
		for i, h := range []uint64{50, 51, 49, 60, 55, 10, 100, 20} {
			tr.Observe("X", h)
			mark, _ := tr.Get("X")
			if i > 0 {
				assert.LessOrEqual(t, mark.Lowest, prev.Lowest)
				assert.GreaterOrEqual(t, mark.Highest, prev.Highest)
			}
			prev = mark
		}
		assert.Equal(t, Mark{Lowest: 10, Highest: 100}, prev)
	})

	t.Run("height zero is a valid observation", func(t *testing.T) {
		tr := New()
		tr.Observe("X", 3)
		tr.Observe("X", 0)

		mark, _ := tr.Get("X")
		assert.Equal(t, Mark{Lowest: 0, Highest: 3}, mark)
	})

	t.Run("chains are independent", func(t *testing.T) {
		tr := New()
		tr.Observe("X", 10)
		tr.Observe("Y", 100)
		tr.Observe("X", 12)

		assert.Equal(t, map[string]Mark{
			"X": {Lowest: 10, Highest: 12},
			"Y": {Lowest: 100, Highest: 100},
		}, tr.Snapshot())
	})

	t.Run("concurrent observations", func(t *testing.T) {
		tr := New()

		var wg sync.WaitGroup
		for c := range 4 {
			chain := fmt.Sprintf("chain-%d", c)
			for h := range 100 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					tr.Observe(chain, uint64(h))
				}()
			}
		}
		wg.Wait()

		snapshot := tr.Snapshot()
		require.Len(t, snapshot, 4)
		for _, mark := range snapshot {
			assert.Equal(t, Mark{Lowest: 0, Highest: 99}, mark)
		}
	})
}

func TestTracker_Get(t *testing.T) {
	_, ok := New().Get("missing")
	assert.False(t, ok)
}

func TestTracker_Snapshot(t *testing.T) {
	t.Run("empty tracker", func(t *testing.T) {
		assert.Empty(t, New().Snapshot())
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		tr := New()
		tr.Observe("X", 1)

		snapshot := tr.Snapshot()
		tr.Observe("X", 5)

		assert.Equal(t, Mark{Lowest: 1, Highest: 1}, snapshot["X"])
	})
}

func TestTracker_HighestLowest(t *testing.T) {
	t.Run("empty tracker", func(t *testing.T) {
		tr := New()

		_, _, ok := tr.Highest()
		assert.False(t, ok)

		_, _, ok = tr.Lowest()
		assert.False(t, ok)
	})

	t.Run("picks the extreme chains", func(t *testing.T) {
		tr := New()
		tr.Observe("X", 10)
		tr.Observe("X", 12)
		tr.Observe("Y", 100)
		tr.Observe("Y", 101)

		chain, mark, ok := tr.Highest()
		require.True(t, ok)
		assert.Equal(t, "Y", chain)
		assert.Equal(t, Mark{Lowest: 100, Highest: 101}, mark)

		chain, mark, ok = tr.Lowest()
		require.True(t, ok)
		assert.Equal(t, "X", chain)
		assert.Equal(t, Mark{Lowest: 10, Highest: 12}, mark)
	})

	t.Run("ties go to the smallest chain id", func(t *testing.T) {
		tr := New()
		tr.Observe("Westend", 7)
		tr.Observe("Kusama", 7)
		tr.Observe("Polkadot", 7)

		chain, _, _ := tr.Highest()
		assert.Equal(t, "Kusama", chain)

		chain, _, _ = tr.Lowest()
		assert.Equal(t, "Kusama", chain)
	})
}
