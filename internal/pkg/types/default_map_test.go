package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMap_Get(t *testing.T) {
	t.Run("inserts default for missing key", func(t *testing.T) {
		calls := 0
		m := NewDefaultMap[string](func() uint64 {
			calls++
			return 7
		})

		assert.Equal(t, uint64(7), m.Get("Balances"))
		assert.Equal(t, uint64(7), m.Get("Balances"))
		assert.Equal(t, 1, calls, "default constructor runs once per key")
		assert.Equal(t, 1, m.Len())
	})

	t.Run("returns stored value", func(t *testing.T) {
		m := NewDefaultMap[string](func() int { return 0 })
		m.Set("System", 3)

		assert.Equal(t, 3, m.Get("System"))
	})
}

func TestDefaultMap_Clone(t *testing.T) {
	m := NewDefaultMap[string](func() int { return 0 })
	m.Set("Timestamp", 1)

	clone := m.Clone()
	clone["Timestamp"] = 99

	assert.Equal(t, 1, m.Get("Timestamp"), "mutating the clone must not touch the map")
	assert.Equal(t, map[string]int{"Timestamp": 99}, clone)
}
