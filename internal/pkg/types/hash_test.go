package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFromString(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", HashLength)

	t.Run("decodes a full length hash", func(t *testing.T) {
		h, err := HashFromString(valid)
		require.NoError(t, err)
		assert.Equal(t, byte(0xab), h[0])
		assert.Equal(t, valid, h.String())
	})

	t.Run("rejects missing prefix", func(t *testing.T) {
		_, err := HashFromString(strings.Repeat("ab", HashLength))
		assert.ErrorIs(t, err, ErrInvalidHash)
	})

	t.Run("rejects short hash", func(t *testing.T) {
		_, err := HashFromString("0xabcd")
		assert.ErrorIs(t, err, ErrInvalidHash)
	})

	t.Run("rejects non hex digits", func(t *testing.T) {
		_, err := HashFromString("0x" + strings.Repeat("zz", HashLength))
		assert.ErrorIs(t, err, ErrInvalidHash)
	})
}

func TestHash_JSON(t *testing.T) {
	var h Hash
	h[31] = 0x01

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `"0x`+strings.Repeat("00", 31)+`01"`, string(data))

	var decoded Hash
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, h, decoded)

	assert.ErrorIs(t, json.Unmarshal([]byte(`12`), &decoded), ErrInvalidHash)
}

func TestHash_IsZero(t *testing.T) {
	assert.True(t, Hash{}.IsZero())
	assert.False(t, Hash{1}.IsZero())
}
