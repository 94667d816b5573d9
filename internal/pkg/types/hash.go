package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// HashLength is the size in bytes of a block hash.
const HashLength = 32

// ErrInvalidHash is returned when a string cannot be decoded into a Hash.
var ErrInvalidHash = errors.New("invalid block hash")

// Hash is an opaque fixed-size block identifier.
type Hash [HashLength]byte

// HashFromString decodes a 0x-prefixed, 64 hex digit string.
func HashFromString(s string) (Hash, error) {
	var h Hash

	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return h, fmt.Errorf("%w: missing 0x prefix", ErrInvalidHash)
	}

	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return h, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}

	if len(raw) != HashLength {
		return h, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHash, HashLength, len(raw))
	}

	copy(h[:], raw)
	return h, nil
}

// String renders the hash as lowercase 0x-prefixed hex.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalJSON encodes the hash as its hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a JSON hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}

	decoded, err := HashFromString(s)
	if err != nil {
		return err
	}

	*h = decoded
	return nil
}
