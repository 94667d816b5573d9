package logsink

import (
	"fmt"

	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// BlockLine formats the record of a processed block.
func BlockLine(chain string, hash types.Hash, height uint64) string {
	return fmt.Sprintf("Chain: %s, Hash: %s, Height: %d", chain, hash, height)
}

// ExtrinsicLine formats the record of a decoded extrinsic.
func ExtrinsicLine(index int, pallet, variant string) string {
	return fmt.Sprintf("Extrinsic ID: %d, Pallet Name: %s, Pallet Function: %s", index, pallet, variant)
}

// EventLine formats the record of a decoded event. Values render as
// "[v1 v2 ...]".
func EventLine(pallet, variant string, values []any) string {
	if values == nil {
		values = []any{}
	}
	return fmt.Sprintf("Pallet: %s, Event: %s, Event Values: %v", pallet, variant, values)
}
