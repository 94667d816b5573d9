package extract

import (
	"fmt"

	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// Kind tells which item of a block could not be decoded.
type Kind int

const (
	KindExtrinsic Kind = iota + 1
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindExtrinsic:
		return "extrinsic"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// FetchError is a failure to fetch a whole sequence: the body of a block, or
// the events of one extrinsic. Nothing of that sequence was processed.
type FetchError struct {
	Height uint64
	Hash   types.Hash
	Index  int // extrinsic whose events failed; -1 for the block body
	Err    error
}

func (e *FetchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("fetch block %d (%s): %v", e.Height, e.Hash, e.Err)
	}
	return fmt.Sprintf("fetch events of extrinsic %d in block %d (%s): %v", e.Index, e.Height, e.Hash, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DecodeError is a failure to decode a single extrinsic or event. Its
// siblings are unaffected.
type DecodeError struct {
	Kind       Kind
	Height     uint64
	Hash       types.Hash
	Index      int // extrinsic index within the block
	EventIndex int // event index within the extrinsic; -1 for KindExtrinsic
	Err        error
}

func (e *DecodeError) Error() string {
	if e.Kind == KindEvent {
		return fmt.Sprintf("decode event %d of extrinsic %d in block %d (%s): %v", e.EventIndex, e.Index, e.Height, e.Hash, e.Err)
	}
	return fmt.Sprintf("decode extrinsic %d in block %d (%s): %v", e.Index, e.Height, e.Hash, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
