package pipeline

import (
	"context"

	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// Kind classifies a Failure.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindBlockFetch
	KindExtrinsicDecode
	KindEventDecode
	KindSink
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindBlockFetch:
		return "block_fetch"
	case KindExtrinsicDecode:
		return "extrinsic_decode"
	case KindEventDecode:
		return "event_decode"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Failure describes one problem met while processing an arrival. Fields that
// do not apply to the Kind are left at their zero value, with Index and
// EventIndex set to -1.
type Failure struct {
	Kind       Kind
	Chain      string
	Height     uint64
	Hash       types.Hash
	Index      int    // extrinsic index within the block
	EventIndex int    // event index within the extrinsic
	Sink       string // sink name, for KindSink
	Err        error
}

// FailureHandler receives every Failure reported by the driver.
type FailureHandler func(ctx context.Context, failure Failure)

func defaultOnFailure(ctx context.Context, failure Failure) {
	keysAndValues := []any{
		"failure.kind", failure.Kind.String(),
		"block.chain", failure.Chain,
		"error", failure.Err,
	}

	if failure.Kind != KindConnection {
		keysAndValues = append(keysAndValues,
			"block.height", failure.Height,
			"block.hash", failure.Hash.String(),
		)
	}
	if failure.Index >= 0 {
		keysAndValues = append(keysAndValues, "extrinsic.index", failure.Index)
	}
	if failure.EventIndex >= 0 {
		keysAndValues = append(keysAndValues, "event.index", failure.EventIndex)
	}
	if failure.Sink != "" {
		keysAndValues = append(keysAndValues, "sink.name", failure.Sink)
	}

	logger.Error(ctx, "pipeline failure", keysAndValues...)
}
