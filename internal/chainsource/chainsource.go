// Package chainsource declares the contracts the ingestion core expects from
// a chain connection: a stream of finalized blocks, and typed accessors for a
// block's extrinsics and each extrinsic's events. Transport, handshakes and
// SCALE decoding live behind these interfaces.
package chainsource

import (
	"context"
	"iter"

	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// Notification is one element of a chain's finalized-block stream. Exactly
// one of Block and Err is set.
type Notification struct {
	Block Block // finalized block (nil if Err is set)
	Err   error // connection-level failure for this notification
}

// Chain is a single monitored chain.
type Chain interface {
	// SubscribeFinalized starts streaming finalized blocks. The returned
	// channel is closed when the chain has no more blocks to deliver or ctx
	// is canceled. An error means the subscription could not be established.
	SubscribeFinalized(ctx context.Context) (<-chan Notification, error)
}

// Block is a finalized block. Hash and Number never fail; the body is
// fetched on demand.
type Block interface {
	Hash() types.Hash
	Number() uint64

	// Extrinsics fetches the block body. An error fails the whole fetch;
	// per-item decode failures are yielded through the sequence, in index
	// order, without ending it.
	Extrinsics(ctx context.Context) (iter.Seq2[Extrinsic, error], error)
}

// Extrinsic is one operation recorded in a block.
type Extrinsic interface {
	// Index is the zero-based position of the extrinsic within its block.
	Index() int
	PalletName() (string, error)
	VariantName() (string, error)

	// Events fetches the events emitted by this extrinsic, in emission order.
	Events(ctx context.Context) (iter.Seq2[Event, error], error)
}

// Event is one event emitted by an extrinsic.
type Event interface {
	PalletName() string
	VariantName() string
	FieldValues() ([]any, error)
}
