// Package extract turns a finalized block into its extrinsics and their
// events. Each item is decoded on its own, so a bad item is reported and
// skipped while its siblings are still yielded.
package extract

import (
	"context"
	"errors"
	"iter"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/pkg/resilience/retry"
	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// Extrinsic is a decoded extrinsic. On a DecodeError only Index is set.
type Extrinsic struct {
	Index   int
	Pallet  string
	Variant string

	height uint64
	hash   types.Hash
	source chainsource.Extrinsic
}

// Event is a decoded event. On a DecodeError only Index is set.
type Event struct {
	Index   int
	Pallet  string
	Variant string
	Values  []any
}

// Extractor reads blocks through their chainsource accessors.
type Extractor struct {
	retry retry.Retry
}

// Extrinsics fetches the body of block and returns its extrinsics in
// on-chain index order. A failed fetch returns a *FetchError; a failed item
// is yielded with a *DecodeError and iteration continues.
func (x *Extractor) Extrinsics(ctx context.Context, block chainsource.Block) (iter.Seq2[Extrinsic, error], error) {
	height, hash := block.Number(), block.Hash()

	items, err := fetch(ctx, x.retry, func() (iter.Seq2[chainsource.Extrinsic, error], error) {
		return block.Extrinsics(ctx)
	})
	if err != nil {
		return nil, &FetchError{Height: height, Hash: hash, Index: -1, Err: err}
	}

	return func(yield func(Extrinsic, error) bool) {
		position := 0
		for item, err := range items {
			index := position
			position++

			if err == nil && item != nil {
				index = item.Index()
			}

			ext, err := decodeExtrinsic(item, err)
			ext.Index, ext.height, ext.hash = index, height, hash
			if err != nil {
				err = &DecodeError{Kind: KindExtrinsic, Height: height, Hash: hash, Index: index, EventIndex: -1, Err: err}
			}

			if !yield(ext, err) {
				return
			}
		}
	}, nil
}

// Events fetches the events emitted by ext in emission order, with the same
// error shape as Extrinsics. ext must come from a successful Extrinsics item.
func (x *Extractor) Events(ctx context.Context, ext Extrinsic) (iter.Seq2[Event, error], error) {
	if ext.source == nil {
		return nil, &FetchError{Height: ext.height, Hash: ext.hash, Index: ext.Index, Err: ErrUndecodedExtrinsic}
	}

	items, err := fetch(ctx, x.retry, func() (iter.Seq2[chainsource.Event, error], error) {
		return ext.source.Events(ctx)
	})
	if err != nil {
		return nil, &FetchError{Height: ext.height, Hash: ext.hash, Index: ext.Index, Err: err}
	}

	return func(yield func(Event, error) bool) {
		index := 0
		for item, err := range items {
			event, err := decodeEvent(item, err)
			event.Index = index
			if err != nil {
				err = &DecodeError{Kind: KindEvent, Height: ext.height, Hash: ext.hash, Index: ext.Index, EventIndex: index, Err: err}
			}
			index++

			if !yield(event, err) {
				return
			}
		}
	}, nil
}

// ErrUndecodedExtrinsic is returned by Events for an extrinsic that failed to
// decode.
var ErrUndecodedExtrinsic = errors.New("extrinsic was not decoded")

// errMissingItem is reported when a chain yields neither an item nor an error.
var errMissingItem = errors.New("missing item")

func decodeExtrinsic(item chainsource.Extrinsic, err error) (Extrinsic, error) {
	if err != nil {
		return Extrinsic{}, err
	}
	if item == nil {
		return Extrinsic{}, errMissingItem
	}

	pallet, err := item.PalletName()
	if err != nil {
		return Extrinsic{}, err
	}

	variant, err := item.VariantName()
	if err != nil {
		return Extrinsic{}, err
	}

	return Extrinsic{Pallet: pallet, Variant: variant, source: item}, nil
}

func decodeEvent(item chainsource.Event, err error) (Event, error) {
	if err != nil {
		return Event{}, err
	}
	if item == nil {
		return Event{}, errMissingItem
	}

	values, err := item.FieldValues()
	if err != nil {
		return Event{}, err
	}

	return Event{Pallet: item.PalletName(), Variant: item.VariantName(), Values: values}, nil
}

// fetch runs f once, or through r when set.
func fetch[T any](ctx context.Context, r retry.Retry, f func() (T, error)) (T, error) {
	if r == nil {
		return f()
	}

	var result T
	err := r.Execute(ctx, func() error {
		var err error
		result, err = f()
		return err
	})

	return result, err
}

type config struct {
	retry retry.Retry
}

type Option func(*config)

// New returns an Extractor. Fetches are attempted once unless WithRetry is
// given.
func New(opts ...Option) *Extractor {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Extractor{retry: cfg.retry}
}

// WithRetry retries whole-sequence fetches with r. Item decode failures are
// never retried.
func WithRetry(r retry.Retry) Option {
	return func(c *config) {
		c.retry = r
	}
}
