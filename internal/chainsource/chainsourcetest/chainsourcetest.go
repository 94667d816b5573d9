// Package chainsourcetest provides in-memory chainsource implementations for
// tests and deterministic replays.
package chainsourcetest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/pkg/types"
	"github.com/gabapcia/chainlog/internal/pkg/x/chflow"
)

// Result is either a value or the error produced instead of it.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps a failure in place of a value.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

func seq[T any](items []Result[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item.Value, item.Err) {
				return
			}
		}
	}
}

// HashOf derives a stable hash for a block so fixtures do not need to spell
// one out.
func HashOf(chain string, height uint64) types.Hash {
	return types.Hash(sha256.Sum256(fmt.Appendf(nil, "%s/%d", chain, height)))
}

// Event is a canned chainsource.Event.
type Event struct {
	pallet    string
	variant   string
	values    []any
	valuesErr error
}

var _ chainsource.Event = (*Event)(nil)

// NewEvent returns an event whose FieldValues yields values.
func NewEvent(pallet, variant string, values ...any) *Event {
	return &Event{pallet: pallet, variant: variant, values: values}
}

// WithValuesError makes FieldValues fail with err.
func (e *Event) WithValuesError(err error) *Event {
	e.valuesErr = err
	return e
}

func (e *Event) PalletName() string  { return e.pallet }
func (e *Event) VariantName() string { return e.variant }

func (e *Event) FieldValues() ([]any, error) {
	if e.valuesErr != nil {
		return nil, e.valuesErr
	}
	return e.values, nil
}

// Extrinsic is a canned chainsource.Extrinsic.
type Extrinsic struct {
	index    int
	pallet   string
	variant  string
	nameErr  error
	events   []Result[chainsource.Event]
	fetchErr error

	eventFetches atomic.Int32
}

var _ chainsource.Extrinsic = (*Extrinsic)(nil)

// NewExtrinsic returns an extrinsic at index emitting the given events.
func NewExtrinsic(index int, pallet, variant string, events ...Result[chainsource.Event]) *Extrinsic {
	return &Extrinsic{index: index, pallet: pallet, variant: variant, events: events}
}

// WithNameError makes PalletName and VariantName fail with err.
func (e *Extrinsic) WithNameError(err error) *Extrinsic {
	e.nameErr = err
	return e
}

// WithEventsError makes the whole Events fetch fail with err.
func (e *Extrinsic) WithEventsError(err error) *Extrinsic {
	e.fetchErr = err
	return e
}

// EventFetches reports how many times Events was called.
func (e *Extrinsic) EventFetches() int {
	return int(e.eventFetches.Load())
}

func (e *Extrinsic) Index() int { return e.index }

func (e *Extrinsic) PalletName() (string, error) {
	if e.nameErr != nil {
		return "", e.nameErr
	}
	return e.pallet, nil
}

func (e *Extrinsic) VariantName() (string, error) {
	if e.nameErr != nil {
		return "", e.nameErr
	}
	return e.variant, nil
}

func (e *Extrinsic) Events(_ context.Context) (iter.Seq2[chainsource.Event, error], error) {
	e.eventFetches.Add(1)
	if e.fetchErr != nil {
		return nil, e.fetchErr
	}
	return seq(e.events), nil
}

// Block is a canned chainsource.Block.
type Block struct {
	hash       types.Hash
	number     uint64
	extrinsics []Result[chainsource.Extrinsic]
	fetchErrs  []error

	entered  chan<- struct{}
	release  <-chan struct{}
	gateOnce sync.Once

	fetches atomic.Int32
}

var _ chainsource.Block = (*Block)(nil)

// NewBlock returns a block at height holding the given extrinsics. Its hash
// is HashOf("", height) until WithHash is used.
func NewBlock(height uint64, extrinsics ...Result[chainsource.Extrinsic]) *Block {
	return &Block{
		hash:       HashOf("", height),
		number:     height,
		extrinsics: extrinsics,
	}
}

// WithHash overrides the block hash.
func (b *Block) WithHash(h types.Hash) *Block {
	b.hash = h
	return b
}

// WithFetchErrors makes the first len(errs) Extrinsics calls fail, in order.
// Later calls succeed.
func (b *Block) WithFetchErrors(errs ...error) *Block {
	b.fetchErrs = errs
	return b
}

// WithGate makes the first Extrinsics call close entered and then block until
// release is closed, ignoring its context.
func (b *Block) WithGate(entered chan<- struct{}, release <-chan struct{}) *Block {
	b.entered = entered
	b.release = release
	return b
}

// Fetches reports how many times Extrinsics was called.
func (b *Block) Fetches() int {
	return int(b.fetches.Load())
}

func (b *Block) Hash() types.Hash { return b.hash }
func (b *Block) Number() uint64   { return b.number }

func (b *Block) Extrinsics(_ context.Context) (iter.Seq2[chainsource.Extrinsic, error], error) {
	n := int(b.fetches.Add(1))
	if b.entered != nil {
		b.gateOnce.Do(func() {
			close(b.entered)
			<-b.release
		})
	}

	if n <= len(b.fetchErrs) && b.fetchErrs[n-1] != nil {
		return nil, b.fetchErrs[n-1]
	}
	return seq(b.extrinsics), nil
}

// Chain is a canned chainsource.Chain that replays a fixed list of
// notifications.
type Chain struct {
	notifications []chainsource.Notification
	subscribeErr  error
	stall         bool
}

var _ chainsource.Chain = (*Chain)(nil)

// NewChain returns a chain that emits notifications in order and then ends.
func NewChain(notifications ...chainsource.Notification) *Chain {
	return &Chain{notifications: notifications}
}

// NewChainOfHeights returns a chain emitting empty blocks at the given heights,
// hashed with HashOf(name, height).
func NewChainOfHeights(name string, heights ...uint64) *Chain {
	notifications := make([]chainsource.Notification, 0, len(heights))
	for _, h := range heights {
		notifications = append(notifications, Notify(NewBlock(h).WithHash(HashOf(name, h))))
	}
	return NewChain(notifications...)
}

// Stall keeps the stream open after the last notification, until the
// subscription context is canceled.
func (c *Chain) Stall() *Chain {
	c.stall = true
	return c
}

// WithSubscribeError makes SubscribeFinalized fail with err.
func (c *Chain) WithSubscribeError(err error) *Chain {
	c.subscribeErr = err
	return c
}

func (c *Chain) SubscribeFinalized(ctx context.Context) (<-chan chainsource.Notification, error) {
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}

	ch := make(chan chainsource.Notification)
	go func() {
		defer close(ch)

		for _, n := range c.notifications {
			if !chflow.Send(ctx, ch, n) {
				return
			}
		}

		if c.stall {
			<-ctx.Done()
		}
	}()

	return ch, nil
}

// Notify wraps a block as a successful notification.
func Notify(b chainsource.Block) chainsource.Notification {
	return chainsource.Notification{Block: b}
}

// NotifyErr wraps err as a failed notification.
func NotifyErr(err error) chainsource.Notification {
	return chainsource.Notification{Err: err}
}
