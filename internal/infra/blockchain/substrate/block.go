// Package substrate implements chainsource.Chain for Substrate nodes. Block
// heads come from the node's JSON-RPC interface; block bodies come already
// decoded from a Substrate API Sidecar instance, so no SCALE decoding happens
// here. Each extrinsic and event is decoded from JSON on its own, which keeps
// one malformed item from affecting the rest of the block.
package substrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// ErrMissingMethod is returned for an extrinsic or event without a pallet or
// method name.
var ErrMissingMethod = errors.New("missing pallet method")

type (
	// MethodResponse names a pallet call or event as Sidecar reports it.
	MethodResponse struct {
		Pallet string `json:"pallet"`
		Method string `json:"method"`
	}

	// EventResponse is one event of an extrinsic. Data stays raw until
	// FieldValues is called.
	EventResponse struct {
		Method MethodResponse    `json:"method"`
		Data   []json.RawMessage `json:"data"`
	}

	// ExtrinsicResponse is one extrinsic of a block. Events stay raw so each
	// one is decoded on its own.
	ExtrinsicResponse struct {
		Method  MethodResponse    `json:"method"`
		Events  []json.RawMessage `json:"events"`
		Success bool              `json:"success"`
	}

	// HeaderResponse holds the fields of a Sidecar block needed to identify it.
	HeaderResponse struct {
		Number uint64     `json:"number,string"`
		Hash   types.Hash `json:"hash"`
	}

	// BlockResponse is the body of Sidecar's GET /blocks/{number}. Extrinsics
	// stay raw so each one is decoded on its own.
	BlockResponse struct {
		HeaderResponse
		Extrinsics []json.RawMessage `json:"extrinsics"`
	}
)

func (m MethodResponse) validate() error {
	if m.Pallet == "" || m.Method == "" {
		return ErrMissingMethod
	}
	return nil
}

// fetchFunc returns the body of a block.
type fetchFunc func(ctx context.Context) (BlockResponse, error)

// block is a finalized block whose body is fetched on first use and kept
// once a fetch succeeds.
type block struct {
	hash   types.Hash
	number uint64
	fetch  fetchFunc

	mu   sync.Mutex
	body *BlockResponse
}

var _ chainsource.Block = (*block)(nil)

func newBlock(number uint64, hash types.Hash, fetch fetchFunc) *block {
	return &block{number: number, hash: hash, fetch: fetch}
}

// newFetchedBlock wraps a body that is already in memory.
func newFetchedBlock(body BlockResponse) *block {
	return &block{number: body.Number, hash: body.Hash, body: &body}
}

func (b *block) Hash() types.Hash { return b.hash }
func (b *block) Number() uint64   { return b.number }

func (b *block) Extrinsics(ctx context.Context) (iter.Seq2[chainsource.Extrinsic, error], error) {
	body, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	return func(yield func(chainsource.Extrinsic, error) bool) {
		for i, raw := range body.Extrinsics {
			ext, err := decodeExtrinsic(i, raw)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}

			if !yield(ext, nil) {
				return
			}
		}
	}, nil
}

func (b *block) load(ctx context.Context) (BlockResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.body != nil {
		return *b.body, nil
	}

	body, err := b.fetch(ctx)
	if err != nil {
		return BlockResponse{}, err
	}

	if body.Number != b.number {
		return BlockResponse{}, fmt.Errorf("sidecar returned block %d, expected %d", body.Number, b.number)
	}

	if !b.hash.IsZero() && body.Hash != b.hash {
		return BlockResponse{}, fmt.Errorf("sidecar returned hash %s for block %d, expected %s", body.Hash, b.number, b.hash)
	}

	b.body = &body
	return body, nil
}

type extrinsic struct {
	index  int
	method MethodResponse
	events []json.RawMessage
}

var _ chainsource.Extrinsic = (*extrinsic)(nil)

func decodeExtrinsic(index int, raw json.RawMessage) (*extrinsic, error) {
	var res ExtrinsicResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	if err := res.Method.validate(); err != nil {
		return nil, err
	}

	return &extrinsic{index: index, method: res.Method, events: res.Events}, nil
}

func (e *extrinsic) Index() int                   { return e.index }
func (e *extrinsic) PalletName() (string, error)  { return e.method.Pallet, nil }
func (e *extrinsic) VariantName() (string, error) { return e.method.Method, nil }

func (e *extrinsic) Events(_ context.Context) (iter.Seq2[chainsource.Event, error], error) {
	return func(yield func(chainsource.Event, error) bool) {
		for _, raw := range e.events {
			ev, err := decodeEvent(raw)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}

			if !yield(ev, nil) {
				return
			}
		}
	}, nil
}

type event struct {
	method MethodResponse
	data   []json.RawMessage
}

var _ chainsource.Event = (*event)(nil)

func decodeEvent(raw json.RawMessage) (*event, error) {
	var res EventResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	if err := res.Method.validate(); err != nil {
		return nil, err
	}

	return &event{method: res.Method, data: res.Data}, nil
}

func (e *event) PalletName() string  { return e.method.Pallet }
func (e *event) VariantName() string { return e.method.Method }

// FieldValues decodes every data field. Numbers are kept as json.Number so
// large balances render exactly.
func (e *event) FieldValues() ([]any, error) {
	values := make([]any, 0, len(e.data))
	for i, raw := range e.data {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		values = append(values, v)
	}

	return values, nil
}
