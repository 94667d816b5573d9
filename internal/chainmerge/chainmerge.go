// Package chainmerge fans the finalized-block streams of several chains into
// a single stream of labeled arrivals.
package chainmerge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/x/chflow"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrServiceAlreadyStarted is returned when Start is called on a running merger.
	ErrServiceAlreadyStarted = errors.New("service already started")

	// ErrNoChainAvailable is returned by Start when no chain could be subscribed.
	ErrNoChainAvailable = errors.New("no chain available")

	// ErrSubscribeFailed wraps the error of a chain whose subscription could
	// not be established. It reaches the consumer as an error Arrival.
	ErrSubscribeFailed = errors.New("chain subscription failed")
)

// Arrival is one element of the merged stream. Exactly one of Block and Err
// is set.
type Arrival struct {
	Chain string            // label of the chain that produced this element
	Block chainsource.Block // finalized block (nil if Err is set)
	Err   error             // connection-level failure reported by the chain
}

type Service interface {
	Start(ctx context.Context) (<-chan Arrival, error)
	Close()
}

type closeFunc func()

type service struct {
	mu        sync.Mutex
	isStarted bool
	closeFunc closeFunc

	chains           map[string]chainsource.Chain
	endSourceOnError bool
}

var _ Service = (*service)(nil)

// Start subscribes to every chain and returns the merged stream. The stream
// is unbuffered, so each chain has at most one element waiting for the
// consumer. It is closed once every chain has ended, or ctx is canceled, or
// Close is called.
//
// A chain that fails to subscribe is reported once on the stream and then
// counts as ended. If no chain can be subscribed Start fails with
// ErrNoChainAvailable.
func (s *service) Start(ctx context.Context) (<-chan Arrival, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return nil, ErrServiceAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)

	streams, failures := s.subscribeAll(ctx)
	if len(streams) == 0 {
		cancel()

		errs := []error{ErrNoChainAvailable}
		for _, chain := range slices.Sorted(maps.Keys(failures)) {
			errs = append(errs, failures[chain])
		}
		return nil, errors.Join(errs...)
	}

	var (
		g         errgroup.Group
		arrivalCh = make(chan Arrival)
		done      = make(chan struct{})
	)

	for _, chain := range slices.Sorted(maps.Keys(failures)) {
		arrival := Arrival{Chain: chain, Err: failures[chain]}
		g.Go(func() error {
			_ = chflow.Send(ctx, arrivalCh, arrival)
			return nil
		})
	}

	for _, chain := range slices.Sorted(maps.Keys(streams)) {
		sub := streams[chain]
		g.Go(func() error {
			defer sub.cancel()
			s.forward(ctx, chain, sub.notifications, arrivalCh)
			return nil
		})
	}

	go func() {
		defer close(done)
		_ = g.Wait()
		close(arrivalCh)
	}()

	s.closeFunc = func() {
		cancel()
		<-done
	}

	s.isStarted = true
	return arrivalCh, nil
}

// Close stops every forwarder and waits for the merged stream to be closed.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeFunc != nil {
		s.closeFunc()
	}
	s.isStarted = false
	s.closeFunc = nil
}

// subscription is a live chain stream with the cancel func of its own
// context, so a chain dropped early stops producing.
type subscription struct {
	notifications <-chan chainsource.Notification
	cancel        context.CancelFunc
}

func (s *service) subscribeAll(ctx context.Context) (map[string]subscription, map[string]error) {
	var (
		streams  = make(map[string]subscription, len(s.chains))
		failures = make(map[string]error)
	)

	for _, chain := range slices.Sorted(maps.Keys(s.chains)) {
		chainCtx, cancel := context.WithCancel(ctx)

		notifications, err := s.chains[chain].SubscribeFinalized(chainCtx)
		if err != nil {
			cancel()
			failures[chain] = fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, chain, err)
			continue
		}

		streams[chain] = subscription{notifications: notifications, cancel: cancel}
	}

	return streams, failures
}

// forward relays one chain's notifications, in order, until the chain ends
// or ctx is done. arrivalCh is shared and closed by the caller.
func (s *service) forward(ctx context.Context, chain string, notifications <-chan chainsource.Notification, arrivalCh chan<- Arrival) {
	defer logger.Debug(ctx, "chain stream ended", "chain.id", chain)

	for {
		n, ok := chflow.Receive(ctx, notifications)
		if !ok {
			return
		}

		arrival := Arrival{Chain: chain, Block: n.Block, Err: n.Err}
		if ok := chflow.Send(ctx, arrivalCh, arrival); !ok {
			return
		}

		if n.Err != nil && s.endSourceOnError {
			logger.Warn(ctx, "ending chain stream after error", "chain.id", chain, "error", n.Err)
			return
		}
	}
}

type config struct {
	endSourceOnError bool
}

type Option func(*config)

// New returns a merger over chains, keyed by chain label.
func New(chains map[string]chainsource.Chain, opts ...Option) *service {
	cfg := config{
		endSourceOnError: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &service{
		chains:           chains,
		endSourceOnError: cfg.endSourceOnError,
	}
}

// WithEndSourceOnError controls whether a chain counts as ended right after
// it reports its first error. It defaults to true; with false the merger
// keeps draining the chain.
func WithEndSourceOnError(end bool) Option {
	return func(c *config) {
		c.endSourceOnError = end
	}
}
