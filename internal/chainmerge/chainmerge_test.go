package chainmerge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/chainsource/chainsourcetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type chainMock struct {
	mock.Mock
}

func (m *chainMock) SubscribeFinalized(ctx context.Context) (<-chan chainsource.Notification, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(<-chan chainsource.Notification)
	return ch, args.Error(1)
}

// collect drains arrivalCh until it is closed.
func collect(t *testing.T, arrivalCh <-chan Arrival) []Arrival {
	t.Helper()

	var arrivals []Arrival
	timeout := time.After(2 * time.Second)
	for {
		select {
		case a, ok := <-arrivalCh:
			if !ok {
				return arrivals
			}
			arrivals = append(arrivals, a)
		case <-timeout:
			t.Fatalf("merged stream not closed, got %d arrivals", len(arrivals))
			return nil
		}
	}
}

func heightsByChain(arrivals []Arrival) map[string][]uint64 {
	heights := make(map[string][]uint64)
	for _, a := range arrivals {
		if a.Err != nil {
			continue
		}
		heights[a.Chain] = append(heights[a.Chain], a.Block.Number())
	}
	return heights
}

func TestService_Start(t *testing.T) {
	t.Run("delivers every block once in per-chain order", func(t *testing.T) {
		svc := New(map[string]chainsource.Chain{
			"X": chainsourcetest.NewChainOfHeights("X", 10, 11, 12),
			"Y": chainsourcetest.NewChainOfHeights("Y", 100, 101),
		})
		defer svc.Close()

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)

		arrivals := collect(t, arrivalCh)
		assert.Len(t, arrivals, 5)
		assert.Equal(t, map[string][]uint64{
			"X": {10, 11, 12},
			"Y": {100, 101},
		}, heightsByChain(arrivals))
	})

	t.Run("stalled chain does not block the others", func(t *testing.T) {
		svc := New(map[string]chainsource.Chain{
			"stalled": chainsourcetest.NewChain().Stall(),
			"live":    chainsourcetest.NewChainOfHeights("live", 1, 2, 3).Stall(),
		})
		defer svc.Close()

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)

		var got []uint64
		for range 3 {
			select {
			case a := <-arrivalCh:
				assert.Equal(t, "live", a.Chain)
				got = append(got, a.Block.Number())
			case <-time.After(2 * time.Second):
				t.Fatal("live chain starved")
			}
		}
		assert.Equal(t, []uint64{1, 2, 3}, got)
	})

	t.Run("ended chain does not end the stream", func(t *testing.T) {
		svc := New(map[string]chainsource.Chain{
			"empty": chainsourcetest.NewChain(),
			"busy":  chainsourcetest.NewChainOfHeights("busy", 7, 8),
		})
		defer svc.Close()

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)

		assert.Equal(t, map[string][]uint64{"busy": {7, 8}}, heightsByChain(collect(t, arrivalCh)))
	})

	t.Run("forwards chain errors and keeps draining", func(t *testing.T) {
		connErr := errors.New("connection reset")
		svc := New(map[string]chainsource.Chain{
			"X": chainsourcetest.NewChain(
				chainsourcetest.Notify(chainsourcetest.NewBlock(1)),
				chainsourcetest.NotifyErr(connErr),
				chainsourcetest.Notify(chainsourcetest.NewBlock(2)),
			),
		}, WithEndSourceOnError(false))
		defer svc.Close()

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)

		arrivals := collect(t, arrivalCh)
		require.Len(t, arrivals, 3)
		assert.ErrorIs(t, arrivals[1].Err, connErr)
		assert.Equal(t, "X", arrivals[1].Chain)
		assert.Equal(t, uint64(2), arrivals[2].Block.Number())
	})

	t.Run("ends chain on first error by default", func(t *testing.T) {
		connErr := errors.New("connection reset")
		svc := New(map[string]chainsource.Chain{
			"X": chainsourcetest.NewChain(
				chainsourcetest.Notify(chainsourcetest.NewBlock(1)),
				chainsourcetest.NotifyErr(connErr),
				chainsourcetest.Notify(chainsourcetest.NewBlock(2)),
			),
		})
		defer svc.Close()

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)

		arrivals := collect(t, arrivalCh)
		require.Len(t, arrivals, 2)
		assert.ErrorIs(t, arrivals[1].Err, connErr)
	})

	t.Run("reports subscribe failure on the stream", func(t *testing.T) {
		dialErr := errors.New("dial tcp: refused")
		svc := New(map[string]chainsource.Chain{
			"down": chainsourcetest.NewChain().WithSubscribeError(dialErr),
			"up":   chainsourcetest.NewChainOfHeights("up", 5),
		})
		defer svc.Close()

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)

		arrivals := collect(t, arrivalCh)
		require.Len(t, arrivals, 2)

		var failed []Arrival
		for _, a := range arrivals {
			if a.Err != nil {
				failed = append(failed, a)
			}
		}
		require.Len(t, failed, 1)
		assert.Equal(t, "down", failed[0].Chain)
		assert.ErrorIs(t, failed[0].Err, ErrSubscribeFailed)
		assert.ErrorIs(t, failed[0].Err, dialErr)
	})

	t.Run("fails when no chain can be subscribed", func(t *testing.T) {
		dialErr := errors.New("dial tcp: refused")
		svc := New(map[string]chainsource.Chain{
			"a": chainsourcetest.NewChain().WithSubscribeError(dialErr),
			"b": chainsourcetest.NewChain().WithSubscribeError(dialErr),
		})

		arrivalCh, err := svc.Start(t.Context())
		assert.ErrorIs(t, err, ErrNoChainAvailable)
		assert.ErrorIs(t, err, dialErr)
		assert.Nil(t, arrivalCh)
		assert.False(t, svc.isStarted)
	})

	t.Run("fails when already started", func(t *testing.T) {
		svc := New(map[string]chainsource.Chain{
			"X": chainsourcetest.NewChain().Stall(),
		})
		defer svc.Close()

		_, err := svc.Start(t.Context())
		require.NoError(t, err)

		_, err = svc.Start(t.Context())
		assert.ErrorIs(t, err, ErrServiceAlreadyStarted)
	})

	t.Run("subscribes each chain once", func(t *testing.T) {
		notifications := make(chan chainsource.Notification)
		close(notifications)

		m := new(chainMock)
		m.On("SubscribeFinalized", mock.Anything).
			Return((<-chan chainsource.Notification)(notifications), nil).
			Once()

		svc := New(map[string]chainsource.Chain{"X": m})
		defer svc.Close()

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)
		assert.Empty(t, collect(t, arrivalCh))

		m.AssertExpectations(t)
	})
}

func TestService_Close(t *testing.T) {
	t.Run("closes the stream of stalled chains", func(t *testing.T) {
		svc := New(map[string]chainsource.Chain{
			"X": chainsourcetest.NewChain().Stall(),
			"Y": chainsourcetest.NewChain().Stall(),
		})

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)

		svc.Close()

		assert.Empty(t, collect(t, arrivalCh))
		assert.False(t, svc.isStarted)
	})

	t.Run("context cancellation closes the stream", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())

		svc := New(map[string]chainsource.Chain{
			"X": chainsourcetest.NewChain().Stall(),
		})
		defer svc.Close()

		arrivalCh, err := svc.Start(ctx)
		require.NoError(t, err)

		cancel()
		assert.Empty(t, collect(t, arrivalCh))
	})

	t.Run("close without start is a no-op", func(t *testing.T) {
		svc := New(nil)
		assert.NotPanics(t, svc.Close)
	})

	t.Run("can be restarted after close", func(t *testing.T) {
		svc := New(map[string]chainsource.Chain{
			"X": chainsourcetest.NewChainOfHeights("X", 1),
		})

		arrivalCh, err := svc.Start(t.Context())
		require.NoError(t, err)
		assert.Len(t, collect(t, arrivalCh), 1)
		svc.Close()

		arrivalCh, err = svc.Start(t.Context())
		require.NoError(t, err)
		assert.Len(t, collect(t, arrivalCh), 1)
		svc.Close()
	})
}
