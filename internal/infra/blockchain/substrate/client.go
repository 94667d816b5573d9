package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/resilience/retry"
	httptransport "github.com/gabapcia/chainlog/internal/pkg/transport/http"
	"github.com/gabapcia/chainlog/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/chainlog/internal/pkg/types"
	"github.com/gabapcia/chainlog/internal/pkg/x/chflow"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// defaultPollInterval is a little under the 6s block time of relay chains.
const defaultPollInterval = 5 * time.Second

// headerResponse is the subset of chain_getHeader used here.
type headerResponse struct {
	Number types.Hex `json:"number"`
}

// client is a live chainsource.Chain backed by a node and a Sidecar instance.
type client struct {
	name       string
	conn       jsonrpc.Client
	sidecar    *retryablehttp.Client
	sidecarURL string

	pollInterval time.Duration
	limiter      *rate.Limiter
	retry        retry.Retry
}

var _ chainsource.Chain = (*client)(nil)

// wait blocks until the rate limiter allows one more request.
func (c *client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *client) fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.conn.Fetch(ctx, method, params...)
}

// getFinalizedHeight returns the number of the node's finalized head.
func (c *client) getFinalizedHeight(ctx context.Context) (uint64, error) {
	data, err := c.fetch(ctx, "chain_getFinalizedHead")
	if err != nil {
		return 0, err
	}

	var hash string
	if err := json.Unmarshal(data, &hash); err != nil {
		return 0, fmt.Errorf("decode finalized head: %w", err)
	}

	data, err = c.fetch(ctx, "chain_getHeader", hash)
	if err != nil {
		return 0, err
	}

	var header headerResponse
	if err := json.Unmarshal(data, &header); err != nil {
		return 0, fmt.Errorf("decode header %s: %w", hash, err)
	}

	return header.Number.Uint64(), nil
}

// getBlockHash returns the canonical hash at height.
func (c *client) getBlockHash(ctx context.Context, height uint64) (types.Hash, error) {
	data, err := c.fetch(ctx, "chain_getBlockHash", height)
	if err != nil {
		return types.Hash{}, err
	}

	var hash types.Hash
	if err := json.Unmarshal(data, &hash); err != nil {
		return types.Hash{}, fmt.Errorf("decode hash of block %d: %w", height, err)
	}

	return hash, nil
}

// getBlockBody fetches the decoded block from Sidecar.
func (c *client) getBlockBody(ctx context.Context, height uint64) (BlockResponse, error) {
	if err := c.wait(ctx); err != nil {
		return BlockResponse{}, err
	}

	var body BlockResponse
	url := fmt.Sprintf("%s/blocks/%d", c.sidecarURL, height)
	if err := httptransport.GetJSON(ctx, c.sidecar, url, &body); err != nil {
		return BlockResponse{}, err
	}

	return body, nil
}

func (c *client) newBlock(ctx context.Context, height uint64) (chainsource.Block, error) {
	hash, err := c.getBlockHash(ctx, height)
	if err != nil {
		return nil, err
	}

	return newBlock(height, hash, func(ctx context.Context) (BlockResponse, error) {
		return c.getBlockBody(ctx, height)
	}), nil
}

// pollNewBlocks emits every block from next up to the finalized head and
// returns the next height to emit. It returns false when ctx is done.
// Requests are retried; only an exhausted retry budget is sent as an error
// notification.
func (c *client) pollNewBlocks(ctx context.Context, next uint64, notificationCh chan<- chainsource.Notification) (uint64, bool) {
	var head uint64
	err := c.retry.Execute(ctx, func() (err error) {
		head, err = c.getFinalizedHeight(ctx)
		return err
	})
	if err != nil {
		return next, chflow.Send(ctx, notificationCh, chainsource.Notification{Err: err})
	}

	for ; next <= head; next++ {
		var b chainsource.Block
		err := c.retry.Execute(ctx, func() (err error) {
			b, err = c.newBlock(ctx, next)
			return err
		})
		if err != nil {
			err = fmt.Errorf("block %d: %w", next, err)
			return next, chflow.Send(ctx, notificationCh, chainsource.Notification{Err: err})
		}

		if ok := chflow.Send(ctx, notificationCh, chainsource.Notification{Block: b}); !ok {
			return next, false
		}
	}

	return next, true
}

// SubscribeFinalized emits the current finalized head and then every
// finalized block after it. A poll that still fails after its retries is
// sent as an error notification; if the stream is still read, polling
// resumes on the next tick from the same height.
func (c *client) SubscribeFinalized(ctx context.Context) (<-chan chainsource.Notification, error) {
	start, err := c.getFinalizedHeight(ctx)
	if err != nil {
		return nil, err
	}

	notificationCh := make(chan chainsource.Notification)
	go func() {
		defer close(notificationCh)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		next, ok := c.pollNewBlocks(ctx, start, notificationCh)
		for ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, ok = c.pollNewBlocks(ctx, next, notificationCh)
			}
		}

		logger.Debug(ctx, "substrate subscription stopped", "chain.id", c.name, "next.height", next)
	}()

	return notificationCh, nil
}

type config struct {
	pollInterval      time.Duration
	requestsPerSecond float64
	retry             retry.Retry
}

type Option func(*config)

// NewClient returns a live chain named name. conn talks to the node and
// sidecar fetches block bodies from sidecarURL.
func NewClient(name string, conn jsonrpc.Client, sidecar *retryablehttp.Client, sidecarURL string, opts ...Option) *client {
	cfg := config{
		pollInterval:      defaultPollInterval,
		requestsPerSecond: 0,
		retry:             retry.New(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	limit := rate.Inf
	if cfg.requestsPerSecond > 0 {
		limit = rate.Limit(cfg.requestsPerSecond)
	}

	return &client{
		name:         name,
		conn:         conn,
		sidecar:      sidecar,
		sidecarURL:   strings.TrimRight(sidecarURL, "/"),
		pollInterval: cfg.pollInterval,
		limiter:      rate.NewLimiter(limit, 1),
		retry:        cfg.retry,
	}
}

// WithPollInterval sets how often the finalized head is polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithRequestsPerSecond caps the requests sent to the node and Sidecar
// combined. Zero means no limit.
func WithRequestsPerSecond(rps float64) Option {
	return func(c *config) {
		c.requestsPerSecond = rps
	}
}

// WithRetry sets the retry policy applied to each request of a poll.
func WithRetry(r retry.Retry) Option {
	return func(c *config) {
		c.retry = r
	}
}
