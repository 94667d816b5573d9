package cli

import (
	"context"
	"errors"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/config"
	"github.com/gabapcia/chainlog/internal/infra/blockchain/substrate"
	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/resilience/retry"
	httptransport "github.com/gabapcia/chainlog/internal/pkg/transport/http"
	"github.com/gabapcia/chainlog/internal/pkg/transport/jsonrpc"

	"github.com/urfave/cli/v3"
)

// ErrNoChainsConfigured is returned by start when CHAINLOG_CHAINS is empty.
var ErrNoChainsConfigured = errors.New("no chains configured")

// liveChains builds one substrate client per configured chain, sharing a
// single HTTP client.
func liveChains(ctx context.Context, cfg config.Config) map[string]chainsource.Chain {
	httpClient := httptransport.NewClient(
		httptransport.WithTimeout(cfg.HTTPTimeout),
		httptransport.WithRetryLogging(true),
	)

	chains := make(map[string]chainsource.Chain, len(cfg.Chains))
	for _, name := range cfg.Chains.Names() {
		chains[name] = substrate.NewClient(name,
			jsonrpc.NewClient(httpClient, cfg.Chains[name]),
			httpClient,
			cfg.Sidecars[name],
			substrate.WithPollInterval(cfg.PollInterval),
			substrate.WithRequestsPerSecond(cfg.RequestsPerSecond),
			substrate.WithRetry(retry.New(
				retry.WithAttempts(cfg.RetryAttempts),
				retry.WithDelay(cfg.RetryDelay),
				retry.WithOnRetry(func(attempt uint, err error) {
					logger.Warn(ctx, "retrying chain poll", "chain.id", name, "attempt", attempt+1, "error", err)
				}),
			)),
		)
	}

	return chains
}

// startCommand follows the configured live chains.
//
// Usage example:
//
//	CHAINLOG_CHAINS=Polkadot:http://localhost:9933 \
//	CHAINLOG_SIDECARS=Polkadot:http://localhost:8080 \
//	chainlog start --output-dir ./out
//
// The process runs until it receives SIGINT or SIGTERM.
func startCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Follows the finalized heads of the configured chains and logs every block, extrinsic and event.",
		Usage:       "Runs the ingestion pipeline against live nodes. Terminates gracefully on Ctrl+C or termination signals.",
		Flags:       []cli.Flag{outputDir(cfg)},
		Action: func(ctx context.Context, c *cli.Command) error {
			if len(cfg.Chains) == 0 {
				return ErrNoChainsConfigured
			}

			return runPipeline(ctx, cfg, c.String(outputDirFlag), liveChains(ctx, cfg))
		},
	}
}
