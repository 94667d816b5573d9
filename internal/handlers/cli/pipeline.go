package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gabapcia/chainlog/internal/chainmerge"
	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/config"
	"github.com/gabapcia/chainlog/internal/extract"
	"github.com/gabapcia/chainlog/internal/logsink"
	"github.com/gabapcia/chainlog/internal/pipeline"
	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/resilience/retry"
	"github.com/gabapcia/chainlog/internal/tally"
	"github.com/gabapcia/chainlog/internal/watermark"
)

// runPipeline wires the ingestion components around chains and runs them
// until every chain ends or the process receives SIGINT or SIGTERM.
func runPipeline(ctx context.Context, cfg config.Config, dir string, chains map[string]chainsource.Chain) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := logsink.New(dir,
		logsink.WithMaxConsecutiveFailures(cfg.SinkFailureThreshold),
		logsink.WithMandatory(cfg.MandatorySinks...),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Error(ctx, "error closing sinks", "error", err)
		}
	}()

	for _, name := range sink.Names() {
		path, err := sink.Path(name)
		if err != nil {
			return err
		}
		logger.Info(ctx, "appending to sink", "sink.name", name, "sink.path", path)
	}

	merger := chainmerge.New(chains,
		chainmerge.WithEndSourceOnError(cfg.SourceErrorPolicy != config.SourceErrorContinue),
	)

	extractor := extract.New(extract.WithRetry(retry.New(
		retry.WithAttempts(cfg.RetryAttempts),
		retry.WithDelay(cfg.RetryDelay),
		retry.WithOnRetry(func(attempt uint, err error) {
			logger.Warn(ctx, "retrying block fetch", "attempt", attempt+1, "error", err)
		}),
	)))

	driver := pipeline.New(merger, extractor, watermark.New(), tally.New(), sink,
		pipeline.WithAbortOnSourceError(cfg.SourceErrorPolicy == config.SourceErrorAbort),
	)

	return driver.Run(ctx)
}
