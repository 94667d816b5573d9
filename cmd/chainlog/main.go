// Command chainlog follows several Substrate chains and appends every
// finalized block, extrinsic and event to flat log files.
//
// It exits with status 0 when the run ends cleanly (all chains exhausted or
// interrupted) and 1 on a setup failure or when a log file becomes
// unavailable.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gabapcia/chainlog/internal/config"
	"github.com/gabapcia/chainlog/internal/handlers/cli"
	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "chainlog: invalid configuration: %v\n", err)
		return 1
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chainlog: telemetry: %v\n", err)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
			defer cancel()

			if err := shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "chainlog: telemetry shutdown: %v\n", err)
			}
		}()
	}

	if err := logger.Init(logger.WithLevel(cfg.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "chainlog: logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := cli.Run(ctx, cfg, os.Args); err != nil {
		logger.Error(ctx, "chainlog stopped with an error", "error", err)
		return 1
	}

	return 0
}
