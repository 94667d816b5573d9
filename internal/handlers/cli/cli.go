// Package cli exposes chainlog as a command-line application.
package cli

import (
	"context"

	"github.com/gabapcia/chainlog/internal/config"

	"github.com/urfave/cli/v3"
)

const outputDirFlag = "output-dir"

// Run builds the chainlog application and executes it with args.
//
// Commands:
//
//   - `start`: follow the configured live chains until interrupted.
//   - `replay`: process recorded Sidecar blocks and exit when they run out.
func Run(ctx context.Context, cfg config.Config, args []string) error {
	return newApp(cfg).Run(ctx, args)
}

func newApp(cfg config.Config) *cli.Command {
	return &cli.Command{
		EnableShellCompletion: true,
		Name:                  "chainlog",
		Description:           "Merges finalized blocks of several Substrate chains and appends every block, extrinsic and event to flat log files.",
		Usage:                 "chainlog [command] [flags]",
		Commands: []*cli.Command{
			startCommand(cfg),
			replayCommand(cfg),
		},
	}
}

func outputDir(cfg config.Config) cli.Flag {
	return &cli.StringFlag{
		Name:  outputDirFlag,
		Usage: "Directory holding logs.txt, pallets.txt and events.txt",
		Value: cfg.OutputDir,
	}
}
