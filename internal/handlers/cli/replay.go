package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/config"
	"github.com/gabapcia/chainlog/internal/infra/blockchain/substrate"
	"github.com/gabapcia/chainlog/internal/pkg/validator"

	"github.com/urfave/cli/v3"
)

const fixtureFlag = "fixture"

// ErrInvalidFixture is returned for a --fixture value that is not Chain=path.
var ErrInvalidFixture = errors.New("invalid fixture")

// parseFixtures turns Chain=path values into replay chains.
func parseFixtures(values []string) (map[string]chainsource.Chain, error) {
	chains := make(map[string]chainsource.Chain, len(values))
	for _, value := range values {
		name, path, ok := strings.Cut(value, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("%w: %q: expected Chain=path", ErrInvalidFixture, value)
		}

		if err := validator.ValidateVar(name, "chainid"); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidFixture, value, err)
		}

		if _, dup := chains[name]; dup {
			return nil, fmt.Errorf("%w: chain %q given twice", ErrInvalidFixture, name)
		}

		chains[name] = substrate.NewReplay(name, path)
	}

	return chains, nil
}

// replayCommand processes recorded Sidecar blocks, one JSON document per
// line, and exits once every fixture is exhausted.
//
// Usage example:
//
//	chainlog replay --fixture Polkadot=polkadot.jsonl --fixture Kusama=kusama.jsonl
func replayCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:        "replay",
		Description: "Runs the ingestion pipeline over recorded Sidecar blocks instead of live nodes.",
		Usage:       "Replays one fixture file per chain and exits when all of them are exhausted.",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     fixtureFlag,
				Usage:    "Chain=path of a file with one Sidecar block JSON per line (repeatable)",
				Required: true,
			},
			outputDir(cfg),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			chains, err := parseFixtures(c.StringSlice(fixtureFlag))
			if err != nil {
				return err
			}

			return runPipeline(ctx, cfg, c.String(outputDirFlag), chains)
		},
	}
}
