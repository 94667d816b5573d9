package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gabapcia/chainlog/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dir string) config.Config {
	return config.Config{
		LogLevel:             "error",
		OutputDir:            dir,
		PollInterval:         time.Second,
		HTTPTimeout:          time.Second,
		RetryAttempts:        1,
		RetryDelay:           time.Millisecond,
		SinkFailureThreshold: 5,
		SourceErrorPolicy:    config.SourceErrorEndSource,
	}
}

func blockJSON(n uint64) string {
	return fmt.Sprintf(`{"number":"%d","hash":"0x%064x","extrinsics":[`+
		`{"method":{"pallet":"timestamp","method":"set"},"events":[{"method":{"pallet":"system","method":"ExtrinsicSuccess"},"data":[]}]},`+
		`{"method":{"pallet":"balances","method":"transferKeepAlive"},"events":[{"method":{"pallet":"balances","method":"Transfer"},"data":["alice","bob","100"]}]}`+
		`]}`, n, n)
}

func writeFixture(t *testing.T, name string, heights ...uint64) string {
	t.Helper()

	lines := make([]string, 0, len(heights))
	for _, h := range heights {
		lines = append(lines, blockJSON(h))
	}

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRun(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		assert.NoError(t, Run(t.Context(), testConfig(t.TempDir()), []string{"chainlog", "--help"}))
	})

	t.Run("registers every command", func(t *testing.T) {
		app := newApp(testConfig(t.TempDir()))

		var names []string
		for _, c := range app.Commands {
			names = append(names, c.Name)
		}
		assert.Equal(t, []string{"start", "replay"}, names)
	})
}

func TestReplayCommand(t *testing.T) {
	t.Run("replays fixtures into the output directory", func(t *testing.T) {
		out := t.TempDir()
		polkadot := writeFixture(t, "polkadot.jsonl", 10, 11, 12)
		kusama := writeFixture(t, "kusama.jsonl", 100, 101)

		err := Run(t.Context(), testConfig(t.TempDir()), []string{
			"chainlog", "replay",
			"--fixture", "Polkadot=" + polkadot,
			"--fixture", "Kusama=" + kusama,
			"--output-dir", out,
		})
		require.NoError(t, err)

		blocks := readLines(t, filepath.Join(out, "logs.txt"))
		assert.Len(t, blocks, 5)
		assert.Contains(t, blocks, fmt.Sprintf("Chain: Kusama, Hash: 0x%064x, Height: 101", 101))

		pallets := readLines(t, filepath.Join(out, "pallets.txt"))
		assert.Len(t, pallets, 10)
		assert.Equal(t, "Extrinsic ID: 0, Pallet Name: timestamp, Pallet Function: set", pallets[0])

		events := readLines(t, filepath.Join(out, "events.txt"))
		assert.Len(t, events, 10)
		assert.Contains(t, events, "Pallet: balances, Event: Transfer, Event Values: [alice bob 100]")
	})

	t.Run("defaults to the configured output directory", func(t *testing.T) {
		out := t.TempDir()
		fixture := writeFixture(t, "westend.jsonl", 1)

		err := Run(t.Context(), testConfig(out), []string{"chainlog", "replay", "--fixture", "Westend=" + fixture})
		require.NoError(t, err)

		assert.Len(t, readLines(t, filepath.Join(out, "logs.txt")), 1)
	})

	t.Run("rejects malformed fixtures", func(t *testing.T) {
		err := Run(t.Context(), testConfig(t.TempDir()), []string{"chainlog", "replay", "--fixture", "Polkadot"})
		assert.ErrorIs(t, err, ErrInvalidFixture)
	})

	t.Run("fails when no fixture can be opened", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing.jsonl")

		err := Run(t.Context(), testConfig(t.TempDir()), []string{"chainlog", "replay", "--fixture", "Polkadot=" + missing})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestParseFixtures(t *testing.T) {
	t.Run("one chain per fixture", func(t *testing.T) {
		chains, err := parseFixtures([]string{"Polkadot=/tmp/a.jsonl", "Kusama=/tmp/b.jsonl"})
		require.NoError(t, err)
		assert.Len(t, chains, 2)
		assert.Contains(t, chains, "Polkadot")
		assert.Contains(t, chains, "Kusama")
	})

	t.Run("invalid values", func(t *testing.T) {
		for _, values := range [][]string{
			{"Polkadot"},
			{"Polkadot="},
			{"Polka dot=/tmp/a.jsonl"},
			{"Polkadot=/tmp/a.jsonl", "Polkadot=/tmp/b.jsonl"},
		} {
			_, err := parseFixtures(values)
			assert.ErrorIs(t, err, ErrInvalidFixture, "%v", values)
		}
	})
}

func TestStartCommand(t *testing.T) {
	t.Run("requires configured chains", func(t *testing.T) {
		err := Run(t.Context(), testConfig(t.TempDir()), []string{"chainlog", "start"})
		assert.ErrorIs(t, err, ErrNoChainsConfigured)
	})

	t.Run("builds one live chain per configured chain", func(t *testing.T) {
		cfg := testConfig(t.TempDir())
		cfg.Chains = config.Endpoints{"Polkadot": "http://polkadot:9933", "Kusama": "http://kusama:9933"}
		cfg.Sidecars = config.Endpoints{"Polkadot": "http://sidecar-dot:8080", "Kusama": "http://sidecar-ksm:8080"}

		chains := liveChains(t.Context(), cfg)
		assert.Len(t, chains, 2)
		assert.Contains(t, chains, "Polkadot")
		assert.Contains(t, chains, "Kusama")
	})
}
