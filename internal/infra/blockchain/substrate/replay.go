package substrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/x/chflow"
)

// maxReplayLineSize bounds one recorded block. Sidecar bodies of busy blocks
// run to a few megabytes.
const maxReplayLineSize = 32 << 20

// replay is a chainsource.Chain reading recorded Sidecar blocks, one JSON
// document per line, and ending at the end of the file.
type replay struct {
	name string
	path string
}

var _ chainsource.Chain = (*replay)(nil)

// NewReplay returns a chain named name replaying the blocks stored at path.
func NewReplay(name, path string) *replay {
	return &replay{name: name, path: path}
}

func (r *replay) SubscribeFinalized(ctx context.Context) (<-chan chainsource.Notification, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}

	notificationCh := make(chan chainsource.Notification)
	go func() {
		defer close(notificationCh)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64<<10), maxReplayLineSize)

		line := 0
		for scanner.Scan() {
			line++
			if len(scanner.Bytes()) == 0 {
				continue
			}

			if ok := chflow.Send(ctx, notificationCh, decodeReplayLine(r.path, line, scanner.Bytes())); !ok {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			_ = chflow.Send(ctx, notificationCh, chainsource.Notification{Err: fmt.Errorf("%s: %w", r.path, err)})
		}

		logger.Debug(ctx, "replay finished", "chain.id", r.name, "replay.lines", line)
	}()

	return notificationCh, nil
}

func decodeReplayLine(path string, line int, data []byte) chainsource.Notification {
	var body BlockResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return chainsource.Notification{Err: fmt.Errorf("%s:%d: %w", path, line, err)}
	}

	return chainsource.Notification{Block: newFetchedBlock(body)}
}
