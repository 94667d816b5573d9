// Package logsink appends observation lines to a fixed set of named files.
// Each file has its own lock, and every line is written with a single Write
// followed by Sync, so concurrent appends never interleave.
package logsink

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gabapcia/chainlog/internal/pkg/types"
)

// Sink names.
const (
	SinkBlocks  = "blocks"
	SinkPallets = "pallets"
	SinkEvents  = "events"
)

// DefaultFiles maps each sink to its file name under the output directory.
var DefaultFiles = map[string]string{
	SinkBlocks:  "logs.txt",
	SinkPallets: "pallets.txt",
	SinkEvents:  "events.txt",
}

const defaultMaxConsecutiveFailures = 5

var (
	// ErrUnknownSink is returned by Append for a name that is not configured.
	ErrUnknownSink = errors.New("unknown sink")

	// ErrSinkUnavailable wraps append errors that should stop the run: the
	// sink is mandatory or failed too many times in a row.
	ErrSinkUnavailable = errors.New("sink unavailable")
)

// file is the part of *os.File a target writes through.
type file interface {
	io.WriteCloser
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

func openAppend(path string) (file, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type target struct {
	mu       sync.Mutex
	path     string
	open     func(path string) (file, error)
	file     file
	failures int
	required bool
}

// Sink is a set of append-only targets.
type Sink struct {
	targets     map[string]*target
	maxFailures int
}

// Names returns the configured sink names, sorted.
func (s *Sink) Names() []string {
	return slices.Sorted(maps.Keys(s.targets))
}

// Path returns the file path of the named sink.
func (s *Sink) Path(name string) (string, error) {
	t, ok := s.targets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSink, name)
	}
	return t.path, nil
}

// Append writes line and a trailing newline to the named sink. The file is
// opened on first use. On failure nothing is retried; the error wraps
// ErrSinkUnavailable when the sink is mandatory or its consecutive failure
// count reached the configured limit.
func (s *Sink) Append(name, line string) error {
	t, ok := s.targets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSink, name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.append(line); err != nil {
		t.failures++
		if t.required || t.failures >= s.maxFailures {
			return fmt.Errorf("%w: %s: %d consecutive failures: %w", ErrSinkUnavailable, name, t.failures, err)
		}
		return fmt.Errorf("append to %s: %w", name, err)
	}

	t.failures = 0
	return nil
}

func (t *target) append(line string) error {
	if t.file == nil {
		f, err := t.open(t.path)
		if err != nil {
			return err
		}
		t.file = f
	}

	info, err := t.file.Stat()
	if err != nil {
		return t.reset(err)
	}

	if _, err := t.file.Write([]byte(line + "\n")); err != nil {
		// A short write leaves a partial line behind; cut it so the next
		// append starts at a line boundary.
		if terr := t.file.Truncate(info.Size()); terr != nil {
			err = errors.Join(err, fmt.Errorf("truncate partial line: %w", terr))
		}
		return t.reset(err)
	}

	if err := t.file.Sync(); err != nil {
		return t.reset(err)
	}

	return nil
}

// reset drops the open handle so the next append reopens the file.
func (t *target) reset(err error) error {
	_ = t.file.Close()
	t.file = nil
	return err
}

// Close closes every opened file.
func (s *Sink) Close() error {
	var errs []error
	for _, name := range s.Names() {
		t := s.targets[name]

		t.mu.Lock()
		if t.file != nil {
			if err := t.file.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
			t.file = nil
		}
		t.mu.Unlock()
	}

	return errors.Join(errs...)
}

type config struct {
	files       map[string]string
	maxFailures int
	mandatory   types.Set[string]
}

type Option func(*config)

// New creates dir if needed and returns a Sink with one target per entry of
// DefaultFiles. Files are not opened until the first Append.
func New(dir string, opts ...Option) (*Sink, error) {
	cfg := config{
		files:       DefaultFiles,
		maxFailures: defaultMaxConsecutiveFailures,
		mandatory:   types.NewSet[string](),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if unknown := cfg.mandatory.Difference(types.NewSet(slices.Collect(maps.Keys(cfg.files))...)); len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSink, slices.Sorted(unknown.ToIter()))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	targets := make(map[string]*target, len(cfg.files))
	for name, fileName := range cfg.files {
		targets[name] = &target{
			path:     filepath.Join(dir, fileName),
			open:     openAppend,
			required: cfg.mandatory.Has(name),
		}
	}

	return &Sink{
		targets:     targets,
		maxFailures: max(cfg.maxFailures, 1),
	}, nil
}

// WithMaxConsecutiveFailures sets how many failures in a row a sink may have
// before its errors wrap ErrSinkUnavailable.
func WithMaxConsecutiveFailures(n int) Option {
	return func(c *config) {
		c.maxFailures = n
	}
}

// WithMandatory makes every failure of the named sinks wrap
// ErrSinkUnavailable.
func WithMandatory(names ...string) Option {
	return func(c *config) {
		c.mandatory.Add(names...)
	}
}
