// Package pipeline drives the ingestion loop: it consumes the merged stream
// of finalized blocks, updates the watermarks and tallies, extracts every
// extrinsic and event, and appends one line per observation to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/gabapcia/chainlog/internal/chainmerge"
	"github.com/gabapcia/chainlog/internal/chainsource"
	"github.com/gabapcia/chainlog/internal/extract"
	"github.com/gabapcia/chainlog/internal/logsink"
	"github.com/gabapcia/chainlog/internal/pkg/logger"
	"github.com/gabapcia/chainlog/internal/pkg/x/chflow"
	"github.com/gabapcia/chainlog/internal/tally"
	"github.com/gabapcia/chainlog/internal/watermark"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrServiceAlreadyStarted is returned by Run on a driver that already ran.
	ErrServiceAlreadyStarted = errors.New("service already started")

	// ErrSourceFailed wraps a chain error when the driver aborts on source
	// errors.
	ErrSourceFailed = errors.New("chain source failed")
)

// Sink receives formatted observation lines.
type Sink interface {
	Append(name, line string) error
}

// Driver runs the ingestion loop once.
type Driver struct {
	state atomic.Int32

	merger    chainmerge.Service
	extractor *extract.Extractor
	tracker   *watermark.Tracker
	tally     *tally.Tally
	sink      Sink

	onFailure          FailureHandler
	abortOnSourceError bool
	meter              metric.Meter
	tracer             trace.Tracer
}

// State reports the current lifecycle stage.
func (d *Driver) State() State {
	return State(d.state.Load())
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
}

// Run consumes the merged stream until every chain has ended or ctx is
// canceled, and returns nil in both cases. The arrival being processed when
// ctx is canceled is finished first. Run returns an error when the merger
// cannot start, when a sink becomes unavailable, or when a chain fails and
// the driver aborts on source errors.
func (d *Driver) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateAwaitingArrival)) {
		return ErrServiceAlreadyStarted
	}
	defer d.setState(StateTerminated)

	ctx = logger.Derive(ctx, "run.id", uuid.Must(uuid.NewV7()).String())

	inst, err := newInstruments(d.meter, d.tracker)
	if err != nil {
		return fmt.Errorf("create instruments: %w", err)
	}
	defer func() { _ = inst.registration.Unregister() }()

	arrivalCh, err := d.merger.Start(ctx)
	if err != nil {
		return err
	}
	defer d.merger.Close()

	logger.Info(ctx, "pipeline started")

	for ctx.Err() == nil {
		d.setState(StateAwaitingArrival)

		arrival, ok := chflow.Receive(ctx, arrivalCh)
		if !ok {
			break
		}

		d.setState(StateProcessing)
		if err := d.process(context.WithoutCancel(ctx), inst, arrival); err != nil {
			logger.Error(ctx, "pipeline aborted", "error", err)
			return err
		}
	}

	d.setState(StateDraining)
	d.logSummary(ctx)

	return nil
}

// process handles one arrival. It returns an error only when the run must
// stop.
func (d *Driver) process(ctx context.Context, inst *instruments, arrival chainmerge.Arrival) error {
	ctx, span := d.tracer.Start(ctx, "pipeline.process_arrival",
		trace.WithAttributes(attribute.String("chain", arrival.Chain)),
	)
	defer span.End()

	if arrival.Err != nil {
		d.report(ctx, inst, Failure{Kind: KindConnection, Chain: arrival.Chain, Index: -1, EventIndex: -1, Err: arrival.Err})
		span.SetStatus(codes.Error, arrival.Err.Error())

		if d.abortOnSourceError {
			return fmt.Errorf("%w: %s: %w", ErrSourceFailed, arrival.Chain, arrival.Err)
		}
		return nil
	}

	var (
		chain  = arrival.Chain
		block  = arrival.Block
		height = block.Number()
		hash   = block.Hash()
	)
	span.SetAttributes(attribute.Int64("block.height", int64(height)))

	base := Failure{Chain: chain, Height: height, Hash: hash, Index: -1, EventIndex: -1}

	d.tracker.Observe(chain, height)
	d.tally.ObserveBlock(chain)
	inst.blocks.Add(ctx, 1, chainAttr(chain))

	if err := d.append(ctx, inst, base, logsink.SinkBlocks, logsink.BlockLine(chain, hash, height)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := d.processExtrinsics(ctx, inst, base, block); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	d.logExtremes(ctx)
	return nil
}

func (d *Driver) processExtrinsics(ctx context.Context, inst *instruments, base Failure, block chainsource.Block) error {
	extrinsics, err := d.extractor.Extrinsics(ctx, block)
	if err != nil {
		d.report(ctx, inst, withError(base, KindBlockFetch, err))
		return nil
	}

	for ext, err := range extrinsics {
		failure := base
		failure.Index = ext.Index

		if err != nil {
			d.report(ctx, inst, withError(failure, KindExtrinsicDecode, err))
			continue
		}

		d.tally.ObserveExtrinsic(base.Chain, ext.Pallet)
		inst.extrinsics.Add(ctx, 1, chainAttr(base.Chain))

		if err := d.append(ctx, inst, failure, logsink.SinkPallets, logsink.ExtrinsicLine(ext.Index, ext.Pallet, ext.Variant)); err != nil {
			return err
		}

		if err := d.processEvents(ctx, inst, failure, ext); err != nil {
			return err
		}
	}

	return nil
}

func (d *Driver) processEvents(ctx context.Context, inst *instruments, base Failure, ext extract.Extrinsic) error {
	events, err := d.extractor.Events(ctx, ext)
	if err != nil {
		d.report(ctx, inst, withError(base, KindBlockFetch, err))
		return nil
	}

	for event, err := range events {
		failure := base
		failure.EventIndex = event.Index

		if err != nil {
			d.report(ctx, inst, withError(failure, KindEventDecode, err))
			continue
		}

		d.tally.ObserveEvent(base.Chain, event.Pallet, event.Variant)
		inst.events.Add(ctx, 1, chainAttr(base.Chain))

		if err := d.append(ctx, inst, failure, logsink.SinkEvents, logsink.EventLine(event.Pallet, event.Variant, event.Values)); err != nil {
			return err
		}
	}

	return nil
}

// append writes line to the named sink. Failures are reported; only an
// unavailable sink is returned.
func (d *Driver) append(ctx context.Context, inst *instruments, base Failure, name, line string) error {
	err := d.sink.Append(name, line)
	if err == nil {
		return nil
	}

	failure := withError(base, KindSink, err)
	failure.Sink = name
	d.report(ctx, inst, failure)

	if errors.Is(err, logsink.ErrSinkUnavailable) {
		return err
	}
	return nil
}

func (d *Driver) report(ctx context.Context, inst *instruments, failure Failure) {
	inst.failures.Add(ctx, 1, failureAttrs(failure))
	d.onFailure(ctx, failure)
}

func withError(f Failure, kind Kind, err error) Failure {
	f.Kind = kind
	f.Err = err
	return f
}

func (d *Driver) logExtremes(ctx context.Context) {
	highestChain, highest, ok := d.tracker.Highest()
	if !ok {
		return
	}
	lowestChain, lowest, _ := d.tracker.Lowest()

	logger.Info(ctx, "chain watermarks",
		"highest.chain", highestChain,
		"highest.height", highest.Highest,
		"lowest.chain", lowestChain,
		"lowest.height", lowest.Lowest,
	)
}

func (d *Driver) logSummary(ctx context.Context) {
	var (
		marks  = d.tracker.Snapshot()
		counts = d.tally.Snapshot()
	)

	for _, chain := range slices.Sorted(maps.Keys(counts)) {
		mark := marks[chain]
		c := counts[chain]

		logger.Info(ctx, "chain summary",
			"chain", chain,
			"watermark.lowest", mark.Lowest,
			"watermark.highest", mark.Highest,
			"blocks", c.Blocks,
			"extrinsics", c.Extrinsics,
			"events", c.Events,
		)
	}

	logger.Info(ctx, "pipeline stopped", "chains", len(counts))
}

type config struct {
	onFailure          FailureHandler
	abortOnSourceError bool
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
}

type Option func(*config)

// New returns a Driver over the given components. Metrics and spans go to
// the global OpenTelemetry providers unless overridden.
func New(merger chainmerge.Service, extractor *extract.Extractor, tracker *watermark.Tracker, t *tally.Tally, sink Sink, opts ...Option) *Driver {
	cfg := config{
		onFailure:          defaultOnFailure,
		abortOnSourceError: false,
		meterProvider:      otel.GetMeterProvider(),
		tracerProvider:     otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Driver{
		merger:             merger,
		extractor:          extractor,
		tracker:            tracker,
		tally:              t,
		sink:               sink,
		onFailure:          cfg.onFailure,
		abortOnSourceError: cfg.abortOnSourceError,
		meter:              cfg.meterProvider.Meter(instrumentationName),
		tracer:             cfg.tracerProvider.Tracer(instrumentationName),
	}
}

// WithFailureHandler replaces the default handler, which logs every failure.
func WithFailureHandler(f FailureHandler) Option {
	return func(c *config) {
		c.onFailure = f
	}
}

// WithAbortOnSourceError makes Run return on the first chain error instead
// of reporting it and carrying on.
func WithAbortOnSourceError(abort bool) Option {
	return func(c *config) {
		c.abortOnSourceError = abort
	}
}

// WithMeterProvider sets the provider of the driver's instruments.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		c.meterProvider = mp
	}
}

// WithTracerProvider sets the provider of the driver's spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		c.tracerProvider = tp
	}
}
