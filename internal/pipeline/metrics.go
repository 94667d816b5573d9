package pipeline

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/gabapcia/chainlog/internal/watermark"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/gabapcia/chainlog/internal/pipeline"

type instruments struct {
	blocks     metric.Int64Counter
	extrinsics metric.Int64Counter
	events     metric.Int64Counter
	failures   metric.Int64Counter
	watermark  metric.Int64ObservableGauge

	registration metric.Registration
}

func newInstruments(meter metric.Meter, tracker *watermark.Tracker) (*instruments, error) {
	var (
		inst instruments
		errs []error
		err  error
	)

	inst.blocks, err = meter.Int64Counter("chainlog.blocks",
		metric.WithDescription("Finalized blocks processed."),
		metric.WithUnit("{block}"),
	)
	errs = append(errs, err)

	inst.extrinsics, err = meter.Int64Counter("chainlog.extrinsics",
		metric.WithDescription("Extrinsics decoded and logged."),
		metric.WithUnit("{extrinsic}"),
	)
	errs = append(errs, err)

	inst.events, err = meter.Int64Counter("chainlog.events",
		metric.WithDescription("Events decoded and logged."),
		metric.WithUnit("{event}"),
	)
	errs = append(errs, err)

	inst.failures, err = meter.Int64Counter("chainlog.failures",
		metric.WithDescription("Failures reported while processing arrivals."),
		metric.WithUnit("{failure}"),
	)
	errs = append(errs, err)

	inst.watermark, err = meter.Int64ObservableGauge("chainlog.watermark.height",
		metric.WithDescription("Lowest and highest block height observed per chain."),
		metric.WithUnit("{block}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	inst.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snapshot := tracker.Snapshot()
		for _, chain := range slices.Sorted(maps.Keys(snapshot)) {
			mark := snapshot[chain]
			o.ObserveInt64(inst.watermark, int64(mark.Lowest), metric.WithAttributes(
				attribute.String("chain", chain),
				attribute.String("bound", "lowest"),
			))
			o.ObserveInt64(inst.watermark, int64(mark.Highest), metric.WithAttributes(
				attribute.String("chain", chain),
				attribute.String("bound", "highest"),
			))
		}
		return nil
	}, inst.watermark)
	if err != nil {
		return nil, err
	}

	return &inst, nil
}

func chainAttr(chain string) metric.AddOption {
	return metric.WithAttributes(attribute.String("chain", chain))
}

func failureAttrs(failure Failure) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("chain", failure.Chain),
		attribute.String("failure.kind", failure.Kind.String()),
	)
}
