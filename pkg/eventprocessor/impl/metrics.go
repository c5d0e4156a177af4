package impl

import (
	"context"
	"fmt"

	"github.com/TreeCityWes/xburn-dashboard/pkg/metrics"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

func (ep *EventProcessor) initMetrics(chainID sqlstore.ChainID) error {
	meter := global.MeterProvider().Meter("xburn")
	ep.mBaseLabels = append([]attribute.KeyValue{attribute.Int64("chain_id", int64(chainID))}, metrics.BaseAttrs...)

	mExecutionRound, err := meter.Int64ObservableGauge("xburn.eventprocessor.execution.round")
	if err != nil {
		return fmt.Errorf("creating execution round gauge: %s", err)
	}
	mLastProcessedHeight, err := meter.Int64ObservableGauge("xburn.eventprocessor.last.processed.height")
	if err != nil {
		return fmt.Errorf("creating last processed height gauge: %s", err)
	}
	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(mExecutionRound, ep.mExecutionRound.Load(), ep.mBaseLabels...)
			o.ObserveInt64(mLastProcessedHeight, ep.mLastProcessedHeight.Load(), ep.mBaseLabels...)
			return nil
		},
		mExecutionRound, mLastProcessedHeight)
	if err != nil {
		return fmt.Errorf("registering gauge callback: %s", err)
	}

	ep.mBatchExecutionLatency, err = meter.Int64Histogram(
		"xburn.eventprocessor.batch.execution.latency",
		instrument.WithUnit("ms"))
	if err != nil {
		return fmt.Errorf("creating batch execution latency histogram: %s", err)
	}

	ep.mEventExecutionCounter, err = meter.Int64Counter("xburn.eventprocessor.event.execution.count")
	if err != nil {
		return fmt.Errorf("creating event execution counter: %s", err)
	}

	return nil
}
