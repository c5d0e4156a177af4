package impl

import (
	"context"
	"fmt"

	"github.com/TreeCityWes/xburn-dashboard/pkg/metrics"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

func (ef *EventFeed) initMetrics(chainID sqlstore.ChainID) error {
	meter := global.MeterProvider().Meter("xburn")
	ef.mBaseLabels = append([]attribute.KeyValue{
		attribute.Int64("chain_id", int64(chainID)),
	}, metrics.BaseAttrs...)

	// Async instruments.
	mHeight, err := meter.Int64ObservableGauge("xburn.eventfeed.height")
	if err != nil {
		return fmt.Errorf("creating height gauge: %s", err)
	}
	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(mHeight, ef.mCurrentHeight.Load(), ef.mBaseLabels...)
			return nil
		}, mHeight)
	if err != nil {
		return fmt.Errorf("registering async metric callback: %s", err)
	}

	// Sync instruments.
	ef.mEventTypeCounter, err = meter.Int64Counter("xburn.eventfeed.eventtypes.count")
	if err != nil {
		return fmt.Errorf("creating event types counter: %s", err)
	}

	return nil
}

func (ef *EventFeed) countEvent(event interface{}) {
	attrs := append([]attribute.KeyValue{
		attribute.String("name", fmt.Sprintf("%T", event)),
	}, ef.mBaseLabels...)
	ef.mEventTypeCounter.Add(context.Background(), 1, attrs...)
}
