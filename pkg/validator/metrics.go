package validator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
)

func (v *Validator) initMetrics() error {
	meter := global.MeterProvider().Meter("xburn")

	v.mBaseLabels = []attribute.KeyValue{attribute.Int64("chain_id", int64(v.chainID))}

	var err error
	v.mRunCounter, err = meter.Int64Counter("xburn.validator.run.count")
	if err != nil {
		return fmt.Errorf("creating run counter: %s", err)
	}
	return nil
}

func (v *Validator) incrRunCounter(ctx context.Context, runType, status string) {
	if v.mRunCounter == nil {
		return
	}
	labels := append([]attribute.KeyValue{
		attribute.String("run_type", runType),
		attribute.String("status", status),
	}, v.mBaseLabels...)
	v.mRunCounter.Add(ctx, 1, labels...)
}
