package xclimit

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/omeyang/climit/pkg/storage/xclimit"

// 指标名称。
const (
	MetricHits          = "xclimit.hits"
	MetricMisses        = "xclimit.misses"
	MetricEvictions     = "xclimit.evictions"
	MetricFactoryErrors = "xclimit.factory_errors"
	MetricEntries       = "xclimit.entries"
	MetricInUse         = "xclimit.in_use"
	MetricCost          = "xclimit.cost"
	MetricCapacity      = "xclimit.capacity"
)

// registerMetrics 以 Stats 为数据源注册可观测指标，属性 limiter=<name>。
// 返回的 Registration 在 Close 时注销。
func registerMetrics[T any](l *Limiter[T], provider metric.MeterProvider) (metric.Registration, error) {
	meter := provider.Meter(instrumentationName)

	counters := make(map[string]metric.Int64ObservableCounter, 4)
	for name, desc := range map[string]string{
		MetricHits:          "acquire calls served from a live entry",
		MetricMisses:        "entries constructed and registered",
		MetricEvictions:     "entries evicted by capacity or purge",
		MetricFactoryErrors: "factory calls that returned an error",
	} {
		c, err := meter.Int64ObservableCounter(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("xclimit: create counter %s: %w", name, err)
		}
		counters[name] = c
	}

	gauges := make(map[string]metric.Int64ObservableGauge, 4)
	for name, desc := range map[string]string{
		MetricEntries:  "live entries",
		MetricInUse:    "entries held by at least one guard",
		MetricCost:     "total cost of live entries",
		MetricCapacity: "configured capacity",
	} {
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("xclimit: create gauge %s: %w", name, err)
		}
		gauges[name] = g
	}

	instruments := make([]metric.Observable, 0, len(counters)+len(gauges))
	for _, c := range counters {
		instruments = append(instruments, c)
	}
	for _, g := range gauges {
		instruments = append(instruments, g)
	}

	attrs := metric.WithAttributes(attribute.String("limiter", l.opts.name))
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := l.Stats()
		o.ObserveInt64(counters[MetricHits], clampInt64(s.Hits), attrs)
		o.ObserveInt64(counters[MetricMisses], clampInt64(s.Misses), attrs)
		o.ObserveInt64(counters[MetricEvictions], clampInt64(s.Evictions), attrs)
		o.ObserveInt64(counters[MetricFactoryErrors], clampInt64(s.FactoryErrors), attrs)
		o.ObserveInt64(gauges[MetricEntries], int64(s.Entries), attrs)
		o.ObserveInt64(gauges[MetricInUse], int64(s.InUse), attrs)
		o.ObserveInt64(gauges[MetricCost], int64(s.Cost), attrs)
		o.ObserveInt64(gauges[MetricCapacity], int64(s.Capacity), attrs)
		return nil
	}, instruments...)
	if err != nil {
		return nil, fmt.Errorf("xclimit: register metrics callback: %w", err)
	}
	return reg, nil
}

func clampInt64(v uint64) int64 {
	return int64(min(v, math.MaxInt64))
}
