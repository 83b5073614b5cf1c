package xclimit

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
)

// MaxEntryCost 是单个条目代价的上限，[WithCost] 返回更大的值时按此值计算，
// 保证代价总和不会溢出。
const MaxEntryCost = math.MaxInt32

const (
	namePrefix          = "xclimit-"
	defaultReleaseQueue = 256
	maxReleaseWorkers   = 1 << 10
)

// Option 定义 Limiter 可选配置函数类型。
type Option[T any] func(*options[T])

type options[T any] struct {
	name           string
	logger         *slog.Logger
	cost           func(T) int
	onEvict        func(value T, reason EvictReason)
	evictOnRelease bool
	releaseWorkers int
	releaseQueue   int
	meterProvider  metric.MeterProvider
}

func defaultOptions[T any]() options[T] {
	return options[T]{
		logger:       slog.Default(),
		releaseQueue: defaultReleaseQueue,
	}
}

// WithName 设置 Limiter 名称，用于日志和指标属性中区分多个实例。
// 默认为 "xclimit-" 加随机 UUID 前缀。空字符串被忽略。
func WithName[T any](name string) Option[T] {
	return func(o *options[T]) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger 设置日志记录器。
// 默认使用 slog.Default()。传入 nil 将被忽略。
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(o *options[T]) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCost 设置条目代价函数，容量随之按代价单位计算。
//
// 代价在条目插入时计算一次，之后不再变化。负值按 0 处理，
// 超过 [MaxEntryCost] 的值按 MaxEntryCost 处理。
// 未设置时每个条目代价为 1，即容量等于最大条目数。
func WithCost[T any](fn func(T) int) Option[T] {
	return func(o *options[T]) {
		o.cost = fn
	}
}

// WithOnEvict 设置条目被移除时的回调。
//
// 回调在 Limiter 锁之外执行，可以安全调用 Limiter 的方法。
// 回调先于 io.Closer 的 Close 执行。
func WithOnEvict[T any](fn func(value T, reason EvictReason)) Option[T] {
	return func(o *options[T]) {
		o.onEvict = fn
	}
}

// WithEvictOnRelease 使 Guard 释放导致引用计数归零时立即执行一轮淘汰。
// 默认只在插入新条目后淘汰。
func WithEvictOnRelease[T any]() Option[T] {
	return func(o *options[T]) {
		o.evictOnRelease = true
	}
}

// WithReleaseWorkers 使用 worker pool 异步销毁被淘汰的资源。
//
// workers 为 0 表示同步销毁（默认）。queue <= 0 时使用默认队列长度 256。
// 队列满时退化为在调用方 goroutine 中同步销毁，不会丢弃资源。
func WithReleaseWorkers[T any](workers, queue int) Option[T] {
	return func(o *options[T]) {
		o.releaseWorkers = workers
		if queue > 0 {
			o.releaseQueue = queue
		}
	}
}

// WithMeterProvider 设置 OpenTelemetry MeterProvider，启用指标上报。
// 传入 nil 将被忽略（不上报指标）。
func WithMeterProvider[T any](provider metric.MeterProvider) Option[T] {
	return func(o *options[T]) {
		if provider != nil {
			o.meterProvider = provider
		}
	}
}

func (o *options[T]) validate() error {
	if o.releaseWorkers < 0 || o.releaseWorkers > maxReleaseWorkers {
		return fmt.Errorf("%w: must be within [0, %d], got %d",
			ErrInvalidReleaseWorkers, maxReleaseWorkers, o.releaseWorkers)
	}
	if o.name == "" {
		o.name = namePrefix + uuid.NewString()[:8]
	}
	return nil
}
