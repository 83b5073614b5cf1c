package xclimit

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

// Config 是可从配置文件加载的 Limiter 配置，字段标签供 koanf 反序列化使用。
//
//	limiter:
//	  name: shaders
//	  capacity: 128
//	  evict_on_release: false
//	  release_workers: 2
//	  release_queue: 256
type Config struct {
	// Name Limiter 名称，空字符串时自动生成。
	Name string `koanf:"name" json:"name"`
	// Capacity 容量，必须 >= 0。
	Capacity int `koanf:"capacity" json:"capacity"`
	// EvictOnRelease 对应 [WithEvictOnRelease]。
	EvictOnRelease bool `koanf:"evict_on_release" json:"evict_on_release"`
	// ReleaseWorkers 异步销毁 worker 数，0 表示同步销毁。
	ReleaseWorkers int `koanf:"release_workers" json:"release_workers"`
	// ReleaseQueue 异步销毁队列长度，<= 0 使用默认值。
	ReleaseQueue int `koanf:"release_queue" json:"release_queue"`
}

// Validate 检查配置是否有效。
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, c.Capacity)
	}
	if c.ReleaseWorkers < 0 || c.ReleaseWorkers > maxReleaseWorkers {
		return fmt.Errorf("%w: must be within [0, %d], got %d",
			ErrInvalidReleaseWorkers, maxReleaseWorkers, c.ReleaseWorkers)
	}
	return nil
}

// LogValue 实现 slog.LogValuer。
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", c.Name),
		slog.Int("capacity", c.Capacity),
		slog.Bool("evict_on_release", c.EvictOnRelease),
		slog.Int("release_workers", c.ReleaseWorkers),
		slog.Int("release_queue", c.ReleaseQueue),
	)
}

// NewFromConfig 按 cfg 创建 Limiter。opts 在 cfg 之后应用，可覆盖 cfg 中的设置，
// 并用于提供无法写进配置文件的选项（WithCost、WithOnEvict、WithLogger 等）。
func NewFromConfig[T any](cfg Config, opts ...Option[T]) (*Limiter[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	all := make([]Option[T], 0, 3+len(opts))
	all = append(all,
		WithName[T](cfg.Name),
		WithReleaseWorkers[T](cfg.ReleaseWorkers, cfg.ReleaseQueue),
	)
	if cfg.EvictOnRelease {
		all = append(all, WithEvictOnRelease[T]())
	}
	all = append(all, opts...)
	return New(cfg.Capacity, all...)
}

// ConfigOptions 把宿主侧的公共选项打包，便于在多个 Limiter 间复用。
func ConfigOptions[T any](logger *slog.Logger, provider metric.MeterProvider) []Option[T] {
	return []Option[T]{WithLogger[T](logger), WithMeterProvider[T](provider)}
}
