package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/climit/pkg/config/xconf"
	"github.com/omeyang/climit/pkg/storage/xclimit"
)

// configKey 是配置文件中 Limiter 配置所在的节点。
const configKey = "limiter"

// defaultCapacity 未提供配置文件和 --capacity 时使用的容量。
const defaultCapacity = 64

// exitError 表示命令已完成输出，只需设置退出码。
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// usageError 表示参数或配置错误，退出码 2。
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func createCommands() []*cli.Command {
	return []*cli.Command{
		createCheckCommand(),
		createSimulateCommand(),
		createWatchCommand(),
	}
}

func workloadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "capacity", Usage: "覆盖配置中的容量"},
		&cli.IntFlag{Name: "keys", Usage: "不同 key 的数量", Value: 256},
		&cli.IntFlag{Name: "workers", Usage: "并发 worker 数", Value: 4},
		&cli.IntFlag{Name: "hold", Usage: "每个 worker 同时持有的 Guard 上限", Value: 1},
		&cli.FloatFlag{Name: "skew", Usage: "Zipf 分布参数（0 为均匀分布，否则 > 1）", Value: 1.1},
		&cli.IntFlag{Name: "seed", Usage: "随机种子", Value: 1},
		&cli.FloatFlag{Name: "fail-rate", Usage: "factory 注入失败的概率 [0, 1]"},
		&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出统计"},
		&cli.BoolFlag{Name: "metrics", Usage: "同时输出 OpenTelemetry 指标采集结果"},
	}
}

func createCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "校验配置并打印生效的 Limiter 设置",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, _, err := loadConfig(cmd.String("config"))
			if err != nil {
				return err
			}
			return cmdCheck(cmd.Root().Writer, cfg, cmd.Bool("json"))
		},
	}
}

func createSimulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "运行固定次数的合成负载并打印统计",
		Flags: append(workloadFlags(),
			&cli.IntFlag{Name: "ops", Usage: "Acquire 总次数", Value: 10000},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withSession(ctx, cmd, func(ctx context.Context, s *session) error {
				if s.work.ops == 0 {
					return &usageError{err: errors.New("--ops 必须 >= 1")}
				}
				start := time.Now()
				if err := s.work.run(ctx, s.keyed); err != nil {
					return err
				}
				return s.report(cmd.Root().Writer, time.Since(start))
			})
		},
	}
}

func createWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "持续运行合成负载，配置变化时调整容量",
		Flags: append(workloadFlags(),
			&cli.DurationFlag{Name: "interval", Usage: "打印统计的间隔", Value: 5 * time.Second},
			&cli.DurationFlag{Name: "duration", Usage: "运行时长，0 表示直到中断"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			interval := cmd.Duration("interval")
			if interval <= 0 {
				return &usageError{err: fmt.Errorf("--interval 必须 > 0，got %s", interval)}
			}
			if d := cmd.Duration("duration"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return withSession(ctx, cmd, func(ctx context.Context, s *session) error {
				if s.src == nil {
					return &usageError{err: errors.New("watch 需要 --config 指定配置文件")}
				}
				return cmdWatch(ctx, cmd.Root().Writer, s, interval)
			})
		},
	}
}

// loadConfig 读取 path 中 limiter 节点的配置。path 为空时返回默认配置和 nil Source。
func loadConfig(path string) (xclimit.Config, *xconf.Source, error) {
	cfg := xclimit.Config{Name: "xclimitctl", Capacity: defaultCapacity}
	if path == "" {
		return cfg, nil, nil
	}
	src, err := xconf.Open(path)
	if err != nil {
		return cfg, nil, &usageError{err: err}
	}
	if err := src.Unmarshal(configKey, &cfg); err != nil {
		return cfg, nil, &usageError{err: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, &usageError{err: err}
	}
	return cfg, src, nil
}

func cmdCheck(w io.Writer, cfg xclimit.Config, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "name:\t%s\n", cfg.Name)
	fmt.Fprintf(tw, "capacity:\t%d\n", cfg.Capacity)
	fmt.Fprintf(tw, "evict_on_release:\t%t\n", cfg.EvictOnRelease)
	fmt.Fprintf(tw, "release_workers:\t%d\n", cfg.ReleaseWorkers)
	fmt.Fprintf(tw, "release_queue:\t%d\n", cfg.ReleaseQueue)
	return tw.Flush()
}

// session 是 simulate/watch 共用的运行环境。
type session struct {
	logger   *slog.Logger
	src      *xconf.Source
	limiter  *xclimit.Limiter[*payload]
	keyed    *xclimit.Keyed[int, *payload]
	reader   *sdkmetric.ManualReader
	work     workload
	asJSON   bool
	metrics  bool
	disposed atomic.Int64
}

// withSession 按全局与命令参数构建 session，执行 fn 后按顺序关闭 Limiter、MeterProvider 和日志文件。
func withSession(ctx context.Context, cmd *cli.Command, fn func(context.Context, *session) error) (err error) {
	logger, logCleanup, err := newLogger(cmd.String("log-level"), cmd.String("log-format"),
		cmd.String("log-file"), cmd.Root().ErrWriter)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, logCleanup()) }()

	cfg, src, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	if cmd.IsSet("capacity") {
		cfg.Capacity = cmd.Int("capacity")
		if err := cfg.Validate(); err != nil {
			return &usageError{err: err}
		}
	}

	s := &session{
		logger: logger,
		src:    src,
		reader: sdkmetric.NewManualReader(),
		work: workload{
			ops:      cmd.Int("ops"),
			keys:     cmd.Int("keys"),
			workers:  cmd.Int("workers"),
			hold:     cmd.Int("hold"),
			skew:     cmd.Float("skew"),
			failRate: cmd.Float("fail-rate"),
			seed:     uint64(cmd.Int("seed")),
		},
		asJSON:  cmd.Bool("json"),
		metrics: cmd.Bool("metrics"),
	}
	if err := s.work.validate(); err != nil {
		return err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(s.reader))
	defer func() { err = errors.Join(err, provider.Shutdown(context.WithoutCancel(ctx))) }()

	opts := append(xclimit.ConfigOptions[*payload](logger, provider),
		xclimit.WithOnEvict(func(*payload, xclimit.EvictReason) { s.disposed.Add(1) }))
	s.limiter, err = xclimit.NewFromConfig(cfg, opts...)
	if err != nil {
		return &usageError{err: err}
	}
	logger.Debug("limiter created", slog.Any("config", cfg))
	defer func() { err = errors.Join(err, s.limiter.Close()) }()

	s.keyed, err = xclimit.NewKeyed[int](s.limiter)
	if err != nil {
		return err
	}
	return fn(ctx, s)
}

// report 是一次统计输出。
type report struct {
	Limiter       string           `json:"limiter"`
	Elapsed       string           `json:"elapsed"`
	Hits          uint64           `json:"hits"`
	Misses        uint64           `json:"misses"`
	Evictions     uint64           `json:"evictions"`
	FactoryErrors uint64           `json:"factory_errors"`
	HitRatio      float64          `json:"hit_ratio"`
	Entries       int              `json:"entries"`
	InUse         int              `json:"in_use"`
	Cost          int              `json:"cost"`
	Capacity      int              `json:"capacity"`
	Disposed      int64            `json:"disposed"`
	Metrics       map[string]int64 `json:"metrics,omitempty"`
}

func (s *session) snapshot(ctx context.Context, elapsed time.Duration) (report, error) {
	st := s.limiter.Stats()
	r := report{
		Limiter:       s.limiter.Name(),
		Elapsed:       elapsed.Round(time.Millisecond).String(),
		Hits:          st.Hits,
		Misses:        st.Misses,
		Evictions:     st.Evictions,
		FactoryErrors: st.FactoryErrors,
		HitRatio:      st.HitRatio(),
		Entries:       st.Entries,
		InUse:         st.InUse,
		Cost:          st.Cost,
		Capacity:      st.Capacity,
		Disposed:      s.disposed.Load(),
	}
	if s.metrics {
		m, err := collectMetrics(ctx, s.reader)
		if err != nil {
			return r, err
		}
		r.Metrics = m
	}
	return r, nil
}

func (s *session) report(w io.Writer, elapsed time.Duration) error {
	r, err := s.snapshot(context.Background(), elapsed)
	if err != nil {
		return err
	}
	return printReport(w, r, s.asJSON)
}

func printReport(w io.Writer, r report, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(r)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "limiter:\t%s\telapsed:\t%s\n", r.Limiter, r.Elapsed)
	fmt.Fprintf(tw, "hits:\t%d\tmisses:\t%d\n", r.Hits, r.Misses)
	fmt.Fprintf(tw, "hit_ratio:\t%.4f\tfactory_errors:\t%d\n", r.HitRatio, r.FactoryErrors)
	fmt.Fprintf(tw, "evictions:\t%d\tdisposed:\t%d\n", r.Evictions, r.Disposed)
	fmt.Fprintf(tw, "entries:\t%d\tin_use:\t%d\n", r.Entries, r.InUse)
	fmt.Fprintf(tw, "cost:\t%d\tcapacity:\t%d\n", r.Cost, r.Capacity)
	for _, name := range slices.Sorted(maps.Keys(r.Metrics)) {
		fmt.Fprintf(tw, "%s:\t%d\n", name, r.Metrics[name])
	}
	return tw.Flush()
}

// collectMetrics 从 ManualReader 采集一次 int64 指标，按指标名返回。
func collectMetrics(ctx context.Context, reader *sdkmetric.ManualReader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, p := range data.DataPoints {
					out[m.Name] += p.Value
				}
			case metricdata.Gauge[int64]:
				for _, p := range data.DataPoints {
					out[m.Name] += p.Value
				}
			}
		}
	}
	return out, nil
}

// cmdWatch 运行负载直到 ctx 结束：配置文件变化时调整容量，每隔 interval 打印一次统计。
func cmdWatch(ctx context.Context, w io.Writer, s *session, interval time.Duration) error {
	s.work.ops = 0
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.src.Watch(ctx, func(src *xconf.Source, err error) {
			applyReload(s.limiter, s.logger, src, err)
		})
	})
	g.Go(func() error { return s.work.run(ctx, s.keyed) })
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := s.report(w, time.Since(start)); err != nil {
					return err
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return s.report(w, time.Since(start))
}

// applyReload 把重新加载的配置中的容量应用到 l。其余字段需要重建 Limiter，忽略。
func applyReload(l *xclimit.Limiter[*payload], logger *slog.Logger, src *xconf.Source, err error) {
	if err != nil {
		logger.Warn("reload config failed", slog.Any("error", err))
		return
	}
	cfg := xclimit.Config{Capacity: l.Capacity()}
	if err := src.Unmarshal(configKey, &cfg); err != nil {
		logger.Warn("decode reloaded config failed", slog.Any("error", err))
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("reloaded config is invalid", slog.Any("error", err))
		return
	}
	if cfg.Capacity == l.Capacity() {
		return
	}
	if err := l.SetCapacity(cfg.Capacity); err != nil {
		logger.Warn("apply capacity failed", slog.Any("error", err))
		return
	}
	logger.Info("capacity updated",
		slog.String("limiter", l.Name()),
		slog.Int("capacity", cfg.Capacity))
}

// setupSignalHandler 第一次信号取消 ctx，第二次信号强制退出（130 = 128 + SIGINT）。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
