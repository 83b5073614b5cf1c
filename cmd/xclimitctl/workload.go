package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/climit/pkg/storage/xclimit"
)

// errInjected 是 --fail-rate 注入的 factory 失败，不视为运行错误。
var errInjected = errors.New("injected factory failure")

// payload 是模拟负载缓存的资源。
type payload struct {
	key    int
	closed atomic.Bool
}

// Close 实现 io.Closer。重复关闭说明同一资源被销毁了两次。
func (p *payload) Close() error {
	if p.closed.Swap(true) {
		return fmt.Errorf("payload %d closed twice", p.key)
	}
	return nil
}

// workload 描述一次合成负载。
type workload struct {
	ops      int // 总 Acquire 次数，0 表示运行到 ctx 结束
	keys     int
	workers  int
	hold     int     // 每个 worker 同时持有的 Guard 上限
	skew     float64 // Zipf 参数，0 表示均匀分布，否则必须 > 1
	failRate float64
	seed     uint64
}

func (w workload) validate() error {
	switch {
	case w.ops < 0:
		return &usageError{err: fmt.Errorf("--ops 不能为负数，got %d", w.ops)}
	case w.keys < 1:
		return &usageError{err: fmt.Errorf("--keys 必须 >= 1，got %d", w.keys)}
	case w.workers < 1:
		return &usageError{err: fmt.Errorf("--workers 必须 >= 1，got %d", w.workers)}
	case w.hold < 1:
		return &usageError{err: fmt.Errorf("--hold 必须 >= 1，got %d", w.hold)}
	case w.skew != 0 && w.skew <= 1:
		return &usageError{err: fmt.Errorf("--skew 必须为 0 或 > 1，got %g", w.skew)}
	case w.failRate < 0 || w.failRate > 1:
		return &usageError{err: fmt.Errorf("--fail-rate 必须在 [0, 1] 内，got %g", w.failRate)}
	}
	return nil
}

// share 返回第 i 个 worker 分到的操作数，-1 表示不限。
func (w workload) share(i int) int {
	if w.ops == 0 {
		return -1
	}
	n := w.ops / w.workers
	if i < w.ops%w.workers {
		n++
	}
	return n
}

// run 用 w.workers 个 goroutine 对 k 施加负载。ctx 结束时提前返回 nil；
// 任一 worker 发现资源错配或遇到非注入错误时返回该错误。
func (w workload) run(ctx context.Context, k *xclimit.Keyed[int, *payload]) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range w.workers {
		ops := w.share(i)
		g.Go(func() error { return w.worker(ctx, k, i, ops) })
	}
	return g.Wait()
}

func (w workload) worker(ctx context.Context, k *xclimit.Keyed[int, *payload], id, ops int) error {
	rng := rand.New(rand.NewPCG(w.seed, uint64(id)))
	next := w.picker(rng)
	build := func(key int) (*payload, error) {
		if w.failRate > 0 && rng.Float64() < w.failRate {
			return nil, errInjected
		}
		return &payload{key: key}, nil
	}

	held := make([]*xclimit.Guard[*payload], 0, w.hold)
	defer func() {
		for _, g := range held {
			_ = g.Release()
		}
	}()

	for n := 0; ops < 0 || n < ops; n++ {
		if ctx.Err() != nil {
			return nil
		}
		key := next()
		g, err := k.Acquire(key, build)
		if errors.Is(err, errInjected) {
			continue
		}
		if err != nil {
			return fmt.Errorf("worker %d: %w", id, err)
		}
		if p := g.Get(); p.key != key || p.closed.Load() {
			_ = g.Release()
			return fmt.Errorf("worker %d: key %d resolved to payload %d (closed=%t)",
				id, key, p.key, p.closed.Load())
		}
		if len(held) == w.hold {
			_ = held[0].Release()
			held = append(held[:0], held[1:]...)
		}
		held = append(held, g)
	}
	return nil
}

// picker 返回 key 生成器：skew 为 0 时均匀分布，否则服从 Zipf 分布（key 0 最热）。
func (w workload) picker(rng *rand.Rand) func() int {
	if w.keys == 1 {
		return func() int { return 0 }
	}
	if w.skew == 0 {
		return func() int { return rng.IntN(w.keys) }
	}
	z := rand.NewZipf(rng, w.skew, 1, uint64(w.keys-1))
	return func() int { return int(z.Uint64()) }
}
