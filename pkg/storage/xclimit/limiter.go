package xclimit

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/climit/pkg/util/xpool"
)

// Factory 构建一个新的资源实例。
// 返回的错误原样透传给 Acquire 的调用方。
type Factory[T any] func() (T, error)

// entry 是 Limiter 内部的条目记录，所有可变字段受 Limiter.mu 保护。
type entry[T any] struct {
	id    uint64
	value T
	cost  int
	refs  int // 未释放的 Guard 数量，> 0 时不可淘汰
}

// Limiter 是有容量上限的资源缓存。
// 必须通过 [New] 创建，零值不可用。所有方法都是并发安全的。
type Limiter[T any] struct {
	mu sync.Mutex
	// entries 仅用作有序表：Get 把条目移到最新端，Keys 从最旧到最新。
	// 底层 LRU 的 size 设为 math.MaxInt，自身的淘汰永远不会触发，
	// 淘汰由 evictLocked 按引用计数执行。
	entries  *simplelru.LRU[uint64, *entry[T]]
	capacity int
	used     int64 // 条目代价总和；单条上限 MaxEntryCost，int64 下不会溢出
	inUse    int
	nextID   uint64
	closed   bool

	opts     options[T]
	releaser *xpool.Pool[func()]
	metrics  metric.Registration

	hits          atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	factoryErrors atomic.Uint64
}

// New 创建 Limiter。
//
// capacity 为最大条目数（使用 [WithCost] 时为最大代价）。
// capacity 为 0 时不跨 Acquire 缓存任何资源：引用计数归零的条目立即被淘汰。
// capacity < 0 返回 [ErrInvalidCapacity]。
func New[T any](capacity int, opts ...Option[T]) (*Limiter[T], error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}

	o := defaultOptions[T]()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	entries, err := simplelru.NewLRU[uint64, *entry[T]](math.MaxInt, nil)
	if err != nil {
		return nil, fmt.Errorf("xclimit: create registry: %w", err)
	}

	l := &Limiter[T]{
		entries:  entries,
		capacity: capacity,
		opts:     o,
	}

	if o.releaseWorkers > 0 {
		pool, err := xpool.New(o.releaseWorkers, o.releaseQueue, runTask,
			xpool.WithLogger(o.logger), xpool.WithName(o.name))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidReleaseWorkers, err)
		}
		l.releaser = pool
	}

	if o.meterProvider != nil {
		reg, err := registerMetrics(l, o.meterProvider)
		if err != nil {
			if l.releaser != nil {
				err = errors.Join(err, l.releaser.Close())
			}
			return nil, err
		}
		l.metrics = reg
	}

	return l, nil
}

// Name 返回 Limiter 名称。
func (l *Limiter[T]) Name() string {
	return l.opts.name
}

// Capacity 返回当前容量。
func (l *Limiter[T]) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity
}

// Len 返回当前存活的条目数。
func (l *Limiter[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}

// InUse 返回当前被至少一个 Guard 持有的条目数。
func (l *Limiter[T]) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

// Cost 返回存活条目的代价总和。未设置 [WithCost] 时等于 Len。
func (l *Limiter[T]) Cost() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.costLocked()
}

// SetCapacity 调整容量并立即执行一轮淘汰。
// n < 0 返回 [ErrInvalidCapacity]；Limiter 已关闭返回 [ErrClosed]。
func (l *Limiter[T]) SetCapacity(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, n)
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.capacity = n
	victims := l.evictLocked()
	l.mu.Unlock()

	l.dispose(victims, ReasonCapacity)
	return nil
}

// Purge 淘汰所有未被持有的条目，与容量无关。返回淘汰的条目数。
func (l *Limiter[T]) Purge() int {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	var victims []*entry[T]
	for _, id := range l.entries.Keys() {
		e, _ := l.entries.Peek(id)
		if e.refs > 0 {
			continue
		}
		l.removeLocked(e)
		victims = append(victims, e)
	}
	l.mu.Unlock()

	l.evictions.Add(uint64(len(victims)))
	l.dispose(victims, ReasonPurge)
	return len(victims)
}

// Close 释放所有条目并停止指标上报和释放 worker。
//
// 仍有未释放的 Guard 时返回 [ErrInUse]，且不做任何改变。
// 重复调用返回 [ErrClosed]。Close 之后 Acquire 返回 [ErrClosed]。
func (l *Limiter[T]) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.inUse > 0 {
		held := l.inUse
		l.mu.Unlock()
		return fmt.Errorf("%w: %d entries held", ErrInUse, held)
	}
	l.closed = true
	all := make([]*entry[T], 0, l.entries.Len())
	for _, id := range l.entries.Keys() {
		e, _ := l.entries.Peek(id)
		all = append(all, e)
	}
	l.entries.Purge()
	l.used = 0
	l.mu.Unlock()

	var errs []error
	if l.metrics != nil {
		errs = append(errs, l.metrics.Unregister())
	}
	l.dispose(all, ReasonClosed)
	if l.releaser != nil {
		errs = append(errs, l.releaser.Close())
	}

	l.opts.logger.Debug("xclimit: limiter closed",
		slog.String("limiter", l.opts.name),
		slog.Int("released", len(all)))
	return errors.Join(errs...)
}

// touch 是 register_or_touch 的命中路径：id 对应的条目存活时刷新其访问顺序、
// 增加引用计数并返回 true。id 为 0 时必然未命中。
func (l *Limiter[T]) touch(id uint64) (*entry[T], bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, false, ErrClosed
	}
	if id == 0 {
		return nil, false, nil
	}
	e, ok := l.entries.Get(id)
	if !ok {
		return nil, false, nil
	}
	l.retainLocked(e)
	l.hits.Add(1)
	return e, true, nil
}

// insert 是 register_or_touch 的未命中路径：把 factory 构建好的 value
// 注册为最新条目（引用计数 1），然后执行淘汰。
// Limiter 已关闭时立即销毁 value 并返回 [ErrClosed]。
func (l *Limiter[T]) insert(value T) (*entry[T], error) {
	cost := 1
	if l.opts.cost != nil {
		cost = min(max(l.opts.cost(value), 0), MaxEntryCost)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.dispose([]*entry[T]{{value: value}}, ReasonClosed)
		return nil, ErrClosed
	}
	l.nextID++
	e := &entry[T]{id: l.nextID, value: value, cost: cost}
	l.entries.Add(e.id, e)
	l.used += int64(cost)
	l.retainLocked(e)
	l.misses.Add(1)
	victims := l.evictLocked()
	l.mu.Unlock()

	l.dispose(victims, ReasonCapacity)
	return e, nil
}

// retain 为已持有的条目再增加一个引用（Guard.Clone）。
// released 在锁内检查，避免与同一 Guard 的 Release 交错后复活已淘汰的条目。
func (l *Limiter[T]) retain(e *entry[T], released *atomic.Bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if released.Load() {
		return false
	}
	l.retainLocked(e)
	return true
}

func (l *Limiter[T]) retainLocked(e *entry[T]) {
	if e.refs == 0 {
		l.inUse++
	}
	e.refs++
}

// unref 释放一个引用。引用计数归零且容量为 0 或启用了 WithEvictOnRelease 时执行淘汰。
func (l *Limiter[T]) unref(e *entry[T]) {
	l.mu.Lock()
	e.refs--
	var victims []*entry[T]
	if e.refs == 0 {
		l.inUse--
		if l.opts.evictOnRelease || l.capacity == 0 {
			victims = l.evictLocked()
		}
	}
	l.mu.Unlock()

	l.dispose(victims, ReasonCapacity)
}

// contains 报告 id 是否仍是存活条目，不影响访问顺序。
func (l *Limiter[T]) contains(id uint64) bool {
	if id == 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.entries.Contains(id)
}

// evictLocked 在占用超过容量时，从最旧一端开始移除引用计数为 0 的条目，
// 直到占用不超过容量或没有可淘汰的条目。调用方负责在锁外销毁返回的条目。
//
// 最旧条目未被持有时直接移除，每个淘汰 O(1)；遇到被持有的最旧条目才退化为
// 按顺序扫描整个注册表。
func (l *Limiter[T]) evictLocked() []*entry[T] {
	var victims []*entry[T]
	for l.used > int64(l.capacity) {
		_, e, ok := l.entries.GetOldest()
		if !ok || e.refs > 0 {
			break
		}
		l.entries.RemoveOldest()
		l.used -= int64(e.cost)
		victims = append(victims, e)
	}
	if l.used > int64(l.capacity) && l.entries.Len() > 1 {
		victims = l.scanEvictLocked(victims)
	}
	l.evictions.Add(uint64(len(victims)))
	return victims
}

// scanEvictLocked 跳过被持有的条目继续按最旧到最新淘汰。
func (l *Limiter[T]) scanEvictLocked(victims []*entry[T]) []*entry[T] {
	for _, id := range l.entries.Keys() {
		if l.used <= int64(l.capacity) {
			break
		}
		e, _ := l.entries.Peek(id)
		if e.refs > 0 {
			continue
		}
		l.removeLocked(e)
		victims = append(victims, e)
	}
	return victims
}

func (l *Limiter[T]) costLocked() int {
	return int(min(l.used, math.MaxInt))
}

func (l *Limiter[T]) removeLocked(e *entry[T]) {
	l.entries.Remove(e.id)
	l.used -= int64(e.cost)
}
