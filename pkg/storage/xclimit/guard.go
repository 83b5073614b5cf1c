package xclimit

import (
	"log/slog"
	"runtime"
	"sync/atomic"
)

// Guard 表示对一个条目的一次未释放引用。
//
// Guard 只能由 [Handle.Acquire]、[Keyed.Acquire] 或 [Guard.Clone] 返回；
// 存在任何未释放的 Guard 时，对应条目不会被淘汰。
// 转移所有权即传递 *Guard，只有最终持有者调用 Release。
// 需要第二个独立引用时使用 Clone。
type Guard[T any] struct {
	l       *Limiter[T]
	e       *entry[T]
	state   *guardState
	cleanup runtime.Cleanup
}

// guardState 单独分配，使兜底清理函数不持有 Guard 本身。
type guardState struct {
	released atomic.Bool
}

type leakedGuard[T any] struct {
	l     *Limiter[T]
	e     *entry[T]
	state *guardState
}

func newGuard[T any](l *Limiter[T], e *entry[T]) *Guard[T] {
	g := &Guard[T]{l: l, e: e, state: &guardState{}}
	g.cleanup = runtime.AddCleanup(g, releaseLeaked[T], leakedGuard[T]{l: l, e: e, state: g.state})
	return g
}

// releaseLeaked 在未 Release 的 Guard 被 GC 回收时释放其引用。
func releaseLeaked[T any](lg leakedGuard[T]) {
	if !lg.state.released.CompareAndSwap(false, true) {
		return
	}
	lg.l.opts.logger.Warn("xclimit: guard collected without Release",
		slog.String("limiter", lg.l.opts.name),
		slog.Uint64("entry", lg.e.id))
	lg.l.unref(lg.e)
}

// Get 返回被缓存的资源。
// 资源只在 Guard 释放前有效；对已释放的 Guard 调用 Get 会 panic。
func (g *Guard[T]) Get() T {
	if g.state.released.Load() {
		panic("xclimit: use of released guard")
	}
	return g.e.value
}

// Release 释放引用，使用计数恰好减一。
// 幂等：第一次调用返回 nil，后续调用返回 [ErrGuardReleased]。
func (g *Guard[T]) Release() error {
	if !g.state.released.CompareAndSwap(false, true) {
		return ErrGuardReleased
	}
	g.cleanup.Stop()
	g.l.unref(g.e)
	return nil
}

// Clone 返回指向同一条目的新 Guard，使用计数加一，不刷新访问顺序。
// 两个 Guard 需要各自 Release。已释放的 Guard 返回 [ErrGuardReleased]。
func (g *Guard[T]) Clone() (*Guard[T], error) {
	if !g.l.retain(g.e, &g.state.released) {
		return nil, ErrGuardReleased
	}
	return newGuard(g.l, g.e), nil
}
