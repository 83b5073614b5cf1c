package xclimit

import (
	"sync"
	"weak"
)

// Handle 是调用方持有的轻量定位器，与它要缓存的逻辑 key 放在一起。
//
// Handle 不拥有资源：它只弱引用上一次注册的 Limiter 和条目 id。
// 条目被淘汰、或传入了不同的 Limiter 时，下一次 Acquire 视为未命中并重新构建。
// 零值即可使用；首次使用后不可复制。
type Handle[T any] struct {
	mu    sync.Mutex
	owner weak.Pointer[Limiter[T]]
	id    uint64
}

// Acquire 返回 l 中本 Handle 对应资源的 Guard。
//
//   - 本 Handle 在 l 中的条目仍存活：命中，刷新访问顺序，不调用 factory
//   - 否则（首次使用、已被淘汰、换了 Limiter）：调用 factory 构建资源，
//     注册为新条目并把 Handle 重新绑定到它；旧绑定直接丢弃，不影响旧 Limiter
//
// factory 返回的错误原样返回，此时不注册任何条目，Handle 的绑定保持不变。
// 同一 Handle 的并发 Acquire 串行执行，保证只构建一次。
func (h *Handle[T]) Acquire(l *Limiter[T], factory Factory[T]) (*Guard[T], error) {
	if l == nil {
		return nil, ErrNilLimiter
	}
	if factory == nil {
		return nil, ErrNilFactory
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	e, hit, err := l.touch(h.boundIDLocked(l))
	if err != nil {
		return nil, err
	}
	if hit {
		return newGuard(l, e), nil
	}

	value, err := factory()
	if err != nil {
		l.factoryErrors.Add(1)
		return nil, err
	}
	e, err = l.insert(value)
	if err != nil {
		return nil, err
	}
	h.owner = weak.Make(l)
	h.id = e.id
	return newGuard(l, e), nil
}

// Bound 报告本 Handle 当前是否绑定到 l 中的存活条目。不刷新访问顺序。
func (h *Handle[T]) Bound(l *Limiter[T]) bool {
	if l == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return l.contains(h.boundIDLocked(l))
}

// Reset 丢弃绑定。原条目不受影响，之后按 LRU 规则被淘汰。
func (h *Handle[T]) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.owner = weak.Pointer[Limiter[T]]{}
	h.id = 0
}

// boundIDLocked 返回绑定在 l 上的条目 id，未绑定到 l 时返回 0。
func (h *Handle[T]) boundIDLocked(l *Limiter[T]) uint64 {
	if h.owner.Value() != l {
		return 0
	}
	return h.id
}
