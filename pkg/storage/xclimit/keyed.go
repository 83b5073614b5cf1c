package xclimit

import "sync"

const pruneSlack = 64

// Keyed 按 key 管理 Handle，适用于以逻辑 key（如着色器变体参数）定位资源的宿主。
// 所有方法都是并发安全的。
type Keyed[K comparable, T any] struct {
	limiter *Limiter[T]
	mu      sync.Mutex
	slots   map[K]*keyedSlot[T]
}

type keyedSlot[T any] struct {
	h       Handle[T]
	pending int // 正在进行的 Acquire 数，受 Keyed.mu 保护
}

// NewKeyed 创建绑定到 l 的 Keyed。l 为 nil 时返回 [ErrNilLimiter]。
func NewKeyed[K comparable, T any](l *Limiter[T]) (*Keyed[K, T], error) {
	if l == nil {
		return nil, ErrNilLimiter
	}
	return &Keyed[K, T]{
		limiter: l,
		slots:   make(map[K]*keyedSlot[T]),
	}, nil
}

// Limiter 返回底层 Limiter。
func (k *Keyed[K, T]) Limiter() *Limiter[T] {
	return k.limiter
}

// Acquire 返回 key 对应资源的 Guard，语义与 [Handle.Acquire] 相同。
// 未命中时以 key 调用 factory。
func (k *Keyed[K, T]) Acquire(key K, factory func(K) (T, error)) (*Guard[T], error) {
	if factory == nil {
		return nil, ErrNilFactory
	}

	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		if len(k.slots) >= 2*k.limiter.Len()+pruneSlack {
			k.pruneLocked()
		}
		s = &keyedSlot[T]{}
		k.slots[key] = s
	}
	s.pending++
	k.mu.Unlock()

	g, err := s.h.Acquire(k.limiter, func() (T, error) { return factory(key) })

	k.mu.Lock()
	s.pending--
	k.mu.Unlock()
	return g, err
}

// Forget 丢弃 key 的 Handle。已构建的条目不受影响，之后按 LRU 规则被淘汰。
func (k *Keyed[K, T]) Forget(key K) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.slots, key)
}

// Len 返回当前跟踪的 key 数量（包含条目已被淘汰但尚未清理的 key）。
func (k *Keyed[K, T]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

// Prune 清理条目已被淘汰的 key，返回清理数量。
// Acquire 在 key 数量明显多于存活条目时会自动调用。
func (k *Keyed[K, T]) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pruneLocked()
}

func (k *Keyed[K, T]) pruneLocked() int {
	n := 0
	for key, s := range k.slots {
		if s.pending > 0 || s.h.Bound(k.limiter) {
			continue
		}
		delete(k.slots, key)
		n++
	}
	return n
}
