package xclimit

import (
	"io"
	"log/slog"
	"strconv"
)

// EvictReason 表示条目被移除的原因。
type EvictReason int

const (
	// ReasonCapacity 表示占用超过容量，条目按 LRU 顺序被淘汰。
	ReasonCapacity EvictReason = iota
	// ReasonPurge 表示调用了 Purge。
	ReasonPurge
	// ReasonClosed 表示 Limiter 关闭，或 Factory 构建完成时 Limiter 已关闭。
	ReasonClosed
)

// String 返回 EvictReason 的可读字符串表示，用于日志输出。
func (r EvictReason) String() string {
	switch r {
	case ReasonCapacity:
		return "capacity"
	case ReasonPurge:
		return "purge"
	case ReasonClosed:
		return "closed"
	default:
		return "EvictReason(" + strconv.Itoa(int(r)) + ")"
	}
}

func runTask(fn func()) { fn() }

// dispose 销毁已从注册表移除的条目，必须在 Limiter 锁之外调用。
// 配置了释放 worker 时异步执行，队列满或 pool 已停止时同步执行。
func (l *Limiter[T]) dispose(victims []*entry[T], reason EvictReason) {
	for _, e := range victims {
		value := e.value
		task := func() { l.destroy(value, reason) }
		if l.releaser == nil {
			task()
			continue
		}
		if err := l.releaser.Submit(task); err != nil {
			task()
		}
	}
}

// destroy 依次调用 OnEvict 回调和 io.Closer.Close。
// 同步路径上的 panic 被捕获并记录，不会传播到无关的 Acquire 调用方。
func (l *Limiter[T]) destroy(value T, reason EvictReason) {
	defer func() {
		if r := recover(); r != nil {
			l.opts.logger.Error("xclimit: panic while releasing resource",
				slog.String("limiter", l.opts.name),
				slog.String("reason", reason.String()),
				slog.Any("panic", r))
		}
	}()

	if fn := l.opts.onEvict; fn != nil {
		fn(value, reason)
	}
	if c, ok := any(value).(io.Closer); ok {
		if err := c.Close(); err != nil {
			l.opts.logger.Error("xclimit: close released resource failed",
				slog.String("limiter", l.opts.name),
				slog.String("reason", reason.String()),
				slog.Any("error", err))
		}
	}
}
