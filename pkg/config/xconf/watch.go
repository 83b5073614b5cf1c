package xconf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch 监视配置文件，变更（防抖后）时调用 Reload，并以 Reload 的结果回调 fn。
// 监视出错时以包装了 [ErrWatch] 的错误回调 fn。
//
// Watch 阻塞直到 ctx 结束，此时返回 nil。fn 在 Watch 所在 goroutine 中串行调用。
// 从字节数据创建的 Source 返回 [ErrNotFile]。
func (s *Source) Watch(ctx context.Context, fn func(*Source, error), opts ...WatchOption) error {
	if s.path == "" {
		return ErrNotFile
	}
	o := watchOptions{debounce: defaultDebounce}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatch, err)
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return errors.Join(fmt.Errorf("%w: watch directory %s: %w", ErrWatch, dir, err), w.Close())
	}
	ready(ctx)

	name := filepath.Base(s.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return w.Close()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// Write：直接修改；Create/Rename：先写临时文件再 rename 的原子保存
			if filepath.Base(ev.Name) != name ||
				(!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(o.debounce)
			} else {
				timer.Reset(o.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if fn != nil {
				fn(s, s.Reload())
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if fn != nil {
				fn(s, fmt.Errorf("%w: %w", ErrWatch, err))
			}
		}
	}
}

type readyKey struct{}

// WithReady 返回携带 ch 的 context：Watch 完成目录注册后关闭 ch。
// 主要用于测试和需要确认监视已生效的调用方。
func WithReady(ctx context.Context, ch chan struct{}) context.Context {
	return context.WithValue(ctx, readyKey{}, ch)
}

func ready(ctx context.Context) {
	if ch, ok := ctx.Value(readyKey{}).(chan struct{}); ok && ch != nil {
		close(ch)
	}
}
