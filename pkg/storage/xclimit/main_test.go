package xclimit

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// resource 是测试用资源，实现 io.Closer 以便观察销毁。
type resource struct {
	value  int
	closed atomic.Bool
}

func (r *resource) Close() error {
	r.closed.Store(true)
	return nil
}

var errBoom = errors.New("boom")

var quiet = slog.New(slog.DiscardHandler)

// newLimiter 创建测试用 Limiter，并在测试结束时关闭。
func newLimiter(t *testing.T, capacity int, opts ...Option[*resource]) *Limiter[*resource] {
	t.Helper()
	opts = append([]Option[*resource]{WithLogger[*resource](quiet)}, opts...)
	l, err := New(capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// counting 返回构建 value 的 factory，每次调用使 *calls 加一。
func counting(value int, calls *int) Factory[*resource] {
	return func() (*resource, error) {
		*calls++
		return &resource{value: value}, nil
	}
}

func fixed(value int) Factory[*resource] {
	return func() (*resource, error) {
		return &resource{value: value}, nil
	}
}

// acquireRelease 获取并立即释放，返回资源和是否新建。
func acquireRelease(t *testing.T, h *Handle[*resource], l *Limiter[*resource], value int) (*resource, bool) {
	t.Helper()
	created := false
	g, err := h.Acquire(l, func() (*resource, error) {
		created = true
		return &resource{value: value}, nil
	})
	require.NoError(t, err)
	r := g.Get()
	require.NoError(t, g.Release())
	return r, created
}
