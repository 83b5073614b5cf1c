package xpool

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_InvalidArgs(t *testing.T) {
	tests := []struct {
		name      string
		workers   int
		queueSize int
		handler   func(int)
		wantErr   error
	}{
		{"nil handler", 1, 1, nil, ErrNilHandler},
		{"zero workers", 0, 1, func(int) {}, ErrInvalidWorkers},
		{"too many workers", maxWorkers + 1, 1, func(int) {}, ErrInvalidWorkers},
		{"zero queue", 1, 0, func(int) {}, ErrInvalidQueueSize},
		{"queue too large", 1, maxQueueSize + 1, func(int) {}, ErrInvalidQueueSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.workers, tt.queueSize, tt.handler)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, p)
		})
	}
}

func TestPool_ProcessesAllTasksBeforeClose(t *testing.T) {
	var processed atomic.Int32
	p, err := New(3, 100, func(fn func()) { fn() })
	require.NoError(t, err)

	for range 50 {
		require.NoError(t, p.Submit(func() { processed.Add(1) }))
	}
	require.NoError(t, p.Close())
	assert.Equal(t, int32(50), processed.Load())
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	p, err := New(1, 1, func(int) {
		once.Do(func() { close(started) })
		<-block
	})
	require.NoError(t, err)

	require.NoError(t, p.Submit(1))
	<-started // worker 已取走第一个任务并阻塞
	require.NoError(t, p.Submit(2))
	assert.ErrorIs(t, p.Submit(3), ErrQueueFull)

	close(block)
	require.NoError(t, p.Close())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	p, err := New(1, 1, func(int) {})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
	// 重复关闭是安全的
	assert.NoError(t, p.Close())
}

func TestPool_PanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var processed atomic.Int32
	p, err := New(1, 10, func(n int) {
		if n == 0 {
			panic("boom")
		}
		processed.Add(1)
	}, WithLogger(logger), WithName("release"))
	require.NoError(t, err)

	require.NoError(t, p.Submit(0))
	require.NoError(t, p.Submit(1))
	require.NoError(t, p.Close())

	assert.Equal(t, int32(1), processed.Load())
	assert.Contains(t, buf.String(), "task panic recovered")
	assert.Contains(t, buf.String(), "pool=release")
	assert.NotContains(t, buf.String(), "task=0")
}

func TestPool_LogTaskValue(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p, err := New(1, 1, func(string) { panic("boom") }, WithLogger(logger), WithLogTaskValue())
	require.NoError(t, err)
	require.NoError(t, p.Submit("secret-ish"))
	require.NoError(t, p.Close())

	assert.Contains(t, buf.String(), "task=secret-ish")
}

func TestPool_ShutdownTimeout(t *testing.T) {
	block := make(chan struct{})
	p, err := New(1, 1, func(int) { <-block })
	require.NoError(t, err)
	require.NoError(t, p.Submit(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	close(block)
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("workers did not exit")
	}
}

func TestPool_ShutdownNilContext(t *testing.T) {
	p, err := New(1, 1, func(int) {})
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Close()) }()

	//nolint:staticcheck // 测试 nil ctx
	assert.ErrorIs(t, p.Shutdown(nil), ErrNilContext)
}

func TestPool_ConcurrentSubmitAndClose(t *testing.T) {
	p, err := New(2, 8, func(int) {})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				_ = p.Submit(i*100 + j) // 关闭后返回 ErrPoolStopped，不会 panic
			}
		}()
	}
	require.NoError(t, p.Close())
	wg.Wait()
}
