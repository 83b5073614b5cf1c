package xclimit

import "errors"

var (
	// ErrInvalidCapacity 表示容量配置无效（不允许负值）。
	ErrInvalidCapacity = errors.New("xclimit: capacity must not be negative")

	// ErrNilLimiter 表示 Acquire 传入的 Limiter 为 nil。
	ErrNilLimiter = errors.New("xclimit: nil limiter")

	// ErrNilFactory 表示 Acquire 传入的 Factory 为 nil。
	ErrNilFactory = errors.New("xclimit: nil factory")

	// ErrClosed 表示 Limiter 已关闭。
	ErrClosed = errors.New("xclimit: limiter closed")

	// ErrInUse 表示仍有未释放的 Guard，Limiter 不能关闭。
	ErrInUse = errors.New("xclimit: guards still outstanding")

	// ErrGuardReleased 表示 Guard 已经释放。
	// Release 第二次及后续调用、对已释放 Guard 调用 Clone 时返回。
	ErrGuardReleased = errors.New("xclimit: guard already released")

	// ErrInvalidReleaseWorkers 表示释放 worker 配置无效。
	ErrInvalidReleaseWorkers = errors.New("xclimit: invalid release workers")
)
