// Package xpool 提供通用的泛型 worker pool。
//
// 在本仓库中它承担被淘汰资源的异步销毁：xclimit 把"调用 OnEvict 回调 + Close"
// 封装为 func() 任务提交到 pool，使昂贵的销毁不阻塞 Acquire 的调用方。
//
// # 特性
//
//   - 泛型任务类型，New 创建后立即启动 worker
//   - worker 数量 [1, 65536]，队列大小 [1, 16777216]，超出范围返回错误
//   - Submit 永不阻塞：队列满返回 [ErrQueueFull]，关闭后返回 [ErrPoolStopped]
//   - Close 处理完队列中剩余任务后返回；Shutdown(ctx) 支持超时
//   - 单个任务 panic 被捕获并记录（含堆栈），不影响其他任务
//   - WithLogger / WithName 注入日志记录器和实例名称
//
// # 注意事项
//
//   - Close/Shutdown 不可在 handler 内调用，否则会死锁
//   - panic 日志默认只记录任务类型，WithLogTaskValue 开启后记录完整值
//   - Shutdown 超时返回后，残留 worker 仍会把队列处理完，可通过 Done() 等待
package xpool
