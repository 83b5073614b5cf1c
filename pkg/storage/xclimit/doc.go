// Package xclimit 提供有容量上限、带引用计数的资源缓存（cache limiter）。
//
// xclimit 面向"构建代价高、数量需要受限"的资源，例如编译后的着色器变体、
// 预分配的缓冲区、派生网格数据等。资源由调用方提供的 Factory 惰性构建，
// 由 [Limiter] 统一持有；当条目总量（或总代价）超过容量时，按 LRU 顺序
// 淘汰未被引用的条目。xclimit 对被缓存的资源类型一无所知。
//
// # 核心组件
//
//   - [Limiter]：进程/宿主范围的记账结构，持有容量、全部条目和淘汰策略
//   - [Handle]：调用方与逻辑 key 放在一起的定位器，首次 Acquire 时构建资源，
//     之后在条目仍存活时直接命中
//   - [Guard]：一次未释放的引用；存在任何 Guard 时对应条目不会被淘汰
//   - [Keyed]：按 key 管理 Handle 的便捷前端
//
// # 使用方式
//
//	limiter, _ := xclimit.New[*Shader](64)
//	defer limiter.Close()
//
//	var h xclimit.Handle[*Shader] // 零值即可使用
//	g, err := h.Acquire(limiter, func() (*Shader, error) {
//		return compile(src)
//	})
//	if err != nil {
//		return err
//	}
//	defer g.Release()
//	draw(g.Get())
//
// # 淘汰语义
//
//   - 每次未命中插入新条目后执行一轮淘汰：当占用超过容量时，
//     从最久未访问的一端开始移除引用计数为 0 的条目
//   - 所有剩余条目都被持有时停止淘汰，占用可暂时超过容量，这不是错误
//   - 只有命中（hit）会刷新访问顺序，Guard 释放不会刷新
//   - 默认情况下 Guard 释放不触发淘汰；容量为 0 或启用 [WithEvictOnRelease] 时，
//     引用计数归零即触发一轮淘汰
//   - 被淘汰的资源先交给 [WithOnEvict] 回调，若实现了 io.Closer 再调用 Close
//
// # 并发
//
// 所有方法都是并发安全的。Limiter 内部用一把互斥锁覆盖查找、插入、
// 引用计数变更和淘汰扫描；Factory 在 Limiter 锁之外、Handle 锁之内执行，
// 因此同一个 Handle 的并发 Acquire 只会构建一次，不同 Handle 可以并行构建。
//
// # 注意事项
//
//   - Guard 必须 Release，推荐 defer g.Release()；遗忘的 Guard 被 GC 回收时
//     会自动释放并记录告警日志，但这只是兜底
//   - 存在未释放的 Guard 时 Close 返回 [ErrInUse]
//   - Factory 返回的错误原样透传，不做包装，不重试
//   - 容量默认按条目数计算，使用 [WithCost] 后按代价单位计算
package xclimit
