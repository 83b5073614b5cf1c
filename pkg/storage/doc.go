// Package storage 提供资源存储相关的子包。
//
// 子包列表：
//   - xclimit: 有容量上限、按引用计数保护的资源缓存，LRU 淘汰未被持有的条目
//
// 设计原则：
//   - 被持有的资源永不被淘汰
//   - 资源销毁在锁外执行，可选异步
//   - 内置可观测性（指标）
package storage
