// Package observability 包含可观测性相关的子包。
//
//   - xlog: 基于 log/slog 的日志构建器
//   - xrotate: 日志文件轮转
package observability
