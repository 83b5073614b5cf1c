// Package xrotate 提供日志文件轮转功能。
//
// [Rotator] 定义轮转器的核心行为（Write/Close/Rotate），实现必须并发安全。
// [NewLumberjack] 基于 lumberjack v2 按文件大小轮转，
// 备份按数量和天数清理，默认 gzip 压缩。
//
// 关闭后 Write 与 Rotate 返回 [ErrClosed]，重复 Close 同样返回 [ErrClosed]。
package xrotate
