package xrotate

import "io"

var _ io.WriteCloser = (Rotator)(nil)

// Rotator 日志轮转器，可直接作为 io.Writer 交给 slog handler。
type Rotator interface {
	// Write 写入日志数据，达到轮转条件时自动轮转。
	Write(p []byte) (n int, err error)

	// Close 关闭当前文件；重复调用返回 [ErrClosed]。
	Close() error

	// Rotate 手动轮转：当前文件改名为备份并新建文件。
	Rotate() error
}
