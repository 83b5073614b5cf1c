package main

import (
	"io"
	"log/slog"

	"github.com/omeyang/climit/pkg/observability/xlog"
	"github.com/omeyang/climit/pkg/observability/xrotate"
)

// 日志文件轮转参数，CLI 场景下不开放配置。
const (
	logMaxSizeMB  = 64
	logMaxBackups = 3
	logMaxAgeDays = 7
)

// newLogger 按 --log-level/--log-format/--log-file 构建日志记录器。
// file 为空时写 stderr；调用方负责调用返回的 cleanup 关闭日志文件。
func newLogger(level, format, file string, stderr io.Writer) (*slog.Logger, func() error, error) {
	b := xlog.New().
		SetOutput(stderr).
		SetLevelString(level).
		SetFormat(format)
	if file != "" {
		b.SetRotation(file,
			xrotate.WithMaxSize(logMaxSizeMB),
			xrotate.WithMaxBackups(logMaxBackups),
			xrotate.WithMaxAge(logMaxAgeDays),
		)
	}
	logger, cleanup, err := b.Build()
	if err != nil {
		return nil, nil, &usageError{err: err}
	}
	return logger, cleanup, nil
}
