// Package xlog 基于 log/slog 构建日志记录器。
//
// 使用 Builder 模式配置输出目标、级别、格式与文件轮转，
// 遵循 first-error-wins：遇到第一个配置错误后后续 Set 操作被跳过，
// 错误在 [Builder.Build] 时返回。
//
//	logger, cleanup, err := xlog.New().
//		SetLevelString("debug").
//		SetFormat("json").
//		SetRotation("/var/log/app.log").
//		Build()
//	if err != nil {
//		return err
//	}
//	defer cleanup()
//
// Build 返回的 cleanup 关闭轮转文件，可重复调用。
package xlog
