// Package xconf 从 YAML/JSON 文件或字节数据加载配置，并支持监视文件变更。
//
// xconf 基于 github.com/knadh/koanf/v2，只提供加载、反序列化、重载和监视；
// 其余操作通过 [Source.Koanf] 直接使用 koanf。
//
// # 格式检测
//
// [Open] 根据扩展名识别格式：.yaml/.yml 为 YAML，.json 为 JSON，其余返回
// [ErrUnsupportedFormat]。[Parse] 需要显式指定格式，适用于 ConfigMap 等场景。
//
// # 监视
//
// [Source.Watch] 用 fsnotify 监视配置文件所在目录（编辑器保存时常先删除再创建，
// 直接监视文件会丢事件），变更事件经过防抖后调用 Reload 并回调。
// Watch 阻塞直到 ctx 结束，通常在独立 goroutine 中运行。
//
//	src, _ := xconf.Open("/etc/app/limiter.yaml")
//	go src.Watch(ctx, func(s *xconf.Source, err error) {
//		var cfg xclimit.Config
//		if err == nil {
//			err = s.Unmarshal("limiter", &cfg)
//		}
//		...
//	})
package xconf
