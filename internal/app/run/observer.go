package run

import (
	"time"

	"github.com/John-Robertt/mediaimport/internal/app/importer"
	"github.com/John-Robertt/mediaimport/internal/config"
)

// Observer 用于把“运行进度/阶段/文件迁移”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）
// - 文件迁移事件（OnTransition）来自导入 goroutine 之外的调用方 goroutine，按顺序到达
type Observer interface {
	importer.Observer
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用（用于打印阶段统计与耗时）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
}
