package importer

import (
	"github.com/John-Robertt/mediaimport/internal/domain"
)

// Event 是一次状态迁移（每次迁移一条，不是只给最终结果）。
type Event struct {
	// Index 是文件在输入集合中的下标。
	Index    int
	From     domain.FileStatus
	File     domain.MediaFile
	Progress Progress
}

// Observer 用于把导入进度从执行流程中解耦出来。
//
// 约束：
// - importer 只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）
// - OnTransition 在执行 goroutine 上同步调用，实现应尽快返回
// - OnFinish 每次 Import 恰好调用一次（包括取消与失败）
type Observer interface {
	OnTransition(ev Event)
	OnFinish(res Result)
}

// chanObserver 把事件转发到 Job.Events。
type chanObserver struct {
	ch chan<- Event
}

func (o chanObserver) OnTransition(ev Event) { o.ch <- ev }

func (o chanObserver) OnFinish(Result) {}

// Multi 把事件依次分发给多个 Observer（nil 会被忽略）。
func Multi(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) OnTransition(ev Event) {
	for _, o := range m {
		o.OnTransition(ev)
	}
}

func (m multiObserver) OnFinish(res Result) {
	for _, o := range m {
		o.OnFinish(res)
	}
}
