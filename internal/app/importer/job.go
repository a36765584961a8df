package importer

import (
	"context"

	"github.com/John-Robertt/mediaimport/internal/domain"
)

// Job 是一次异步导入。
//
// Events 的容量足以容纳整次导入的所有事件，因此不读取它也不会阻塞执行；
// 执行结束后 Events 被关闭，随后 Wait 返回。
type Job struct {
	Events <-chan Event

	cancel context.CancelFunc
	done   chan struct{}
	res    Result
}

// Wait 阻塞直到导入结束，返回最终结果。
func (j *Job) Wait() Result {
	<-j.done
	return j.res
}

// Done 在导入结束时关闭。
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel 请求取消（在下一个文件开始前生效）。
func (j *Job) Cancel() { j.cancel() }

// Start 异步执行导入。同一个 Executor 上再次 Start 会先取消并等待上一个 Job 结束。
func (e *Executor) Start(ctx context.Context, files []domain.MediaFile, s domain.Settings) *Job {
	ctx, cancel := context.WithCancel(ctx)
	// 每个文件最多 3 次迁移（copying/verifying/终态），外加一次删除；每个 sidecar 最多再一次删除失败。
	n := 4*len(files) + 1
	for _, f := range files {
		n += len(f.Sidecars)
	}
	ch := make(chan Event, n)
	j := &Job{Events: ch, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	prev := e.job
	e.job = j
	e.mu.Unlock()

	in := domain.CloneAll(files)
	go func() {
		defer close(j.done)
		defer cancel()
		if prev != nil {
			prev.Cancel()
			<-prev.done
		}
		j.res = e.Import(ctx, in, s, chanObserver{ch: ch})
		close(ch)
	}()
	return j
}

// Cancel 取消当前的 Job（如果有）。
func (e *Executor) Cancel() {
	e.mu.Lock()
	j := e.job
	e.mu.Unlock()
	if j != nil {
		j.Cancel()
	}
}
