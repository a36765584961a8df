package recalc

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/domain"
)

// Resolver 是重新规划所需的三步（*processor.Processor 满足它）。
type Resolver interface {
	Candidates(files []domain.MediaFile, s domain.Settings) []domain.MediaFile
	ResolveOnDisk(ctx context.Context, files []domain.MediaFile, s domain.Settings) ([]domain.MediaFile, error)
	ResetDestinations(files []domain.MediaFile) []domain.MediaFile
}

// State 是对外发布的快照。
type State struct {
	Files      []domain.MediaFile
	Busy       bool
	Err        error
	Generation uint64
}

// Manager 在设置变化（通常是目的地）时重新计算目的地与状态。
//
// 规则：
// - 同一时刻只有一次重新规划在进行；新的请求会取消旧的
// - 第一阶段（批内候选路径，无 I/O）同步完成并立即发布
// - 第二阶段（磁盘检查）在后台完成；若期间被新请求取代则丢弃结果
// - 只改写目的地与状态：拍摄时间、大小、缩略图都不会重新计算
//
// onChange 按发布顺序串行调用；它可以调用 State()，但不能调用 Recalculate/Cancel。
type Manager struct {
	r        Resolver
	log      zerolog.Logger
	onChange func(State)

	notifyMu sync.Mutex
	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(r Resolver, logger zerolog.Logger, onChange func(State)) *Manager {
	return &Manager{r: r, log: logger, onChange: onChange}
}

// Recalculate 启动一次重新规划。返回的 channel 在本次请求完成、被取消或无事可做时关闭（恰好一次）。
func (m *Manager) Recalculate(files []domain.MediaFile, s domain.Settings) <-chan struct{} {
	done := make(chan struct{})

	m.notifyMu.Lock()
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state.Generation++
	gen := m.state.Generation

	if !s.HasDestination() {
		m.state.Files = m.r.ResetDestinations(files)
		m.state.Busy = false
		m.state.Err = nil
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(snap)
		m.notifyMu.Unlock()
		close(done)
		return done
	}

	candidates := m.r.Candidates(files, s)
	m.state.Files = candidates
	m.state.Busy = true
	m.state.Err = nil

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
	m.notifyMu.Unlock()

	in := domain.CloneAll(files)
	go func() {
		defer m.wg.Done()
		defer close(done)
		defer cancel()

		out, err := m.r.ResolveOnDisk(ctx, in, s)

		m.notifyMu.Lock()
		defer m.notifyMu.Unlock()
		m.mu.Lock()
		if m.state.Generation != gen || ctx.Err() != nil {
			// 已被取代或取消：结果作废。
			m.mu.Unlock()
			m.log.Debug().Uint64("generation", gen).Msg("重新规划已取消")
			return
		}
		m.cancel = nil
		m.state.Busy = false
		if err != nil {
			m.state.Err = err
			m.log.Warn().Err(err).Uint64("generation", gen).Msg("重新规划失败")
		} else {
			m.state.Files = out
		}
		snap := m.snapshotLocked()
		m.mu.Unlock()
		m.notify(snap)
	}()
	return done
}

// Cancel 取消进行中的重新规划（第一阶段的结果保留）。
func (m *Manager) Cancel() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.cancel = nil
	m.state.Busy = false
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Wait 等待所有后台阶段退出。
func (m *Manager) Wait() {
	m.wg.Wait()
}

// State 返回当前快照（深拷贝）。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() State {
	s := m.state
	s.Files = domain.CloneAll(m.state.Files)
	return s
}

func (m *Manager) notify(s State) {
	if m.onChange != nil {
		m.onChange(s)
	}
}
