package session

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/app/importer"
	"github.com/John-Robertt/mediaimport/internal/app/processor"
	"github.com/John-Robertt/mediaimport/internal/app/recalc"
	"github.com/John-Robertt/mediaimport/internal/domain"
	"github.com/John-Robertt/mediaimport/internal/scan"
)

// Session 持有文件集合（唯一写者），串起 扫描 -> 处理 -> 重新规划 -> 导入。
//
// 约束：
// - 每类操作（scan / recalc / import）同一时刻最多一个；新的会先取消旧的
// - 集合只在 Session 内被整体替换或按 ID 覆盖，对外只给快照
// - 导入期间修改设置的行为未定义，应由调用方避免
type Session struct {
	proc       *processor.Processor
	recalc     *recalc.Manager
	exec       *importer.Executor
	scanner    scan.Scanner
	hasScanner bool
	log        zerolog.Logger

	mu       sync.RWMutex
	source   string
	files    []domain.MediaFile
	settings domain.Settings
	started  time.Time
	lastRun  *importer.Result

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanSeq    uint64
}

type Option func(*Session)

func WithExecutor(e *importer.Executor) Option {
	return func(s *Session) { s.exec = e }
}

func WithScanner(sc scan.Scanner) Option {
	return func(s *Session) {
		s.scanner = sc
		s.hasScanner = true
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.log = l }
}

func New(proc *processor.Processor, settings domain.Settings, opts ...Option) *Session {
	s := &Session{
		proc:     proc,
		settings: settings,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.exec == nil {
		s.exec = importer.New(importer.WithLogger(s.log))
	}
	if !s.hasScanner {
		s.scanner = scan.Scanner{Log: s.log}
	}
	s.recalc = recalc.New(proc, s.log, s.onRecalc)
	return s
}

// Scan 扫描 source 并完成一次完整处理；取消之前未完成的扫描与重新规划。
func (s *Session) Scan(ctx context.Context, source string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.scanMu.Lock()
	if s.scanCancel != nil {
		s.scanCancel()
	}
	s.scanCancel = cancel
	s.scanSeq++
	seq := s.scanSeq
	s.scanMu.Unlock()

	s.recalc.Cancel()

	settings := s.Settings()
	started := time.Now()
	files, err := s.scanner.Scan(ctx, source, settings.Types)
	if err != nil {
		return err
	}
	processed, err := s.proc.ProcessBatch(ctx, files, settings)
	if err != nil {
		return err
	}

	s.scanMu.Lock()
	stale := seq != s.scanSeq
	if !stale {
		s.scanCancel = nil
	}
	s.scanMu.Unlock()
	if stale {
		return context.Canceled
	}

	s.mu.Lock()
	s.source = filepath.Clean(source)
	s.files = processed
	s.started = started
	s.lastRun = nil
	s.mu.Unlock()

	s.log.Info().Str("source", source).Int("files", len(processed)).Dur("elapsed", time.Since(started)).Msg("扫描完成")
	return nil
}

// SetDestination 修改目的地并触发重新规划；返回的 channel 在本次重新规划结束时关闭。
func (s *Session) SetDestination(root string) <-chan struct{} {
	if root != "" {
		root = filepath.Clean(root)
	}
	return s.UpdateSettings(func(st *domain.Settings) { st.DestinationRoot = root })
}

// UpdateSettings 修改设置并触发重新规划（只重新计算目的地与状态）。
func (s *Session) UpdateSettings(fn func(*domain.Settings)) <-chan struct{} {
	s.mu.Lock()
	fn(&s.settings)
	settings := s.settings
	files := domain.CloneAll(s.files)
	s.mu.Unlock()

	return s.recalc.Recalculate(files, settings)
}

func (s *Session) onRecalc(st recalc.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = st.Files
}

// RecalcState 返回重新规划的当前状态（Busy / Err）。
func (s *Session) RecalcState() recalc.State {
	return s.recalc.State()
}

// Import 导入当前集合；取消之前未完成的导入。
func (s *Session) Import(ctx context.Context, obs importer.Observer) importer.Result {
	s.recalc.Wait()

	s.mu.RLock()
	files := domain.CloneAll(s.files)
	settings := s.settings
	s.mu.RUnlock()

	job := s.exec.Start(ctx, files, settings)
	for ev := range job.Events {
		s.apply(ev)
		if obs != nil {
			obs.OnTransition(ev)
		}
	}
	res := job.Wait()

	s.mu.Lock()
	if sameIDs(s.files, res.Files) {
		s.files = domain.CloneAll(res.Files)
	}
	r := res
	s.lastRun = &r
	s.mu.Unlock()

	if obs != nil {
		obs.OnFinish(res)
	}
	return res
}

func (s *Session) apply(ev importer.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Index < 0 || ev.Index >= len(s.files) || s.files[ev.Index].ID != ev.File.ID {
		return
	}
	s.files[ev.Index] = ev.File.Clone()
}

// Files 返回集合快照。
func (s *Session) Files() []domain.MediaFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneAll(s.files)
}

func (s *Session) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Report 汇总当前集合（删除失败在 Summary 中聚合，不逐条上抛）。
func (s *Session) Report(dryRun bool) domain.ImportReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sizes := make(map[string]int64, len(s.files))
	for _, f := range s.files {
		if f.Size != nil {
			sizes[f.SourcePath] = *f.Size
		}
	}
	rr := domain.ImportReport{
		Source:      s.source,
		Destination: s.settings.DestinationRoot,
		DryRun:      dryRun,
		Cancelled:   s.lastRun != nil && s.lastRun.Outcome == importer.OutcomeCancelled,
		StartedAt:   s.started,
		FinishedAt:  time.Now(),
		Files:       domain.NewFileResults(s.files),
	}
	rr.Finalize(sizes)
	return rr
}

// Close 取消所有进行中的操作并等待后台任务退出。
func (s *Session) Close() {
	s.scanMu.Lock()
	if s.scanCancel != nil {
		s.scanCancel()
	}
	s.scanMu.Unlock()
	s.recalc.Cancel()
	s.exec.Cancel()
	s.recalc.Wait()
}

func sameIDs(a, b []domain.MediaFile) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
