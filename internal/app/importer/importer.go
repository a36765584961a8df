package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/dedup"
	"github.com/John-Robertt/mediaimport/internal/domain"
	"github.com/John-Robertt/mediaimport/internal/infra/fsx"
)

// ErrNoDestination 表示没有配置目的地根目录（操作级错误）。
var ErrNoDestination = errors.New("importer: 未配置目的地")

// FileSystem 是导入需要的全部文件系统操作（默认 fsx.OS）。
type FileSystem interface {
	EnsureDir(dir string) error
	CopyFile(src, dst string) (int64, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
}

// Outcome 是一次导入的结束方式。
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Progress 是聚合计数。
type Progress struct {
	Total       int   `json:"total"`
	Done        int   `json:"done"`
	Imported    int   `json:"imported"`
	Failed      int   `json:"failed"`
	Deleted     int   `json:"deleted"`
	PreExisting int   `json:"pre_existing"`
	BytesCopied int64 `json:"bytes_copied"`
	BytesTotal  int64 `json:"bytes_total"`
}

// Result 是一次导入的最终结果。取消不是错误：Outcome=cancelled 且 Err=nil。
type Result struct {
	Files    []domain.MediaFile
	Outcome  Outcome
	Err      error
	Progress Progress
}

// Executor 执行 复制 -> 校验 -> （可选）删除原文件。
type Executor struct {
	fs  FileSystem
	log zerolog.Logger

	mu  sync.Mutex
	job *Job
}

type Option func(*Executor)

func WithFileSystem(f FileSystem) Option {
	return func(e *Executor) { e.fs = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

func New(opts ...Option) *Executor {
	e := &Executor{fs: fsx.OS{}, log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Import 同步执行一次导入，返回新的集合（输入不被修改）。
//
// 规则：
// - waiting：copying -> 建目录 -> 复制（含 sidecar）-> verifying -> 可选删除 -> imported
// - pre_existing 且删除原文件：只删源 -> deleted_as_duplicate；失败只记录，状态不变
// - 主循环之后：canonical 已成功导入的 duplicate_in_source，在删除原文件时删源 -> deleted_as_duplicate；失败 -> failed
// - sidecar 最后删除：引用它的主文件都已删源，且目的地确认有相同内容的一份；否则保留并记为删除失败
// - 每个文件开始前检查取消；未处理到的文件保持原状态
func (e *Executor) Import(ctx context.Context, files []domain.MediaFile, s domain.Settings, obs Observer) Result {
	r := run{
		e:         e,
		s:         s,
		obs:       obs,
		files:     domain.CloneAll(files),
		removed:   make(map[int]bool),
		confirmed: make(map[string]bool),
	}
	res := r.execute(ctx)
	if obs != nil {
		obs.OnFinish(res)
	}
	return res
}

type run struct {
	e     *Executor
	s     domain.Settings
	obs   Observer
	files []domain.MediaFile
	prog  Progress

	// removed：本次已删除源主文件的下标；confirmed：目的地已确认有相同副本的 sidecar 源路径。
	removed   map[int]bool
	confirmed map[string]bool
}

func (r *run) execute(ctx context.Context) Result {
	if !r.s.HasDestination() {
		return r.result(OutcomeFailed, ErrNoDestination)
	}

	for i := range r.files {
		f := r.files[i]
		switch {
		case f.Status == domain.StatusWaiting:
			r.prog.Total++
			if f.Size != nil {
				r.prog.BytesTotal += *f.Size
			}
		case f.Status == domain.StatusPreExisting:
			if r.s.DeleteOriginals {
				r.prog.Total++
			} else {
				r.prog.PreExisting++
			}
		}
	}

	log := r.e.log.With().Str("destination", r.s.DestinationRoot).Logger()
	log.Info().Int("total", r.prog.Total).Bool("delete_originals", r.s.DeleteOriginals).Msg("开始导入")

	for i := range r.files {
		if err := ctx.Err(); err != nil {
			log.Info().Int("done", r.prog.Done).Msg("导入已取消")
			r.removeSidecars()
			return r.result(OutcomeCancelled, nil)
		}
		switch r.files[i].Status {
		case domain.StatusWaiting:
			r.importOne(ctx, i)
			r.prog.Done++
		case domain.StatusPreExisting:
			if r.s.DeleteOriginals {
				r.deletePreExisting(ctx, i)
				r.prog.Done++
			}
		}
	}

	if r.s.DeleteOriginals {
		cancelled := r.deleteSourceDuplicates(ctx)
		r.removeSidecars()
		if cancelled {
			return r.result(OutcomeCancelled, nil)
		}
	}

	log.Info().
		Int("imported", r.prog.Imported).
		Int("failed", r.prog.Failed).
		Int("deleted", r.prog.Deleted).
		Int64("bytes", r.prog.BytesCopied).
		Msg("导入完成")
	return r.result(OutcomeCompleted, nil)
}

func (r *run) result(o Outcome, err error) Result {
	return Result{Files: domain.CloneAll(r.files), Outcome: o, Err: err, Progress: r.prog}
}

func (r *run) transition(i int, to domain.FileStatus) {
	from := r.files[i].Status
	r.files[i].Status = to
	r.emit(i, from)
}

func (r *run) emit(i int, from domain.FileStatus) {
	if r.obs == nil {
		return
	}
	r.obs.OnTransition(Event{Index: i, From: from, File: r.files[i].Clone(), Progress: r.prog})
}

func (r *run) fail(i int, msg string, err error) {
	r.files[i].ImportError = fmt.Sprintf("%s：%v", msg, err)
	r.prog.Failed++
	r.e.log.Warn().Err(err).Str("src", r.files[i].SourcePath).Str("dst", r.files[i].DestinationPath).Msg(msg)
	r.transition(i, domain.StatusFailed)
}

func (r *run) importOne(ctx context.Context, i int) {
	f := &r.files[i]
	fsys := r.e.fs

	f.ImportError = ""
	r.transition(i, domain.StatusCopying)

	if f.DestinationPath == "" {
		r.fail(i, "缺少目的地路径", errors.New("文件尚未规划"))
		return
	}
	if err := fsys.EnsureDir(filepath.Dir(f.DestinationPath)); err != nil {
		r.fail(i, "创建目录失败", err)
		return
	}
	n, err := fsys.CopyFile(f.SourcePath, f.DestinationPath)
	if err != nil {
		r.fail(i, "复制失败", err)
		return
	}
	r.prog.BytesCopied += n

	created, err := r.copySidecars(ctx, *f)
	if err != nil {
		r.fail(i, "复制 sidecar 失败", errors.Join(err, r.rollback(*f, created)))
		return
	}

	r.transition(i, domain.StatusVerifying)
	if err := r.verify(*f); err != nil {
		r.fail(i, "校验失败", errors.Join(err, r.rollback(*f, created)))
		return
	}
	for _, sc := range f.Sidecars {
		r.confirmed[sc] = true
	}

	r.prog.Imported++
	if r.s.DeleteOriginals {
		if err := r.removeSource(i); err != nil {
			f.ImportError = "删除原文件失败：" + err.Error()
			r.e.log.Warn().Err(err).Str("src", f.SourcePath).Msg("删除原文件失败（已复制成功）")
			r.transition(i, domain.StatusImportedDelErr)
			return
		}
	}
	r.transition(i, domain.StatusImported)
}

// copySidecars 把 sidecar 复制到主文件旁边，返回本次新建的目的地路径。
// 目的地已存在时，只有内容完全相同才算已复制（同 stem 的另一个主文件先到）；否则是冲突。
func (r *run) copySidecars(ctx context.Context, f domain.MediaFile) ([]string, error) {
	var created []string
	for _, sc := range f.Sidecars {
		dst := sidecarDestination(f.DestinationPath, sc)
		_, err := r.e.fs.CopyFile(sc, dst)
		if err == nil {
			created = append(created, dst)
			continue
		}
		if !errors.Is(err, fs.ErrExist) {
			return created, err
		}
		same, cerr := dedup.SameContent(ctx, sc, dst)
		if cerr != nil {
			return created, fmt.Errorf("比较已存在的 sidecar 失败：%w", cerr)
		}
		if !same {
			return created, fmt.Errorf("sidecar 目的地已有不同内容的文件：%s", dst)
		}
		r.e.log.Debug().Str("sidecar", sc).Str("dst", dst).Msg("sidecar 已存在且内容相同，跳过")
	}
	return created, nil
}

// rollback 删除本次写出的主文件副本与 sidecar，失败的文件不会以 failed 状态留在目的地。
func (r *run) rollback(f domain.MediaFile, created []string) error {
	var errs []error
	for _, p := range append([]string{f.DestinationPath}, created...) {
		if err := r.e.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.e.log.Warn().Err(err).Str("path", p).Msg("清理未完成的副本失败")
			errs = append(errs, fmt.Errorf("清理副本失败：%w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *run) verify(f domain.MediaFile) error {
	dst, err := r.e.fs.Stat(f.DestinationPath)
	if err != nil {
		return err
	}
	var want int64
	if f.Size != nil {
		want = *f.Size
	} else {
		src, err := r.e.fs.Stat(f.SourcePath)
		if err != nil {
			return err
		}
		want = src.Size()
	}
	if dst.Size() != want {
		return fmt.Errorf("大小不一致：源 %d 字节，目的地 %d 字节", want, dst.Size())
	}
	return nil
}

func (r *run) deletePreExisting(ctx context.Context, i int) {
	f := &r.files[i]
	r.confirmSidecars(ctx, *f, f.DestinationPath)
	if err := r.removeSource(i); err != nil {
		f.ImportError = "删除原文件失败：" + err.Error()
		r.e.log.Warn().Err(err).Str("src", f.SourcePath).Msg("删除已存在文件的原文件失败")
		r.emit(i, f.Status)
		return
	}
	r.prog.Deleted++
	r.transition(i, domain.StatusDeletedAsDup)
}

func (r *run) deleteSourceDuplicates(ctx context.Context) (cancelled bool) {
	imported := make(map[uuid.UUID]int, len(r.files))
	for i := range r.files {
		switch r.files[i].Status {
		case domain.StatusImported, domain.StatusImportedDelErr:
			imported[r.files[i].ID] = i
		}
	}

	for i := range r.files {
		f := &r.files[i]
		if f.Status != domain.StatusDuplicateInSource || f.DuplicateOf == nil {
			continue
		}
		canon, ok := imported[*f.DuplicateOf]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			return true
		}
		r.confirmSidecars(ctx, *f, r.files[canon].DestinationPath)
		if err := r.removeSource(i); err != nil {
			r.fail(i, "删除重复原文件失败", err)
			continue
		}
		r.prog.Deleted++
		r.transition(i, domain.StatusDeletedAsDup)
	}
	return false
}

// confirmSidecars 检查 primaryDst 旁边是否已有与源 sidecar 内容相同的文件。
// 没有被复制过的 sidecar 只能靠这一步获得删除资格。
func (r *run) confirmSidecars(ctx context.Context, f domain.MediaFile, primaryDst string) {
	if primaryDst == "" {
		return
	}
	for _, sc := range f.Sidecars {
		if r.confirmed[sc] {
			continue
		}
		same, err := dedup.SameContent(ctx, sc, sidecarDestination(primaryDst, sc))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.e.log.Warn().Err(err).Str("sidecar", sc).Msg("比较 sidecar 失败")
		}
		if same {
			r.confirmed[sc] = true
		}
	}
}

// removeSource 只删除源主文件；已经不存在视为删除成功。sidecar 由 removeSidecars 统一处理。
func (r *run) removeSource(i int) error {
	if err := r.e.fs.Remove(r.files[i].SourcePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	r.removed[i] = true
	return nil
}

// removeSidecars 在主文件都处理完之后删除 sidecar。
//
// 规则：
// - 还有引用它的主文件留在源目录时保留（共享的 sidecar 随最后一个主文件删除）
// - 删除前必须已确认目的地有相同内容的一份；否则保留源文件，并给引用它的文件记删除失败
func (r *run) removeSidecars() {
	refs := make(map[string][]int)
	var order []string
	for i := range r.files {
		for _, sc := range r.files[i].Sidecars {
			if _, ok := refs[sc]; !ok {
				order = append(order, sc)
			}
			refs[sc] = append(refs[sc], i)
		}
	}

	for _, sc := range order {
		idx := refs[sc]
		if !r.allRemoved(idx) {
			continue
		}
		var err error
		if !r.confirmed[sc] {
			err = errors.New("目的地没有相同内容的副本，已保留")
		} else if rerr := r.e.fs.Remove(sc); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			err = rerr
		}
		if err == nil {
			continue
		}
		r.e.log.Warn().Err(err).Str("sidecar", sc).Msg("未删除 sidecar")
		for _, i := range idx {
			r.sidecarNotRemoved(i, sc, err)
		}
	}
}

func (r *run) allRemoved(idx []int) bool {
	for _, i := range idx {
		if !r.removed[i] {
			return false
		}
	}
	return true
}

func (r *run) sidecarNotRemoved(i int, sc string, err error) {
	f := &r.files[i]
	msg := fmt.Sprintf("删除 sidecar %s 失败：%v", filepath.Base(sc), err)
	if f.ImportError != "" {
		f.ImportError += "；" + msg
	} else {
		f.ImportError = msg
	}
	if f.Status == domain.StatusImported {
		r.transition(i, domain.StatusImportedDelErr)
		return
	}
	r.emit(i, f.Status)
}

// sidecarDestination 让 sidecar 跟随主文件的新文件名（扩展名小写）。
func sidecarDestination(primaryDst, sidecar string) string {
	base := strings.TrimSuffix(primaryDst, filepath.Ext(primaryDst))
	return base + strings.ToLower(filepath.Ext(sidecar))
}
