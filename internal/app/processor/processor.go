package processor

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/app/planner"
	"github.com/John-Robertt/mediaimport/internal/dedup"
	"github.com/John-Robertt/mediaimport/internal/domain"
	"github.com/John-Robertt/mediaimport/internal/infra/fsx"
)

// MetadataProvider 为单个文件给出拍摄时间与大小（都是可选的）。
type MetadataProvider interface {
	CaptureDate(ctx context.Context, path string, t domain.MediaType) (time.Time, bool)
	FileSize(path string) (int64, bool)
}

// Thumbnailer 是缩略图缓存的最小接口（*thumbcache.Cache 满足它）。
type Thumbnailer interface {
	Get(ctx context.Context, path string, size int) ([]byte, bool)
}

// Processor 负责：补全元数据 -> 源内去重 -> 解析目的地。
//
// 不变量：
// - 元数据对每个文件只读取一次（Enriched=true 之后不再调用 MetadataProvider）
// - 输出顺序固定为 SourcePath 升序
type Processor struct {
	meta      MetadataProvider
	thumbs    Thumbnailer
	thumbSize int
	checker   dedup.Checker
	exists    func(string) bool
	log       zerolog.Logger
}

type Option func(*Processor)

// WithThumbnails 让补全阶段顺带预热缩略图缓存。
func WithThumbnails(c Thumbnailer, size int) Option {
	return func(p *Processor) {
		p.thumbs = c
		p.thumbSize = size
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

func WithChecker(c dedup.Checker) Option {
	return func(p *Processor) { p.checker = c }
}

func New(meta MetadataProvider, opts ...Option) *Processor {
	p := &Processor{
		meta:   meta,
		exists: fsx.Exists,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProcessFile 补全单个文件；已补全的文件原样返回。
func (p *Processor) ProcessFile(ctx context.Context, f domain.MediaFile) domain.MediaFile {
	f = f.Clone()
	if f.Enriched || p.meta == nil {
		return f
	}

	if n, ok := p.meta.FileSize(f.SourcePath); ok {
		f.Size = &n
	}
	if d, ok := p.meta.CaptureDate(ctx, f.SourcePath, f.Type); ok {
		d = d.UTC()
		f.CaptureDate = &d
	}
	if p.thumbs != nil && p.thumbSize > 0 {
		_, _ = p.thumbs.Get(ctx, f.SourcePath, p.thumbSize)
	}
	f.Enriched = true

	if f.Size == nil || f.CaptureDate == nil {
		p.log.Debug().Str("path", f.SourcePath).Bool("size", f.Size != nil).Bool("date", f.CaptureDate != nil).Msg("元数据不完整")
	}
	return f
}

// Enrich 按顺序补全所有未补全的文件；取消时返回 ctx 错误（已完成的部分丢弃）。
func (p *Processor) Enrich(ctx context.Context, files []domain.MediaFile) ([]domain.MediaFile, error) {
	out := make([]domain.MediaFile, len(files))
	for i := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.ProcessFile(ctx, files[i])
	}
	return out, nil
}

// ProcessBatch 是完整的一次处理：排序 -> 补全 -> 源内去重 -> 对照磁盘解析目的地。
func (p *Processor) ProcessBatch(ctx context.Context, files []domain.MediaFile, s domain.Settings) ([]domain.MediaFile, error) {
	sorted := SortBySource(files)

	enriched, err := p.Enrich(ctx, sorted)
	if err != nil {
		return nil, err
	}
	deduped := dedup.SourceDuplicates(enriched)
	return p.ResolveOnDisk(ctx, deduped, s)
}

// Candidates 只做批内冲突的路径分配（不做 I/O），用于重新规划时的即时反馈。
func (p *Processor) Candidates(files []domain.MediaFile, s domain.Settings) []domain.MediaFile {
	// NoDisk 不会失败，也不看 ctx。
	out, _ := planner.Resolve(context.Background(), files, s, planner.NoDisk{})
	return out
}

// ResolveOnDisk 对照目的地磁盘解析最终路径与 pre_existing 状态。
func (p *Processor) ResolveOnDisk(ctx context.Context, files []domain.MediaFile, s domain.Settings) ([]domain.MediaFile, error) {
	return planner.Resolve(ctx, files, s, diskProbe{p: p})
}

// ResetDestinations 在目的地被清空时使用（返回新集合，不做 I/O）。
func (p *Processor) ResetDestinations(files []domain.MediaFile) []domain.MediaFile {
	out := domain.CloneAll(files)
	planner.ResetDestinations(out)
	return out
}

// SortBySource 返回按 SourcePath 升序排列的副本。
func SortBySource(files []domain.MediaFile) []domain.MediaFile {
	out := domain.CloneAll(files)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SourcePath < out[j].SourcePath })
	return out
}

type diskProbe struct {
	p *Processor
}

func (d diskProbe) Exists(path string) bool { return d.p.exists(path) }

// SameFile 判定出错时按不同文件处理（继续尝试下一个后缀）。
func (d diskProbe) SameFile(ctx context.Context, f domain.MediaFile, candidate string) bool {
	same, err := d.p.checker.SameFile(ctx, f, candidate)
	if err != nil {
		d.p.log.Warn().Err(err).Str("src", f.SourcePath).Str("dst", candidate).Msg("同文件判定失败，按不同文件处理")
		return false
	}
	return same
}
