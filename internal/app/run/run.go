package run

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/app/importer"
	"github.com/John-Robertt/mediaimport/internal/app/processor"
	"github.com/John-Robertt/mediaimport/internal/app/session"
	"github.com/John-Robertt/mediaimport/internal/config"
	"github.com/John-Robertt/mediaimport/internal/domain"
	"github.com/John-Robertt/mediaimport/internal/infra/cache"
	"github.com/John-Robertt/mediaimport/internal/infra/fsx"
	"github.com/John-Robertt/mediaimport/internal/infra/imgx"
	"github.com/John-Robertt/mediaimport/internal/metadata"
	"github.com/John-Robertt/mediaimport/internal/scan"
	"github.com/John-Robertt/mediaimport/internal/thumbcache"
)

// ReportDir 是 apply 时在目的地根目录下写入 report.json 的子目录。
const ReportDir = ".mediaimport"

// Execute 执行一次 run（dry-run/apply），并返回对外稳定的 ImportReport。
// 单个文件的失败只体现在 report 中；error 只表示操作级失败（扫描失败、未配置目的地等）。
func Execute(ctx context.Context, eff config.EffectiveConfig) (domain.ImportReport, error) {
	return ExecuteWithObserver(ctx, eff, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
// 日志取自 ctx（zerolog.Ctx）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, obs Observer) (domain.ImportReport, error) {
	log := *zerolog.Ctx(ctx)
	if obs != nil {
		obs.OnStart(eff)
	}

	meta := newReader(eff, log)
	defer meta.Close()

	s := session.New(
		processor.New(meta, processor.WithLogger(log)),
		eff.Settings(),
		session.WithScanner(scan.Scanner{ExcludeDirs: eff.ExcludeDirs, Log: log}),
		session.WithLogger(log),
	)
	defer s.Close()

	scanStarted := time.Now()
	if err := s.Scan(ctx, eff.Source); err != nil {
		return s.Report(!eff.Apply), fmt.Errorf("扫描失败：%w", err)
	}
	files := s.Files()
	if obs != nil {
		obs.OnPhaseDone("scan", scanFields(files), time.Since(scanStarted))
	}

	if !eff.Apply {
		return s.Report(true), nil
	}

	var imp importer.Observer
	if obs != nil {
		obs.OnPhaseDone("import", map[string]any{
			"destination":      eff.Destination,
			"delete_originals": eff.DeleteOriginals,
		}, 0)
		imp = obs
	}
	res := s.Import(ctx, imp)
	rr := s.Report(false)
	if res.Err != nil {
		return rr, res.Err
	}
	return rr, nil
}

// Thumbnails 为 source 中的图片渲染缩略图并写入 out（文件名 <stem>_<id 前 8 位>.jpg）。
// 返回成功写入的数量；单个文件渲染失败只记录日志。
func Thumbnails(ctx context.Context, eff config.EffectiveConfig, out string) (int, error) {
	log := *zerolog.Ctx(ctx)

	files, err := scan.Scanner{ExcludeDirs: eff.ExcludeDirs, Log: log}.Scan(ctx, eff.Source, eff.Types)
	if err != nil {
		return 0, fmt.Errorf("扫描失败：%w", err)
	}

	meta := newReader(eff, log)
	defer meta.Close()

	thumbs := thumbcache.New(imgx.Renderer{}, eff.ThumbnailCacheSize, log)
	proc := processor.New(meta,
		processor.WithThumbnails(thumbs, eff.ThumbnailSize),
		processor.WithLogger(log),
	)
	files, err = proc.Enrich(ctx, processor.SortBySource(files))
	if err != nil {
		return 0, err
	}

	written := 0
	for _, f := range files {
		if f.Type != domain.TypeImage {
			continue
		}
		b, ok := thumbs.Get(ctx, f.SourcePath, eff.ThumbnailSize)
		if !ok {
			continue
		}
		name := fmt.Sprintf("%s_%s.jpg", f.Stem(), strings.SplitN(f.ID.String(), "-", 2)[0])
		if err := fsx.WriteFileAtomicReplace(out, name, b); err != nil {
			return written, fmt.Errorf("写入缩略图失败：%w", err)
		}
		written++
	}
	log.Info().Int("written", written).Int("cached", thumbs.Len()).Str("out", out).Msg("缩略图完成")
	return written, nil
}

// ReportPath 返回 apply 时 report.json 的位置。
func ReportPath(eff config.EffectiveConfig) string {
	return filepath.Join(eff.Destination, ReportDir, "report.json")
}

func newReader(eff config.EffectiveConfig, log zerolog.Logger) *metadata.Reader {
	opts := []metadata.Option{
		metadata.WithExiftool(eff.Exiftool),
		metadata.WithLogger(log),
	}
	// dry-run 只读缓存，不落盘。
	if eff.CacheDir != "" {
		opts = append(opts, metadata.WithCache(cache.New(eff.CacheDir, !eff.Apply)))
	}
	return metadata.NewReader(opts...)
}

func scanFields(files []domain.MediaFile) map[string]any {
	var waiting, pre, dup int
	var bytes int64
	for _, f := range files {
		switch f.Status {
		case domain.StatusWaiting:
			waiting++
			if f.Size != nil {
				bytes += *f.Size
			}
		case domain.StatusPreExisting:
			pre++
		case domain.StatusDuplicateInSource:
			dup++
		}
	}
	return map[string]any{
		"files":        len(files),
		"waiting":      waiting,
		"pre_existing": pre,
		"duplicates":   dup,
		"bytes":        bytes,
	}
}
