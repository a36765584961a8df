package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/mediaimport/internal/classify"
	"github.com/John-Robertt/mediaimport/internal/domain"
)

// Scanner 遍历源目录并产出 MediaFile 列表。
type Scanner struct {
	// ExcludeDirs 来自配置文件：相对 root 的路径（若是绝对路径，则按绝对路径处理）。
	ExcludeDirs []string
	Log         zerolog.Logger
}

// Scan 使用零值 Scanner 扫描 root。
func Scan(ctx context.Context, root string, filters domain.TypeFilters) ([]domain.MediaFile, error) {
	return Scanner{Log: zerolog.Nop()}.Scan(ctx, root, filters)
}

// Scan 扫描 root 下的媒体文件。
//
// 规则（硬约束）：
// - 已知的非内容目录（大小写不敏感）直接 SkipDir，不下降
// - 被 filters 关闭的类别与 unknown 直接排除（不是状态，而是不出现在结果里）
// - 伴随文件（thm/srt/lrc...）只挂到同目录同名的主文件上，自身永远不成为条目
// - 输出按 SourcePath 稳定排序
//
// 注意：扫描阶段只做 stat（DirEntry.Info），不读文件内容。
func (s Scanner) Scan(ctx context.Context, root string, filters domain.TypeFilters) ([]domain.MediaFile, error) {
	root = filepath.Clean(root)
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("读取源目录失败：%w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("源路径不是目录：%q", root)
	}

	excluded := buildExcluded(root, s.ExcludeDirs)

	files := make([]domain.MediaFile, 0, 128)
	// 同目录 + 小写 stem -> 伴随文件路径。先全部收集，遍历结束后再配对。
	sidecars := make(map[string][]string, 16)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			// 单个子项不可读：跳过并继续（可移动介质上很常见）。
			s.Log.Warn().Err(walkErr).Str("path", path).Msg("跳过不可读路径")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && (classify.IsSkippedDir(d.Name()) || isExcluded(path, excluded)) {
				return filepath.SkipDir
			}
			return nil
		}
		if isExcluded(path, excluded) {
			return nil
		}

		name := d.Name()
		ext := filepath.Ext(name)
		if classify.IsSidecarExt(ext) {
			k := sidecarKey(filepath.Dir(path), strings.TrimSuffix(name, ext))
			sidecars[k] = append(sidecars[k], path)
			return nil
		}

		t := classify.Classify(ext)
		if !filters.Allows(t) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.Log.Warn().Err(err).Str("path", path).Msg("读取文件信息失败，跳过")
			return nil
		}

		files = append(files, domain.NewMediaFile(path, t, info.ModTime()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range files {
		k := sidecarKey(filepath.Dir(files[i].SourcePath), files[i].Stem())
		if list, ok := sidecars[k]; ok {
			sort.Strings(list)
			files[i].Sidecars = append([]string(nil), list...)
		}
	}

	// 强制稳定输出，避免不同平台/文件系统行为差异带来的不确定性。
	sort.Slice(files, func(i, j int) bool { return files[i].SourcePath < files[j].SourcePath })

	s.Log.Debug().Str("root", root).Int("files", len(files)).Msg("扫描完成")
	return files, nil
}

func sidecarKey(dir, stem string) string {
	return dir + string(filepath.Separator) + strings.ToLower(stem)
}

func buildExcluded(root string, excludeDirs []string) []string {
	excluded := make([]string, 0, len(excludeDirs))
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if filepath.IsAbs(x) {
			excluded = append(excluded, filepath.Clean(x))
			continue
		}
		// x 是相对路径：相对 root。
		excluded = append(excluded, filepath.Clean(filepath.Join(root, x)))
	}

	// 排除列表排序后，isExcluded 的行为更可预测（且便于测试）。
	sort.Strings(excluded)
	return excluded
}

func isExcluded(path string, excluded []string) bool {
	path = filepath.Clean(path)
	for _, base := range excluded {
		if isUnder(path, base) {
			return true
		}
	}
	return false
}

func isUnder(path, base string) bool {
	if path == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(path, base+sep)
}
