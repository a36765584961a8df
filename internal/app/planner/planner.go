package planner

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/John-Robertt/mediaimport/internal/classify"
	"github.com/John-Robertt/mediaimport/internal/domain"
)

// MaxSuffix 是冲突后缀的上限（实际上不可能用完，只用来保证循环必然终止）。
const MaxSuffix = 999999

var ErrSuffixExhausted = errors.New("planner: 冲突后缀已用尽")

// RelativePath 计算文件相对目的地根目录的路径（纯函数，不做 I/O）。
//
// 规则：
// - organizeByDate 且有拍摄时间：前缀 YYYY/MM/（UTC，避免按时区分桶）
// - renameByDate 且有拍摄时间：文件名为 YYYYMMDD_HHMMSS（UTC），否则沿用原 stem
// - 扩展名永远使用规范化拼写
func RelativePath(f domain.MediaFile, organizeByDate, renameByDate bool) string {
	stem := f.Stem()
	dir := ""
	if f.CaptureDate != nil {
		d := f.CaptureDate.UTC()
		if organizeByDate {
			dir = filepath.Join(d.Format("2006"), d.Format("01"))
		}
		if renameByDate {
			stem = d.Format("20060102_150405")
		}
	}

	name := stem
	if ext := classify.NormalizeExtension(f.Ext()); ext != "" {
		name += "." + ext
	}
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// FinalDestination 拼出绝对目的地路径；suffix > 0 时在扩展名前插入 _<suffix>。
// 总是成功：不可表示的字符由调用方负责。
func FinalDestination(f domain.MediaFile, s domain.Settings, suffix int) string {
	rel := RelativePath(f, s.OrganizeByDate, s.RenameByDate)
	if suffix > 0 {
		ext := filepath.Ext(rel)
		rel = strings.TrimSuffix(rel, ext) + "_" + strconv.Itoa(suffix) + ext
	}
	return filepath.Join(s.DestinationRoot, rel)
}

// Probe 抽象出冲突循环里唯一需要 I/O 的两步：存在性检查与同文件判定。
type Probe interface {
	Exists(path string) bool
	SameFile(ctx context.Context, f domain.MediaFile, candidate string) bool
}

// NoDisk 是不碰磁盘的 Probe：只做批内冲突（用于重新规划的第一阶段）。
type NoDisk struct{}

func (NoDisk) Exists(string) bool { return false }

func (NoDisk) SameFile(context.Context, domain.MediaFile, string) bool { return false }

// Resolve 为集合里每个可重置的文件分配目的地路径，返回新的集合（输入不被修改）。
//
// 对每个文件按输入顺序，从 suffix=0 开始：
// 1) 候选路径已被本批次更早的文件占用：suffix++
// 2) 磁盘上存在该路径：同一文件 => pre_existing；否则 suffix++
// 3) 否则路径空闲：waiting
//
// 输入顺序固定时结果确定：同样的源集合、同样的目的地，得到完全相同的路径分配。
// 导入终态与 duplicate_in_source 的文件原样保留。
func Resolve(ctx context.Context, files []domain.MediaFile, s domain.Settings, probe Probe) ([]domain.MediaFile, error) {
	out := domain.CloneAll(files)
	if !s.HasDestination() {
		ResetDestinations(out)
		return out, nil
	}
	if probe == nil {
		probe = NoDisk{}
	}

	claimed := make(map[string]struct{}, len(out))
	for i := range out {
		f := &out[i]
		if f.Status == domain.StatusDuplicateInSource {
			f.DestinationPath = ""
			continue
		}
		if !f.Status.Resettable() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, status, err := resolveOne(ctx, *f, s, claimed, probe)
		if err != nil {
			return nil, err
		}
		claimed[path] = struct{}{}
		f.DestinationPath = path
		f.Status = status
		f.ImportError = ""
	}
	return out, nil
}

func resolveOne(ctx context.Context, f domain.MediaFile, s domain.Settings, claimed map[string]struct{}, probe Probe) (string, domain.FileStatus, error) {
	for suffix := 0; suffix <= MaxSuffix; suffix++ {
		cand := FinalDestination(f, s, suffix)
		if _, ok := claimed[cand]; ok {
			continue
		}
		if probe.Exists(cand) {
			if probe.SameFile(ctx, f, cand) {
				return cand, domain.StatusPreExisting, nil
			}
			continue
		}
		return cand, domain.StatusWaiting, nil
	}
	return "", "", ErrSuffixExhausted
}

// ResetDestinations 在目的地被清空时使用：可重置的文件回到 waiting 且没有目的地（不做 I/O）。
func ResetDestinations(files []domain.MediaFile) {
	for i := range files {
		f := &files[i]
		if f.Status == domain.StatusDuplicateInSource {
			f.DestinationPath = ""
			continue
		}
		if !f.Status.Resettable() {
			continue
		}
		f.Status = domain.StatusWaiting
		f.DestinationPath = ""
		f.ImportError = ""
	}
}
