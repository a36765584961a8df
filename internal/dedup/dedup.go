package dedup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/John-Robertt/mediaimport/internal/domain"
)

// DefaultTolerance 吸收部分文件系统（FAT/exFAT 2 秒粒度、拷贝工具取整等）的时间戳误差。
const DefaultTolerance = 60 * time.Second

// SourceDuplicates 在源集合内部做去重，返回新的集合。
//
// 规则：按输入顺序，拍摄时间与字节数都存在且都与更早的某个文件完全相等时，
// 标记为 duplicate_in_source，并通过 DuplicateOf 指向第一个出现的文件（canonical）。
//
// 注意：这里只比较 (时间, 大小)，没有摘要兜底；与目的地一侧的判定刻意不对称。
func SourceDuplicates(files []domain.MediaFile) []domain.MediaFile {
	type key struct {
		unixNano int64
		size     int64
	}

	out := domain.CloneAll(files)
	first := make(map[key]int, len(out))
	for i := range out {
		f := &out[i]
		if f.CaptureDate == nil || f.Size == nil {
			continue
		}
		k := key{unixNano: f.CaptureDate.UnixNano(), size: *f.Size}
		idx, seen := first[k]
		if !seen {
			first[k] = i
			continue
		}
		// 已有结论（导入终态或已标记）的文件不改写。
		if !f.Status.Resettable() {
			continue
		}
		id := out[idx].ID
		f.Status = domain.StatusDuplicateInSource
		f.DuplicateOf = &id
		f.DestinationPath = ""
	}
	return out
}

// DigestFunc 计算整个文件内容的摘要。
type DigestFunc func(ctx context.Context, path string) ([]byte, error)

// Checker 判断“源文件”与“目的地已存在的某个路径”是否为同一文件。
type Checker struct {
	// Tolerance 为 0 时使用 DefaultTolerance。
	Tolerance time.Duration
	// Digest 为 nil 时使用 SHA256File。
	Digest DigestFunc
}

// SameFile 按固定优先级判定（第一个有结论的规则生效）：
// 1) 大小不同 => 不同
// 2) 大小相同且文件名完全一致 => 相同
// 3) 大小相同且修改时间相差不超过容差 => 相同
// 4) 否则比较整文件摘要
//
// 便宜的判定在前：只有文件名不同且时间差超出容差时才会读文件内容。
func (c Checker) SameFile(ctx context.Context, src domain.MediaFile, candidate string) (bool, error) {
	cinfo, err := os.Stat(candidate)
	if err != nil {
		return false, err
	}

	var srcSize int64
	if src.Size != nil {
		srcSize = *src.Size
	} else {
		sinfo, err := os.Stat(src.SourcePath)
		if err != nil {
			return false, err
		}
		srcSize = sinfo.Size()
	}

	if cinfo.Size() != srcSize {
		return false, nil
	}
	if filepath.Base(candidate) == filepath.Base(src.SourcePath) {
		return true, nil
	}

	tol := c.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if !src.ModTime.IsZero() && absDuration(cinfo.ModTime().Sub(src.ModTime)) <= tol {
		return true, nil
	}

	digest := c.Digest
	if digest == nil {
		digest = SHA256File
	}
	a, err := digest(ctx, src.SourcePath)
	if err != nil {
		return false, fmt.Errorf("计算源文件摘要失败：%w", err)
	}
	b, err := digest(ctx, candidate)
	if err != nil {
		return false, fmt.Errorf("计算目的地文件摘要失败：%w", err)
	}
	return bytes.Equal(a, b), nil
}

// SameContent 严格比较两个文件的内容：大小不同直接判不同，否则比较 SHA-256。
//
// 与 SameFile 不同，这里不看文件名与修改时间；用于“删除源文件前确认目的地已有一份相同内容”。
func SameContent(ctx context.Context, a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if !ai.Mode().IsRegular() || !bi.Mode().IsRegular() || ai.Size() != bi.Size() {
		return false, nil
	}
	da, err := SHA256File(ctx, a)
	if err != nil {
		return false, err
	}
	db, err := SHA256File(ctx, b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

// SHA256File 计算整个文件的 SHA-256。
func SHA256File(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
