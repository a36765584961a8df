package fsx

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV / 删除失败等错误。
var (
	renameFunc = os.Rename
	removeFunc = os.Remove
)

// PathTypeConflictError 表示目标路径类型冲突（例如期望目录但实际是文件）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘重命名失败（EXDEV）：%q -> %q：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice 判断 err 是否为跨盘（EXDEV）错误。
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，并把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// Remove 删除单个文件。
func Remove(path string) error {
	return removeFunc(path)
}

// Exists 判断路径是否存在（stat 失败但不是 NotExist 时，保守地视为存在）。
func Exists(path string) bool {
	_, err := os.Lstat(path)
	if err == nil {
		return true
	}
	return !errors.Is(err, fs.ErrNotExist)
}

// EnsureDir 确保 dir 是目录（必要时递归创建）。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// CopyFile 把 src 复制到 dst（同目录临时文件 + rename），并保留源文件的修改时间。
//
// 语义：
// - dst 已存在则返回 os.ErrExist（绝不覆盖目的地已有文件）
// - 返回写入的字节数；失败时不会留下临时文件
func CopyFile(src, dst string) (int64, error) {
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return 0, &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		return 0, os.ErrExist
	} else if !os.IsNotExist(err) {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return 0, err
	}

	dir, name := filepath.Split(dst)
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		return n, err
	}
	if err := tmp.Chmod(srcInfo.Mode().Perm() | 0o200); err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, err
	}
	if err := tmp.Close(); err != nil {
		return n, err
	}

	// 时间戳在 rename 前写到临时文件上：最终文件一出现就带着源时间。
	mt := srcInfo.ModTime()
	if err := os.Chtimes(tmpName, accessTime(srcInfo, mt), mt); err != nil {
		return n, err
	}

	// rename 前再确认一次：期间可能有别的文件落到同一路径。
	if _, err := os.Lstat(dst); err == nil {
		return n, os.ErrExist
	}
	if err := Rename(tmpName, dst); err != nil {
		return n, err
	}
	_ = syncDirBestEffort(dir)
	return n, nil
}

// WriteFileAtomicReplace 在 dir 下原子写入 name（同目录临时文件 + rename），覆盖同名文件。
//
// report.json、元数据缓存、缩略图都经由这里落盘；读者永远不会看到写了一半的文件。
func WriteFileAtomicReplace(dir, name string, data []byte) error {
	return writeFileAtomic(dir, name, data, 0o644)
}

func writeFileAtomic(dir, name string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	// 创建同目录临时文件（前缀带 '.'，避免污染媒体库视图）。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := Rename(tmpName, dst); err != nil {
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	if dir == "" {
		dir = "."
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// accessTime 没有平台 atime 时退回到修改时间。
func accessTime(fi os.FileInfo, fallback time.Time) time.Time {
	if t, ok := atime(fi); ok {
		return t
	}
	return fallback
}
