package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/mediaimport/internal/infra/fsx"
)

// Store 提供 <root>/cache/metadata/ 下的元数据缓存读写（每个文件指纹一个 JSON）。
//
// 约束：
// - dry-run：只允许读（ReadOnly=true）
// - apply：允许写（ReadOnly=false）
// - 指纹（路径 + 大小 + 修改时间）任一变化都视为未命中
type Store struct {
	Root     string // 缓存根目录
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// Fingerprint 标识“某个时刻的某个源文件”。
type Fingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// FingerprintOf 由 stat 结果构造指纹。
func FingerprintOf(path string, fi os.FileInfo) Fingerprint {
	return Fingerprint{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}
}

func (fp Fingerprint) key() string {
	return filepath.ToSlash(fp.Path) + "\x00" + strconv.FormatInt(fp.Size, 10) + "\x00" + strconv.FormatInt(fp.ModTime.UnixNano(), 10)
}

// Entry 是一条缓存的元数据。CaptureDate 为 nil 表示“读过，但没有任何可用时间”。
type Entry struct {
	Path        string     `json:"path"`
	Size        int64      `json:"size"`
	ModTime     time.Time  `json:"mtime"`
	CaptureDate *time.Time `json:"capture_date,omitempty"`
	Source      string     `json:"source,omitempty"`
}

func (e Entry) matches(fp Fingerprint) bool {
	return e.Path == fp.Path && e.Size == fp.Size && e.ModTime.Equal(fp.ModTime)
}

// EntryPath 返回指纹对应缓存文件的绝对路径。
func (s Store) EntryPath(fp Fingerprint) (string, error) {
	if strings.TrimSpace(fp.Path) == "" {
		return "", fmt.Errorf("path 不能为空")
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fp.key())).String()
	// 两级目录，避免单目录下文件过多。
	return filepath.Join(s.Root, "cache", "metadata", id[:2], id+".json"), nil
}

// Read 读取缓存。未命中（含文件不存在、指纹不一致）返回 ok=false 且 err=nil。
func (s Store) Read(fp Fingerprint) (Entry, bool, error) {
	path, err := s.EntryPath(fp)
	if err != nil {
		return Entry{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("缓存文件损坏：%s：%w", path, err)
	}
	if !e.matches(fp) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Write 写入缓存（原子替换）。Entry 的指纹字段以 fp 为准。
func (s Store) Write(fp Fingerprint, e Entry) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.EntryPath(fp)
	if err != nil {
		return err
	}
	e.Path, e.Size, e.ModTime = fp.Path, fp.Size, fp.ModTime
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b)
}
