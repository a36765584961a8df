package domain

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// MediaType 是文件的媒体类别（由扩展名决定）。
type MediaType string

const (
	TypeImage   MediaType = "image"
	TypeVideo   MediaType = "video"
	TypeAudio   MediaType = "audio"
	TypeRaw     MediaType = "raw"
	TypeUnknown MediaType = "unknown"
)

// FileStatus 是 MediaFile 在流水线中的状态。
type FileStatus string

const (
	StatusWaiting           FileStatus = "waiting"
	StatusCopying           FileStatus = "copying"
	StatusVerifying         FileStatus = "verifying"
	StatusImported          FileStatus = "imported"
	StatusFailed            FileStatus = "failed"
	StatusPreExisting       FileStatus = "pre_existing"
	StatusDuplicateInSource FileStatus = "duplicate_in_source"
	StatusDeletedAsDup      FileStatus = "deleted_as_duplicate"
	StatusImportedDelErr    FileStatus = "imported_with_deletion_error"
)

// IsTerminalImport 表示导入阶段已经给出最终结论（重新规划不得改动）。
func (s FileStatus) IsTerminalImport() bool {
	switch s {
	case StatusImported, StatusFailed, StatusDeletedAsDup, StatusImportedDelErr:
		return true
	default:
		return false
	}
}

// Resettable 表示目的地变化时允许被重新规划的状态。
func (s FileStatus) Resettable() bool {
	return s == StatusWaiting || s == StatusPreExisting
}

// idNamespace 固定为 URL namespace：同一 SourcePath 在任何一次运行里都得到同一个 ID。
var idNamespace = uuid.NameSpaceURL

// FileID 由源路径派生出稳定的 ID（UUID v5）。
func FileID(sourcePath string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte("file://"+filepath.ToSlash(sourcePath)))
}

// MediaFile 是流水线的核心实体，按 SourcePath 标识，在各阶段被原地覆盖状态。
//
// 不变量（实现必须遵守）：
// - DestinationPath 非空 <=> 配置了目的地根目录 且 Status != DuplicateInSource
// - DuplicateOf 只能指向处理顺序更靠前的文件（关系，不是所有权）
// - Status == PreExisting 时 DestinationPath 在磁盘上存在且被判定为同一文件
type MediaFile struct {
	ID         uuid.UUID `json:"id"`
	SourcePath string    `json:"source_path"`
	Name       string    `json:"name"`
	Type       MediaType `json:"type"`
	ModTime    time.Time `json:"mod_time"`

	// 以下字段由 enrichment 填充一次，之后视为权威值（重新规划不会重新计算）。
	CaptureDate *time.Time `json:"capture_date,omitempty"`
	Size        *int64     `json:"size,omitempty"`
	Enriched    bool       `json:"enriched"`

	DestinationPath string     `json:"destination_path,omitempty"`
	Status          FileStatus `json:"status"`
	DuplicateOf     *uuid.UUID `json:"duplicate_of,omitempty"`
	Sidecars        []string   `json:"sidecars,omitempty"`
	ImportError     string     `json:"import_error,omitempty"`
}

// NewMediaFile 构造一个刚被扫描出来的文件（状态 waiting）。
func NewMediaFile(sourcePath string, t MediaType, modTime time.Time) MediaFile {
	return MediaFile{
		ID:         FileID(sourcePath),
		SourcePath: sourcePath,
		Name:       filepath.Base(sourcePath),
		Type:       t,
		ModTime:    modTime,
		Status:     StatusWaiting,
	}
}

// Stem 返回不含扩展名的源文件名。
func (f MediaFile) Stem() string {
	return f.Name[:len(f.Name)-len(filepath.Ext(f.Name))]
}

// Ext 返回源文件扩展名（不含 '.'，保留原始大小写）。
func (f MediaFile) Ext() string {
	ext := filepath.Ext(f.Name)
	if ext == "" {
		return ""
	}
	return ext[1:]
}

// Clone 深拷贝指针与切片字段，保证返回给调用方的集合互不共享可变状态。
func (f MediaFile) Clone() MediaFile {
	out := f
	if f.CaptureDate != nil {
		d := *f.CaptureDate
		out.CaptureDate = &d
	}
	if f.Size != nil {
		s := *f.Size
		out.Size = &s
	}
	if f.DuplicateOf != nil {
		id := *f.DuplicateOf
		out.DuplicateOf = &id
	}
	if f.Sidecars != nil {
		out.Sidecars = append([]string(nil), f.Sidecars...)
	}
	return out
}

// CloneAll 拷贝整个集合（核心函数只接收/返回完整集合）。
func CloneAll(files []MediaFile) []MediaFile {
	if files == nil {
		return nil
	}
	out := make([]MediaFile, len(files))
	for i := range files {
		out[i] = files[i].Clone()
	}
	return out
}
