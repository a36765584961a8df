package metadata

import "time"

// Source 标记拍摄时间来自哪一级回退。
type Source string

const (
	SourceNone     Source = ""
	SourceEmbedded Source = "embedded"
	SourceCreated  Source = "created"
	SourceModified Source = "modified"
)

// ResolveCaptureDate 是拍摄时间回退链的唯一实现（零值表示缺失）。
//
// 优先级（第一个可用的生效）：
// 1) 内嵌元数据（EXIF / 容器 atom）
// 2) 文件系统创建时间
// 3) 文件系统修改时间
//
// 结果只计算一次，之后视为权威值。
func ResolveCaptureDate(embedded, created, modified time.Time) (time.Time, Source) {
	switch {
	case usable(embedded):
		return embedded, SourceEmbedded
	case usable(created):
		return created, SourceCreated
	case usable(modified):
		return modified, SourceModified
	default:
		return time.Time{}, SourceNone
	}
}

// usable 排除零值与 1970-01-01 这类“未设置”的占位时间。
func usable(t time.Time) bool {
	return !t.IsZero() && t.Unix() > 0
}
