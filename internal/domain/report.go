package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ImportReport 是对外稳定输出（report.json / stdout JSON）的结构。
type ImportReport struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	DryRun      bool   `json:"dry_run"`
	Cancelled   bool   `json:"cancelled"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Files   []FileResult  `json:"files"`
}

type ReportSummary struct {
	Total          int   `json:"total"`
	Waiting        int   `json:"waiting"`
	Imported       int   `json:"imported"`
	Failed         int   `json:"failed"`
	PreExisting    int   `json:"pre_existing"`
	Duplicates     int   `json:"duplicates"`
	DeletedAsDup   int   `json:"deleted_as_duplicate"`
	DeletionErrors int   `json:"deletion_errors"`
	Bytes          int64 `json:"bytes"`
}

type FileResult struct {
	Src         string     `json:"src"`
	Dst         string     `json:"dst"`
	Type        MediaType  `json:"type"`
	Status      FileStatus `json:"status"`
	DuplicateOf string     `json:"duplicate_of,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewFileResults 把集合转换为 report 行（不做排序，交给 Finalize）。
func NewFileResults(files []MediaFile) []FileResult {
	byID := make(map[string]string, len(files))
	for i := range files {
		byID[files[i].ID.String()] = files[i].SourcePath
	}

	out := make([]FileResult, 0, len(files))
	for i := range files {
		f := files[i]
		r := FileResult{
			Src:    f.SourcePath,
			Dst:    f.DestinationPath,
			Type:   f.Type,
			Status: f.Status,
			Error:  f.ImportError,
		}
		if f.DuplicateOf != nil {
			r.DuplicateOf = byID[f.DuplicateOf.String()]
		}
		out = append(out, r)
	}
	return out
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) files 稳定排序：按 src 字典序
// 3) summary 由 files 计算得出（bytes 只统计已复制的文件）
func (r *ImportReport) Finalize(sizes map[string]int64) {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Files, func(i, j int) bool { return r.Files[i].Src < r.Files[j].Src })

	s := ReportSummary{Total: len(r.Files)}
	for _, f := range r.Files {
		switch f.Status {
		case StatusWaiting:
			s.Waiting++
		case StatusImported:
			s.Imported++
		case StatusImportedDelErr:
			s.Imported++
			s.DeletionErrors++
		case StatusFailed:
			s.Failed++
		case StatusPreExisting:
			s.PreExisting++
			if f.Error != "" {
				s.DeletionErrors++
			}
		case StatusDuplicateInSource:
			s.Duplicates++
		case StatusDeletedAsDup:
			s.DeletedAsDup++
			if f.Error != "" {
				s.DeletionErrors++
			}
		}
		if f.Status == StatusImported || f.Status == StatusImportedDelErr {
			s.Bytes += sizes[f.Src]
		}
	}
	r.Summary = s
}

// DeletionSummary 把逐文件的删除失败聚合为一行（没有失败时返回空串）。
func (r ImportReport) DeletionSummary() string {
	if r.Summary.DeletionErrors == 0 {
		return ""
	}
	return fmt.Sprintf("%d 个原文件未能删除（已复制成功，源介质可能是只读的）", r.Summary.DeletionErrors)
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r ImportReport) MarshalJSON() ([]byte, error) {
	type Alias ImportReport
	return json.Marshal(Alias(r))
}
