package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/John-Robertt/mediaimport/internal/app/importer"
	"github.com/John-Robertt/mediaimport/internal/app/run"
	"github.com/John-Robertt/mediaimport/internal/config"
	"github.com/John-Robertt/mediaimport/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// 约束：
// - 所有过程信息写到 stderr，不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：大文件复制期间没有事件时也定期刷新进度条（耗时/预计剩余）
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time
	bar       *progressbar.ProgressBar

	total int
	done  int

	tickerInterval time.Duration
	stopCh         chan struct{}
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:              w,
		tickerInterval: time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (不复制/不删除)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] mediaimport run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  source: %s\n", eff.Source)
	fmt.Fprintf(p.w, "  destination: %s\n", orNone(eff.Destination))
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  organize_by_date: %s  rename_by_date: %s  delete_originals: %s\n",
		onOff(eff.OrganizeByDate), onOff(eff.RenameByDate), onOff(eff.DeleteOriginals),
	)
	fmt.Fprintf(p.w, "  types: %s\n", formatTypes(eff.Types))
	fmt.Fprintf(p.w, "  exclude_dirs: %s\n", formatStringListJSON(eff.ExcludeDirs))
	fmt.Fprintf(p.w, "  metadata_cache: %s\n", orNone(eff.CacheDir))
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "scan":
		p.total = intField(fields, "waiting")
		fmt.Fprintf(p.w, "扫描: files=%d waiting=%d pre_existing=%d duplicates=%d size=%s (%s)\n",
			intField(fields, "files"),
			intField(fields, "waiting"),
			intField(fields, "pre_existing"),
			intField(fields, "duplicates"),
			humanize.Bytes(uint64(int64Field(fields, "bytes"))),
			formatShortDuration(dur),
		)
	case "import":
		fmt.Fprintf(p.w, "导入: -> %v\n", fields["destination"])
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
}

// OnTransition 只把“一个文件的导入结论”计入进度；中间态只用于刷新描述。
func (p *progressUI) OnTransition(ev importer.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.total = ev.Progress.Total
		p.startBarLocked()
	}

	p.bar.Describe(fmt.Sprintf("%s 已复制", humanize.Bytes(uint64(ev.Progress.BytesCopied))))
	if !concludes(ev) {
		_ = p.bar.Add(0)
		return
	}

	p.done++
	if ev.File.Status == domain.StatusFailed {
		_ = p.bar.Clear()
		fmt.Fprintf(p.w, "FAIL %s: %s\n", ev.File.SourcePath, truncate(ev.File.ImportError, 160))
	}
	_ = p.bar.Set(p.done)
}

func (p *progressUI) OnFinish(res importer.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTickerLocked()
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(p.w)
	}
	fmt.Fprintf(p.w, "导入%s: imported=%d failed=%d deleted=%d copied=%s elapsed=%s\n",
		outcomeLabel(res.Outcome),
		res.Progress.Imported, res.Progress.Failed, res.Progress.Deleted,
		humanize.Bytes(uint64(res.Progress.BytesCopied)),
		formatElapsed(time.Since(p.startedAt)),
	)
}

// Stop 停止 keepalive（重复调用安全）。
func (p *progressUI) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTickerLocked()
}

func (p *progressUI) startBarLocked() {
	n := p.total
	if n <= 0 {
		n = -1 // 总数未知：spinner
	}
	p.bar = progressbar.NewOptions(n,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("导入"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	p.stopCh = make(chan struct{})
	interval := p.tickerInterval
	if interval <= 0 {
		interval = time.Second
	}
	go func(stop <-chan struct{}, bar *progressbar.ProgressBar) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				p.mu.Lock()
				_ = bar.Add(0)
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}(p.stopCh, p.bar)
}

func (p *progressUI) stopTickerLocked() {
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
}

// concludes 判断这次迁移是否给出了一个计入 Total 的文件的结论。
func concludes(ev importer.Event) bool {
	switch ev.From {
	case domain.StatusVerifying:
		return true
	case domain.StatusCopying:
		return ev.File.Status == domain.StatusFailed
	case domain.StatusPreExisting:
		return true
	default:
		return false
	}
}

func outcomeLabel(o importer.Outcome) string {
	switch o {
	case importer.OutcomeCancelled:
		return "已取消"
	case importer.OutcomeFailed:
		return "失败"
	default:
		return "完成"
	}
}

func formatTypes(f domain.TypeFilters) string {
	var parts []string
	for _, t := range []struct {
		name string
		on   bool
	}{{"image", f.Image}, {"video", f.Video}, {"audio", f.Audio}, {"raw", f.Raw}} {
		if t.on {
			parts = append(parts, t.name)
		}
	}
	if len(parts) == 0 {
		return "(none)"
	}
	return strings.Join(parts, ",")
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	return int(int64Field(fields, key))
}

func int64Field(fields map[string]any, key string) int64 {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		return 0
	}
}
