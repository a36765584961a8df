package metadata

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/rs/zerolog"
	"github.com/rwcarlsen/goexif/exif"

	"github.com/John-Robertt/mediaimport/internal/domain"
	"github.com/John-Robertt/mediaimport/internal/infra/cache"
)

// 通过可替换的函数指针，让测试能稳定模拟各平台的创建时间。
var birthTimeFunc = birthTime

// exiftool 输出的日期字段，按优先级排列。
var exiftoolDateKeys = []string{"DateTimeOriginal", "CreateDate", "MediaCreateDate", "TrackCreateDate"}

var exiftoolLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05-07:00",
	"2006:01:02 15:04:05Z07:00",
	"2006:01:02 15:04:05.000",
}

// Reader 从文件读取拍摄时间与大小。
//
// 回退链：goexif（图片/RAW）-> exiftool（视频/音频以及 goexif 未命中）-> 创建时间 -> 修改时间。
// exiftool 按需启动；启动失败只记录一次，之后不再尝试。
type Reader struct {
	cache    *cache.Store
	exiftool bool
	log      zerolog.Logger

	mu    sync.Mutex
	et    *exiftool.Exiftool
	etErr error
}

type Option func(*Reader)

// WithCache 为读取结果启用磁盘缓存。
func WithCache(s cache.Store) Option {
	return func(r *Reader) { r.cache = &s }
}

// WithExiftool 控制是否使用外部 exiftool（默认启用）。
func WithExiftool(enabled bool) Option {
	return func(r *Reader) { r.exiftool = enabled }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Reader) { r.log = l }
}

func NewReader(opts ...Option) *Reader {
	r := &Reader{exiftool: true, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Close 结束 exiftool 子进程（若已启动）。
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.et == nil {
		return nil
	}
	err := r.et.Close()
	r.et = nil
	return err
}

// FileSize 返回文件字节数；stat 失败返回 ok=false。
func (r *Reader) FileSize(path string) (int64, bool) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return 0, false
	}
	return fi.Size(), true
}

// CaptureDate 返回文件的拍摄时间（已应用回退链）。
func (r *Reader) CaptureDate(ctx context.Context, path string, t domain.MediaType) (time.Time, bool) {
	if ctx.Err() != nil {
		return time.Time{}, false
	}
	fi, err := os.Stat(path)
	if err != nil {
		r.log.Warn().Err(err).Str("path", path).Msg("读取文件属性失败")
		return time.Time{}, false
	}

	var fp cache.Fingerprint
	if r.cache != nil {
		fp = cache.FingerprintOf(path, fi)
		e, ok, err := r.cache.Read(fp)
		if err != nil {
			r.log.Debug().Err(err).Str("path", path).Msg("读取元数据缓存失败")
		}
		if ok {
			if e.CaptureDate == nil {
				return time.Time{}, false
			}
			return *e.CaptureDate, true
		}
	}

	embedded := r.embedded(path, t)
	created, _ := birthTimeFunc(fi)
	d, src := ResolveCaptureDate(embedded, created, fi.ModTime())

	if r.cache != nil && !r.cache.ReadOnly {
		e := cache.Entry{Source: string(src)}
		if src != SourceNone {
			e.CaptureDate = &d
		}
		if err := r.cache.Write(fp, e); err != nil {
			r.log.Debug().Err(err).Str("path", path).Msg("写入元数据缓存失败")
		}
	}

	if src == SourceNone {
		return time.Time{}, false
	}
	r.log.Trace().Str("path", path).Str("source", string(src)).Time("capture_date", d).Msg("拍摄时间")
	return d, true
}

func (r *Reader) embedded(path string, t domain.MediaType) time.Time {
	switch t {
	case domain.TypeImage, domain.TypeRaw:
		if d, ok := exifDate(path); ok {
			return d
		}
	}
	if d, ok := r.exiftoolDate(path); ok {
		return d
	}
	return time.Time{}
}

func exifDate(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, false
	}
	d, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	// 没有时区信息时 goexif 按 time.Local 解析；改为把墙上时间当作 UTC，与 exiftool 一致。
	if tz, _ := x.TimeZone(); tz == nil {
		d = wallClockUTC(d)
	}
	if !usable(d) {
		return time.Time{}, false
	}
	return d, true
}

func wallClockUTC(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), time.UTC)
}

func (r *Reader) exiftoolDate(path string) (time.Time, bool) {
	et := r.ensureExiftool()
	if et == nil {
		return time.Time{}, false
	}

	r.mu.Lock()
	infos := et.ExtractMetadata(path)
	r.mu.Unlock()

	for _, info := range infos {
		if info.Err != nil {
			continue
		}
		for _, k := range exiftoolDateKeys {
			s, ok := info.Fields[k].(string)
			if !ok {
				continue
			}
			if d, ok := parseExiftoolDate(s); ok {
				return d, true
			}
		}
	}
	return time.Time{}, false
}

func (r *Reader) ensureExiftool() *exiftool.Exiftool {
	if !r.exiftool {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.et != nil || r.etErr != nil {
		return r.et
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		r.etErr = err
		r.log.Warn().Err(err).Msg("exiftool 不可用，视频/音频将使用文件系统时间")
		return nil
	}
	r.et = et
	return et
}

func parseExiftoolDate(s string) (time.Time, bool) {
	for _, layout := range exiftoolLayouts {
		d, err := time.Parse(layout, s)
		if err == nil && usable(d) {
			return d, true
		}
	}
	return time.Time{}, false
}
