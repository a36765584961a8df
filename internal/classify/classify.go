package classify

import (
	"strings"

	"github.com/John-Robertt/mediaimport/internal/domain"
)

// 扩展名 -> 类别。key 一律小写、不含 '.'。
var categories = map[string]domain.MediaType{
	// image
	"jpg": domain.TypeImage, "jpeg": domain.TypeImage, "jpe": domain.TypeImage,
	"jfif": domain.TypeImage, "jif": domain.TypeImage, "png": domain.TypeImage,
	"gif": domain.TypeImage, "bmp": domain.TypeImage, "tif": domain.TypeImage,
	"tiff": domain.TypeImage, "heic": domain.TypeImage, "heif": domain.TypeImage,
	"hif": domain.TypeImage, "heics": domain.TypeImage, "webp": domain.TypeImage,
	"avif": domain.TypeImage,

	// raw
	"arw": domain.TypeRaw, "cr2": domain.TypeRaw, "cr3": domain.TypeRaw,
	"crw": domain.TypeRaw, "nef": domain.TypeRaw, "nrw": domain.TypeRaw,
	"dng": domain.TypeRaw, "raf": domain.TypeRaw, "orf": domain.TypeRaw,
	"rw2": domain.TypeRaw, "pef": domain.TypeRaw, "srw": domain.TypeRaw,
	"x3f": domain.TypeRaw, "3fr": domain.TypeRaw, "erf": domain.TypeRaw,
	"kdc": domain.TypeRaw, "mrw": domain.TypeRaw, "raw": domain.TypeRaw,
	"rwl": domain.TypeRaw, "sr2": domain.TypeRaw, "srf": domain.TypeRaw,
	"iiq": domain.TypeRaw,

	// video
	"mp4": domain.TypeVideo, "m4v": domain.TypeVideo, "mov": domain.TypeVideo,
	"avi": domain.TypeVideo, "mkv": domain.TypeVideo, "mts": domain.TypeVideo,
	"m2ts": domain.TypeVideo, "m2t": domain.TypeVideo, "mpg": domain.TypeVideo,
	"mpeg": domain.TypeVideo, "mpe": domain.TypeVideo, "3gp": domain.TypeVideo,
	"wmv": domain.TypeVideo, "webm": domain.TypeVideo, "mxf": domain.TypeVideo,
	"flv": domain.TypeVideo, "insv": domain.TypeVideo, "lrv": domain.TypeVideo,

	// audio
	"mp3": domain.TypeAudio, "m4a": domain.TypeAudio, "aac": domain.TypeAudio,
	"wav": domain.TypeAudio, "flac": domain.TypeAudio, "aif": domain.TypeAudio,
	"aiff": domain.TypeAudio, "ogg": domain.TypeAudio, "opus": domain.TypeAudio,
	"wma": domain.TypeAudio,
}

// 近义扩展名 -> 首选拼写。不在表里的扩展名只做小写化。
var canonical = map[string]string{
	"jpeg":  "jpg",
	"jpe":   "jpg",
	"jfif":  "jpg",
	"jif":   "jpg",
	"tif":   "tiff",
	"heic":  "heif",
	"hif":   "heif",
	"heics": "heif",
	"mpeg":  "mpg",
	"mpe":   "mpg",
	"aif":   "aiff",
	"m2t":   "m2ts",
}

var sidecarExts = map[string]struct{}{
	"thm": {}, // 相机缩略图
	"srt": {}, // 字幕 / 无人机飞行数据
	"vtt": {},
	"lrc": {}, // 歌词
	"xmp": {},
	"aae": {},
}

// 已知的非内容目录（卷索引、回收站、相机缩略图目录等），统一小写。
var skippedDirs = map[string]struct{}{
	".spotlight-v100":           {},
	".fseventsd":                {},
	".trashes":                  {},
	".temporaryitems":           {},
	".documentrevisions-v100":   {},
	"system volume information": {},
	"$recycle.bin":              {},
	"thmbnl":                    {},
	"misc":                      {},
	".thumbnails":               {},
}

func clean(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Classify 把扩展名映射为媒体类别（大小写不敏感，允许带 '.'）。
func Classify(ext string) domain.MediaType {
	if t, ok := categories[clean(ext)]; ok {
		return t
	}
	return domain.TypeUnknown
}

// NormalizeExtension 返回扩展名的首选拼写（小写、不含 '.'）。
// 幂等：NormalizeExtension(NormalizeExtension(x)) == NormalizeExtension(x)。
func NormalizeExtension(ext string) string {
	e := clean(ext)
	if c, ok := canonical[e]; ok {
		return c
	}
	return e
}

// IsSidecarExt 判断扩展名是否属于伴随文件。
func IsSidecarExt(ext string) bool {
	_, ok := sidecarExts[clean(ext)]
	return ok
}

// IsSkippedDir 判断目录名是否属于不应进入的非内容目录。
func IsSkippedDir(name string) bool {
	_, ok := skippedDirs[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
