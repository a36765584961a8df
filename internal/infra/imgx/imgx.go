package imgx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // 注册 GIF 解码器
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // 注册 WebP 解码器
)

// ErrUnsupported 表示该文件类型无法在进程内解码出缩略图（视频、RAW、HEIF 等）。
var ErrUnsupported = errors.New("imgx: 不支持的图片格式")

// DefaultQuality 是缩略图 JPEG 编码质量。
const DefaultQuality = 85

var decodable = map[string]struct{}{
	"jpg": {}, "jpeg": {}, "jpe": {}, "jfif": {}, "jif": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// Renderer 把图片文件解码、等比缩放到 size×size 以内，并编码为 JPEG。
type Renderer struct {
	Quality int
}

// Render 实现 thumbcache.Renderer。
//
// 约束：
// - 只处理标准库与 x/image 能解码的格式，其余返回 ErrUnsupported
// - 输出固定为 JPEG
// - 原图本身小于 size 时不放大
func (r Renderer) Render(ctx context.Context, path string, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("缩略图尺寸无效：%d", size)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if _, ok := decodable[ext]; !ok {
		return nil, ErrUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return r.thumbnail(b, uint(size))
}

// ThumbnailJPEG 对已读入内存的图片生成缩略图。
func ThumbnailJPEG(src []byte, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("缩略图尺寸无效：%d", size)
	}
	return Renderer{}.thumbnail(src, uint(size))
}

func (r Renderer) thumbnail(src []byte, size uint) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("图片为空")
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}

	thumb := resize.Thumbnail(size, size, img, resize.Lanczos3)

	q := r.Quality
	if q <= 0 || q > 100 {
		q = DefaultQuality
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, thumb, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
