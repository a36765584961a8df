package thumbcache

import (
	"context"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultCapacity 是缓存条目数的默认上限。
const DefaultCapacity = 2000

// Renderer 生成单个文件的缩略图（编码后的字节）。
type Renderer interface {
	Render(ctx context.Context, path string, size int) ([]byte, error)
}

// Cache 是按 (路径, 尺寸) 索引、容量有界的 LRU 缩略图缓存。
//
// 约束：
// - 命中会把条目移到最近使用端
// - 每次超容量插入恰好淘汰一个最久未使用的条目
// - 渲染失败或结果为空时返回 (nil, false)，不缓存
//
// 并发 miss 可能各自渲染一次，后写入者覆盖前者（不做合并）。
type Cache struct {
	r   Renderer
	lru *lru.Cache[string, []byte]
	log zerolog.Logger
}

func New(r Renderer, capacity int, logger zerolog.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// capacity > 0 时 lru.New 不会失败。
	l, _ := lru.New[string, []byte](capacity)
	return &Cache{r: r, lru: l, log: logger}
}

// Get 返回 path 在 size 尺寸下的缩略图；没有缓存时同步渲染并写入缓存。
func (c *Cache) Get(ctx context.Context, path string, size int) ([]byte, bool) {
	k := key(path, size)
	if b, ok := c.lru.Get(k); ok {
		return b, true
	}
	if c.r == nil {
		return nil, false
	}

	b, err := c.r.Render(ctx, path, size)
	if err != nil {
		c.log.Debug().Err(err).Str("path", path).Int("size", size).Msg("缩略图渲染失败")
		return nil, false
	}
	if len(b) == 0 {
		return nil, false
	}
	if evicted := c.lru.Add(k, b); evicted {
		c.log.Trace().Str("path", path).Msg("缩略图缓存已满，淘汰最久未使用条目")
	}
	return b, true
}

// Contains 只查询，不改变 LRU 顺序。
func (c *Cache) Contains(path string, size int) bool {
	return c.lru.Contains(key(path, size))
}

func (c *Cache) Len() int { return c.lru.Len() }

func (c *Cache) Purge() { c.lru.Purge() }

// Keys 按从旧到新的顺序返回缓存键（诊断与测试用）。
func (c *Cache) Keys() []string { return c.lru.Keys() }

func key(path string, size int) string {
	return path + "@" + strconv.Itoa(size)
}
