//go:build !linux

package fsx

import (
	"os"
	"time"
)

// 非 linux 平台的 Stat_t 字段名各不相同，这里只保留修改时间。
func atime(os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
