//go:build !darwin && !freebsd

package metadata

import (
	"os"
	"time"
)

// 其余平台的 stat 不提供创建时间，直接回退到修改时间。
func birthTime(os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
