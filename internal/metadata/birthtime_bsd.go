//go:build darwin || freebsd

package metadata

import (
	"os"
	"syscall"
	"time"
)

func birthTime(fi os.FileInfo) (time.Time, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(st.Birthtimespec.Unix()), true
}
