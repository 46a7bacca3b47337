package cache

import (
	"os"
	"syscall"
	"time"
)

func fileTimes(_ string, info os.FileInfo) (time.Time, time.Time) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fallbackTimes(info)
	}
	return time.Unix(st.Birthtimespec.Unix()), time.Unix(st.Atimespec.Unix())
}
