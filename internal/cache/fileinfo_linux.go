package cache

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// fileTimes returns birth and access time of a file, falling back to the
// modification time when the filesystem does not report them.
func fileTimes(absPath string, info os.FileInfo) (time.Time, time.Time) {
	created, accessed := fallbackTimes(info)

	var stx unix.Statx_t
	if err := unix.Statx(unix.AT_FDCWD, absPath, 0, unix.STATX_BTIME|unix.STATX_ATIME, &stx); err != nil {
		return created, accessed
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		created = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
	if stx.Mask&unix.STATX_ATIME != 0 {
		accessed = time.Unix(stx.Atime.Sec, int64(stx.Atime.Nsec))
	}
	return created, accessed
}
