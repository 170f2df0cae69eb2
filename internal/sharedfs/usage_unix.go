//go:build !windows

package sharedfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// volumeStats uses Bavail for free space, i.e. what a non-root writer can use.
func volumeStats(path string) (total, used, free int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := int64(stat.Bsize) //nolint:unconvert
	total = int64(stat.Blocks) * bsize
	free = int64(stat.Bavail) * bsize
	used = total - int64(stat.Bfree)*bsize
	return total, used, free, nil
}
