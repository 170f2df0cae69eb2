//go:build windows

package sharedfs

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func volumeStats(path string) (total, used, free int64, err error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, 0, err
	}
	var freeAvail, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeAvail, &totalBytes, &totalFree); err != nil {
		return 0, 0, 0, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}
	return int64(totalBytes), int64(totalBytes - totalFree), int64(freeAvail), nil
}
