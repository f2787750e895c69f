//go:build linux

package sysinfo

import (
	"time"

	"golang.org/x/sys/unix"
)

type hostPlatform struct{}

func (hostPlatform) kernel() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Release[:]), nil
}

func (hostPlatform) memory() (memoryStats, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return memoryStats{}, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	return memoryStats{
		total:  uint64(si.Totalram) * unit,
		free:   (uint64(si.Freeram) + uint64(si.Bufferram)) * unit,
		uptime: time.Duration(si.Uptime) * time.Second,
	}, nil
}

func (hostPlatform) disk(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
