package sysinfo

import "time"

type memoryStats struct {
	total, free uint64
	uptime      time.Duration
}

// platform wraps the syscalls behind Collect.
type platform interface {
	kernel() (string, error)
	memory() (memoryStats, error)
	disk(path string) (total, free uint64, err error)
}
