//go:build !linux

package sysinfo

import "errors"

var errUnsupported = errors.New("not supported on this platform")

type hostPlatform struct{}

func (hostPlatform) kernel() (string, error)             { return "", errUnsupported }
func (hostPlatform) memory() (memoryStats, error)        { return memoryStats{}, errUnsupported }
func (hostPlatform) disk(string) (uint64, uint64, error) { return 0, 0, errUnsupported }
