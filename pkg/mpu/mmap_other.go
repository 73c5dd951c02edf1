//go:build !linux && !darwin && !freebsd

package mpu

import (
	"fmt"
	"runtime"
)

// NewFileRegion is not supported on this platform.
func NewFileRegion(kind RegionKind, start, size uint32, perm uint64, path string) (*Region, error) {
	return nil, fmt.Errorf("file backed regions are not supported on %s", runtime.GOOS)
}
