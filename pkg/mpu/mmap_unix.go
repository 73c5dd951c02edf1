//go:build linux || darwin || freebsd

package mpu

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NewFileRegion returns a region whose buffer is a shared mapping of the
// file at path, so that other processes can observe and modify guest
// memory. The file is created or extended to size bytes.
func NewFileRegion(kind RegionKind, start, size uint32, perm uint64, path string) (*Region, error) {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	fi, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < int64(size) {
		if err := fh.Truncate(int64(size)); err != nil {
			return nil, err
		}
	}
	data, err := unix.Mmap(int(fh.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("could not map %s: %v", path, err)
	}
	r := &Region{Kind: kind, Start: start, Size: size, Permission: perm, Name: path, data: data}
	r.unmap = func() error {
		return unix.Munmap(data)
	}
	return r, nil
}
