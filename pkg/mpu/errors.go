package mpu

import "fmt"

// InvalidAddressError is returned when no region owns an address.
type InvalidAddressError struct {
	Core    int
	Address uint32
}

func (err *InvalidAddressError) Error() string {
	return fmt.Sprintf("core %d: invalid address %#x", err.Core, err.Address)
}

// PermissionDeniedError is returned when a core is not allowed to perform
// an access on the region that owns the address.
type PermissionDeniedError struct {
	Core    int
	Address uint32
	Kind    AccessKind
	Region  *Region
}

func (err *PermissionDeniedError) Error() string {
	return fmt.Sprintf("core %d: %s access to %#x denied (%s region %#x-%#x)", err.Core, err.Kind, err.Address, err.Region.Kind, err.Region.Start, err.Region.End())
}

// MisalignedAccessError is returned when an access of Size bytes
// starting at Address crosses the end of its region.
type MisalignedAccessError struct {
	Address uint32
	Size    int
}

func (err *MisalignedAccessError) Error() string {
	return fmt.Sprintf("access of %d bytes at %#x crosses a region boundary", err.Size, err.Address)
}

// OverlapError is returned by AddRegion when the new region intersects
// an existing one.
type OverlapError struct {
	New, Existing *Region
}

func (err *OverlapError) Error() string {
	return fmt.Sprintf("region %#x-%#x overlaps region %#x-%#x", err.New.Start, err.New.End(), err.Existing.Start, err.Existing.End())
}

// UnknownFreeError is returned by the allocator, under the strict free
// policy, when an address that is not a live allocation is released.
type UnknownFreeError struct {
	Address uint32
}

func (err *UnknownFreeError) Error() string {
	return fmt.Sprintf("free of unknown address %#x", err.Address)
}
