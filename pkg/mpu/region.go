package mpu

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/athrill-go/athrill/pkg/logflags"
)

// RegionKind is the kind of a memory region.
type RegionKind uint8

const (
	ROM RegionKind = iota
	RAM
	Device
	MallocPool
)

func (k RegionKind) String() string {
	switch k {
	case ROM:
		return "rom"
	case RAM:
		return "ram"
	case Device:
		return "device"
	case MallocPool:
		return "malloc"
	}
	return fmt.Sprintf("RegionKind(%d)", uint8(k))
}

// AccessKind is the direction of a memory access.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessFetch
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessFetch:
		return "fetch"
	}
	return fmt.Sprintf("AccessKind(%d)", uint8(k))
}

// AllCores is a permission mask granting every core access.
const AllCores uint64 = ^uint64(0)

// Region is a contiguous span of the guest address space backed by its
// own buffer. Addresses are translated to offsets into that buffer, the
// buffer itself is never exposed past its bounds.
type Region struct {
	Kind  RegionKind
	Start uint32
	Size  uint32
	// Permission has bit n set if core n may access the region.
	Permission uint64
	// Executable marks regions loaded from executable segments.
	Executable bool
	Name       string

	data  []byte
	unmap func() error
}

// NewRegion returns a region backed by a zeroed buffer.
func NewRegion(kind RegionKind, start, size uint32, perm uint64) *Region {
	return &Region{Kind: kind, Start: start, Size: size, Permission: perm, data: make([]byte, size)}
}

// End returns the first address after the region.
func (r *Region) End() uint64 {
	return uint64(r.Start) + uint64(r.Size)
}

// Contains returns true if addr belongs to the region.
func (r *Region) Contains(addr uint32) bool {
	return addr >= r.Start && uint64(addr) < r.End()
}

// Allows returns true if core may perform an access of the given kind.
func (r *Region) Allows(core int, kind AccessKind) bool {
	if core < 0 || core >= 64 || r.Permission&(1<<uint(core)) == 0 {
		return false
	}
	if kind == AccessWrite && r.Kind == ROM {
		return false
	}
	return true
}

// Bytes returns the slice of the backing buffer for [addr, addr+size).
func (r *Region) Bytes(addr uint32, size int) ([]byte, error) {
	if !r.Contains(addr) {
		return nil, &InvalidAddressError{Core: -1, Address: addr}
	}
	if size < 0 || uint64(addr)+uint64(size) > r.End() {
		return nil, &MisalignedAccessError{Address: addr, Size: size}
	}
	off := addr - r.Start
	return r.data[off : off+uint32(size) : off+uint32(size)], nil
}

// Close releases the backing buffer of file backed regions.
func (r *Region) Close() error {
	if r.unmap == nil {
		return nil
	}
	err := r.unmap()
	r.unmap = nil
	r.data = nil
	return err
}

// AccessFunc is called for guest accesses.
type AccessFunc func(core int, addr uint32, size int, write bool)

// Watcher decides whether an access triggers a data watchpoint.
type Watcher interface {
	CheckAccess(addr uint32, size int, write bool) bool
}

// Hooks are consulted on every guest load and store made through the
// GetData/PutData accessors.
type Hooks struct {
	Watch   Watcher
	OnWatch AccessFunc
	// Observe is called after every successful access.
	Observe AccessFunc
}

// Config describes the memory model of a machine.
type Config struct {
	NumCores int
	// Protection enables permission checks on guest accesses.
	Protection bool
	// MallocUnitSize is the unit size, in bytes, of malloc pools.
	MallocUnitSize uint32
	FreePolicy     FreePolicy
}

var errSealed = errors.New("region table is sealed")

// Table is the region table of a machine. Regions are added while the
// machine is being loaded, after Seal the table is only read and can be
// used concurrently by every core.
type Table struct {
	cfg Config

	mu      sync.Mutex
	regions []*Region // sorted by Start
	sealed  atomic.Bool
	hooks   Hooks
	malloc  *Allocator

	log logflags.Logger
}

// NewTable returns an empty region table.
func NewTable(cfg Config) *Table {
	if cfg.MallocUnitSize == 0 {
		cfg.MallocUnitSize = 1024
	}
	return &Table{cfg: cfg, log: logflags.MPULogger()}
}

// NumCores returns the number of cores the table was configured for.
func (t *Table) NumCores() int {
	return t.cfg.NumCores
}

// Protection returns true if permission checks are enabled.
func (t *Table) Protection() bool {
	return t.cfg.Protection
}

// AddRegion inserts r keeping the table sorted by start address.
func (t *Table) AddRegion(r *Region) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed.Load() {
		return errSealed
	}
	if r.Size == 0 {
		return fmt.Errorf("region at %#x has zero size", r.Start)
	}
	if r.End() > 1<<32 {
		return fmt.Errorf("region at %#x of size %#x wraps the address space", r.Start, r.Size)
	}
	if r.Kind == MallocPool && r.Start == 0 {
		return fmt.Errorf("malloc pool can not start at address 0")
	}
	if uint32(len(r.data)) != r.Size {
		return fmt.Errorf("region at %#x: buffer size %#x does not match region size %#x", r.Start, len(r.data), r.Size)
	}
	i := sort.Search(len(t.regions), func(i int) bool { return t.regions[i].Start >= r.Start })
	if i > 0 && t.regions[i-1].End() > uint64(r.Start) {
		return &OverlapError{New: r, Existing: t.regions[i-1]}
	}
	if i < len(t.regions) && r.End() > uint64(t.regions[i].Start) {
		return &OverlapError{New: r, Existing: t.regions[i]}
	}
	t.regions = append(t.regions, nil)
	copy(t.regions[i+1:], t.regions[i:])
	t.regions[i] = r
	t.log.Debugf("added %s region %#x-%#x perm=%#x", r.Kind, r.Start, r.End(), r.Permission)
	return nil
}

// SetHooks installs the access hooks. It must be called before Seal.
func (t *Table) SetHooks(h Hooks) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed.Load() {
		return errSealed
	}
	t.hooks = h
	return nil
}

// Seal freezes the region list and carves malloc pools into units.
func (t *Table) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed.Load() {
		return
	}
	var pools []*Region
	for _, r := range t.regions {
		if r.Kind == MallocPool {
			pools = append(pools, r)
		}
	}
	t.malloc = newAllocator(pools, t.cfg.MallocUnitSize, t.cfg.FreePolicy)
	t.sealed.Store(true)
}

// Sealed returns true after Seal has been called.
func (t *Table) Sealed() bool {
	return t.sealed.Load()
}

// Allocator returns the malloc pool allocator, nil before Seal.
func (t *Table) Allocator() *Allocator {
	if !t.sealed.Load() {
		return nil
	}
	return t.malloc
}

// Regions returns the regions in ascending address order.
func (t *Table) Regions() []*Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Region(nil), t.regions...)
}

// Lookup returns the region containing addr or nil.
func (t *Table) Lookup(addr uint32) *Region {
	var regions []*Region
	if t.sealed.Load() {
		regions = t.regions
	} else {
		t.mu.Lock()
		defer t.mu.Unlock()
		regions = t.regions
	}
	i := sort.Search(len(regions), func(i int) bool { return regions[i].End() > uint64(addr) })
	if i < len(regions) && regions[i].Contains(addr) {
		return regions[i]
	}
	return nil
}

// Resolve translates [addr, addr+size) to a slice of the owning region's
// buffer, checking core permissions when protection is enabled.
func (t *Table) Resolve(core int, addr uint32, size int, kind AccessKind) ([]byte, error) {
	r := t.Lookup(addr)
	if r == nil {
		t.log.Debugf("core %d: no region for %#x", core, addr)
		return nil, &InvalidAddressError{Core: core, Address: addr}
	}
	if size <= 0 || uint64(addr)+uint64(size) > r.End() {
		return nil, &MisalignedAccessError{Address: addr, Size: size}
	}
	if t.cfg.Protection {
		if !r.Allows(core, kind) {
			t.log.Warnf("core %d: %s access to %#x violates %s region permission %#x", core, kind, addr, r.Kind, r.Permission)
			return nil, &PermissionDeniedError{Core: core, Address: addr, Kind: kind, Region: r}
		}
		if r.Kind == MallocPool && kind != AccessFetch && !t.malloc.Live(addr, size) {
			t.log.Warnf("core %d: %s access to unallocated malloc memory at %#x", core, kind, addr)
			return nil, &PermissionDeniedError{Core: core, Address: addr, Kind: kind, Region: r}
		}
	}
	off := addr - r.Start
	return r.data[off : off+uint32(size) : off+uint32(size)], nil
}

// Close releases every region.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, r := range t.regions {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
