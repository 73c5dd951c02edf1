package mpu

import (
	"fmt"
	"sync"

	"golang.org/x/exp/constraints"

	"github.com/athrill-go/athrill/pkg/logflags"
)

// FreePolicy selects how the allocator reacts to the release of an
// address that is not a live allocation.
type FreePolicy uint8

const (
	// FreeWarn logs the release and otherwise ignores it.
	FreeWarn FreePolicy = iota
	// FreeIgnore silently ignores the release.
	FreeIgnore
	// FreeStrict returns an *UnknownFreeError.
	FreeStrict
)

// ParseFreePolicy converts the configuration spelling of a policy.
func ParseFreePolicy(s string) (FreePolicy, error) {
	switch s {
	case "", "warn":
		return FreeWarn, nil
	case "ignore":
		return FreeIgnore, nil
	case "strict":
		return FreeStrict, nil
	}
	return FreeWarn, fmt.Errorf("unknown free policy %q", s)
}

func (p FreePolicy) String() string {
	switch p {
	case FreeWarn:
		return "warn"
	case FreeIgnore:
		return "ignore"
	case FreeStrict:
		return "strict"
	}
	return fmt.Sprintf("FreePolicy(%d)", uint8(p))
}

func alignUp[T constraints.Unsigned](v, unit T) T {
	return (v + unit - 1) / unit * unit
}

type pool struct {
	region *Region
	used   []bool
}

type block struct {
	pool  *pool
	first int
	units int
	size  uint32
}

// Allocator hands out guest memory from the malloc pools of a region
// table. Every request is rounded up to a whole number of units and
// satisfied by the first run of free contiguous units that fits.
type Allocator struct {
	mu       sync.RWMutex
	unitSize uint32
	pools    []*pool
	live     map[uint32]*block
	policy   FreePolicy
	log      logflags.Logger
}

func newAllocator(regions []*Region, unitSize uint32, policy FreePolicy) *Allocator {
	a := &Allocator{
		unitSize: unitSize,
		live:     make(map[uint32]*block),
		policy:   policy,
		log:      logflags.MallocLogger(),
	}
	for _, r := range regions {
		n := int(r.Size / unitSize)
		if n == 0 {
			a.log.Warnf("malloc pool %#x-%#x is smaller than one unit", r.Start, r.End())
			continue
		}
		a.pools = append(a.pools, &pool{region: r, used: make([]bool, n)})
	}
	return a
}

// UnitSize returns the allocation granularity in bytes.
func (a *Allocator) UnitSize() uint32 {
	return a.unitSize
}

// Allocate reserves size bytes and returns their guest address. It
// returns 0 when size is zero or no run of free units is large enough.
func (a *Allocator) Allocate(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocate(size)
}

func (a *Allocator) allocate(size uint32) uint32 {
	n := int(alignUp(uint64(size), uint64(a.unitSize)) / uint64(a.unitSize))
	for _, p := range a.pools {
		run := 0
		for i, used := range p.used {
			if used {
				run = 0
				continue
			}
			run++
			if run < n {
				continue
			}
			first := i - n + 1
			for j := first; j <= i; j++ {
				p.used[j] = true
			}
			addr := p.region.Start + uint32(first)*a.unitSize
			a.live[addr] = &block{pool: p, first: first, units: n, size: size}
			a.log.Debugf("allocate %d bytes at %#x (%d units)", size, addr, n)
			return addr
		}
	}
	a.log.Debugf("allocate %d bytes: pool exhausted", size)
	return 0
}

// Calloc allocates n*size zeroed bytes.
func (a *Allocator) Calloc(n, size uint32) uint32 {
	total := uint64(n) * uint64(size)
	if total == 0 || total > uint64(^uint32(0)) {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	addr := a.allocate(uint32(total))
	if addr == 0 {
		return 0
	}
	b := a.live[addr]
	mem := a.bytes(b)
	for i := range mem {
		mem[i] = 0
	}
	return addr
}

// Reallocate moves the allocation at old to a fresh block of newSize
// bytes, copying the common prefix, and frees old. The block is never
// grown in place. If no block is available 0 is returned and old stays
// valid.
func (a *Allocator) Reallocate(old, newSize uint32) (uint32, error) {
	if old == 0 {
		return a.Allocate(newSize), nil
	}
	if newSize == 0 {
		return 0, a.Free(old)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ob, ok := a.live[old]
	if !ok {
		return 0, a.unknown("reallocate", old)
	}
	addr := a.allocate(newSize)
	if addr == 0 {
		return 0, nil
	}
	n := ob.size
	if newSize < n {
		n = newSize
	}
	copy(a.bytes(a.live[addr])[:n], a.bytes(ob)[:n])
	a.release(old, ob)
	return addr, nil
}

// Free releases the allocation at addr. Releasing 0 is a no-op, releasing
// any other unknown address is handled according to the free policy.
func (a *Allocator) Free(addr uint32) error {
	if addr == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.live[addr]
	if !ok {
		return a.unknown("free", addr)
	}
	a.release(addr, b)
	return nil
}

func (a *Allocator) release(addr uint32, b *block) {
	for j := b.first; j < b.first+b.units; j++ {
		if !b.pool.used[j] {
			panic(fmt.Sprintf("malloc bookkeeping corrupted: unit %d of block %#x already free", j, addr))
		}
		b.pool.used[j] = false
	}
	delete(a.live, addr)
	a.log.Debugf("free %#x (%d units)", addr, b.units)
}

func (a *Allocator) unknown(op string, addr uint32) error {
	switch a.policy {
	case FreeIgnore:
		return nil
	case FreeStrict:
		a.log.Errorf("%s of unknown address %#x", op, addr)
		return &UnknownFreeError{Address: addr}
	default:
		a.log.Warnf("%s of unknown address %#x", op, addr)
		return nil
	}
}

func (a *Allocator) bytes(b *block) []byte {
	r := b.pool.region
	off := uint32(b.first) * a.unitSize
	return r.data[off : off+uint32(b.units)*a.unitSize]
}

// Size returns the requested size of the live allocation at addr.
func (a *Allocator) Size(addr uint32) (uint32, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.live[addr]
	if !ok {
		return 0, false
	}
	return b.size, true
}

// Live returns true if every unit overlapped by [addr, addr+size) is
// part of a live allocation.
func (a *Allocator) Live(addr uint32, size int) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.pools {
		if !p.region.Contains(addr) {
			continue
		}
		first := int((addr - p.region.Start) / a.unitSize)
		last := int((uint64(addr) + uint64(size) - 1 - uint64(p.region.Start)) / uint64(a.unitSize))
		if last >= len(p.used) {
			return false
		}
		for i := first; i <= last; i++ {
			if !p.used[i] {
				return false
			}
		}
		return true
	}
	return false
}

// AllocStats describes the occupancy of the malloc pools.
type AllocStats struct {
	Units     int
	UsedUnits int
	Blocks    int
}

// Stats returns the current pool occupancy.
func (a *Allocator) Stats() AllocStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var s AllocStats
	for _, p := range a.pools {
		s.Units += len(p.used)
		for _, u := range p.used {
			if u {
				s.UsedUnits++
			}
		}
	}
	s.Blocks = len(a.live)
	return s
}
