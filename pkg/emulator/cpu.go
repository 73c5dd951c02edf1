// Package emulator runs the cores of a machine, one goroutine per core,
// funneling every instruction through the debug controller and every
// memory access through the region table.
package emulator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/athrill-go/athrill/pkg/mpu"
)

// ErrHalt is returned by CPU.Exec when the core has halted for good.
var ErrHalt = errors.New("cpu halted")

// Bus is the view of guest memory a core executes against.
type Bus interface {
	Fetch(pc uint32, size int) ([]byte, error)
	GetData8(addr uint32) (uint8, error)
	GetData16(addr uint32) (uint16, error)
	GetData32(addr uint32) (uint32, error)
	PutData8(addr uint32, v uint8) error
	PutData16(addr uint32, v uint16) error
	PutData32(addr uint32, v uint32) error
	// Resolve returns the guest buffer [addr, addr+size), for devices
	// copying blocks of guest memory.
	Resolve(addr uint32, size int, kind mpu.AccessKind) ([]byte, error)
	// Allocator returns the malloc pools serving the malloc, calloc,
	// realloc and free system calls of the guest.
	Allocator() *mpu.Allocator
}

// CPU decodes and executes the instructions of one core.
type CPU interface {
	// PC returns the address of the next instruction.
	PC() uint32
	// SP returns the stack pointer.
	SP() uint32
	// RetAddr returns the return address register.
	RetAddr() uint32
	// Exec executes the instruction at PC and returns the clocks it took.
	Exec(bus Bus) (clocks uint64, err error)
}

// Arch creates the CPU of core id, starting execution at entry.
type Arch func(id int, entry uint32) (CPU, error)

var (
	archMu sync.Mutex
	arches = map[string]Arch{}
)

// RegisterArch makes an architecture available by name. It panics if
// name is registered twice.
func RegisterArch(name string, arch Arch) {
	archMu.Lock()
	defer archMu.Unlock()
	if _, dup := arches[name]; dup {
		panic(fmt.Sprintf("architecture %s registered twice", name))
	}
	arches[name] = arch
}

// LookupArch returns the architecture registered under name.
func LookupArch(name string) (Arch, error) {
	archMu.Lock()
	defer archMu.Unlock()
	arch, ok := arches[name]
	if !ok {
		if len(arches) == 0 {
			return nil, fmt.Errorf("unknown architecture %q: no architecture is registered", name)
		}
		return nil, fmt.Errorf("unknown architecture %q", name)
	}
	return arch, nil
}

// Arches returns the names of the registered architectures.
func Arches() []string {
	archMu.Lock()
	defer archMu.Unlock()
	r := make([]string, 0, len(arches))
	for name := range arches {
		r = append(r, name)
	}
	sort.Strings(r)
	return r
}

// coreBus binds the region table to one core.
type coreBus struct {
	id  int
	mem *mpu.Table
}

func (b *coreBus) Fetch(pc uint32, size int) ([]byte, error) { return b.mem.Fetch(b.id, pc, size) }
func (b *coreBus) GetData8(addr uint32) (uint8, error)       { return b.mem.GetData8(b.id, addr) }
func (b *coreBus) GetData16(addr uint32) (uint16, error)     { return b.mem.GetData16(b.id, addr) }
func (b *coreBus) GetData32(addr uint32) (uint32, error)     { return b.mem.GetData32(b.id, addr) }
func (b *coreBus) PutData8(addr uint32, v uint8) error       { return b.mem.PutData8(b.id, addr, v) }
func (b *coreBus) PutData16(addr uint32, v uint16) error     { return b.mem.PutData16(b.id, addr, v) }
func (b *coreBus) PutData32(addr uint32, v uint32) error     { return b.mem.PutData32(b.id, addr, v) }
func (b *coreBus) Allocator() *mpu.Allocator                 { return b.mem.Allocator() }

func (b *coreBus) Resolve(addr uint32, size int, kind mpu.AccessKind) ([]byte, error) {
	return b.mem.Resolve(b.id, addr, size, kind)
}
