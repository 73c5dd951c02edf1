// Package emutest builds small machines for the tests of the packages
// driving an emulator.
package emutest

import (
	"testing"

	"github.com/athrill-go/athrill/pkg/emulator"
	"github.com/athrill-go/athrill/pkg/mpu"
	"github.com/athrill-go/athrill/pkg/symbols"
)

// CounterAddr is the address of the global counter incremented by
// LoopCPU.
const CounterAddr = 0x10000

// LoopCPU executes [0, 0x40) in a loop, two clocks per instruction.
// main is [0, 0x20), inner is [0x20, 0x40). It loads counter at 0x14,
// pushes a return address at 0x1c, stores counter+1 at 0x24 and pops at
// 0x28.
type LoopCPU struct {
	pc, sp  uint32
	counter uint32
}

func (c *LoopCPU) PC() uint32      { return c.pc }
func (c *LoopCPU) SP() uint32      { return c.sp }
func (c *LoopCPU) RetAddr() uint32 { return 0x28 }

func (c *LoopCPU) Exec(bus emulator.Bus) (uint64, error) {
	var err error
	switch c.pc {
	case 0x14:
		c.counter, err = bus.GetData32(CounterAddr)
	case 0x1c:
		c.sp -= 8
		err = bus.PutData32(c.sp, 0x28)
	case 0x24:
		err = bus.PutData32(CounterAddr, c.counter+1)
	case 0x28:
		c.sp += 8
	}
	if err != nil {
		return 0, err
	}
	c.pc = (c.pc + 4) % 0x40
	return 2, nil
}

// NewLoopCPU is an emulator.Arch creating LoopCPUs. The stack of core
// id starts at 0x20100 + id*0x200.
func NewLoopCPU(id int, entry uint32) (emulator.CPU, error) {
	return &LoopCPU{pc: entry, sp: 0x20100 + uint32(id)*0x200}, nil
}

// NewMachine returns an interactive machine of numCores LoopCPUs.
// Code is ROM at [0, 0x1000), counter lives in RAM at CounterAddr and
// the stacks stack_core0 and stack_core1 in RAM at 0x20000.
func NewMachine(t testing.TB, numCores int) *emulator.Machine {
	t.Helper()
	mem := mpu.NewTable(mpu.Config{NumCores: numCores, Protection: true})
	for _, r := range []*mpu.Region{
		mpu.NewRegion(mpu.ROM, 0, 0x1000, mpu.AllCores),
		mpu.NewRegion(mpu.RAM, CounterAddr, 0x1000, mpu.AllCores),
		mpu.NewRegion(mpu.RAM, 0x20000, 0x1000, mpu.AllCores),
	} {
		if err := mem.AddRegion(r); err != nil {
			t.Fatal(err)
		}
	}
	syms := symbols.New(
		[]symbols.Func{{Name: "main", Addr: 0, Size: 0x20}, {Name: "inner", Addr: 0x20, Size: 0x20}},
		[]symbols.Global{
			{Name: "counter", Addr: CounterAddr, Size: 4},
			{Name: "stack_core0", Addr: 0x20000, Size: 0x200},
			{Name: "stack_core1", Addr: 0x20200, Size: 0x200},
		},
	)
	m, err := emulator.New(emulator.Config{NumCores: numCores, Interactive: true, Arch: NewLoopCPU}, mem, syms)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
