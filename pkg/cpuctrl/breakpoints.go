package cpuctrl

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxBreakpoints is the capacity of a BreakpointTable.
const MaxBreakpoints = 128

// BreakMode says what happens to a breakpoint once it is hit.
type BreakMode uint8

const (
	// Forever breakpoints stay set until deleted.
	Forever BreakMode = iota
	// Once breakpoints are deleted when they are hit.
	Once
)

func (m BreakMode) String() string {
	switch m {
	case Forever:
		return "FOREVER"
	case Once:
		return "ONCE"
	}
	return fmt.Sprintf("BreakMode(%d)", uint8(m))
}

// Breakpoint is an instruction address breakpoint.
type Breakpoint struct {
	Slot int
	Addr uint32
	Mode BreakMode
}

type bpSlot struct {
	used bool
	addr uint32
	mode BreakMode
}

// BreakpointTable is a fixed capacity set of breakpoints identified by
// slot index.
type BreakpointTable struct {
	mu    sync.Mutex
	slots [MaxBreakpoints]bpSlot
	count atomic.Int32
}

// NewBreakpointTable returns an empty table.
func NewBreakpointTable() *BreakpointTable {
	return &BreakpointTable{}
}

// Set adds a breakpoint at addr and returns its slot. Setting an address
// that already has a breakpoint returns the existing slot, a Forever
// request turns a Once breakpoint into a Forever one.
func (t *BreakpointTable) Set(addr uint32, mode BreakMode) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	free := -1
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used {
			if free < 0 {
				free = i
			}
			continue
		}
		if s.addr == addr {
			if mode == Forever {
				s.mode = Forever
			}
			return i, nil
		}
	}
	if free < 0 {
		return -1, &TableFullError{Table: "breakpoint", Capacity: MaxBreakpoints}
	}
	t.slots[free] = bpSlot{used: true, addr: addr, mode: mode}
	t.count.Add(1)
	return free, nil
}

// Delete removes the breakpoint in slot.
func (t *BreakpointTable) Delete(slot int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= MaxBreakpoints || !t.slots[slot].used {
		return &NotFoundError{What: "breakpoint", ID: slot}
	}
	t.slots[slot] = bpSlot{}
	t.count.Add(-1)
	return nil
}

// DeleteAll removes every breakpoint with the given mode.
func (t *BreakpointTable) DeleteAll(mode BreakMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].mode == mode {
			t.slots[i] = bpSlot{}
			t.count.Add(-1)
		}
	}
}

// Active returns true if at least one breakpoint is set.
func (t *BreakpointTable) Active() bool {
	return t.count.Load() > 0
}

// IsBreakpoint returns true if a breakpoint is set at addr.
func (t *BreakpointTable) IsBreakpoint(addr uint32) bool {
	if !t.Active() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.find(addr) >= 0
}

func (t *BreakpointTable) find(addr uint32) int {
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].addr == addr {
			return i
		}
	}
	return -1
}

// Hit reports the breakpoint at addr, deleting it if it is a Once
// breakpoint.
func (t *BreakpointTable) Hit(addr uint32) (Breakpoint, bool) {
	if !t.Active() {
		return Breakpoint{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.find(addr)
	if i < 0 {
		return Breakpoint{}, false
	}
	s := t.slots[i]
	if s.mode == Once {
		t.slots[i] = bpSlot{}
		t.count.Add(-1)
	}
	return Breakpoint{Slot: i, Addr: s.addr, Mode: s.mode}, true
}

// Get returns the breakpoint in slot.
func (t *BreakpointTable) Get(slot int) (Breakpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= MaxBreakpoints || !t.slots[slot].used {
		return Breakpoint{}, false
	}
	s := t.slots[slot]
	return Breakpoint{Slot: slot, Addr: s.addr, Mode: s.mode}, true
}

// Enumerate returns the set breakpoints in slot order.
func (t *BreakpointTable) Enumerate() []Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := make([]Breakpoint, 0, t.count.Load())
	for i, s := range t.slots {
		if s.used {
			r = append(r, Breakpoint{Slot: i, Addr: s.addr, Mode: s.mode})
		}
	}
	return r
}

// Len returns the number of set breakpoints.
func (t *BreakpointTable) Len() int {
	return int(t.count.Load())
}
