package cpuctrl

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MaxWatchpoints is the capacity of a WatchpointTable.
const MaxWatchpoints = 128

// WatchType selects the access directions that trigger a watchpoint.
type WatchType uint8

const (
	WatchRead WatchType = 1 << iota
	WatchWrite

	WatchReadWrite = WatchRead | WatchWrite
)

func (wt WatchType) String() string {
	switch wt {
	case WatchRead:
		return "R"
	case WatchWrite:
		return "W"
	case WatchReadWrite:
		return "RW"
	}
	return fmt.Sprintf("WatchType(%d)", uint8(wt))
}

// matches returns true if an access in the given direction triggers wt.
func (wt WatchType) matches(write bool) bool {
	if write {
		return wt&WatchWrite != 0
	}
	return wt&WatchRead != 0
}

// Watchpoint is a data watchpoint over [Addr, Addr+Size).
type Watchpoint struct {
	Slot int
	Addr uint32
	Size uint32
	Type WatchType
}

func (wp *Watchpoint) intersects(addr uint32, size int) bool {
	return uint64(addr) < uint64(wp.Addr)+uint64(wp.Size) && uint64(wp.Addr) < uint64(addr)+uint64(size)
}

// WatchpointTable is a fixed capacity set of data watchpoints, consulted
// on every guest load and store.
type WatchpointTable struct {
	mu    sync.Mutex
	slots [MaxWatchpoints]Watchpoint
	used  [MaxWatchpoints]bool
	count atomic.Int32
}

// NewWatchpointTable returns an empty table.
func NewWatchpointTable() *WatchpointTable {
	return &WatchpointTable{}
}

// Set adds a watchpoint and returns its slot. A watchpoint over the same
// range gains the access directions of typ.
func (t *WatchpointTable) Set(addr, size uint32, typ WatchType) (int, error) {
	if size == 0 {
		return -1, fmt.Errorf("watchpoint at %#x has zero size", addr)
	}
	if typ&WatchReadWrite == 0 || typ&^WatchReadWrite != 0 {
		return -1, fmt.Errorf("invalid watch type %d", typ)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	free := -1
	for i := range t.slots {
		if !t.used[i] {
			if free < 0 {
				free = i
			}
			continue
		}
		if t.slots[i].Addr == addr && t.slots[i].Size == size {
			t.slots[i].Type |= typ
			return i, nil
		}
	}
	if free < 0 {
		return -1, &TableFullError{Table: "watchpoint", Capacity: MaxWatchpoints}
	}
	t.slots[free] = Watchpoint{Slot: free, Addr: addr, Size: size, Type: typ}
	t.used[free] = true
	t.count.Add(1)
	return free, nil
}

// Delete removes the watchpoint in slot.
func (t *WatchpointTable) Delete(slot int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= MaxWatchpoints || !t.used[slot] {
		return &NotFoundError{What: "watchpoint", ID: slot}
	}
	t.used[slot] = false
	t.slots[slot] = Watchpoint{}
	t.count.Add(-1)
	return nil
}

// DeleteAll removes every watchpoint.
func (t *WatchpointTable) DeleteAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		t.used[i] = false
		t.slots[i] = Watchpoint{}
	}
	t.count.Store(0)
}

// Active returns true if at least one watchpoint is set.
func (t *WatchpointTable) Active() bool {
	return t.count.Load() > 0
}

// CheckAccess returns true if an access of size bytes at addr in the
// given direction triggers a watchpoint.
func (t *WatchpointTable) CheckAccess(addr uint32, size int, write bool) bool {
	_, ok := t.Match(addr, size, write)
	return ok
}

// Match returns the first watchpoint triggered by the access.
func (t *WatchpointTable) Match(addr uint32, size int, write bool) (Watchpoint, bool) {
	if !t.Active() {
		return Watchpoint{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		wp := &t.slots[i]
		if t.used[i] && wp.Type.matches(write) && wp.intersects(addr, size) {
			return *wp, true
		}
	}
	return Watchpoint{}, false
}

// Enumerate returns the set watchpoints in slot order.
func (t *WatchpointTable) Enumerate() []Watchpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := make([]Watchpoint, 0, t.count.Load())
	for i := range t.slots {
		if t.used[i] {
			r = append(r, t.slots[i])
		}
	}
	return r
}

// Len returns the number of set watchpoints.
func (t *WatchpointTable) Len() int {
	return int(t.count.Load())
}
