// Package trace holds the per core recorders fed by the execution loop:
// function call trace rings, the function profiler, the data access
// recorder and the stack pointer log.
package trace

import "sync"

// FuncLogSize is the number of entries kept per core.
const FuncLogSize = 1024

// CallTraceEntry is recorded every time a core enters a function.
type CallTraceEntry struct {
	// PCOffset is the offset of the recorded pc from the function entry.
	PCOffset uint32
	FuncID   int
	SP       uint32
}

type funcRing struct {
	entries [FuncLogSize]CallTraceEntry
	next    int
	n       int
}

// FuncLog is a ring of the most recent function entries of every core.
type FuncLog struct {
	mu    sync.Mutex
	rings []funcRing
}

// NewFuncLog returns an empty log for numCores cores.
func NewFuncLog(numCores int) *FuncLog {
	return &FuncLog{rings: make([]funcRing, numCores)}
}

// Record appends an entry for core, overwriting the oldest one once the
// ring is full.
func (l *FuncLog) Record(core int, pcOffset uint32, funcID int, sp uint32) {
	l.mu.Lock()
	r := &l.rings[core]
	r.entries[r.next] = CallTraceEntry{PCOffset: pcOffset, FuncID: funcID, SP: sp}
	r.next = (r.next + 1) % FuncLogSize
	if r.n < FuncLogSize {
		r.n++
	}
	l.mu.Unlock()
}

// Len returns the number of entries recorded for core.
func (l *FuncLog) Len(core int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rings[core].n
}

// Get returns the entry idx positions before the newest one.
func (l *FuncLog) Get(core int, idx int) (CallTraceEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rings[core].get(idx)
}

func (r *funcRing) get(idx int) (CallTraceEntry, bool) {
	if idx < 0 || idx >= r.n {
		return CallTraceEntry{}, false
	}
	i := (r.next - 1 - idx + 2*FuncLogSize) % FuncLogSize
	return r.entries[i], true
}

// Entries returns up to n entries of core, newest first unless
// oldestFirst is set. In both cases the n most recent entries are
// selected.
func (l *FuncLog) Entries(core int, n int, oldestFirst bool) []CallTraceEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := &l.rings[core]
	if n > r.n || n < 0 {
		n = r.n
	}
	out := make([]CallTraceEntry, n)
	for i := 0; i < n; i++ {
		e, _ := r.get(i)
		if oldestFirst {
			out[n-1-i] = e
		} else {
			out[i] = e
		}
	}
	return out
}

// Reset empties the ring of every core.
func (l *FuncLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.rings {
		l.rings[i] = funcRing{}
	}
}
