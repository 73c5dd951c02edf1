package trace

import (
	"sort"
	"sync"
)

// ProfileEntry accumulates the time spent in a function by a core.
type ProfileEntry struct {
	CallNum uint64
	// StartTime is the clock at which the outermost active call began.
	StartTime uint64
	// FuncTime is the time spent executing the function itself.
	FuncTime uint64
	// TotalTime is the time spent between entering and leaving the
	// outermost call, callees included.
	TotalTime    uint64
	RecursionNum uint32
	SPAtEntry    uint32
}

// AvgFuncTime returns FuncTime per call.
func (e ProfileEntry) AvgFuncTime() uint64 {
	if e.CallNum == 0 {
		return 0
	}
	return e.FuncTime / e.CallNum
}

// AvgTotalTime returns TotalTime per call.
func (e ProfileEntry) AvgTotalTime() uint64 {
	if e.CallNum == 0 {
		return 0
	}
	return e.TotalTime / e.CallNum
}

// FuncLookup maps a program counter to the function containing it.
type FuncLookup interface {
	// FuncAt returns the id and entry address of the function containing pc.
	FuncAt(pc uint32) (id int, entry uint32, ok bool)
}

type frame struct {
	fid int
	ret uint32
	sp  uint32
}

type coreProfile struct {
	entries map[int]*ProfileEntry
	stack   []frame
	cur     int
	last    uint64
	started bool
}

// Profiler collects per core, per function call counts and times. Calls
// are detected when a core executes the entry instruction of a function,
// returns when it reaches the return address of the innermost call with
// the stack unwound.
type Profiler struct {
	mu    sync.Mutex
	funcs FuncLookup
	cores []coreProfile
}

// NewProfiler returns a profiler for numCores cores.
func NewProfiler(numCores int, funcs FuncLookup) *Profiler {
	p := &Profiler{funcs: funcs, cores: make([]coreProfile, numCores)}
	p.ResetAll()
	return p
}

// Collect accounts the instruction at pc that core is about to execute.
// sp and ret are the stack pointer and return address register at that
// instruction, now is the core clock.
func (p *Profiler) Collect(core int, pc, sp, ret uint32, now uint64) {
	fid, entry, ok := p.funcs.FuncAt(pc)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := &p.cores[core]
	if cp.started && cp.cur >= 0 {
		cp.entry(cp.cur).FuncTime += now - cp.last
	}
	cp.last = now
	cp.started = true

	for len(cp.stack) > 0 {
		top := cp.stack[len(cp.stack)-1]
		if pc != top.ret || sp < top.sp {
			break
		}
		cp.leave(top, now)
	}
	if pc == entry {
		e := cp.entry(fid)
		e.CallNum++
		if e.RecursionNum == 0 {
			e.StartTime = now
			e.SPAtEntry = sp
		}
		e.RecursionNum++
		cp.stack = append(cp.stack, frame{fid: fid, ret: ret, sp: sp})
	} else if len(cp.stack) > 0 && cp.stack[len(cp.stack)-1].fid != fid {
		// control left the innermost call without going through its
		// return address, unwind to the frame of fid if there is one.
		for i := len(cp.stack) - 1; i >= 0; i-- {
			if cp.stack[i].fid == fid {
				for len(cp.stack) > i+1 {
					cp.leave(cp.stack[len(cp.stack)-1], now)
				}
				break
			}
		}
	}
	cp.cur = fid
}

func (cp *coreProfile) entry(fid int) *ProfileEntry {
	e := cp.entries[fid]
	if e == nil {
		e = &ProfileEntry{}
		cp.entries[fid] = e
	}
	return e
}

func (cp *coreProfile) leave(f frame, now uint64) {
	cp.stack = cp.stack[:len(cp.stack)-1]
	e := cp.entry(f.fid)
	if e.RecursionNum == 0 {
		return
	}
	e.RecursionNum--
	if e.RecursionNum == 0 {
		e.TotalTime += now - e.StartTime
	}
}

// Snapshot returns the entry of function fid on core.
func (p *Profiler) Snapshot(core, fid int) ProfileEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.cores[core].entries[fid]; e != nil {
		return *e
	}
	return ProfileEntry{}
}

// Functions returns the ids of the functions core has called, ascending.
func (p *Profiler) Functions(core int) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var r []int
	for fid, e := range p.cores[core].entries {
		if e.CallNum > 0 {
			r = append(r, fid)
		}
	}
	sort.Ints(r)
	return r
}

// Depth returns the number of active calls on core.
func (p *Profiler) Depth(core int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cores[core].stack)
}

// ResetAll clears every entry of every core.
func (p *Profiler) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.cores {
		p.cores[i] = coreProfile{entries: make(map[int]*ProfileEntry), cur: -1}
	}
}
