package debugger

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/athrill-go/athrill/service/api"
)

// maxStackWords is the number of stack words shown between two
// recorded stack pointer values.
const maxStackWords = 10

func (d *Debugger) checkCore(core int) error {
	if core < 0 || core >= d.machine.NumCores() {
		return fmt.Errorf("invalid core_id=%d max_core_num=%d", core, d.machine.NumCores())
	}
	return nil
}

// FuncTrace returns the n most recent function entries of core, newest
// first unless oldestFirst is set.
func (d *Debugger) FuncTrace(core, n int, oldestFirst bool) ([]api.CallTraceEntry, error) {
	if err := d.checkCore(core); err != nil {
		return nil, err
	}
	syms := d.machine.Syms
	entries := d.machine.FuncLog.Entries(core, n, oldestFirst)
	r := make([]api.CallTraceEntry, len(entries))
	for i, e := range entries {
		idx := i
		if oldestFirst {
			idx = len(entries) - 1 - i
		}
		r[i] = api.CallTraceEntry{
			Index:    idx,
			Function: syms.FuncName(e.FuncID),
			Offset:   e.PCOffset,
			SP:       e.SP,
			Stack:    syms.StackName(e.SP),
		}
		if g, ok := syms.GlobalByAddr(e.SP); ok {
			r[i].StackOffset = e.SP - g.Addr
		}
	}
	return r, nil
}

// Profile returns the counters of every function core has called.
func (d *Debugger) Profile(core int) ([]api.ProfileEntry, error) {
	if err := d.checkCore(core); err != nil {
		return nil, err
	}
	p := d.machine.Profiler
	var r []api.ProfileEntry
	for _, fid := range p.Functions(core) {
		r = append(r, api.ConvertProfileEntry(d.machine.Syms.FuncName(fid), p.Snapshot(core, fid)))
	}
	return r, nil
}

// AccessHistory returns the recorded accesses to the global name, most
// recent first. Globals that are not tracked yet start being tracked,
// tracked is false in that case.
func (d *Debugger) AccessHistory(name string) (history []api.AccessRecord, tracked bool, err error) {
	syms := d.machine.Syms
	g, ok := syms.GlobalByName(name)
	if !ok {
		return nil, false, &SymbolNotFoundError{Name: name, Candidates: syms.GlobalCandidates(name, maxFindLocationCandidates)}
	}
	access := d.machine.Access
	if !access.Tracked(g.ID) {
		access.Track(g.ID)
		return nil, false, nil
	}
	for _, rec := range access.SortedView(g.ID) {
		history = append(history, api.ConvertAccessRecord(rec, syms))
	}
	return history, true, nil
}

// ExportAccessCSV writes the history of every tracked global to path,
// or to the configured default path if path is empty.
func (d *Debugger) ExportAccessCSV(path string) (string, error) {
	if path == "" {
		path = d.DataAccessCSV()
	}
	fh, err := os.Create(path)
	if err != nil {
		return path, fmt.Errorf("can not open file %s: %v", path, err)
	}
	if err := d.machine.Access.ExportCSV(fh, d.machine.Syms); err != nil {
		fh.Close()
		return path, err
	}
	return path, fh.Close()
}

// Backtrace returns the stack pointer history of every stack, each
// oldest value first. The words found on the stack between two
// consecutive values are attached to the newer one.
func (d *Debugger) Backtrace() []api.Backtrace {
	var r []api.Backtrace
	syms := d.machine.Syms
	for _, stack := range d.machine.Stacks.Stacks() {
		hist := d.machine.Stacks.History(stack)
		bt := api.Backtrace{Stack: syms.GlobalName(stack)}
		prev, havePrev := uint32(0), false
		for i := len(hist) - 1; i >= 0; i-- {
			sp := hist[i]
			f := api.StackFrame{Index: i, SP: sp}
			if havePrev {
				f.Words = d.stackWords(prev, (sp-prev)/4)
			}
			bt.Frames = append(bt.Frames, f)
			prev, havePrev = sp, true
		}
		r = append(r, bt)
	}
	return r
}

// stackWords reads up to n words starting at addr. n wraps around when
// the stack grew, the count is capped at maxStackWords in both cases.
func (d *Debugger) stackWords(addr, n uint32) []api.StackWord {
	if n > maxStackWords {
		n = maxStackWords
	}
	syms := d.machine.Syms
	var r []api.StackWord
	for i := uint32(0); i < n; i++ {
		buf, err := d.ReadMemory(addr, 4)
		if err != nil {
			break
		}
		w := api.StackWord{Addr: addr, Value: binary.LittleEndian.Uint32(buf)}
		if fn, ok := syms.FuncByPC(w.Value); ok {
			w.Symbol, w.Offset = fn.Name, w.Value-fn.Addr
		} else if g, ok := syms.GlobalByAddr(w.Value); ok {
			w.Symbol, w.Offset = g.Name, w.Value-g.Addr
		}
		r = append(r, w)
		addr += 4
	}
	return r
}

// ResetTraces clears the call trace, the profile and the data access
// history of every core.
func (d *Debugger) ResetTraces() {
	d.machine.FuncLog.Reset()
	d.machine.Profiler.ResetAll()
	d.machine.Access.Reset()
}
