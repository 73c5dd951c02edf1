package api

import (
	"github.com/athrill-go/athrill/pkg/cpuctrl"
	"github.com/athrill-go/athrill/pkg/mpu"
	"github.com/athrill-go/athrill/pkg/symbols"
	"github.com/athrill-go/athrill/pkg/trace"
)

// ConvertFunction converts a symbol table function to an API Function.
func ConvertFunction(fn symbols.Func) *Function {
	return &Function{ID: fn.ID, Name: fn.Name, Addr: fn.Addr, Size: fn.Size}
}

// ConvertGlobal converts a symbol table global to an API Global.
func ConvertGlobal(g symbols.Global) Global {
	return Global{ID: g.ID, Name: g.Name, Addr: g.Addr, Size: g.Size}
}

func functionAt(syms *symbols.Table, pc uint32) *Function {
	if syms == nil {
		return nil
	}
	fn, ok := syms.FuncByPC(pc)
	if !ok {
		return nil
	}
	return ConvertFunction(fn)
}

// ConvertCore converts the state of a core.
func ConvertCore(info cpuctrl.CoreInfo, syms *symbols.Table) Core {
	c := Core{
		ID:         info.ID,
		State:      info.State.String(),
		Debuggable: info.Debuggable,
		PC:         info.PC,
		Clock:      info.Clock,
		Function:   functionAt(syms, info.PC),
	}
	if info.Reason != cpuctrl.StopNone {
		c.Reason = info.Reason.String()
	}
	return c
}

// ConvertBreakpoint converts a breakpoint table entry.
func ConvertBreakpoint(bp cpuctrl.Breakpoint, syms *symbols.Table) *Breakpoint {
	r := &Breakpoint{ID: bp.Slot, Addr: bp.Addr, Once: bp.Mode == cpuctrl.Once}
	if fn := functionAt(syms, bp.Addr); fn != nil {
		r.FunctionName = fn.Name
		r.Offset = bp.Addr - fn.Addr
	}
	return r
}

// ConvertWatchpoint converts a watchpoint table entry.
func ConvertWatchpoint(wp cpuctrl.Watchpoint, syms *symbols.Table) *Watchpoint {
	r := &Watchpoint{ID: wp.Slot, Addr: wp.Addr, Size: wp.Size, Type: wp.Type.String()}
	if syms != nil {
		if g, ok := syms.GlobalByAddr(wp.Addr); ok {
			r.Symbol = g.Name
		}
	}
	return r
}

// ConvertStopEvent converts a stop notification. Breakpoints that were
// deleted by the stop itself are rebuilt from the event.
func ConvertStopEvent(ev cpuctrl.StopEvent, bps *cpuctrl.BreakpointTable, wps *cpuctrl.WatchpointTable, syms *symbols.Table) StopEvent {
	r := StopEvent{
		Core:     ev.Core,
		PC:       ev.PC,
		Clock:    ev.Clock,
		Reason:   ev.Reason.String(),
		Function: functionAt(syms, ev.PC),
	}
	switch ev.Reason {
	case cpuctrl.StopBreakpoint:
		bp, ok := bps.Get(ev.Slot)
		if !ok || bp.Addr != ev.PC {
			bp = cpuctrl.Breakpoint{Slot: ev.Slot, Addr: ev.PC, Mode: cpuctrl.Once}
		}
		r.Breakpoint = ConvertBreakpoint(bp, syms)
	case cpuctrl.StopWatchpoint:
		r.Access = ev.Access
		for _, wp := range wps.Enumerate() {
			if wp.Slot == ev.Slot {
				r.Watchpoint = ConvertWatchpoint(wp, syms)
				break
			}
		}
	}
	return r
}

// ConvertRegion converts a memory region.
func ConvertRegion(r *mpu.Region) Region {
	return Region{
		Name:       r.Name,
		Kind:       r.Kind.String(),
		Start:      r.Start,
		Size:       r.Size,
		Permission: r.Permission,
		Executable: r.Executable,
	}
}

// ConvertProfileEntry converts the profile of function fn.
func ConvertProfileEntry(fn string, e trace.ProfileEntry) ProfileEntry {
	return ProfileEntry{
		Function:     fn,
		CallNum:      e.CallNum,
		FuncTime:     e.FuncTime,
		TotalTime:    e.TotalTime,
		AvgFuncTime:  e.AvgFuncTime(),
		AvgTotalTime: e.AvgTotalTime(),
		RecursionNum: e.RecursionNum,
	}
}

// ConvertAccessRecord converts a data access record.
func ConvertAccessRecord(rec trace.AccessRecord, names trace.Names) AccessRecord {
	return AccessRecord{
		Type:     rec.Type.String(),
		Core:     rec.Core,
		Clock:    rec.Time,
		Stack:    names.StackName(rec.SP),
		Function: names.FuncName(rec.FuncID),
	}
}
