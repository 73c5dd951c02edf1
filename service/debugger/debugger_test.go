package debugger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/athrill-go/athrill/pkg/cpuctrl"
	"github.com/athrill-go/athrill/pkg/emulator/emutest"
	"github.com/athrill-go/athrill/service/api"
)

const counterAddr = emutest.CounterAddr

func newTestDebugger(t *testing.T, numCores int) *Debugger {
	t.Helper()
	m := emutest.NewMachine(t, numCores)
	d := newDebugger(&Config{DataAccessCSV: filepath.Join(t.TempDir(), "data_access.csv")}, m)
	t.Cleanup(func() { d.Detach() })
	return d
}

func stopEvents(d *Debugger) chan api.StopEvent {
	ch := make(chan api.StopEvent, 64)
	d.AddStopListener(func(ev api.StopEvent) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

func nextStop(t *testing.T, ch chan api.StopEvent) api.StopEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a stop event")
	}
	return api.StopEvent{}
}

func command(t *testing.T, d *Debugger, cmd api.DebuggerCommand) *api.DebuggerState {
	t.Helper()
	state, err := d.Command(&cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Name, err)
	}
	return state
}

func TestCreateBreakpoint(t *testing.T) {
	d := newTestDebugger(t, 1)
	for _, tc := range []struct {
		loc  string
		addr uint32
		fn   string
	}{
		{"inner", 0x20, "inner"},
		{"inner+0x8", 0x28, "inner"},
		{"*0x30", 0x30, "inner"},
		{"0x4", 0x4, "main"},
		{"/^ma/", 0x0, "main"},
	} {
		bps, err := d.CreateBreakpoint(tc.loc, false)
		if err != nil {
			t.Fatalf("%s: %v", tc.loc, err)
		}
		if len(bps) != 1 || bps[0].Addr != tc.addr || bps[0].FunctionName != tc.fn {
			t.Fatalf("%s: unexpected breakpoints %#v", tc.loc, bps)
		}
	}
	if n := len(d.Breakpoints()); n != 5 {
		t.Fatalf("expected 5 breakpoints, got %d", n)
	}

	_, err := d.CreateBreakpoint("inn", false)
	var nf *SymbolNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected a SymbolNotFoundError, got %v", err)
	}
	if len(nf.Candidates) != 1 || nf.Candidates[0] != "inner" {
		t.Fatalf("unexpected candidates %v", nf.Candidates)
	}

	for _, loc := range []string{"", "*zz", "main+zz", "/unterminated"} {
		if _, err := d.CreateBreakpoint(loc, false); err == nil {
			t.Fatalf("%q: expected an error", loc)
		}
	}

	if err := d.ClearBreakpoint(0); err != nil {
		t.Fatal(err)
	}
	if err := d.ClearBreakpoint(0); err == nil {
		t.Fatalf("deleting a free slot succeeded")
	}
	if _, err := d.CreateBreakpoint("*0x2c", true); err != nil {
		t.Fatal(err)
	}
	d.ClearAllBreakpoints()
	bps := d.Breakpoints()
	if len(bps) != 1 || !bps[0].Once || bps[0].Addr != 0x2c {
		t.Fatalf("expected only the once breakpoint to survive ClearAllBreakpoints, got %#v", bps)
	}
}

func TestContinueStepReturn(t *testing.T) {
	d := newTestDebugger(t, 1)
	stops := stopEvents(d)

	state := command(t, d, api.DebuggerCommand{Name: api.Continue, Core: api.AllCores, Budget: 40})
	if state.Running || state.Cores[0].PC != 0x10 || state.Cores[0].Clock != 40 {
		t.Fatalf("unexpected state after a bounded continue %#v", state.Cores[0])
	}
	if !state.Timed || state.Budget != 40 {
		t.Fatalf("budget not reported: %#v", state)
	}
	if ev := nextStop(t, stops); ev.Reason != cpuctrl.StopBudget.String() {
		t.Fatalf("unexpected stop %#v", ev)
	}

	state = command(t, d, api.DebuggerCommand{Name: api.Step, Core: 0})
	if state.Cores[0].PC != 0x14 || state.Cores[0].Clock != 42 {
		t.Fatalf("unexpected state after step %#v", state.Cores[0])
	}
	if state.Cores[0].SP != 0x20100 || state.Cores[0].RetAddr != 0x28 {
		t.Fatalf("registers of a stopped core not reported: %#v", state.Cores[0])
	}
	nextStop(t, stops)

	state = command(t, d, api.DebuggerCommand{Name: api.Return, Core: api.AllCores})
	if state.Breakpoint == nil || state.Breakpoint.Addr != 0x28 || !state.Breakpoint.Once {
		t.Fatalf("unexpected return breakpoint %#v", state.Breakpoint)
	}
	ev := nextStop(t, stops)
	if ev.Reason != cpuctrl.StopBreakpoint.String() || ev.PC != 0x28 || ev.Breakpoint == nil || !ev.Breakpoint.Once {
		t.Fatalf("unexpected stop %#v", ev)
	}
	if ev.Function == nil || ev.Function.Name != "inner" {
		t.Fatalf("stop not resolved to inner: %#v", ev.Function)
	}
	if len(d.Breakpoints()) != 0 {
		t.Fatalf("return breakpoint still set")
	}
}

func TestContinueWaitAndHalt(t *testing.T) {
	d := newTestDebugger(t, 2)
	if _, err := d.CreateBreakpoint("inner", false); err != nil {
		t.Fatal(err)
	}
	state := command(t, d, api.DebuggerCommand{Name: api.Continue, Core: api.AllCores, Wait: true})
	if state.Running {
		t.Fatalf("Continue with Wait returned while cores are running")
	}
	if c := state.Cores[state.Current]; c.PC != 0x20 || c.Reason != cpuctrl.StopBreakpoint.String() {
		t.Fatalf("unexpected current core %#v", c)
	}

	d.ClearAllBreakpoints()
	command(t, d, api.DebuggerCommand{Name: api.Continue, Core: api.AllCores})
	state = command(t, d, api.DebuggerCommand{Name: api.Halt})
	if state.Running || state.ForceDebug {
		t.Fatalf("cores still running after halt: %#v", state)
	}
	for _, c := range state.Cores {
		if c.State != cpuctrl.Stopped.String() {
			t.Fatalf("core %d is %s after halt", c.ID, c.State)
		}
	}
}

func TestHaltDuringBoundedContinue(t *testing.T) {
	d := newTestDebugger(t, 2)
	type result struct {
		state *api.DebuggerState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		s, err := d.Command(&api.DebuggerCommand{Name: api.Continue, Core: 0, Budget: 1 << 40})
		done <- result{s, err}
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if info, _ := d.machine.Ctrl.Core(0); info.Clock > 100 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("core 0 did not run")
		}
		time.Sleep(time.Millisecond)
	}

	// The bounded continue holds targetMutex while it waits.
	halted := make(chan error, 1)
	go func() {
		_, err := d.Command(&api.DebuggerCommand{Name: api.Halt})
		halted <- err
	}()
	var r result
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("bounded continue not interrupted by halt")
	}
	if r.err != nil {
		t.Fatal(r.err)
	}
	if c := r.state.Cores[0]; c.State != cpuctrl.Stopped.String() || c.Reason != cpuctrl.StopForce.String() {
		t.Fatalf("unexpected core 0 after halt %#v", c)
	}
	select {
	case err := <-halted:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("halt did not return")
	}
	if info, _ := d.machine.Ctrl.Core(1); info.Clock != 0 {
		t.Fatalf("core 1 ran while only core 0 was continued: %+v", info)
	}
}

func TestStepViewsSteppedCore(t *testing.T) {
	d := newTestDebugger(t, 2)
	if got := d.viewStepped(1); len(got) != 1 || got[0] != 1 {
		t.Fatalf("viewStepped(1) = %v", got)
	}
	if d.machine.Viewing(0) || !d.machine.Viewing(1) || d.ViewMode() {
		t.Fatalf("view mode not scoped to core 1")
	}
	d.machine.SetCoreViewMode(1, false)

	command(t, d, api.DebuggerCommand{Name: api.Step, Core: 1})
	for id := 0; id < 2; id++ {
		if d.machine.Viewing(id) {
			t.Fatalf("core %d still viewed after the step", id)
		}
	}

	d.SetViewMode(true)
	command(t, d, api.DebuggerCommand{Name: api.Step, Core: 0})
	if !d.ViewMode() || !d.machine.Viewing(1) {
		t.Fatalf("step turned off the view mode of the machine")
	}
}

func TestCoreDebugMode(t *testing.T) {
	d := newTestDebugger(t, 2)
	if err := d.SetCoreDebugMode(1, false); err != nil {
		t.Fatal(err)
	}
	var iv *cpuctrl.InvariantViolationError
	if err := d.SetCoreDebugMode(0, false); !errors.As(err, &iv) {
		t.Fatalf("expected an invariant violation, got %v", err)
	}
	if err := d.SetCoreDebugMode(api.AllCores, false); !errors.As(err, &iv) {
		t.Fatalf("expected an invariant violation, got %v", err)
	}
	if err := d.SetCoreDebugMode(api.AllCores, true); err != nil {
		t.Fatal(err)
	}
	if err := d.SetCoreDebugMode(7, true); err == nil {
		t.Fatalf("expected an error for an invalid core")
	}
	if _, err := d.FuncTrace(7, 10, false); err == nil {
		t.Fatalf("expected an error for an invalid core")
	}
}

func TestWatchpoint(t *testing.T) {
	d := newTestDebugger(t, 1)
	stops := stopEvents(d)
	wp, err := d.CreateWatchpoint("counter", 0, cpuctrl.WatchWrite)
	if err != nil {
		t.Fatal(err)
	}
	if wp.Addr != counterAddr || wp.Size != 4 || wp.Symbol != "counter" || wp.Type != "W" {
		t.Fatalf("unexpected watchpoint %#v", wp)
	}
	command(t, d, api.DebuggerCommand{Name: api.Continue, Core: api.AllCores})
	ev := nextStop(t, stops)
	if ev.Watchpoint == nil || ev.Access != counterAddr || ev.PC != 0x28 {
		t.Fatalf("unexpected stop %#v", ev)
	}
	if err := d.ClearWatchpoint(wp.ID); err != nil {
		t.Fatal(err)
	}
	if len(d.Watchpoints()) != 0 {
		t.Fatalf("watchpoint still set")
	}
	if _, err := d.CreateWatchpoint("nothere", 0, cpuctrl.WatchRead); err == nil {
		t.Fatalf("expected an error for an unknown global")
	}
}

func TestMemoryAccess(t *testing.T) {
	d := newTestDebugger(t, 1)
	if err := d.WriteMemory(counterAddr, []byte{5, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	g, data, err := d.EvalSymbol("counter", 0)
	if err != nil {
		t.Fatal(err)
	}
	if g.Name != "counter" || g.Addr != counterAddr || len(data) != 4 || data[0] != 5 {
		t.Fatalf("unexpected value %#v %v", g, data)
	}
	_, data, err = d.EvalSymbol("0x10000", 2)
	if err != nil || len(data) != 2 {
		t.Fatalf("reading by address: %v %v", data, err)
	}
	if _, _, err := d.EvalSymbol("0xfff00000", 4); err == nil {
		t.Fatalf("expected an error reading unmapped memory")
	}
	// debugger writes patch read only memory
	if err := d.WriteMemory(0x100, []byte{1}); err != nil {
		t.Fatal(err)
	}
}

func TestAccessHistory(t *testing.T) {
	d := newTestDebugger(t, 1)
	_, tracked, err := d.AccessHistory("counter")
	if err != nil || tracked {
		t.Fatalf("first AccessHistory: tracked=%v err=%v", tracked, err)
	}
	command(t, d, api.DebuggerCommand{Name: api.Continue, Core: api.AllCores, Budget: 64})
	hist, tracked, err := d.AccessHistory("counter")
	if err != nil || !tracked {
		t.Fatalf("second AccessHistory: tracked=%v err=%v", tracked, err)
	}
	// two loads and two stores
	if len(hist) != 4 {
		t.Fatalf("expected 4 accesses, got %#v", hist)
	}
	if hist[0].Type != "WRITE" || hist[0].Function != "inner" || hist[0].Stack != "stack_core0" {
		t.Fatalf("unexpected most recent access %#v", hist[0])
	}
	if hist[0].Clock < hist[1].Clock {
		t.Fatalf("history not sorted by clock: %#v", hist)
	}

	path, err := d.ExportAccessCSV("")
	if err != nil {
		t.Fatal(err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	if lines[0] != "variable,access_clock,type,core,stack,access_func," || len(lines) != 5 {
		t.Fatalf("unexpected export %q", buf)
	}
	if !strings.HasPrefix(lines[1], "counter,") || !strings.HasSuffix(lines[1], ",WRITE,core0,stack_core0,inner(),") {
		t.Fatalf("unexpected first row %q", lines[1])
	}
}

func TestTraces(t *testing.T) {
	d := newTestDebugger(t, 1)
	command(t, d, api.DebuggerCommand{Name: api.Continue, Core: api.AllCores, Budget: 40})

	ft, err := d.FuncTrace(0, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	// main, inner, main
	if len(ft) != 3 || ft[0].Function != "main" || ft[1].Function != "inner" || ft[1].Index != 1 {
		t.Fatalf("unexpected trace %#v", ft)
	}
	if ft[1].Stack != "stack_core0" || ft[1].StackOffset != 0xf8 {
		t.Fatalf("unexpected stack of %#v", ft[1])
	}
	old, _ := d.FuncTrace(0, 10, true)
	if old[0].Index != 2 || old[2].Index != 0 {
		t.Fatalf("unexpected oldest first trace %#v", old)
	}

	prof, err := d.Profile(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(prof) != 2 || prof[0].Function != "main" || prof[1].Function != "inner" || prof[1].CallNum != 1 {
		t.Fatalf("unexpected profile %#v", prof)
	}

	bts := d.Backtrace()
	if len(bts) != 1 || bts[0].Stack != "stack_core0" {
		t.Fatalf("unexpected backtrace %#v", bts)
	}
	frames := bts[0].Frames
	if len(frames) != 3 || frames[0].SP != 0x20100 || frames[1].SP != 0x200f8 || frames[2].SP != 0x20100 {
		t.Fatalf("unexpected frames %#v", frames)
	}
	if len(frames[1].Words) != maxStackWords {
		t.Fatalf("expected %d words, got %d", maxStackWords, len(frames[1].Words))
	}
	w := frames[2].Words
	if len(w) != 2 || w[0].Addr != 0x200f8 || w[0].Value != 0x28 || w[0].Symbol != "inner" || w[0].Offset != 8 {
		t.Fatalf("unexpected words %#v", w)
	}

	if e := d.Elaps(); e[0] != 40 {
		t.Fatalf("unexpected elaps %v", e)
	}
	d.ResetTraces()
	if ft, _ := d.FuncTrace(0, 10, false); len(ft) != 0 {
		t.Fatalf("trace not reset")
	}
}
