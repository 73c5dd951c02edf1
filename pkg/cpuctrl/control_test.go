package cpuctrl

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeMachine runs a scripted core loop per core: every instruction is 4
// bytes long and takes one clock, the program counter wraps at 0x100.
type fakeMachine struct {
	c      *Controller
	wg     sync.WaitGroup
	events chan StopEvent
	// onExec is called before pc is executed by core.
	onExec func(core int, pc uint32)
	// exitAt makes a core exit when it reaches the given clock.
	exitAt uint64
}

func newFakeMachine(t *testing.T, numCores int, startStopped bool) *fakeMachine {
	m := &fakeMachine{
		c:      New(Config{NumCores: numCores, StartStopped: startStopped}, NewBreakpointTable(), NewWatchpointTable()),
		events: make(chan StopEvent, 1024),
	}
	m.c.SetStopHook(func(ev StopEvent) { m.events <- ev })
	t.Cleanup(func() {
		m.c.Shutdown()
		m.wg.Wait()
	})
	return m
}

func (m *fakeMachine) start() {
	for i := 0; i < m.c.NumCores(); i++ {
		m.wg.Add(1)
		go func(id int) {
			defer m.wg.Done()
			var pc uint32
			var clock uint64
			for {
				if err := m.c.Gate(id); err != nil {
					return
				}
				if m.c.Check(id, pc, clock) {
					continue
				}
				if m.onExec != nil {
					m.onExec(id, pc)
				}
				pc = (pc + 4) % 0x100
				clock++
				m.c.Retired(id, pc, clock)
				if m.exitAt != 0 && clock >= m.exitAt {
					m.c.Exit(id)
					return
				}
			}
		}(i)
	}
}

func (m *fakeMachine) nextEvent(t *testing.T) StopEvent {
	t.Helper()
	select {
	case ev := <-m.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a stop event")
	}
	return StopEvent{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestContinueToBreakpoint(t *testing.T) {
	m := newFakeMachine(t, 1, true)
	m.c.Breakpoints().Set(0x20, Forever)
	m.start()
	if err := m.c.Continue(AllCores, 0); err != nil {
		t.Fatal(err)
	}
	ev := m.nextEvent(t)
	if ev.Reason != StopBreakpoint || ev.PC != 0x20 || ev.Core != 0 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Clock != 8 {
		t.Fatalf("expected to stop before executing the ninth instruction, clock=%d", ev.Clock)
	}

	// resuming executes the instruction at the breakpoint and comes
	// back around to it
	m.c.Continue(AllCores, 0)
	ev = m.nextEvent(t)
	if ev.Reason != StopBreakpoint || ev.PC != 0x20 || ev.Clock != 8+0x40 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestOnceBreakpointHit(t *testing.T) {
	m := newFakeMachine(t, 1, true)
	m.c.Breakpoints().Set(0x10, Once)
	m.start()
	m.c.Continue(AllCores, 0)
	if ev := m.nextEvent(t); ev.Reason != StopBreakpoint {
		t.Fatalf("unexpected event %+v", ev)
	}
	if m.c.Breakpoints().IsBreakpoint(0x10) {
		t.Fatalf("once breakpoint still set after the core stopped on it")
	}
}

func TestStep(t *testing.T) {
	m := newFakeMachine(t, 2, true)
	m.start()
	for i := 1; i <= 3; i++ {
		if err := m.c.Step(0); err != nil {
			t.Fatal(err)
		}
		info, _ := m.c.Core(0)
		if info.State != Stopped || info.PC != uint32(4*i) || info.Clock != uint64(i) || info.Reason != StopStep {
			t.Fatalf("step %d: unexpected state %+v", i, info)
		}
	}
	if info, _ := m.c.Core(1); info.Clock != 0 {
		t.Fatalf("core 1 ran while core 0 was stepped: %+v", info)
	}
}

func TestStepOverBreakpoint(t *testing.T) {
	m := newFakeMachine(t, 1, true)
	m.c.Breakpoints().Set(0x0, Forever)
	m.start()
	if err := m.c.Step(0); err != nil {
		t.Fatal(err)
	}
	if info, _ := m.c.Core(0); info.PC != 4 || info.Reason != StopStep {
		t.Fatalf("step did not move past the breakpoint: %+v", info)
	}
}

func TestContinueBudget(t *testing.T) {
	m := newFakeMachine(t, 1, true)
	m.start()
	if err := m.c.Continue(0, 10); err != nil {
		t.Fatal(err)
	}
	info, _ := m.c.Core(0)
	if info.State != Stopped || info.Clock != 10 || info.Reason != StopBudget {
		t.Fatalf("unexpected state after bounded continue %+v", info)
	}
	if timed, budget := m.c.ContBudget(); !timed || budget != 10 {
		t.Fatalf("wrong cont budget %v %d", timed, budget)
	}
	m.c.Continue(0, 5)
	if info, _ := m.c.Core(0); info.Clock != 15 {
		t.Fatalf("budget not relative to the current clock: %+v", info)
	}
}

func TestBreakStopsAllCores(t *testing.T) {
	m := newFakeMachine(t, 3, false)
	m.start()
	waitFor(t, "cores to run", func() bool {
		for _, info := range m.c.Cores() {
			if info.Clock < 100 {
				return false
			}
		}
		return true
	})
	if err := m.c.Break(); err != nil {
		t.Fatal(err)
	}
	for _, info := range m.c.Cores() {
		if info.State != Stopped || info.Reason != StopForce {
			t.Fatalf("core not stopped by Break: %+v", info)
		}
	}
	if m.c.ForceDebug() {
		t.Fatalf("force flag still set after every core stopped")
	}
	clocks := m.c.Cores()
	time.Sleep(10 * time.Millisecond)
	for i, info := range m.c.Cores() {
		if info.Clock != clocks[i].Clock {
			t.Fatalf("core %d kept running after Break", i)
		}
	}
}

func TestBreakpointStopsOtherCores(t *testing.T) {
	m := newFakeMachine(t, 2, true)
	m.onExec = func(core int, pc uint32) {
		if core == 1 {
			time.Sleep(10 * time.Microsecond)
		}
	}
	m.c.Breakpoints().Set(0x80, Forever)
	m.start()
	if err := m.c.SetCoreDebugMode(1, true); err != nil {
		t.Fatal(err)
	}
	m.c.Continue(AllCores, 0)
	ev := m.nextEvent(t)
	if ev.Reason != StopBreakpoint {
		t.Fatalf("unexpected first event %+v", ev)
	}
	waitFor(t, "all cores to stop", m.c.AllStopped)
	if m.c.Current() != ev.Core {
		t.Fatalf("current core %d, expected %d", m.c.Current(), ev.Core)
	}
}

func TestBreakInterruptsBoundedContinue(t *testing.T) {
	m := newFakeMachine(t, 2, true)
	m.start()
	done := make(chan error, 1)
	go func() { done <- m.c.Continue(AllCores, 1<<40) }()
	waitFor(t, "cores to run", func() bool {
		for _, info := range m.c.Cores() {
			if info.Clock < 50 {
				return false
			}
		}
		return true
	})
	if err := m.c.Break(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("bounded continue still waiting after Break")
	}
	for _, info := range m.c.Cores() {
		if info.State != Stopped || info.Reason != StopForce {
			t.Fatalf("core not stopped by Break: %+v", info)
		}
	}
	for _, k := range m.c.cores {
		if k.slow.Load() != 0 {
			t.Fatalf("core %d: clock deadline left armed", k.id)
		}
	}
}

func TestBoundedContinueStopsRunningCores(t *testing.T) {
	m := newFakeMachine(t, 2, true)
	m.onExec = func(core int, pc uint32) {
		if core == 0 && pc == 0x40 {
			m.c.NotifyWatch(core, 3, 0x2000)
		}
	}
	m.start()
	if err := m.c.Continue(1, 0); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "core 1 to run", func() bool {
		info, _ := m.c.Core(1)
		return info.Clock > 10
	})
	if err := m.c.Continue(0, 1000); err != nil {
		t.Fatal(err)
	}
	if info, _ := m.c.Core(0); info.State != Stopped || info.Reason != StopWatchpoint || info.PC != 0x44 {
		t.Fatalf("unexpected core 0 %+v", info)
	}
	waitFor(t, "core 1 to stop", m.c.AllStopped)
	if info, _ := m.c.Core(1); info.State != Stopped || info.Reason != StopForce {
		t.Fatalf("core 1 not stopped with core 0: %+v", info)
	}
	if m.c.Current() != 0 {
		t.Fatalf("current core %d, expected 0", m.c.Current())
	}
}

func TestWatchpointStop(t *testing.T) {
	m := newFakeMachine(t, 1, true)
	m.onExec = func(core int, pc uint32) {
		if pc == 0x30 {
			m.c.NotifyWatch(core, 5, 0x1000)
		}
	}
	m.start()
	m.c.Continue(AllCores, 0)
	ev := m.nextEvent(t)
	if ev.Reason != StopWatchpoint || ev.Slot != 5 || ev.Access != 0x1000 || ev.PC != 0x34 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestDebugModeInvariant(t *testing.T) {
	c := New(Config{NumCores: 2}, NewBreakpointTable(), NewWatchpointTable())
	if err := c.SetCoreDebugMode(0, false); err != nil {
		t.Fatalf("releasing core 0: %v", err)
	}
	var ive *InvariantViolationError
	if err := c.SetCoreDebugMode(1, false); !errors.As(err, &ive) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}
	if on, _ := c.CoreDebugMode(1); !on {
		t.Fatalf("rejected request changed the state of core 1")
	}
	if err := c.SetAllCoreDebugMode(false); !errors.As(err, &ive) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}
	if on, _ := c.CoreDebugMode(1); !on {
		t.Fatalf("rejected request changed the state of core 1")
	}
	if err := c.SetAllCoreDebugMode(true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetCoreDebugMode(1, false); err != nil {
		t.Fatalf("releasing core 1 with core 0 debuggable: %v", err)
	}
}

func TestInvalidCore(t *testing.T) {
	c := New(Config{NumCores: 2}, NewBreakpointTable(), NewWatchpointTable())
	var nfe *NotFoundError
	if err := c.Continue(2, 0); !errors.As(err, &nfe) {
		t.Fatalf("Continue: expected NotFoundError, got %v", err)
	}
	if err := c.Step(-5); !errors.As(err, &nfe) {
		t.Fatalf("Step: expected NotFoundError, got %v", err)
	}
	if _, err := c.Core(9); !errors.As(err, &nfe) {
		t.Fatalf("Core: expected NotFoundError, got %v", err)
	}
	if err := c.SetCoreDebugMode(2, true); !errors.As(err, &nfe) {
		t.Fatalf("SetCoreDebugMode: expected NotFoundError, got %v", err)
	}
}

func TestReleasedCoreRunsFree(t *testing.T) {
	m := newFakeMachine(t, 2, true)
	m.c.Breakpoints().Set(0x0, Forever)
	m.start()
	if err := m.c.SetCoreDebugMode(1, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "core 1 to run", func() bool {
		info, _ := m.c.Core(1)
		return info.Clock > 0x100
	})
	if info, _ := m.c.Core(0); info.Clock != 0 || info.State != Stopped {
		t.Fatalf("core 0 left the stopped state: %+v", info)
	}
	if err := m.c.Break(); err != nil {
		t.Fatal(err)
	}
	if info, _ := m.c.Core(1); info.State != Running {
		t.Fatalf("Break stopped a core outside debug mode: %+v", info)
	}
}

func TestExit(t *testing.T) {
	m := newFakeMachine(t, 1, false)
	m.exitAt = 20
	m.start()
	ev := m.nextEvent(t)
	if ev.Reason != StopExit {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !m.c.Halted() {
		t.Fatalf("controller not halted after every core exited")
	}
	if err := m.c.Break(); err != nil {
		t.Fatalf("Break on an exited machine: %v", err)
	}
}

func TestShutdownWakesWaiters(t *testing.T) {
	c := New(Config{NumCores: 1, StartStopped: true}, NewBreakpointTable(), NewWatchpointTable())
	done := make(chan error)
	go func() { done <- c.Gate(0) }()
	time.Sleep(time.Millisecond)
	c.Shutdown()
	select {
	case err := <-done:
		if err != ErrShutdown {
			t.Fatalf("expected ErrShutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Gate did not return after Shutdown")
	}
}

func TestFault(t *testing.T) {
	c := New(Config{NumCores: 2}, NewBreakpointTable(), NewWatchpointTable())
	var events []StopEvent
	c.SetStopHook(func(ev StopEvent) { events = append(events, ev) })
	c.Check(0, 0x40, 3)
	if !c.Fault(0) {
		t.Fatalf("debuggable core not stopped on fault")
	}
	if info, _ := c.Core(0); info.State != Stopped || info.Reason != StopFault || info.PC != 0x40 {
		t.Fatalf("unexpected state %+v", info)
	}
	if len(events) != 1 || events[0].Reason != StopFault {
		t.Fatalf("unexpected events %+v", events)
	}
	if !c.ForceDebug() {
		t.Fatalf("other running core not asked to stop")
	}
	c.SetCoreDebugMode(1, false)
	if c.Fault(1) {
		t.Fatalf("core outside debug mode stopped on fault")
	}
}

func TestWait(t *testing.T) {
	m := newFakeMachine(t, 2, true)
	m.c.Breakpoints().Set(0x40, Forever)
	m.start()
	if err := m.c.Continue(AllCores, 0); err != nil {
		t.Fatal(err)
	}
	if err := m.c.Wait(); err != nil {
		t.Fatal(err)
	}
	if !m.c.AllStopped() {
		t.Fatalf("Wait returned with a core still running: %+v", m.c.Cores())
	}
}
