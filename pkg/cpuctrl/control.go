package cpuctrl

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/athrill-go/athrill/pkg/logflags"
)

// AllCores selects every debuggable core in Continue and Step.
const AllCores = -1

// CoreState is the execution state of a core.
type CoreState uint32

const (
	// Running cores execute freely.
	Running CoreState = iota
	// Stopped cores wait for a debugger command.
	Stopped
	// Stepping cores execute a bounded number of instructions.
	Stepping
	// Exited cores have halted and never run again.
	Exited
)

func (s CoreState) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Stepping:
		return "stepping"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("CoreState(%d)", uint32(s))
}

// StopReason says why a core stopped.
type StopReason uint8

const (
	StopNone StopReason = iota
	StopInitial
	StopBreakpoint
	StopWatchpoint
	StopStep
	StopForce
	StopBudget
	StopFault
	StopExit
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopInitial:
		return "initial"
	case StopBreakpoint:
		return "breakpoint"
	case StopWatchpoint:
		return "watchpoint"
	case StopStep:
		return "step"
	case StopForce:
		return "pause"
	case StopBudget:
		return "clock budget"
	case StopFault:
		return "fault"
	case StopExit:
		return "exit"
	}
	return fmt.Sprintf("StopReason(%d)", uint8(r))
}

// StopEvent describes a core entering the Stopped or Exited state.
type StopEvent struct {
	Core   int
	PC     uint32
	Clock  uint64
	Reason StopReason
	// Slot is the breakpoint or watchpoint slot for StopBreakpoint and
	// StopWatchpoint events.
	Slot int
	// Access is the guest address that triggered a watchpoint.
	Access uint32
}

// CoreInfo is a snapshot of the state of a core.
type CoreInfo struct {
	ID         int
	State      CoreState
	Debuggable bool
	PC         uint32
	Clock      uint64
	Reason     StopReason
}

type core struct {
	id         int
	state      atomic.Uint32
	debuggable atomic.Bool
	pc         atomic.Uint32
	clock      atomic.Uint64
	// skip is set when the core resumes, the breakpoint at the current pc
	// is not checked for the first instruction.
	skip atomic.Bool
	// slow is non zero while Retired has work to do: stepping, a clock
	// deadline or a pending watch hit.
	slow atomic.Int32

	// guarded by Controller.mu
	steps    int
	deadline uint64
	reason   StopReason
	watch    *StopEvent
}

func (k *core) getState() CoreState {
	return CoreState(k.state.Load())
}

// Controller owns the debug state of every core. Core goroutines call
// Gate, Check and Retired once per instruction, the debugger goroutine
// calls Continue, Step, Break and SetCoreDebugMode.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	cores []*core
	bps   *BreakpointTable
	wps   *WatchpointTable

	force    atomic.Bool
	current  int
	timed    bool
	budget   uint64
	shutdown atomic.Bool

	stopHook func(StopEvent)

	log logflags.Logger
}

// Config configures a Controller.
type Config struct {
	NumCores int
	// StartStopped places every core in the Stopped state, waiting for
	// the first Continue or Step.
	StartStopped bool
}

// New returns a controller for cfg.NumCores cores, all of them in debug
// mode.
func New(cfg Config, bps *BreakpointTable, wps *WatchpointTable) *Controller {
	if cfg.NumCores <= 0 {
		panic(fmt.Sprintf("invalid number of cores %d", cfg.NumCores))
	}
	c := &Controller{
		bps: bps,
		wps: wps,
		log: logflags.CPUCtrlLogger(),
	}
	c.cond = sync.NewCond(&c.mu)
	for i := 0; i < cfg.NumCores; i++ {
		k := &core{id: i}
		k.debuggable.Store(true)
		if cfg.StartStopped {
			k.state.Store(uint32(Stopped))
			k.reason = StopInitial
		}
		c.cores = append(c.cores, k)
	}
	return c
}

// Breakpoints returns the breakpoint table consulted by Check.
func (c *Controller) Breakpoints() *BreakpointTable {
	return c.bps
}

// Watchpoints returns the watchpoint table.
func (c *Controller) Watchpoints() *WatchpointTable {
	return c.wps
}

// NumCores returns the number of cores.
func (c *Controller) NumCores() int {
	return len(c.cores)
}

// SetStopHook installs a function called, from the core goroutine and
// without locks held, every time a core stops or exits.
func (c *Controller) SetStopHook(fn func(StopEvent)) {
	c.mu.Lock()
	c.stopHook = fn
	c.mu.Unlock()
}

func (c *Controller) core(id int) (*core, error) {
	if id < 0 || id >= len(c.cores) {
		return nil, &NotFoundError{What: "core", ID: id}
	}
	return c.cores[id], nil
}

func (c *Controller) mustCore(id int) *core {
	if id < 0 || id >= len(c.cores) {
		panic(fmt.Sprintf("core %d outside of configured range [0, %d)", id, len(c.cores)))
	}
	return c.cores[id]
}

func (c *Controller) setState(k *core, s CoreState) {
	k.state.Store(uint32(s))
	c.cond.Broadcast()
}

// Gate blocks while core id is stopped. It returns ErrShutdown once the
// controller has been shut down.
func (c *Controller) Gate(id int) error {
	k := c.mustCore(id)
	if c.shutdown.Load() {
		return ErrShutdown
	}
	if k.getState() != Stopped {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k.getState() == Stopped && !c.shutdown.Load() {
		c.cond.Wait()
	}
	if c.shutdown.Load() {
		return ErrShutdown
	}
	return nil
}

// Check is called by core id before executing the instruction at pc. It
// returns true if the core stopped, in which case the instruction must
// not be executed and the core must go back to Gate.
func (c *Controller) Check(id int, pc uint32, clock uint64) bool {
	k := c.mustCore(id)
	k.pc.Store(pc)
	k.clock.Store(clock)
	skip := k.skip.Swap(false)
	if !k.debuggable.Load() {
		return false
	}
	if !c.force.Load() && (skip || !c.bps.Active()) {
		return false
	}

	var ev StopEvent
	c.mu.Lock()
	switch {
	case k.getState() == Stopped || k.getState() == Exited:
		c.mu.Unlock()
		return true
	case c.force.Load():
		ev = c.stopLocked(k, StopForce)
	default:
		bp, ok := c.bps.Hit(pc)
		if !ok {
			c.mu.Unlock()
			return false
		}
		c.log.Debugf("core %d: breakpoint %d (%s) at %#x", id, bp.Slot, bp.Mode, pc)
		ev = c.stopLocked(k, StopBreakpoint)
		ev.Slot = bp.Slot
		c.stopOthersLocked(k)
	}
	hook := c.stopHook
	c.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return true
}

// Retired is called by core id after an instruction completed, with the
// address of the next instruction and the updated clock counter. It
// returns true if the core stopped.
func (c *Controller) Retired(id int, pc uint32, clock uint64) bool {
	k := c.mustCore(id)
	k.pc.Store(pc)
	k.clock.Store(clock)
	if k.slow.Load() == 0 {
		return false
	}

	var ev StopEvent
	c.mu.Lock()
	switch {
	case k.watch != nil:
		w := *k.watch
		k.watch = nil
		k.slow.Add(-1)
		if !k.debuggable.Load() {
			c.mu.Unlock()
			return false
		}
		ev = c.stopLocked(k, StopWatchpoint)
		ev.Slot, ev.Access = w.Slot, w.Access
		c.stopOthersLocked(k)
	case k.getState() == Stepping && k.steps > 0:
		k.steps--
		if k.steps > 0 {
			c.mu.Unlock()
			return false
		}
		ev = c.stopLocked(k, StopStep)
	case k.deadline != 0 && clock >= k.deadline:
		ev = c.stopLocked(k, StopBudget)
	default:
		c.mu.Unlock()
		return false
	}
	hook := c.stopHook
	c.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return true
}

// NotifyWatch records that core id triggered watchpoint slot while
// accessing addr. The core stops after the current instruction retires.
func (c *Controller) NotifyWatch(id int, slot int, addr uint32) {
	k := c.mustCore(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if k.watch == nil {
		k.slow.Add(1)
	}
	k.watch = &StopEvent{Slot: slot, Access: addr}
	c.log.Debugf("core %d: watchpoint %d hit at %#x", id, slot, addr)
}

// stopLocked moves k to Stopped. The caller holds c.mu.
func (c *Controller) stopLocked(k *core, reason StopReason) StopEvent {
	if k.getState() == Stepping {
		k.steps = 0
		k.slow.Add(-1)
	}
	if k.deadline != 0 {
		k.deadline = 0
		k.slow.Add(-1)
	}
	k.reason = reason
	if reason != StopForce {
		c.current = k.id
	}
	c.setState(k, Stopped)
	c.clearForceLocked()
	c.log.Debugf("core %d stopped at %#x: %s", k.id, k.pc.Load(), reason)
	return StopEvent{Core: k.id, PC: k.pc.Load(), Clock: k.clock.Load(), Reason: reason, Slot: -1}
}

// stopOthersLocked asks every other running debuggable core to stop.
func (c *Controller) stopOthersLocked(k *core) {
	for _, o := range c.cores {
		if o != k && o.debuggable.Load() && isActive(o.getState()) {
			c.force.Store(true)
			c.cond.Broadcast()
			return
		}
	}
}

// clearForceLocked drops the force request once no debuggable core is
// left running.
func (c *Controller) clearForceLocked() {
	if !c.force.Load() {
		return
	}
	for _, k := range c.cores {
		if k.debuggable.Load() && isActive(k.getState()) {
			return
		}
	}
	c.force.Store(false)
}

func isActive(s CoreState) bool {
	return s == Running || s == Stepping
}

// Fault stops core id after its current instruction failed. It returns
// false, leaving the core running, if the core is not in debug mode.
func (c *Controller) Fault(id int) bool {
	k := c.mustCore(id)
	if !k.debuggable.Load() {
		return false
	}
	c.mu.Lock()
	ev := c.stopLocked(k, StopFault)
	c.stopOthersLocked(k)
	hook := c.stopHook
	c.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return true
}

// Exit marks core id as permanently halted.
func (c *Controller) Exit(id int) {
	k := c.mustCore(id)
	c.mu.Lock()
	if k.getState() == Stepping {
		k.steps = 0
		k.slow.Add(-1)
	}
	k.reason = StopExit
	c.setState(k, Exited)
	c.clearForceLocked()
	ev := StopEvent{Core: id, PC: k.pc.Load(), Clock: k.clock.Load(), Reason: StopExit, Slot: -1}
	hook := c.stopHook
	c.mu.Unlock()
	c.log.Debugf("core %d exited", id)
	if hook != nil {
		hook(ev)
	}
}

// Halted returns true when every core has exited.
func (c *Controller) Halted() bool {
	for _, k := range c.cores {
		if k.getState() != Exited {
			return false
		}
	}
	return true
}

// Continue resumes the stopped target core, or every stopped debuggable
// core for AllCores. A non zero budget stops each resumed core after it
// has run for budget clocks, in that case Continue waits until the
// resumed cores have stopped again.
func (c *Controller) Continue(target int, budget uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	targets, err := c.targetsLocked(target)
	if err != nil {
		return err
	}
	c.timed = budget != 0
	c.budget = budget
	c.force.Store(false)
	var resumed []*core
	for _, k := range targets {
		if k.getState() != Stopped {
			continue
		}
		if budget != 0 {
			if k.deadline == 0 {
				k.slow.Add(1)
			}
			k.deadline = k.clock.Load() + budget
		}
		k.skip.Store(true)
		k.reason = StopNone
		c.setState(k, Running)
		resumed = append(resumed, k)
	}
	c.log.Debugf("continue core=%d budget=%d resumed=%d", target, budget, len(resumed))
	if budget == 0 {
		return nil
	}
	return c.waitLocked(resumed)
}

// Step executes one instruction on the target core, or on every stopped
// debuggable core for AllCores, and waits for the stepped cores to stop.
func (c *Controller) Step(target int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	targets, err := c.targetsLocked(target)
	if err != nil {
		return err
	}
	c.timed = false
	c.budget = 0
	var stepped []*core
	for _, k := range targets {
		if k.getState() != Stopped {
			continue
		}
		k.steps = 1
		k.slow.Add(1)
		k.skip.Store(true)
		k.reason = StopNone
		c.setState(k, Stepping)
		stepped = append(stepped, k)
	}
	if len(stepped) == 0 {
		return fmt.Errorf("no stopped core to step")
	}
	return c.waitLocked(stepped)
}

// Break asks every running debuggable core to stop and waits until they
// have.
func (c *Controller) Break() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.force.Store(true)
	c.cond.Broadcast()
	var active []*core
	for _, k := range c.cores {
		if k.debuggable.Load() {
			active = append(active, k)
		}
	}
	err := c.waitLocked(active)
	c.clearForceLocked()
	return err
}

// Wait blocks until no debuggable core is running or stepping.
func (c *Controller) Wait() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitLocked(c.cores)
}

func (c *Controller) targetsLocked(target int) ([]*core, error) {
	if target == AllCores {
		var r []*core
		for _, k := range c.cores {
			if k.debuggable.Load() {
				r = append(r, k)
			}
		}
		return r, nil
	}
	k, err := c.core(target)
	if err != nil {
		return nil, err
	}
	if !k.debuggable.Load() {
		return nil, fmt.Errorf("core %d is not in debug mode", target)
	}
	return []*core{k}, nil
}

// waitLocked waits until none of ks is running or stepping.
func (c *Controller) waitLocked(ks []*core) error {
	for {
		if c.shutdown.Load() {
			return ErrShutdown
		}
		busy := false
		for _, k := range ks {
			if k.debuggable.Load() && isActive(k.getState()) {
				busy = true
				break
			}
		}
		if !busy {
			return nil
		}
		c.cond.Wait()
	}
}

// SetCoreDebugMode places core id under debugger control or releases it.
// Releasing the last debuggable core is rejected with an
// *InvariantViolationError and leaves every core unchanged. A released
// core that was stopped resumes running.
func (c *Controller) SetCoreDebugMode(id int, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, err := c.core(id)
	if err != nil {
		return err
	}
	if !on && k.debuggable.Load() && c.numDebuggableLocked() == 1 {
		c.log.Warnf("core %d: refusing to leave debug mode, no other core is debuggable", id)
		return &InvariantViolationError{Core: id}
	}
	c.setDebugLocked(k, on)
	return nil
}

// SetAllCoreDebugMode places every core under debugger control. Releasing
// every core is rejected with an *InvariantViolationError.
func (c *Controller) SetAllCoreDebugMode(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !on {
		c.log.Warnf("refusing to release every core from debug mode")
		return &InvariantViolationError{Core: -1}
	}
	for _, k := range c.cores {
		c.setDebugLocked(k, true)
	}
	return nil
}

func (c *Controller) setDebugLocked(k *core, on bool) {
	k.debuggable.Store(on)
	if !on {
		switch k.getState() {
		case Stopped:
			k.skip.Store(true)
			c.setState(k, Running)
		case Stepping:
			k.steps = 0
			k.slow.Add(-1)
			c.setState(k, Running)
		}
		if k.deadline != 0 {
			k.deadline = 0
			k.slow.Add(-1)
		}
		c.clearForceLocked()
	}
	c.cond.Broadcast()
	c.log.Debugf("core %d debug mode=%v", k.id, on)
}

func (c *Controller) numDebuggableLocked() int {
	n := 0
	for _, k := range c.cores {
		if k.debuggable.Load() {
			n++
		}
	}
	return n
}

// CoreDebugMode returns the debug mode of core id.
func (c *Controller) CoreDebugMode(id int) (bool, error) {
	k, err := c.core(id)
	if err != nil {
		return false, err
	}
	return k.debuggable.Load(), nil
}

// ForceDebug returns true while a force stop is pending.
func (c *Controller) ForceDebug() bool {
	return c.force.Load()
}

// Current returns the core that stopped most recently.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetCurrent selects the core debugger commands default to.
func (c *Controller) SetCurrent(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.core(id); err != nil {
		return err
	}
	c.current = id
	return nil
}

// ContBudget returns the parameters of the last Continue.
func (c *Controller) ContBudget() (timed bool, budget uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timed, c.budget
}

// Core returns a snapshot of core id.
func (c *Controller) Core(id int) (CoreInfo, error) {
	k, err := c.core(id)
	if err != nil {
		return CoreInfo{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked(k), nil
}

// Cores returns a snapshot of every core.
func (c *Controller) Cores() []CoreInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := make([]CoreInfo, len(c.cores))
	for i, k := range c.cores {
		r[i] = c.infoLocked(k)
	}
	return r
}

func (c *Controller) infoLocked(k *core) CoreInfo {
	return CoreInfo{
		ID:         k.id,
		State:      k.getState(),
		Debuggable: k.debuggable.Load(),
		PC:         k.pc.Load(),
		Clock:      k.clock.Load(),
		Reason:     k.reason,
	}
}

// AllStopped returns true if no debuggable core is running or stepping.
func (c *Controller) AllStopped() bool {
	for _, k := range c.cores {
		if k.debuggable.Load() && isActive(k.getState()) {
			return false
		}
	}
	return true
}

// Shutdown wakes every waiter. Gate and the blocking debugger operations
// return ErrShutdown afterwards.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.shutdown.Store(true)
	c.cond.Broadcast()
	c.mu.Unlock()
}
