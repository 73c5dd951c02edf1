package emulator

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/athrill-go/athrill/pkg/cpuctrl"
	"github.com/athrill-go/athrill/pkg/logflags"
	"github.com/athrill-go/athrill/pkg/mpu"
	"github.com/athrill-go/athrill/pkg/symbols"
	"github.com/athrill-go/athrill/pkg/trace"
)

// Config configures a Machine.
type Config struct {
	NumCores int
	// Interactive starts every core stopped, waiting for the debugger.
	Interactive bool
	// EndClock halts each core once its clock reaches it, zero means
	// no limit.
	EndClock uint64
	// ViewMode logs every executed instruction.
	ViewMode bool
	Arch     Arch
	Entry    uint32
}

// Machine is a set of cores sharing a region table.
type Machine struct {
	cfg Config

	Mem      *mpu.Table
	Ctrl     *cpuctrl.Controller
	Syms     *symbols.Table
	FuncLog  *trace.FuncLog
	Profiler *trace.Profiler
	Access   *trace.DataAccessRecorder
	Stacks   *trace.StackLog

	cpus  []CPU
	buses []*coreBus
	last  []coreLast
	view  atomic.Bool
	// coreView logs the instructions of a single core, while it is
	// stepped.
	coreView []atomic.Bool

	log logflags.Logger
}

// coreLast is owned by the goroutine of its core.
type coreLast struct {
	fid   int
	sp    uint32
	ok    bool
	clock uint64
}

// New creates the cores of a machine over mem, which must be populated
// and not yet sealed. New installs the access hooks and seals mem.
func New(cfg Config, mem *mpu.Table, syms *symbols.Table) (*Machine, error) {
	if cfg.NumCores <= 0 {
		return nil, errors.New("a machine needs at least one core")
	}
	if cfg.Arch == nil {
		return nil, errors.New("no architecture")
	}
	if syms == nil {
		syms = symbols.New(nil, nil)
	}
	m := &Machine{
		cfg:      cfg,
		Mem:      mem,
		Syms:     syms,
		Ctrl:     cpuctrl.New(cpuctrl.Config{NumCores: cfg.NumCores, StartStopped: cfg.Interactive}, cpuctrl.NewBreakpointTable(), cpuctrl.NewWatchpointTable()),
		FuncLog:  trace.NewFuncLog(cfg.NumCores),
		Profiler: trace.NewProfiler(cfg.NumCores, syms),
		Access:   trace.NewDataAccessRecorder(),
		Stacks:   trace.NewStackLog(),
		last:     make([]coreLast, cfg.NumCores),
		coreView: make([]atomic.Bool, cfg.NumCores),
		log:      logflags.EmulatorLogger(),
	}
	m.view.Store(cfg.ViewMode)
	for i := 0; i < cfg.NumCores; i++ {
		cpu, err := cfg.Arch(i, cfg.Entry)
		if err != nil {
			return nil, err
		}
		m.cpus = append(m.cpus, cpu)
		m.buses = append(m.buses, &coreBus{id: i, mem: mem})
	}
	err := mem.SetHooks(mpu.Hooks{
		Watch:   m.Ctrl.Watchpoints(),
		OnWatch: m.onWatch,
		Observe: m.observe,
	})
	if err != nil {
		return nil, err
	}
	mem.Seal()
	return m, nil
}

// NumCores returns the number of cores.
func (m *Machine) NumCores() int {
	return len(m.cpus)
}

// CPU returns the CPU of core id.
func (m *Machine) CPU(id int) CPU {
	return m.cpus[id]
}

// SetViewMode toggles per instruction logging.
func (m *Machine) SetViewMode(on bool) {
	m.view.Store(on)
}

// ViewMode returns true if per instruction logging is on.
func (m *Machine) ViewMode() bool {
	return m.view.Load()
}

// SetCoreViewMode toggles per instruction logging of core id alone.
func (m *Machine) SetCoreViewMode(id int, on bool) {
	m.coreView[id].Store(on)
}

// Viewing returns true if the instructions of core id are logged.
func (m *Machine) Viewing(id int) bool {
	return m.view.Load() || m.coreView[id].Load()
}

func (m *Machine) onWatch(core int, addr uint32, size int, write bool) {
	wp, ok := m.Ctrl.Watchpoints().Match(addr, size, write)
	if !ok {
		return
	}
	m.Ctrl.NotifyWatch(core, wp.Slot, addr)
}

func (m *Machine) observe(core int, addr uint32, size int, write bool) {
	if !m.Access.Active() {
		return
	}
	g, ok := m.Syms.GlobalByAddr(addr)
	if !ok {
		return
	}
	cpu := m.cpus[core]
	fid := -1
	if fn, ok := m.Syms.FuncByPC(cpu.PC()); ok {
		fid = fn.ID
	}
	typ := trace.AccessRead
	if write {
		typ = trace.AccessWrite
	}
	m.Access.Record(g.ID, trace.AccessRecord{
		Type:   typ,
		Core:   core,
		SP:     cpu.SP(),
		FuncID: fid,
		Time:   m.last[core].clock,
	})
}

// Run executes every core until they all exit or ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range m.cpus {
		id := i
		g.Go(func() error {
			return m.runCore(id)
		})
	}
	go func() {
		<-ctx.Done()
		m.Ctrl.Shutdown()
	}()
	err := g.Wait()
	m.Ctrl.Shutdown()
	return err
}

func (m *Machine) runCore(id int) error {
	cpu := m.cpus[id]
	bus := m.buses[id]
	var clock uint64
	for {
		if err := m.Ctrl.Gate(id); err != nil {
			return nil
		}
		pc := cpu.PC()
		if m.Ctrl.Check(id, pc, clock) {
			continue
		}
		m.record(id, cpu, pc, clock)

		n, err := cpu.Exec(bus)
		if err != nil {
			if errors.Is(err, ErrHalt) {
				m.log.Debugf("core %d halted at %#x", id, pc)
				m.Ctrl.Exit(id)
				return nil
			}
			m.log.Errorf("core %d: %v", id, err)
			// Without a debugger nobody resumes a faulted core.
			if m.cfg.Interactive && m.Ctrl.Fault(id) {
				continue
			}
			m.Ctrl.Exit(id)
			return err
		}
		clock += n
		if m.Ctrl.Retired(id, cpu.PC(), clock) {
			continue
		}
		if m.cfg.EndClock != 0 && clock >= m.cfg.EndClock {
			m.log.Debugf("core %d reached end clock %d", id, clock)
			m.Ctrl.Exit(id)
			return nil
		}
	}
}

// record feeds the recorders with the instruction core is about to
// execute.
func (m *Machine) record(id int, cpu CPU, pc uint32, clock uint64) {
	sp := cpu.SP()
	last := &m.last[id]
	last.clock = clock
	fn, ok := m.Syms.FuncByPC(pc)
	if ok {
		if !last.ok || fn.ID != last.fid {
			m.FuncLog.Record(id, pc-fn.Addr, fn.ID, sp)
			last.fid = fn.ID
			last.ok = true
		}
		m.Profiler.Collect(id, pc, sp, cpu.RetAddr(), clock)
	}
	if sp != last.sp {
		if g, ok := m.Syms.GlobalByAddr(sp); ok {
			m.Stacks.Record(g.ID, sp)
		}
		last.sp = sp
	}
	if m.Viewing(id) {
		name := "?"
		if ok {
			name = fn.Name
		}
		m.log.Infof("core%d: pc=%#x sp=%#x clock=%d %s(+%#x)", id, pc, sp, clock, name, pc-fn.Addr)
	}
}

// Elaps returns the clock counter of every core.
func (m *Machine) Elaps() []uint64 {
	cores := m.Ctrl.Cores()
	r := make([]uint64, len(cores))
	for i, c := range cores {
		r[i] = c.Clock
	}
	return r
}
