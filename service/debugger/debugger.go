package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/athrill-go/athrill/pkg/config"
	"github.com/athrill-go/athrill/pkg/cpuctrl"
	"github.com/athrill-go/athrill/pkg/emulator"
	"github.com/athrill-go/athrill/pkg/loader"
	"github.com/athrill-go/athrill/pkg/logflags"
	"github.com/athrill-go/athrill/pkg/mpu"
	"github.com/athrill-go/athrill/pkg/symbols"
	"github.com/athrill-go/athrill/service/api"
)

// Debugger service.
//
// Debugger provides a higher level of
// abstraction over the emulated machine.
// It handles converting from internal types to
// the types expected by clients. It also handles
// functionality needed by clients, but not needed in
// lower level packages such as cpuctrl.
type Debugger struct {
	config  *Config
	machine *emulator.Machine
	log     logflags.Logger

	// targetMutex serializes the commands that change the execution
	// state of the machine.
	targetMutex sync.Mutex

	stopMu       sync.Mutex
	lastStop     *api.StopEvent
	listeners    map[int]func(api.StopEvent)
	nextListener int

	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	closeMu sync.Once
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// Program is the path of the program to load.
	Program string
	// Binary loads Program as a raw image at address zero instead of
	// an ELF file.
	Binary bool
	// MemoryConfig is the path of the memory configuration.
	MemoryConfig string
	// DeviceConfig is the path of the device configuration, may be empty.
	DeviceConfig string
	// Arch names the registered CPU architecture.
	Arch string
	// NumCores overrides the number of cores of the memory configuration.
	NumCores int

	// Interactive starts every core stopped.
	Interactive bool
	// EndClock halts the cores once their clock reaches it, zero means
	// no limit.
	EndClock uint64
	ViewMode bool

	Protection     bool
	MallocUnitSize uint32
	FreePolicy     mpu.FreePolicy

	// DataAccessCSV is the default export path of the data access
	// history.
	DataAccessCSV string
}

// New loads the program described by config and starts the machine.
func New(cfg *Config) (*Debugger, error) {
	logger := logflags.DebuggerLogger()
	logger.Infof("launching %s", cfg.Program)
	m, dc, err := launch(cfg)
	if err != nil {
		return nil, err
	}
	d := newDebugger(cfg, m)
	if path, ok := dc.Lookup(config.KeyDataAccess); ok {
		if err := d.trackFromFile(path); err != nil {
			d.log.Warnf("%s: %v", config.KeyDataAccess, err)
		}
	}
	return d, nil
}

func launch(cfg *Config) (*emulator.Machine, config.DeviceConfig, error) {
	if cfg.MemoryConfig == "" {
		return nil, nil, errors.New("no memory configuration")
	}
	mc, err := loader.LoadMemoryConfig(cfg.MemoryConfig)
	if err != nil {
		return nil, nil, err
	}
	dc := config.DeviceConfig{}
	if cfg.DeviceConfig != "" {
		dc, err = config.LoadDeviceConfig(cfg.DeviceConfig)
		if err != nil {
			return nil, nil, err
		}
	}
	arch, err := emulator.LookupArch(cfg.Arch)
	if err != nil {
		return nil, nil, err
	}

	numCores := cfg.NumCores
	if numCores == 0 {
		numCores = mc.Cores
	}
	if numCores == 0 {
		numCores = 1
	}
	mem := mpu.NewTable(mpu.Config{
		NumCores:       numCores,
		Protection:     cfg.Protection,
		MallocUnitSize: cfg.MallocUnitSize,
		FreePolicy:     cfg.FreePolicy,
	})
	if err := mc.Populate(mem); err != nil {
		mem.Close()
		return nil, nil, err
	}

	var img *loader.Image
	if cfg.Binary {
		img, err = loader.LoadBinary(mem, cfg.Program)
	} else {
		img, err = loader.LoadELF(mem, cfg.Program)
	}
	if err != nil {
		mem.Close()
		return nil, nil, fmt.Errorf("could not load %s: %v", cfg.Program, err)
	}

	m, err := emulator.New(emulator.Config{
		NumCores:    numCores,
		Interactive: cfg.Interactive,
		EndClock:    cfg.EndClock,
		ViewMode:    cfg.ViewMode,
		Arch:        arch,
		Entry:       img.Entry,
	}, mem, img.Symbols)
	if err != nil {
		mem.Close()
		return nil, nil, err
	}
	return m, dc, nil
}

// Attach wraps a machine built by the caller, for front ends that
// register their own architecture and memory map. The machine must not
// be running yet.
func Attach(cfg *Config, m *emulator.Machine) *Debugger {
	if cfg == nil {
		cfg = &Config{}
	}
	return newDebugger(cfg, m)
}

// newDebugger wraps m and starts running it.
func newDebugger(cfg *Config, m *emulator.Machine) *Debugger {
	d := &Debugger{
		config:    cfg,
		machine:   m,
		log:       logflags.DebuggerLogger(),
		listeners: make(map[int]func(api.StopEvent)),
		done:      make(chan struct{}),
	}
	m.Ctrl.SetStopHook(d.onStop)
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go func() {
		d.runErr = m.Run(ctx)
		if d.runErr != nil {
			d.log.Errorf("machine stopped: %v", d.runErr)
		}
		close(d.done)
	}()
	return d
}

// trackFromFile records the accesses to every global listed in path,
// one name per line.
func (d *Debugger) trackFromFile(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	s := bufio.NewScanner(fh)
	for s.Scan() {
		name := strings.TrimSpace(s.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		g, ok := d.machine.Syms.GlobalByName(name)
		if !ok {
			d.log.Warnf("%s: not found symbol %s", path, name)
			continue
		}
		d.machine.Access.Track(g.ID)
	}
	return s.Err()
}

// onStop is the stop hook of the controller, it runs on the goroutine
// of the stopping core.
func (d *Debugger) onStop(ev cpuctrl.StopEvent) {
	m := d.machine
	r := api.ConvertStopEvent(ev, m.Ctrl.Breakpoints(), m.Ctrl.Watchpoints(), m.Syms)
	d.stopMu.Lock()
	d.lastStop = &r
	listeners := make([]func(api.StopEvent), 0, len(d.listeners))
	for _, fn := range d.listeners {
		listeners = append(listeners, fn)
	}
	d.stopMu.Unlock()
	d.log.Debugf("stop: %s", r.String())
	for _, fn := range listeners {
		fn(r)
	}
}

// AddStopListener registers fn to be called every time a core stops or
// exits. fn runs on the goroutine of the core and must not call back
// into execution control. The returned function unregisters fn.
func (d *Debugger) AddStopListener(fn func(api.StopEvent)) (remove func()) {
	d.stopMu.Lock()
	defer d.stopMu.Unlock()
	id := d.nextListener
	d.nextListener++
	d.listeners[id] = fn
	return func() {
		d.stopMu.Lock()
		defer d.stopMu.Unlock()
		delete(d.listeners, id)
	}
}

// LastStop returns the most recent stop event or nil.
func (d *Debugger) LastStop() *api.StopEvent {
	d.stopMu.Lock()
	defer d.stopMu.Unlock()
	return d.lastStop
}

// Done is closed once the machine stopped running.
func (d *Debugger) Done() <-chan struct{} {
	return d.done
}

// NumCores returns the number of cores of the machine.
func (d *Debugger) NumCores() int {
	return d.machine.NumCores()
}

// DataAccessCSV returns the default export path of the data access
// history.
func (d *Debugger) DataAccessCSV() string {
	if d.config.DataAccessCSV == "" {
		return config.DefaultDataAccessCSV
	}
	return d.config.DataAccessCSV
}

// Detach stops the machine and releases its memory.
func (d *Debugger) Detach() error {
	d.closeMu.Do(func() {
		d.cancel()
		<-d.done
		if err := d.machine.Mem.Close(); err != nil && d.runErr == nil {
			d.runErr = err
		}
	})
	return d.runErr
}

// State returns the current state of the debugger.
func (d *Debugger) State() *api.DebuggerState {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	return d.state()
}

func (d *Debugger) state() *api.DebuggerState {
	m := d.machine
	s := &api.DebuggerState{
		Current:    m.Ctrl.Current(),
		ForceDebug: m.Ctrl.ForceDebug(),
		Running:    !m.Ctrl.AllStopped(),
		Exited:     m.Ctrl.Halted(),
	}
	s.Timed, s.Budget = m.Ctrl.ContBudget()
	for _, info := range m.Ctrl.Cores() {
		c := api.ConvertCore(info, m.Syms)
		if info.State == cpuctrl.Stopped || info.State == cpuctrl.Exited {
			cpu := m.CPU(info.ID)
			c.SP, c.RetAddr = cpu.SP(), cpu.RetAddr()
		}
		s.Cores = append(s.Cores, c)
	}
	return s
}

// Command handles commands which control the execution of the cores.
func (d *Debugger) Command(command *api.DebuggerCommand) (*api.DebuggerState, error) {
	ctrl := d.machine.Ctrl
	if command.Name == api.Halt {
		// Break only takes the controller lock, a Continue waiting for
		// the cores to stop must not prevent it.
		d.log.Debug("halting")
		if err := ctrl.Break(); err != nil {
			return d.exitedState(err)
		}
		d.targetMutex.Lock()
		defer d.targetMutex.Unlock()
		return d.state(), nil
	}

	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()

	var (
		err error
		bp  *api.Breakpoint
	)
	switch command.Name {
	case api.Continue:
		d.log.Debugf("continuing core=%d budget=%d", command.Core, command.Budget)
		err = ctrl.Continue(command.Core, command.Budget)
		if err == nil && command.Budget == 0 && command.Wait {
			err = ctrl.Wait()
		}
	case api.Step:
		d.log.Debugf("stepping core=%d", command.Core)
		viewed := d.viewStepped(command.Core)
		err = ctrl.Step(command.Core)
		for _, id := range viewed {
			d.machine.SetCoreViewMode(id, false)
		}
	case api.Return:
		bp, err = d.stepOut(command.Core)
	default:
		return nil, fmt.Errorf("unknown command %q", command.Name)
	}
	if err != nil {
		return d.exitedState(err)
	}
	s := d.state()
	s.Breakpoint = bp
	return s, nil
}

// viewStepped turns on instruction logging for the cores a step on core
// executes and returns the ones it changed.
func (d *Debugger) viewStepped(core int) []int {
	var r []int
	for id := 0; id < d.machine.NumCores(); id++ {
		if core != api.AllCores && core != id {
			continue
		}
		if !d.machine.Viewing(id) {
			d.machine.SetCoreViewMode(id, true)
			r = append(r, id)
		}
	}
	return r
}

// stepOut sets a once breakpoint at the return address of core and
// resumes every debuggable core.
func (d *Debugger) stepOut(core int) (*api.Breakpoint, error) {
	ctrl := d.machine.Ctrl
	if core == api.AllCores {
		core = ctrl.Current()
	}
	info, err := ctrl.Core(core)
	if err != nil {
		return nil, err
	}
	if info.State != cpuctrl.Stopped {
		return nil, fmt.Errorf("core %d is %s", core, info.State)
	}
	ret := d.machine.CPU(core).RetAddr()
	slot, err := ctrl.Breakpoints().Set(ret, cpuctrl.Once)
	if err != nil {
		return nil, err
	}
	bp, _ := ctrl.Breakpoints().Get(slot)
	d.log.Debugf("step out of core %d: break at %#x", core, ret)
	if err := ctrl.Continue(cpuctrl.AllCores, 0); err != nil {
		return nil, err
	}
	return api.ConvertBreakpoint(bp, d.machine.Syms), nil
}

func (d *Debugger) exitedState(err error) (*api.DebuggerState, error) {
	if errors.Is(err, cpuctrl.ErrShutdown) {
		return &api.DebuggerState{Exited: true, Err: err}, nil
	}
	return nil, err
}

// FindLocation resolves locStr to the addresses it names.
func (d *Debugger) FindLocation(locStr string) ([]api.Location, error) {
	loc, err := parseLocationSpec(locStr)
	if err != nil {
		return nil, err
	}
	return loc.Find(d)
}

func (d *Debugger) location(pc uint32) api.Location {
	r := api.Location{PC: pc}
	if fn, ok := d.machine.Syms.FuncByPC(pc); ok {
		r.Function = api.ConvertFunction(fn)
	}
	return r
}

// CreateBreakpoint sets a breakpoint at every address locStr resolves
// to. Once breakpoints are deleted the first time they are hit.
func (d *Debugger) CreateBreakpoint(locStr string, once bool) ([]*api.Breakpoint, error) {
	locs, err := d.FindLocation(locStr)
	if err != nil {
		return nil, err
	}
	mode := cpuctrl.Forever
	if once {
		mode = cpuctrl.Once
	}
	bps := d.machine.Ctrl.Breakpoints()
	var r []*api.Breakpoint
	for _, loc := range locs {
		slot, err := bps.Set(loc.PC, mode)
		if err != nil {
			return r, err
		}
		bp, _ := bps.Get(slot)
		r = append(r, api.ConvertBreakpoint(bp, d.machine.Syms))
		d.log.Infof("created breakpoint: %#v", r[len(r)-1])
	}
	return r, nil
}

// ClearBreakpoint deletes breakpoint id.
func (d *Debugger) ClearBreakpoint(id int) error {
	return d.machine.Ctrl.Breakpoints().Delete(id)
}

// ClearAllBreakpoints deletes every forever breakpoint. Once breakpoints,
// such as the one set by Return, are left pending.
func (d *Debugger) ClearAllBreakpoints() {
	d.machine.Ctrl.Breakpoints().DeleteAll(cpuctrl.Forever)
}

// Breakpoints returns the set breakpoints.
func (d *Debugger) Breakpoints() []*api.Breakpoint {
	var r []*api.Breakpoint
	for _, bp := range d.machine.Ctrl.Breakpoints().Enumerate() {
		r = append(r, api.ConvertBreakpoint(bp, d.machine.Syms))
	}
	return r
}

// ParseWatchType parses "r", "w" or "rw".
func ParseWatchType(s string) (cpuctrl.WatchType, error) {
	switch strings.ToLower(s) {
	case "r":
		return cpuctrl.WatchRead, nil
	case "w":
		return cpuctrl.WatchWrite, nil
	case "rw", "wr", "":
		return cpuctrl.WatchReadWrite, nil
	}
	return 0, fmt.Errorf("invalid watch type %q", s)
}

// CreateWatchpoint stops the cores when they access expr, a global or
// an address. A zero size watches the whole global, or four bytes at an
// address.
func (d *Debugger) CreateWatchpoint(expr string, size uint32, typ cpuctrl.WatchType) (*api.Watchpoint, error) {
	loc, err := d.parseDataLocation(expr, size)
	if err != nil {
		return nil, err
	}
	wps := d.machine.Ctrl.Watchpoints()
	slot, err := wps.Set(loc.Addr, loc.Size, typ)
	if err != nil {
		return nil, err
	}
	for _, wp := range wps.Enumerate() {
		if wp.Slot == slot {
			return api.ConvertWatchpoint(wp, d.machine.Syms), nil
		}
	}
	return nil, fmt.Errorf("watchpoint %d vanished", slot)
}

// ClearWatchpoint deletes watchpoint id.
func (d *Debugger) ClearWatchpoint(id int) error {
	return d.machine.Ctrl.Watchpoints().Delete(id)
}

// ClearAllWatchpoints deletes every watchpoint.
func (d *Debugger) ClearAllWatchpoints() {
	d.machine.Ctrl.Watchpoints().DeleteAll()
}

// Watchpoints returns the set watchpoints.
func (d *Debugger) Watchpoints() []*api.Watchpoint {
	var r []*api.Watchpoint
	for _, wp := range d.machine.Ctrl.Watchpoints().Enumerate() {
		r = append(r, api.ConvertWatchpoint(wp, d.machine.Syms))
	}
	return r
}

// SetCoreDebugMode places core under debugger control or releases it,
// api.AllCores selects every core.
func (d *Debugger) SetCoreDebugMode(core int, on bool) error {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	if core == api.AllCores {
		return d.machine.Ctrl.SetAllCoreDebugMode(on)
	}
	return d.machine.Ctrl.SetCoreDebugMode(core, on)
}

// SetCurrentCore selects the core commands default to.
func (d *Debugger) SetCurrentCore(core int) error {
	return d.machine.Ctrl.SetCurrent(core)
}

// ReadMemory reads size bytes at addr. Watchpoints and the data access
// recorder do not see the read.
func (d *Debugger) ReadMemory(addr uint32, size int) ([]byte, error) {
	return d.machine.Mem.ReadMemory(d.machine.Ctrl.Current(), addr, size)
}

// WriteMemory writes data at addr, read only memory included.
func (d *Debugger) WriteMemory(addr uint32, data []byte) error {
	return d.machine.Mem.WriteMemory(d.machine.Ctrl.Current(), addr, data)
}

// EvalSymbol returns the location and contents of the global or address
// named by expr.
func (d *Debugger) EvalSymbol(expr string, size uint32) (api.Global, []byte, error) {
	loc, err := d.parseDataLocation(expr, size)
	if err != nil {
		return api.Global{}, nil, err
	}
	data, err := d.ReadMemory(loc.Addr, int(loc.Size))
	if err != nil {
		return api.Global{}, nil, err
	}
	g := api.Global{ID: -1, Name: loc.Name, Addr: loc.Addr, Size: loc.Size}
	if sym, ok := d.machine.Syms.GlobalByName(loc.Name); ok {
		g.ID = sym.ID
	}
	return g, data, nil
}

// FunctionCandidates returns the function names starting with prefix.
func (d *Debugger) FunctionCandidates(prefix string, max int) []string {
	return d.machine.Syms.FuncCandidates(prefix, max)
}

// GlobalCandidates returns the global names starting with prefix.
func (d *Debugger) GlobalCandidates(prefix string, max int) []string {
	return d.machine.Syms.GlobalCandidates(prefix, max)
}

// Symbols returns the symbol table of the program.
func (d *Debugger) Symbols() *symbols.Table {
	return d.machine.Syms
}

// Regions returns the memory map.
func (d *Debugger) Regions() []api.Region {
	var r []api.Region
	for _, reg := range d.machine.Mem.Regions() {
		r = append(r, api.ConvertRegion(reg))
	}
	return r
}

// AllocStats returns the occupancy of the malloc pools.
func (d *Debugger) AllocStats() api.AllocStats {
	a := d.machine.Mem.Allocator()
	if a == nil {
		return api.AllocStats{}
	}
	s := a.Stats()
	return api.AllocStats{UnitSize: a.UnitSize(), Units: s.Units, UsedUnits: s.UsedUnits, Blocks: s.Blocks}
}

// SetViewMode toggles per instruction logging.
func (d *Debugger) SetViewMode(on bool) {
	d.machine.SetViewMode(on)
}

// ViewMode returns true if per instruction logging is on.
func (d *Debugger) ViewMode() bool {
	return d.machine.ViewMode()
}

// Elaps returns the clock counter of every core.
func (d *Debugger) Elaps() []uint64 {
	return d.machine.Elaps()
}
