package api

// DebuggerState represents the current state of the emulated machine.
type DebuggerState struct {
	// Current is the core selected by the debugger, commands that take
	// no core argument act on it.
	Current int `json:"current"`
	// ForceDebug is set while an all-stop request is pending.
	ForceDebug bool `json:"forceDebug"`
	// Cores holds the state of every core.
	Cores []Core `json:"cores"`
	// Running is set while a debuggable core is running or stepping.
	Running bool `json:"running"`
	// Exited indicates whether every core has exited.
	Exited bool `json:"exited"`
	// Breakpoint is the breakpoint set by a Return command.
	Breakpoint *Breakpoint `json:"breakPoint,omitempty"`
	// Timed is set when the last continue has a clock budget.
	Timed  bool   `json:"timed"`
	Budget uint64 `json:"budget,omitempty"`

	// Filled by Debugger.Continue, indicates an error
	Err error `json:"-"`
}

// Core is one CPU core of the machine.
type Core struct {
	ID         int    `json:"id"`
	State      string `json:"state"`
	Debuggable bool   `json:"debuggable"`
	// PC is the address of the next instruction of the core.
	PC    uint32 `json:"pc"`
	Clock uint64 `json:"clock"`
	// Reason is the reason of the last stop.
	Reason string `json:"reason,omitempty"`
	// Function is the function containing PC. May be nil.
	Function *Function `json:"function,omitempty"`
	// SP and RetAddr are only read from stopped and exited cores.
	SP      uint32 `json:"sp,omitempty"`
	RetAddr uint32 `json:"retAddr,omitempty"`
}

// Function represents a function of the guest program.
type Function struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Addr uint32 `json:"addr"`
	Size uint32 `json:"size"`
}

// Global represents a global variable of the guest program.
type Global struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Addr uint32 `json:"addr"`
	Size uint32 `json:"size"`
}

// Breakpoint addresses a location at which execution is suspended.
type Breakpoint struct {
	// ID is the slot of the breakpoint.
	ID   int    `json:"id"`
	Addr uint32 `json:"addr"`
	// Once breakpoints are deleted the first time they are hit.
	Once bool `json:"once"`
	// FunctionName is the name of the function containing Addr and may
	// be empty.
	FunctionName string `json:"functionName,omitempty"`
	Offset       uint32 `json:"offset"`
}

// Watchpoint suspends execution when a core accesses a memory range.
type Watchpoint struct {
	ID   int    `json:"id"`
	Addr uint32 `json:"addr"`
	Size uint32 `json:"size"`
	// Type is one of "R", "W" or "RW".
	Type   string `json:"type"`
	Symbol string `json:"symbol,omitempty"`
}

// StopEvent describes why a core stopped.
type StopEvent struct {
	Core   int    `json:"core"`
	PC     uint32 `json:"pc"`
	Clock  uint64 `json:"clock"`
	Reason string `json:"reason"`
	// Breakpoint is set when the core stopped at a breakpoint.
	Breakpoint *Breakpoint `json:"breakpoint,omitempty"`
	// Watchpoint is set when the core stopped on a watched access.
	Watchpoint *Watchpoint `json:"watchpoint,omitempty"`
	Access     uint32      `json:"access,omitempty"`
	Function   *Function   `json:"function,omitempty"`
}

// CallTraceEntry is a function entered by a core.
type CallTraceEntry struct {
	// Index counts entries from the newest one.
	Index    int    `json:"index"`
	Function string `json:"function"`
	Offset   uint32 `json:"offset"`
	SP       uint32 `json:"sp"`
	// Stack names the global containing SP, StackOffset is SP relative
	// to it.
	Stack       string `json:"stack"`
	StackOffset uint32 `json:"stackOffset"`
}

// ProfileEntry holds the call counters of one function on one core.
type ProfileEntry struct {
	Function     string `json:"function"`
	CallNum      uint64 `json:"callNum"`
	FuncTime     uint64 `json:"funcTime"`
	TotalTime    uint64 `json:"totalTime"`
	AvgFuncTime  uint64 `json:"avgFuncTime"`
	AvgTotalTime uint64 `json:"avgTotalTime"`
	RecursionNum uint32 `json:"recursionNum"`
}

// AccessRecord is one recorded access to a tracked global.
type AccessRecord struct {
	Type     string `json:"type"`
	Core     int    `json:"core"`
	Clock    uint64 `json:"clock"`
	Stack    string `json:"stack"`
	Function string `json:"function"`
}

// StackFrame is one recorded stack pointer value and the words found
// on the stack from it.
type StackFrame struct {
	// Index counts values from the newest one.
	Index int         `json:"index"`
	SP    uint32      `json:"sp"`
	Words []StackWord `json:"words,omitempty"`
}

// StackWord is a word read from a stack, Symbol names the function or
// global its value points into.
type StackWord struct {
	Addr   uint32 `json:"addr"`
	Value  uint32 `json:"value"`
	Symbol string `json:"symbol,omitempty"`
	Offset uint32 `json:"offset,omitempty"`
}

// Backtrace is the stack pointer history of a stack.
type Backtrace struct {
	Stack  string       `json:"stack"`
	Frames []StackFrame `json:"frames"`
}

// Region is a memory region of the machine.
type Region struct {
	Name       string `json:"name,omitempty"`
	Kind       string `json:"kind"`
	Start      uint32 `json:"start"`
	Size       uint32 `json:"size"`
	Permission uint64 `json:"permission"`
	Executable bool   `json:"executable"`
}

// AllocStats describes the state of the malloc pools.
type AllocStats struct {
	UnitSize  uint32 `json:"unitSize"`
	Units     int    `json:"units"`
	UsedUnits int    `json:"usedUnits"`
	Blocks    int    `json:"blocks"`
}

const (
	// Continue resumes execution.
	Continue = "continue"
	// Step executes a single instruction.
	Step = "step"
	// Return runs until the current function returns.
	Return = "return"
	// Halt stops every debuggable core.
	Halt = "halt"
)

// AllCores selects every debuggable core in a DebuggerCommand.
const AllCores = -1

// DebuggerCommand is a command which changes the debugger's execution
// state.
type DebuggerCommand struct {
	// Name is the command to run.
	Name string `json:"name"`
	// Core is the core the command applies to, AllCores for every
	// debuggable core.
	Core int `json:"core"`
	// Budget limits a Continue to that many clocks. A bounded Continue
	// returns once the cores stopped again.
	Budget uint64 `json:"budget,omitempty"`
	// Wait makes an unbounded Continue wait until every debuggable core
	// stopped.
	Wait bool `json:"wait,omitempty"`
}

// Location is an address of the guest program.
type Location struct {
	PC       uint32    `json:"pc"`
	Function *Function `json:"function,omitempty"`
}
