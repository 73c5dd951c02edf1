// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/athrill-go/athrill/service/api"
	"github.com/athrill-go/athrill/service/debugger"
)

// defaultFuncTraceCount is the number of call trace entries ft prints
// when no count is given.
const defaultFuncTraceCount = 10

// maxCompletions is the number of symbol names offered by the line
// completer.
const maxCompletions = 32

type cmdfunc func(t *Term, args string) error

// completion selects the names offered for the arguments of a command.
type completion uint8

const (
	noCompletion completion = iota
	completeFunctions
	completeGlobals
)

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
	// logged commands are appended to the operation log when they
	// succeed.
	logged   bool
	paged    bool
	complete completion
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the debugger console.
type Commands struct {
	cmds []command
	d    *debugger.Debugger
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(d *debugger.Debugger) *Commands {
	c := &Commands{d: d}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, logged: true, complete: completeFunctions, helpMsg: `Sets a breakpoint.

	break [location]

The location is a function name, a function plus an offset (main+0x10), an
address (0x1000 or *0x1000) or a regular expression between slashes matching
function names (/^task_/). Without location the breakpoints are listed.

If the function is not found up to 10 similar names are suggested.`},
		{aliases: []string{"delete", "d"}, group: breakCmds, cmdFn: deleteBreakpoint, logged: true, helpMsg: `Deletes breakpoints.

	delete [id]

Without id every breakpoint is deleted, except the pending one set by return.`},
		{aliases: []string{"watch", "w"}, group: breakCmds, cmdFn: watch, logged: true, complete: completeGlobals, helpMsg: `Sets a watchpoint.

	watch [-r|-w|-rw] <global|address> [size]
	watch -d [id]
	watch

Stops the cores when they access the watched range. The default access type
is -rw, the default size is the size of the global or 4 bytes at an address.
"watch -d" deletes watchpoint id, or every watchpoint without id. Without
arguments the watchpoints are listed.`},
		{aliases: []string{"cont", "c", "continue"}, group: runCmds, cmdFn: cont, helpMsg: `Resumes every debuggable core.

	cont [clocks]

With a clock count the cores stop again after running that many clocks and
the command waits for them, otherwise it returns at once and the stop is
reported when it happens.`},
		{aliases: []string{"next", "n", "step", "s"}, group: runCmds, cmdFn: next, helpMsg: `Executes one instruction.

	next [core]

Without core every debuggable core executes one instruction. The executed
instructions are logged as in view mode.`},
		{aliases: []string{"return"}, group: runCmds, cmdFn: stepOut, helpMsg: `Runs until the current function returns.

	return

Sets a breakpoint deleted on its first hit at the return address of the
current core and resumes every debuggable core.`},
		{aliases: []string{"quit", "q", "halt"}, group: runCmds, cmdFn: quit, helpMsg: `Stops every debuggable core.`},
		{aliases: []string{"core"}, group: coreCmds, cmdFn: core, helpMsg: `Selects cores and their debug mode.

	core
	core <id>
	core <id> on|off
	core all on|off

Without arguments the debug mode of every core is listed, the current core
is marked with "*". "core <id>" selects the current core. Cores in debug
mode are stopped by breakpoints, watchpoints and quit, the other cores run
freely. At least one core must stay in debug mode.`},
		{aliases: []string{"info", "i"}, group: coreCmds, cmdFn: info, helpMsg: `Shows information about the machine.

	info cpu [core]
	info break
	info watch
	info regions
	info malloc`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printVar, complete: completeGlobals, helpMsg: `Prints the memory of a global or an address.

	print <global|global+offset|address> [size]

Without size the whole global, or 4 bytes at an address, are printed.`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, complete: completeGlobals, helpMsg: `Examine raw memory at the given address.

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <address|global>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of values (default 1) and size the size of each value in bytes (default 1).`},
		{aliases: []string{"memset"}, group: dataCmds, cmdFn: memset, complete: completeGlobals, helpMsg: `Writes bytes to memory.

	memset <global|address> <value> [count]

Writes count bytes (default 1) of value. Read only memory is written too.`},
		{aliases: []string{"ft"}, group: traceCmds, cmdFn: funcTrace, paged: true, helpMsg: `Prints the functions most recently entered by every core.

	ft [-oldest] [count]

Prints count entries (default 10), newest first unless -oldest is given.`},
		{aliases: []string{"bt"}, group: traceCmds, cmdFn: backtrace, paged: true, helpMsg: `Prints the stack pointer history of every stack.

	bt

Each stack lists its recorded stack pointer values, oldest first, and up to
10 words of stack data between two values.`},
		{aliases: []string{"profile", "prof"}, group: traceCmds, cmdFn: profile, paged: true, helpMsg: `Prints the call counters of every function.

	profile [core]

func_time is the average time spent in the function itself and total_time
the average time including its callees.`},
		{aliases: []string{"da"}, group: traceCmds, cmdFn: dataAccess, complete: completeGlobals, helpMsg: `Prints the data access history of a global.

	da <global>
	da - [path]

Accesses are recorded from the first "da" naming the global on.
"da -" writes the history of every recorded global as csv, to path or to the
configured data access file.`},
		{aliases: []string{"reset-traces"}, group: traceCmds, cmdFn: resetTraces, helpMsg: `Clears the call traces, the profiles and the data access history.`},
		{aliases: []string{"elaps"}, group: otherCmds, cmdFn: elaps, helpMsg: `Prints the clock counter of every core.`},
		{aliases: []string{"view"}, group: otherCmds, cmdFn: view, helpMsg: `Toggles the logging of every executed instruction.`},
		{aliases: []string{"source"}, group: otherCmds, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.

If path is a single '-' character an interactive starlark interpreter will start
Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, group: otherCmds, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of the console is appended to the specified output file. If -t is
specified and the output file exists it is truncated. If -x is specified
output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"config"}, group: otherCmds, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit"}, group: otherCmds, cmdFn: exitCommand, helpMsg: `Stops every core and exits the debugger.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

func (c *Commands) find(cmdstr string) *command {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			return &c.cmds[i]
		}
	}
	return nil
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	cmd := c.find(cmdname)
	if cmd == nil {
		return noCmdError
	}
	if cmd.paged {
		t.stdout.PageMaybe(nil)
		defer t.stdout.ResetPaging()
	}
	return cmd.cmdFn(t, args)
}

// logged returns true if cmdstr must be appended to the operation log.
func (c *Commands) logged(cmdstr string) bool {
	fields := strings.Fields(cmdstr)
	if len(fields) == 0 {
		return false
	}
	cmd := c.find(fields[0])
	return cmd != nil && cmd.logged
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line the way a shell does, quotes
// included.
func splitArgs(args string) ([]string, error) {
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

func parseUint32(s, what string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %q", what, s)
	}
	return uint32(n), nil
}

func parseCore(t *Term, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= t.d.NumCores() {
		return 0, fmt.Errorf("invalid core_id=%s max_core_num=%d", s, t.d.NumCores())
	}
	return n, nil
}

func formatFunctionOffset(fn string, off uint32) string {
	if off == 0 {
		return fn
	}
	return fmt.Sprintf("%s+%#x", fn, off)
}

func breakpoint(t *Term, args string) error {
	if args == "" {
		return breakpoints(t)
	}
	bps, err := t.d.CreateBreakpoint(args, false)
	if err != nil {
		return err
	}
	for _, bp := range bps {
		if bp.FunctionName == "" {
			fmt.Fprintf(t.stdout, "break %#x\n", bp.Addr)
			continue
		}
		fmt.Fprintf(t.stdout, "break %s %#x\n", formatFunctionOffset(bp.FunctionName, bp.Offset), bp.Addr)
	}
	return nil
}

func breakpoints(t *Term) error {
	for _, bp := range t.d.Breakpoints() {
		once := ""
		if bp.Once {
			once = " once"
		}
		if bp.FunctionName == "" {
			fmt.Fprintf(t.stdout, "[%d] %#x%s\n", bp.ID, bp.Addr, once)
			continue
		}
		fmt.Fprintf(t.stdout, "[%d] %#x %s(+%#x)%s\n", bp.ID, bp.Addr, bp.FunctionName, bp.Offset, once)
	}
	return nil
}

func deleteBreakpoint(t *Term, args string) error {
	if args == "" || args == "all" {
		t.d.ClearAllBreakpoints()
		return nil
	}
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("breakpoint id must be a number: %q", args)
	}
	if err := t.d.ClearBreakpoint(id); err != nil {
		return fmt.Errorf("can not delete %d: %v", id, err)
	}
	return nil
}

func watch(t *Term, args string) error {
	if strings.TrimSpace(args) == "" {
		return watchpoints(t)
	}
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	typ := ""
	switch v[0] {
	case "-d":
		switch len(v) {
		case 1:
			t.d.ClearAllWatchpoints()
			return nil
		case 2:
			id, err := strconv.Atoi(v[1])
			if err != nil {
				return fmt.Errorf("watchpoint id must be a number: %q", v[1])
			}
			if err := t.d.ClearWatchpoint(id); err != nil {
				return fmt.Errorf("can not delete %d: %v", id, err)
			}
			return nil
		}
		return errors.New("too many arguments")
	case "-r", "-w", "-rw":
		typ = v[0][1:]
		v = v[1:]
	}
	if len(v) == 0 || len(v) > 2 {
		return errors.New("wrong number of arguments: watch [-r|-w|-rw] <global|address> [size]")
	}
	wt, err := debugger.ParseWatchType(typ)
	if err != nil {
		return err
	}
	var size uint32
	if len(v) == 2 {
		if size, err = parseUint32(v[1], "size"); err != nil {
			return err
		}
	}
	wp, err := t.d.CreateWatchpoint(v[0], size, wt)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "set watch point %#x %d\n", wp.Addr, wp.Size)
	return nil
}

func watchpoints(t *Term) error {
	for _, wp := range t.d.Watchpoints() {
		typ := strings.ToLower(wp.Type)
		if wp.Symbol == "" {
			fmt.Fprintf(t.stdout, "[%d] %-4s %#x %d\n", wp.ID, typ, wp.Addr, wp.Size)
			continue
		}
		g, _ := t.d.Symbols().GlobalByName(wp.Symbol)
		fmt.Fprintf(t.stdout, "[%d] %-4s %#x %d %s(+%#x)\n", wp.ID, typ, wp.Addr, wp.Size, wp.Symbol, wp.Addr-g.Addr)
	}
	return nil
}

func printcontext(t *Term, state *api.DebuggerState) {
	if state.Exited {
		fmt.Fprintln(t.stdout, "every core exited")
		return
	}
	for i := range state.Cores {
		c := &state.Cores[i]
		if !c.Debuggable {
			continue
		}
		reason := ""
		if c.Reason != "" {
			reason = " (" + c.Reason + ")"
		}
		fmt.Fprintf(t.stdout, "core%d: %s %s pc=%#x clock=%d%s\n", c.ID, c.State, c.Location(), c.PC, c.Clock, reason)
	}
}

func cont(t *Term, args string) error {
	cmd := &api.DebuggerCommand{Name: api.Continue, Core: api.AllCores}
	if args != "" {
		n, err := strconv.ParseUint(args, 0, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("clocks must be a positive number: %q", args)
		}
		cmd.Budget = n
	}
	state, err := t.d.Command(cmd)
	if err != nil {
		return err
	}
	if cmd.Budget != 0 || state.Exited {
		printcontext(t, state)
	}
	return nil
}

func next(t *Term, args string) error {
	cmd := &api.DebuggerCommand{Name: api.Step, Core: api.AllCores}
	if args != "" {
		core, err := parseCore(t, args)
		if err != nil {
			return err
		}
		cmd.Core = core
	}
	state, err := t.d.Command(cmd)
	if err != nil {
		return err
	}
	printcontext(t, state)
	return nil
}

func stepOut(t *Term, args string) error {
	state, err := t.d.Command(&api.DebuggerCommand{Name: api.Return, Core: api.AllCores})
	if err != nil {
		return err
	}
	if state.Breakpoint != nil {
		fmt.Fprintf(t.stdout, "break %#x\n", state.Breakpoint.Addr)
	}
	return nil
}

func quit(t *Term, args string) error {
	state, err := t.d.Command(&api.DebuggerCommand{Name: api.Halt})
	if err != nil {
		return err
	}
	printcontext(t, state)
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off: %q", s)
}

func printCoreModes(t *Term) {
	state := t.d.State()
	for _, c := range state.Cores {
		mark := "-"
		if c.ID == state.Current {
			mark = "*"
		}
		fmt.Fprintf(t.stdout, "%s Core%d debug mode=%s\n", mark, c.ID, strings.ToUpper(strconv.FormatBool(c.Debuggable)))
	}
}

func core(t *Term, args string) error {
	v := strings.Fields(args)
	switch len(v) {
	case 0:
	case 1:
		id, err := parseCore(t, v[0])
		if err != nil {
			return err
		}
		if err := t.d.SetCurrentCore(id); err != nil {
			return err
		}
	case 2:
		on, err := parseOnOff(v[1])
		if err != nil {
			return err
		}
		id := api.AllCores
		if v[0] != "all" {
			if id, err = parseCore(t, v[0]); err != nil {
				return err
			}
		}
		if err := t.d.SetCoreDebugMode(id, on); err != nil {
			return fmt.Errorf("Core%s can not be set %s debug mode: %v", v[0], strings.ToLower(v[1]), err)
		}
	default:
		return errors.New("too many arguments")
	}
	printCoreModes(t)
	return nil
}

func info(t *Term, args string) error {
	v := strings.Fields(args)
	if len(v) == 0 {
		return errors.New("not enough arguments: info cpu|break|watch|regions|malloc")
	}
	switch v[0] {
	case "cpu":
		return infoCPU(t, v[1:])
	case "break", "b":
		return breakpoints(t)
	case "watch", "w":
		return watchpoints(t)
	case "regions":
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 1, ' ', 0)
		fmt.Fprintln(w, "Kind\tStart\tEnd\tSize\tCores\tExec\tName")
		for _, r := range t.d.Regions() {
			fmt.Fprintf(w, "%s\t0x%08x\t0x%08x\t%d\t%#x\t%t\t%s\n", r.Kind, r.Start, uint64(r.Start)+uint64(r.Size), r.Size, r.Permission, r.Executable, r.Name)
		}
		return w.Flush()
	case "malloc":
		s := t.d.AllocStats()
		if s.Units == 0 {
			fmt.Fprintln(t.stdout, "no malloc region")
			return nil
		}
		fmt.Fprintf(t.stdout, "unit_size=%d units=%d used=%d blocks=%d\n", s.UnitSize, s.Units, s.UsedUnits, s.Blocks)
		return nil
	}
	return fmt.Errorf("unknown info %q", v[0])
}

func infoCPU(t *Term, v []string) error {
	state := t.d.State()
	cores := state.Cores
	if len(v) > 0 {
		id, err := parseCore(t, v[0])
		if err != nil {
			return err
		}
		cores = cores[id : id+1]
	}
	for i := range cores {
		c := &cores[i]
		fmt.Fprintf(t.stdout, "core%d: state=%s debug=%t pc=0x%08x sp=0x%08x retaddr=0x%08x clock=%d %s\n",
			c.ID, c.State, c.Debuggable, c.PC, c.SP, c.RetAddr, c.Clock, c.Location())
	}
	return nil
}

// printMemory prints one line per byte, the byte as a character when it
// is printable.
func printMemory(t *Term, addr uint32, data []byte) {
	fmt.Fprintf(t.stdout, "size=%d byte\n", len(data))
	for i, b := range data {
		ch := '.'
		if b >= 0x20 && b < 0x7f {
			ch = rune(b)
		}
		fmt.Fprintf(t.stdout, "%4d %#x %#x\t(%c)\n", i, addr+uint32(i), b, ch)
	}
}

func printVar(t *Term, args string) error {
	v := strings.Fields(args)
	if len(v) == 0 || len(v) > 2 {
		return errors.New("wrong number of arguments: print <global|address> [size]")
	}
	var size uint32
	if len(v) == 2 {
		var err error
		if size, err = parseUint32(v[1], "size"); err != nil {
			return err
		}
	}
	g, data, err := t.d.EvalSymbol(v[0], size)
	if err != nil {
		return err
	}
	if g.Name != "" {
		fmt.Fprintf(t.stdout, "%s %#x\n", g.Name, g.Addr)
	}
	printMemory(t, g.Addr, data)
	return nil
}

func examineMemoryCmd(t *Term, args string) error {
	v := strings.FieldsFunc(args, func(c rune) bool {
		return c == ' '
	})

	var (
		expr string
		ok   bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			var err error
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			var err error
			size, err = strconv.Atoi(v[i])
			if err != nil || (size != 1 && size != 2 && size != 4 && size != 8) {
				return fmt.Errorf("size must be 1, 2, 4 or 8")
			}
		default:
			if i != len(v)-1 {
				return fmt.Errorf("unknown option %q", v[i])
			}
			expr = v[i]
		}
	}

	if count*size > 1000 {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to 1000 bytes")
	}

	if expr == "" {
		return fmt.Errorf("no address specified")
	}

	g, memArea, err := t.d.EvalSymbol(expr, uint32(count*size))
	if err != nil {
		return err
	}
	fmt.Fprint(t.stdout, api.PrettyExamineMemory(g.Addr, memArea, priFmt, size))
	return nil
}

func memset(t *Term, args string) error {
	v := strings.Fields(args)
	if len(v) < 2 || len(v) > 3 {
		return errors.New("wrong number of arguments: memset <global|address> <value> [count]")
	}
	value, err := strconv.ParseUint(v[1], 0, 8)
	if err != nil {
		return fmt.Errorf("value must be a byte: %q", v[1])
	}
	count := uint32(1)
	if len(v) == 3 {
		if count, err = parseUint32(v[2], "count"); err != nil {
			return err
		}
	}
	g, _, err := t.d.EvalSymbol(v[0], 1)
	if err != nil {
		return err
	}
	data := make([]byte, count)
	for i := range data {
		data[i] = byte(value)
	}
	if err := t.d.WriteMemory(g.Addr, data); err != nil {
		return fmt.Errorf("can not find addr:%#x: %v", g.Addr, err)
	}
	return nil
}

func funcTrace(t *Term, args string) error {
	n := defaultFuncTraceCount
	oldestFirst := false
	for _, arg := range strings.Fields(args) {
		if arg == "-oldest" {
			oldestFirst = true
			continue
		}
		var err error
		n, err = strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("count must be a positive number: %q", arg)
		}
	}
	for core := 0; core < t.d.NumCores(); core++ {
		entries, err := t.d.FuncTrace(core, n, oldestFirst)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(t.stdout, "core%d: <%-30s(0x%03x)> [%3d] <0x%03x> %s\n", core, e.Stack, e.StackOffset, e.Index, e.Offset, e.Function)
		}
	}
	return nil
}

func backtrace(t *Term, args string) error {
	for _, bt := range t.d.Backtrace() {
		fmt.Fprintln(t.stdout, "*************************************")
		for _, f := range bt.Frames {
			for _, w := range f.Words {
				if w.Symbol == "" {
					fmt.Fprintf(t.stdout, "\t\t\t\t\t%#x %#x\n", w.Addr, w.Value)
					continue
				}
				fmt.Fprintf(t.stdout, "\t\t\t\t\t%#x %#x %s(+%#x)\n", w.Addr, w.Value, w.Symbol, w.Offset)
			}
			fmt.Fprintf(t.stdout, " %-30s [%4d] 0x%08x\n", bt.Stack, f.Index, f.SP)
		}
		fmt.Fprintln(t.stdout)
	}
	return nil
}

func profile(t *Term, args string) error {
	first, last := 0, t.d.NumCores()-1
	if args != "" {
		core, err := parseCore(t, args)
		if err != nil {
			return err
		}
		first, last = core, core
	}
	for core := first; core <= last; core++ {
		entries, err := t.d.Profile(core)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "*** coreId=%d ***\n", core)
		fmt.Fprintf(t.stdout, "%-50s %-15s %-15s %-15s\n", "funcname", "call_num", "func_time", "total_time")
		for _, e := range entries {
			fmt.Fprintf(t.stdout, "%-50s %-15d %-15d %-15d\n", e.Function, e.CallNum, e.AvgFuncTime, e.AvgTotalTime)
		}
		fmt.Fprintln(t.stdout, "****************")
	}
	return nil
}

func dataAccess(t *Term, args string) error {
	v := strings.Fields(args)
	if len(v) == 0 {
		return errors.New("not enough arguments: da <global> | da - [path]")
	}
	if v[0] == "-" {
		path := ""
		if len(v) > 1 {
			path = v[1]
		}
		path, err := t.d.ExportAccessCSV(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "data access history written to %s\n", path)
		return nil
	}
	history, _, err := t.d.AccessHistory(v[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "* %s\n", v[0])
	if len(history) == 0 {
		fmt.Fprintln(t.stdout, "Not accessed yet.")
		return nil
	}
	for _, rec := range history {
		fmt.Fprintf(t.stdout, " + <%d> [%5s] [core%d] [%40s] [%30s()]\n", rec.Clock, rec.Type, rec.Core, rec.Stack, rec.Function)
	}
	return nil
}

func resetTraces(t *Term, args string) error {
	t.d.ResetTraces()
	return nil
}

func elaps(t *Term, args string) error {
	var total uint64
	for core, clock := range t.d.Elaps() {
		fmt.Fprintf(t.stdout, "cpu_clock[%d] = %d\n", core, clock)
		total += clock
	}
	fmt.Fprintf(t.stdout, "total %d\n", total)
	return nil
}

func view(t *Term, args string) error {
	on := !t.d.ViewMode()
	t.d.SetViewMode(on)
	if on {
		fmt.Fprintln(t.stdout, "VIEW_MODE=ON")
	} else {
		fmt.Fprintln(t.stdout, "VIEW_MODE=OFF")
	}
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	argv := strings.SplitN(args, " ", -1)
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		case "":
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-o option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits the debugger.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	if _, err := t.d.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "Exit")
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	buf, err := os.ReadFile(name)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		if err := t.Exec(line); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
		}
	}
	return nil
}
