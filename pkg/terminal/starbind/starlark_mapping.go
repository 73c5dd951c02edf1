package starbind

import (
	"go.starlark.net/starlark"

	"github.com/athrill-go/athrill/service/api"
	"github.com/athrill-go/athrill/service/debugger"
)

// binding arguments, one struct per builtin. Positional arguments fill
// the fields in order.
type (
	noArgs struct{}

	locArgs struct {
		Loc  string
		Once bool
	}

	idArgs struct {
		ID int
	}

	watchArgs struct {
		Expr string
		Size uint32
		Type string
	}

	commandArgs struct {
		Name   string
		Core   *int
		Budget uint64
		Wait   bool
	}

	coreModeArgs struct {
		Core int
		On   bool
	}

	readMemoryArgs struct {
		Addr uint32
		Size int
	}

	writeMemoryArgs struct {
		Addr uint32
		Data []byte
	}

	evalArgs struct {
		Expr string
		Size uint32
	}

	funcTraceArgs struct {
		Core        int
		N           int
		OldestFirst bool
	}

	coreArgs struct {
		Core int
	}

	nameArgs struct {
		Name string
	}

	pathArgs struct {
		Path string
	}
)

// EvalSymbolOut is returned by eval_symbol.
type EvalSymbolOut struct {
	Global api.Global
	Data   []byte
}

// AccessHistoryOut is returned by access_history.
type AccessHistoryOut struct {
	History []api.AccessRecord
	Tracked bool
}

// bind registers name as a builtin calling fn with its arguments
// unpacked into an In.
func bind[In any](env *Env, r starlark.StringDict, doc map[string]string, name, signature, descr string, fn func(d *debugger.Debugger, in *In) (interface{}, error)) {
	r[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		var in In
		if err := unpackArgs(args, kwargs, &in); err != nil {
			return starlark.None, decorateError(thread, err)
		}
		out, err := fn(env.ctx.Debugger(), &in)
		if err != nil {
			return starlark.None, err
		}
		return env.interfaceToStarlarkValue(out), nil
	})
	doc[name] = "builtin " + name + signature + "\n\n" + name + " " + descr
}

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	bind(env, r, doc, "state", "()", "returns the state of every core.", func(d *debugger.Debugger, _ *noArgs) (interface{}, error) {
		return d.State(), nil
	})
	bind(env, r, doc, "command", "(Name, Core, Budget, Wait)", "runs one of \"continue\", \"step\", \"return\" or \"halt\".\n\nCore defaults to every debuggable core, Budget limits a continue to that many clocks.", func(d *debugger.Debugger, in *commandArgs) (interface{}, error) {
		cmd := api.DebuggerCommand{Name: in.Name, Core: api.AllCores, Budget: in.Budget, Wait: in.Wait}
		if in.Core != nil {
			cmd.Core = *in.Core
		}
		return d.Command(&cmd)
	})
	bind(env, r, doc, "find_location", "(Loc)", "returns the addresses a location expression resolves to.", func(d *debugger.Debugger, in *locArgs) (interface{}, error) {
		return d.FindLocation(in.Loc)
	})
	bind(env, r, doc, "create_breakpoint", "(Loc, Once)", "sets a breakpoint at every address Loc resolves to.", func(d *debugger.Debugger, in *locArgs) (interface{}, error) {
		return d.CreateBreakpoint(in.Loc, in.Once)
	})
	bind(env, r, doc, "clear_breakpoint", "(ID)", "deletes a breakpoint.", func(d *debugger.Debugger, in *idArgs) (interface{}, error) {
		return nil, d.ClearBreakpoint(in.ID)
	})
	bind(env, r, doc, "breakpoints", "()", "returns the set breakpoints.", func(d *debugger.Debugger, _ *noArgs) (interface{}, error) {
		return d.Breakpoints(), nil
	})
	bind(env, r, doc, "create_watchpoint", "(Expr, Size, Type)", "watches a global or an address. Type is \"r\", \"w\" or \"rw\".", func(d *debugger.Debugger, in *watchArgs) (interface{}, error) {
		typ, err := debugger.ParseWatchType(in.Type)
		if err != nil {
			return nil, err
		}
		return d.CreateWatchpoint(in.Expr, in.Size, typ)
	})
	bind(env, r, doc, "clear_watchpoint", "(ID)", "deletes a watchpoint.", func(d *debugger.Debugger, in *idArgs) (interface{}, error) {
		return nil, d.ClearWatchpoint(in.ID)
	})
	bind(env, r, doc, "watchpoints", "()", "returns the set watchpoints.", func(d *debugger.Debugger, _ *noArgs) (interface{}, error) {
		return d.Watchpoints(), nil
	})
	bind(env, r, doc, "set_core_debug_mode", "(Core, On)", "places a core under debugger control or releases it.", func(d *debugger.Debugger, in *coreModeArgs) (interface{}, error) {
		return nil, d.SetCoreDebugMode(in.Core, in.On)
	})
	bind(env, r, doc, "read_memory", "(Addr, Size)", "returns Size bytes read at Addr.", func(d *debugger.Debugger, in *readMemoryArgs) (interface{}, error) {
		return d.ReadMemory(in.Addr, in.Size)
	})
	bind(env, r, doc, "write_memory", "(Addr, Data)", "writes a list of bytes at Addr.", func(d *debugger.Debugger, in *writeMemoryArgs) (interface{}, error) {
		return nil, d.WriteMemory(in.Addr, in.Data)
	})
	bind(env, r, doc, "eval_symbol", "(Expr, Size)", "returns the location and contents of a global or an address.", func(d *debugger.Debugger, in *evalArgs) (interface{}, error) {
		g, data, err := d.EvalSymbol(in.Expr, in.Size)
		if err != nil {
			return nil, err
		}
		return EvalSymbolOut{Global: g, Data: data}, nil
	})
	bind(env, r, doc, "func_trace", "(Core, N, OldestFirst)", "returns the N most recent functions entered by Core.", func(d *debugger.Debugger, in *funcTraceArgs) (interface{}, error) {
		return d.FuncTrace(in.Core, in.N, in.OldestFirst)
	})
	bind(env, r, doc, "profile", "(Core)", "returns the call counters of Core.", func(d *debugger.Debugger, in *coreArgs) (interface{}, error) {
		return d.Profile(in.Core)
	})
	bind(env, r, doc, "access_history", "(Name)", "returns the recorded accesses to a global, tracking it from now on.", func(d *debugger.Debugger, in *nameArgs) (interface{}, error) {
		h, tracked, err := d.AccessHistory(in.Name)
		if err != nil {
			return nil, err
		}
		return AccessHistoryOut{History: h, Tracked: tracked}, nil
	})
	bind(env, r, doc, "export_access_csv", "(Path)", "writes the access history of every tracked global and returns the path written.", func(d *debugger.Debugger, in *pathArgs) (interface{}, error) {
		return d.ExportAccessCSV(in.Path)
	})
	bind(env, r, doc, "backtrace", "()", "returns the stack pointer history of every stack.", func(d *debugger.Debugger, _ *noArgs) (interface{}, error) {
		return d.Backtrace(), nil
	})
	bind(env, r, doc, "elaps", "()", "returns the clock counter of every core.", func(d *debugger.Debugger, _ *noArgs) (interface{}, error) {
		return d.Elaps(), nil
	})
	bind(env, r, doc, "regions", "()", "returns the memory map.", func(d *debugger.Debugger, _ *noArgs) (interface{}, error) {
		return d.Regions(), nil
	})
	bind(env, r, doc, "alloc_stats", "()", "returns the occupancy of the malloc pools.", func(d *debugger.Debugger, _ *noArgs) (interface{}, error) {
		return d.AllocStats(), nil
	})
	return r, doc
}
