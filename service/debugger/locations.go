package debugger

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/athrill-go/athrill/service/api"
)

// maxFindLocationCandidates is the number of names suggested when a
// symbol can not be found.
const maxFindLocationCandidates = 10

// LocationSpec resolves to one or more addresses of the guest program.
type LocationSpec interface {
	Find(d *Debugger) ([]api.Location, error)
}

// AddrLocationSpec is an absolute address, "*0x1000" or "0x1000".
type AddrLocationSpec struct {
	Addr uint32
}

// FuncLocationSpec is a function entry plus an optional offset,
// "main" or "main+0x10".
type FuncLocationSpec struct {
	Name   string
	Offset uint32
}

// RegexLocationSpec matches the entry of every function whose name
// matches FuncRegex, "/^task_/".
type RegexLocationSpec struct {
	FuncRegex string
}

// SymbolNotFoundError is returned when a name is not in the symbol
// table. Candidates holds similar names.
type SymbolNotFoundError struct {
	Name       string
	Candidates []string
}

func (err *SymbolNotFoundError) Error() string {
	if len(err.Candidates) == 0 {
		return fmt.Sprintf("not found symbol %s", err.Name)
	}
	return fmt.Sprintf("not found symbol %s, candidates: %s", err.Name, strings.Join(err.Candidates, " "))
}

func parseLocationSpec(locStr string) (LocationSpec, error) {
	rest := locStr

	malformed := func(reason string) error {
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	if len(rest) <= 0 {
		return nil, malformed("empty string")
	}

	switch rest[0] {
	case '/':
		if len(rest) < 2 || rest[len(rest)-1] != '/' {
			return nil, malformed("non-terminated regular expression")
		}
		return &RegexLocationSpec{rest[1 : len(rest)-1]}, nil

	case '*':
		rest = rest[1:]
		addr, err := parseAddr(rest)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return &AddrLocationSpec{addr}, nil
	}

	if addr, err := parseAddr(rest); err == nil {
		return &AddrLocationSpec{addr}, nil
	}

	spec := &FuncLocationSpec{Name: rest}
	if i := strings.LastIndexByte(rest, '+'); i > 0 {
		spec.Name = rest[:i]
		rest = rest[i+1:]
		off, err := parseAddr(rest)
		if err != nil {
			return nil, malformed("offset is not a number")
		}
		spec.Offset = off
	}
	return spec, nil
}

// parseAddr parses a 32 bit address, accepting the 0x, 0o and 0b
// prefixes.
func parseAddr(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (loc *AddrLocationSpec) Find(d *Debugger) ([]api.Location, error) {
	return []api.Location{d.location(loc.Addr)}, nil
}

func (loc *FuncLocationSpec) Find(d *Debugger) ([]api.Location, error) {
	syms := d.machine.Syms
	fn, ok := syms.FuncByName(loc.Name)
	if !ok {
		return nil, &SymbolNotFoundError{Name: loc.Name, Candidates: syms.FuncCandidates(loc.Name, maxFindLocationCandidates)}
	}
	if loc.Offset >= fn.Size && fn.Size != 0 {
		return nil, fmt.Errorf("offset %#x is outside of %s (size %#x)", loc.Offset, fn.Name, fn.Size)
	}
	return []api.Location{{PC: fn.Addr + loc.Offset, Function: api.ConvertFunction(fn)}}, nil
}

func (loc *RegexLocationSpec) Find(d *Debugger) ([]api.Location, error) {
	rx, err := regexp.Compile(loc.FuncRegex)
	if err != nil {
		return nil, err
	}
	var r []api.Location
	for _, fn := range d.machine.Syms.Funcs() {
		if rx.MatchString(fn.Name) {
			r = append(r, api.Location{PC: fn.Addr, Function: api.ConvertFunction(fn)})
		}
	}
	if len(r) == 0 {
		return nil, fmt.Errorf("no function matches /%s/", loc.FuncRegex)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].PC < r[j].PC })
	return r, nil
}

// dataLocation is a memory range named by a global, a global plus an
// offset, or an address.
type dataLocation struct {
	Name string
	Addr uint32
	Size uint32
}

// parseDataLocation resolves expr to a memory range. Addresses get
// defaultSize bytes, globals their own size unless defaultSize is non
// zero.
func (d *Debugger) parseDataLocation(expr string, defaultSize uint32) (dataLocation, error) {
	if expr == "" {
		return dataLocation{}, fmt.Errorf("empty expression")
	}
	if expr[0] == '*' {
		expr = expr[1:]
	}
	if addr, err := parseAddr(expr); err == nil {
		if defaultSize == 0 {
			defaultSize = 4
		}
		return dataLocation{Addr: addr, Size: defaultSize}, nil
	}
	name, off := expr, uint32(0)
	if i := strings.LastIndexByte(expr, '+'); i > 0 {
		o, err := parseAddr(expr[i+1:])
		if err != nil {
			return dataLocation{}, fmt.Errorf("malformed offset in %q", expr)
		}
		name, off = expr[:i], o
	}
	syms := d.machine.Syms
	g, ok := syms.GlobalByName(name)
	if !ok {
		return dataLocation{}, &SymbolNotFoundError{Name: name, Candidates: syms.GlobalCandidates(name, maxFindLocationCandidates)}
	}
	if off != 0 && off >= g.Size {
		return dataLocation{}, fmt.Errorf("offset %#x is outside of %s (size %d)", off, g.Name, g.Size)
	}
	size := g.Size - off
	if defaultSize != 0 {
		size = defaultSize
	}
	if size == 0 {
		size = 1
	}
	return dataLocation{Name: g.Name, Addr: g.Addr + off, Size: size}, nil
}
