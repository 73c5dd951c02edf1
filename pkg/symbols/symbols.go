// Package symbols maps guest addresses to the functions and global
// variables of the loaded program.
package symbols

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"
)

// Func is a function of the guest program.
type Func struct {
	ID   int
	Name string
	Addr uint32
	Size uint32
}

// Global is a global variable of the guest program. Stacks are globals
// too: the global containing a stack pointer names its stack.
type Global struct {
	ID   int
	Name string
	Addr uint32
	Size uint32
}

func (f Func) contains(pc uint32) bool {
	return pc >= f.Addr && uint64(pc) < uint64(f.Addr)+uint64(max1(f.Size))
}

func (g Global) contains(addr uint32) bool {
	return addr >= g.Addr && uint64(addr) < uint64(g.Addr)+uint64(max1(g.Size))
}

func max1(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}

const pcCacheSize = 4096

// Table is an immutable symbol table. Function and global ids are their
// index in address order.
type Table struct {
	funcs   []Func
	globals []Global

	funcByName   map[string]int
	globalByName map[string]int
	funcNames    *trie.Trie
	globalNames  *trie.Trie

	pcCache *lru.Cache
}

// New builds a table from the given symbols.
func New(funcs []Func, globals []Global) *Table {
	t := &Table{
		funcs:        append([]Func(nil), funcs...),
		globals:      append([]Global(nil), globals...),
		funcByName:   make(map[string]int),
		globalByName: make(map[string]int),
		funcNames:    trie.New(),
		globalNames:  trie.New(),
	}
	sort.SliceStable(t.funcs, func(i, j int) bool { return t.funcs[i].Addr < t.funcs[j].Addr })
	sort.SliceStable(t.globals, func(i, j int) bool { return t.globals[i].Addr < t.globals[j].Addr })
	for i := range t.funcs {
		t.funcs[i].ID = i
		t.funcByName[t.funcs[i].Name] = i
		t.funcNames.Add(t.funcs[i].Name, i)
	}
	for i := range t.globals {
		t.globals[i].ID = i
		t.globalByName[t.globals[i].Name] = i
		t.globalNames.Add(t.globals[i].Name, i)
	}
	t.pcCache, _ = lru.New(pcCacheSize)
	return t
}

// Load reads the function and object symbols of an ELF file.
func Load(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return FromELF(f)
}

// FromELF reads the function and object symbols of f.
func FromELF(f *elf.File) (*Table, error) {
	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("could not read symbol table: %v", err)
	}
	var funcs []Func
	var globals []Global
	for _, s := range syms {
		if s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
			funcs = append(funcs, Func{Name: s.Name, Addr: uint32(s.Value), Size: uint32(s.Size)})
		case elf.STT_OBJECT:
			globals = append(globals, Global{Name: s.Name, Addr: uint32(s.Value), Size: uint32(s.Size)})
		}
	}
	return New(funcs, globals), nil
}

// NumFuncs returns the number of functions.
func (t *Table) NumFuncs() int { return len(t.funcs) }

// NumGlobals returns the number of globals.
func (t *Table) NumGlobals() int { return len(t.globals) }

// Funcs returns every function in address order.
func (t *Table) Funcs() []Func { return t.funcs }

// Globals returns every global in address order.
func (t *Table) Globals() []Global { return t.globals }

// FuncByPC returns the function containing pc.
func (t *Table) FuncByPC(pc uint32) (Func, bool) {
	if v, ok := t.pcCache.Get(pc); ok {
		id := v.(int)
		if id < 0 {
			return Func{}, false
		}
		return t.funcs[id], true
	}
	id := -1
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].Addr > pc }) - 1
	if i >= 0 && t.funcs[i].contains(pc) {
		id = i
	}
	t.pcCache.Add(pc, id)
	if id < 0 {
		return Func{}, false
	}
	return t.funcs[id], true
}

// FuncAt returns the id and entry address of the function containing pc.
func (t *Table) FuncAt(pc uint32) (int, uint32, bool) {
	fn, ok := t.FuncByPC(pc)
	return fn.ID, fn.Addr, ok
}

// FuncByName looks up a function by name.
func (t *Table) FuncByName(name string) (Func, bool) {
	i, ok := t.funcByName[name]
	if !ok {
		return Func{}, false
	}
	return t.funcs[i], true
}

// FuncByID returns function id.
func (t *Table) FuncByID(id int) (Func, bool) {
	if id < 0 || id >= len(t.funcs) {
		return Func{}, false
	}
	return t.funcs[id], true
}

// GlobalByAddr returns the global containing addr.
func (t *Table) GlobalByAddr(addr uint32) (Global, bool) {
	i := sort.Search(len(t.globals), func(i int) bool { return t.globals[i].Addr > addr }) - 1
	if i >= 0 && t.globals[i].contains(addr) {
		return t.globals[i], true
	}
	return Global{}, false
}

// GlobalByName looks up a global by name.
func (t *Table) GlobalByName(name string) (Global, bool) {
	i, ok := t.globalByName[name]
	if !ok {
		return Global{}, false
	}
	return t.globals[i], true
}

// GlobalByID returns global id.
func (t *Table) GlobalByID(id int) (Global, bool) {
	if id < 0 || id >= len(t.globals) {
		return Global{}, false
	}
	return t.globals[id], true
}

// FuncName returns the name of function id or "?".
func (t *Table) FuncName(id int) string {
	if fn, ok := t.FuncByID(id); ok {
		return fn.Name
	}
	return "?"
}

// GlobalName returns the name of global id or "?".
func (t *Table) GlobalName(id int) string {
	if g, ok := t.GlobalByID(id); ok {
		return g.Name
	}
	return "?"
}

// StackName returns the name of the global containing sp or "?".
func (t *Table) StackName(sp uint32) string {
	if g, ok := t.GlobalByAddr(sp); ok {
		return g.Name
	}
	return "?"
}

// FuncCandidates returns up to max function names starting with prefix,
// falling back to a fuzzy match when no name has that prefix.
func (t *Table) FuncCandidates(prefix string, max int) []string {
	return candidates(t.funcNames, prefix, max)
}

// GlobalCandidates returns up to max global names starting with prefix,
// falling back to a fuzzy match when no name has that prefix.
func (t *Table) GlobalCandidates(prefix string, max int) []string {
	return candidates(t.globalNames, prefix, max)
}

func candidates(tr *trie.Trie, prefix string, max int) []string {
	r := tr.PrefixSearch(prefix)
	if len(r) == 0 {
		r = tr.FuzzySearch(prefix)
	}
	sort.Strings(r)
	if max > 0 && len(r) > max {
		r = r[:max]
	}
	return r
}
