package symbols

import "testing"

func testTable() *Table {
	return New(
		[]Func{
			{Name: "task_b", Addr: 0x300, Size: 0x40},
			{Name: "main", Addr: 0x100, Size: 0x80},
			{Name: "task_a", Addr: 0x200, Size: 0x40},
		},
		[]Global{
			{Name: "stack_core0", Addr: 0x8000, Size: 0x400},
			{Name: "counter", Addr: 0x7000, Size: 4},
		},
	)
}

func TestFuncByPC(t *testing.T) {
	tbl := testTable()
	tests := []struct {
		pc   uint32
		name string
		ok   bool
	}{
		{0x100, "main", true},
		{0x17f, "main", true},
		{0x180, "", false},
		{0x23c, "task_a", true},
		{0x0, "", false},
		{0x33f, "task_b", true},
	}
	for i := 0; i < 2; i++ { // second pass hits the cache
		for _, tt := range tests {
			fn, ok := tbl.FuncByPC(tt.pc)
			if ok != tt.ok || fn.Name != tt.name {
				t.Fatalf("FuncByPC(%#x) = %q %v, expected %q %v", tt.pc, fn.Name, ok, tt.name, tt.ok)
			}
		}
	}
	if id, entry, ok := tbl.FuncAt(0x210); !ok || entry != 0x200 || tbl.FuncName(id) != "task_a" {
		t.Fatalf("FuncAt: %d %#x %v", id, entry, ok)
	}
}

func TestIDsInAddressOrder(t *testing.T) {
	tbl := testTable()
	for i, want := range []string{"main", "task_a", "task_b"} {
		if tbl.FuncName(i) != want {
			t.Fatalf("function %d is %q, expected %q", i, tbl.FuncName(i), want)
		}
	}
	if g, ok := tbl.GlobalByName("counter"); !ok || g.ID != 0 {
		t.Fatalf("GlobalByName: %+v %v", g, ok)
	}
	if tbl.FuncName(17) != "?" {
		t.Fatalf("unknown function id not reported as ?")
	}
}

func TestGlobals(t *testing.T) {
	tbl := testTable()
	if tbl.StackName(0x83fc) != "stack_core0" {
		t.Fatalf("wrong stack name %q", tbl.StackName(0x83fc))
	}
	if tbl.StackName(0x8400) != "?" {
		t.Fatalf("address past the stack resolved")
	}
	if _, ok := tbl.GlobalByAddr(0x7004); ok {
		t.Fatalf("address past counter resolved")
	}
}

func TestCandidates(t *testing.T) {
	tbl := testTable()
	c := tbl.FuncCandidates("task", 10)
	if len(c) != 2 || c[0] != "task_a" || c[1] != "task_b" {
		t.Fatalf("wrong candidates %v", c)
	}
	if c := tbl.FuncCandidates("task", 1); len(c) != 1 {
		t.Fatalf("candidates not capped: %v", c)
	}
	if c := tbl.GlobalCandidates("xyz", 10); len(c) != 0 {
		t.Fatalf("unexpected candidates %v", c)
	}
}
