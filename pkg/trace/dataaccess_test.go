package trace

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestSortedView(t *testing.T) {
	r := NewDataAccessRecorder()
	if r.Record(1, AccessRecord{Time: 5}) {
		t.Fatalf("recorded an access to an untracked symbol")
	}
	r.Track(1)
	r.Record(1, AccessRecord{Type: AccessRead, Time: 5})
	r.Record(1, AccessRecord{Type: AccessWrite, Time: 9})
	r.Record(1, AccessRecord{Type: AccessRead, Time: 9, Core: 1})
	r.Record(1, AccessRecord{Type: AccessWrite, Time: 1})
	v := r.SortedView(1)
	if len(v) != 4 {
		t.Fatalf("expected 4 records, got %d", len(v))
	}
	for i := 1; i < len(v); i++ {
		if v[i-1].Time < v[i].Time {
			t.Fatalf("records not sorted by time descending: %+v", v)
		}
	}
	if v[0].Core != 1 || v[1].Type != AccessWrite {
		t.Fatalf("records with the same time not ordered newest first: %+v", v)
	}
	r.Untrack(1)
	if r.Len(1) != 0 || r.Tracked(1) {
		t.Fatalf("Untrack kept the history")
	}
}

type fakeNames struct{}

func (fakeNames) GlobalName(id int) string   { return fmt.Sprintf("g%d", id) }
func (fakeNames) FuncName(id int) string     { return fmt.Sprintf("f%d", id) }
func (fakeNames) StackName(sp uint32) string { return "stack_core0" }

func TestExportCSV(t *testing.T) {
	r := NewDataAccessRecorder()
	r.Track(3)
	r.Track(2)
	r.Record(3, AccessRecord{Type: AccessWrite, Core: 0, FuncID: 7, Time: 10})
	r.Record(2, AccessRecord{Type: AccessRead, Core: 1, FuncID: 8, Time: 20})
	r.Record(3, AccessRecord{Type: AccessRead, Core: 0, FuncID: 7, Time: 30})
	var buf bytes.Buffer
	if err := r.ExportCSV(&buf, fakeNames{}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"variable,access_clock,type,core,stack,access_func,",
		"g2,20,READ,core1,stack_core0,f8(),",
		"g3,30,READ,core0,stack_core0,f7(),",
		"g3,10,WRITE,core0,stack_core0,f7(),",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %q", len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}
