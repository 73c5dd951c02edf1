package trace

import "testing"

func TestFuncLogOverwrite(t *testing.T) {
	l := NewFuncLog(2)
	for i := 0; i < FuncLogSize+1; i++ {
		l.Record(1, 0, i, uint32(i))
	}
	if n := l.Len(1); n != FuncLogSize {
		t.Fatalf("expected %d entries, got %d", FuncLogSize, n)
	}
	if e, _ := l.Get(1, 0); e.FuncID != FuncLogSize {
		t.Fatalf("newest entry %+v", e)
	}
	if e, _ := l.Get(1, FuncLogSize-1); e.FuncID != 1 {
		t.Fatalf("oldest entry should be the second record, got %+v", e)
	}
	if _, ok := l.Get(1, FuncLogSize); ok {
		t.Fatalf("Get past the capacity succeeded")
	}
	if l.Len(0) != 0 {
		t.Fatalf("core 0 has entries")
	}
}

func TestFuncLogEntries(t *testing.T) {
	l := NewFuncLog(1)
	for i := 0; i < 5; i++ {
		l.Record(0, uint32(i*4), i, 0)
	}
	newest := l.Entries(0, 3, false)
	oldest := l.Entries(0, 3, true)
	for i, want := range []int{4, 3, 2} {
		if newest[i].FuncID != want {
			t.Fatalf("newest first: %+v", newest)
		}
	}
	for i, want := range []int{2, 3, 4} {
		if oldest[i].FuncID != want {
			t.Fatalf("oldest first: %+v", oldest)
		}
	}
	if len(l.Entries(0, 100, false)) != 5 {
		t.Fatalf("Entries not capped at the number of records")
	}
	l.Reset()
	if l.Len(0) != 0 {
		t.Fatalf("Reset left entries")
	}
}
