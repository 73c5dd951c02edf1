package cpuctrl

import (
	"errors"
	"testing"
)

func TestBreakpointForever(t *testing.T) {
	bt := NewBreakpointTable()
	slot, err := bt.Set(0x100, Forever)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if !bt.IsBreakpoint(0x100) {
			t.Fatalf("forever breakpoint disappeared after %d checks", i)
		}
		if _, ok := bt.Hit(0x100); !ok {
			t.Fatalf("forever breakpoint not hit")
		}
	}
	if err := bt.Delete(slot); err != nil {
		t.Fatal(err)
	}
	if bt.IsBreakpoint(0x100) {
		t.Fatalf("deleted breakpoint still set")
	}
}

func TestBreakpointOnce(t *testing.T) {
	bt := NewBreakpointTable()
	if _, err := bt.Set(0x200, Once); err != nil {
		t.Fatal(err)
	}
	if !bt.IsBreakpoint(0x200) {
		t.Fatalf("once breakpoint not set")
	}
	bp, ok := bt.Hit(0x200)
	if !ok || bp.Mode != Once || bp.Addr != 0x200 {
		t.Fatalf("wrong hit %+v %v", bp, ok)
	}
	if bt.IsBreakpoint(0x200) {
		t.Fatalf("once breakpoint still set after hit")
	}
	if bt.Len() != 0 {
		t.Fatalf("expected empty table, got %d", bt.Len())
	}
}

func TestBreakpointDuplicate(t *testing.T) {
	bt := NewBreakpointTable()
	s1, _ := bt.Set(0x300, Once)
	s2, _ := bt.Set(0x300, Forever)
	if s1 != s2 {
		t.Fatalf("duplicate address got a new slot: %d %d", s1, s2)
	}
	bt.Hit(0x300)
	if !bt.IsBreakpoint(0x300) {
		t.Fatalf("forever request did not upgrade the once breakpoint")
	}
	s3, _ := bt.Set(0x300, Once)
	if bp, _ := bt.Get(s3); bp.Mode != Forever {
		t.Fatalf("once request downgraded a forever breakpoint")
	}
}

func TestBreakpointTableFull(t *testing.T) {
	bt := NewBreakpointTable()
	for i := 0; i < MaxBreakpoints; i++ {
		if _, err := bt.Set(uint32(i*4), Forever); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}
	_, err := bt.Set(0x10000, Forever)
	var tfe *TableFullError
	if !errors.As(err, &tfe) {
		t.Fatalf("expected TableFullError, got %v", err)
	}
	if err := bt.Delete(7); err != nil {
		t.Fatal(err)
	}
	slot, err := bt.Set(0x10000, Forever)
	if err != nil || slot != 7 {
		t.Fatalf("expected slot 7 to be reused, got %d %v", slot, err)
	}
}

func TestBreakpointDelete(t *testing.T) {
	bt := NewBreakpointTable()
	var nfe *NotFoundError
	for _, slot := range []int{-1, 0, MaxBreakpoints} {
		if err := bt.Delete(slot); !errors.As(err, &nfe) {
			t.Fatalf("Delete(%d): expected NotFoundError, got %v", slot, err)
		}
	}
	bt.Set(0x10, Forever)
	bt.Set(0x20, Once)
	bt.Set(0x30, Once)
	bt.DeleteAll(Once)
	bps := bt.Enumerate()
	if len(bps) != 1 || bps[0].Addr != 0x10 || bps[0].Slot != 0 {
		t.Fatalf("wrong breakpoints after DeleteAll(Once): %+v", bps)
	}
}
