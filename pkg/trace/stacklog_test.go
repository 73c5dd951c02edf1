package trace

import "testing"

func TestStackLog(t *testing.T) {
	l := NewStackLog()
	for _, sp := range []uint32{0x1000, 0x1000, 0xff0, 0xfe0, 0xfe0, 0xff0} {
		l.Record(4, sp)
	}
	h := l.History(4)
	want := []uint32{0xff0, 0xfe0, 0xff0, 0x1000}
	if len(h) != len(want) {
		t.Fatalf("expected %x, got %x", want, h)
	}
	for i := range want {
		if h[i] != want[i] {
			t.Fatalf("expected %x, got %x", want, h)
		}
	}
	for i := 0; i < StackLogSize+10; i++ {
		l.Record(1, uint32(i))
	}
	if h := l.History(1); len(h) != StackLogSize || h[0] != StackLogSize+9 {
		t.Fatalf("ring not bounded: len=%d newest=%d", len(h), h[0])
	}
	if s := l.Stacks(); len(s) != 2 || s[0] != 1 || s[1] != 4 {
		t.Fatalf("wrong stacks %v", s)
	}
	if l.History(9) != nil {
		t.Fatalf("history for an unknown stack")
	}
}
