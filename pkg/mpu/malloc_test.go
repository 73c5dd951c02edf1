package mpu

import (
	"errors"
	"testing"
)

func newPool(t *testing.T, units uint32, policy FreePolicy, protection bool) (*Table, *Allocator) {
	t.Helper()
	tbl := NewTable(Config{NumCores: 1, Protection: protection, MallocUnitSize: 1024, FreePolicy: policy})
	mustAdd(t, tbl, NewRegion(MallocPool, 0x80000, units*1024, AllCores))
	tbl.Seal()
	return tbl, tbl.Allocator()
}

func TestAllocateExhaust(t *testing.T) {
	_, a := newPool(t, 2, FreeWarn, false)
	p1 := a.Allocate(1024)
	p2 := a.Allocate(1024)
	if p1 == 0 || p2 == 0 {
		t.Fatalf("first two allocations failed: %#x %#x", p1, p2)
	}
	if p1 == p2 || (p1 < p2 && p1+1024 > p2) || (p2 < p1 && p2+1024 > p1) {
		t.Fatalf("overlapping allocations %#x %#x", p1, p2)
	}
	if p3 := a.Allocate(1024); p3 != 0 {
		t.Fatalf("third allocation from a two unit pool succeeded: %#x", p3)
	}
	if err := a.Free(p1); err != nil {
		t.Fatal(err)
	}
	if p := a.Allocate(1000); p != p1 {
		t.Fatalf("expected the freed unit to be reused, got %#x", p)
	}
}

func TestAllocateZeroAndRounding(t *testing.T) {
	_, a := newPool(t, 4, FreeWarn, false)
	if p := a.Allocate(0); p != 0 {
		t.Fatalf("zero size allocation returned %#x", p)
	}
	p := a.Allocate(1025)
	if p == 0 {
		t.Fatal("allocation failed")
	}
	if s := a.Stats(); s.UsedUnits != 2 || s.Blocks != 1 {
		t.Fatalf("1025 bytes should use two units: %+v", s)
	}
	if sz, ok := a.Size(p); !ok || sz != 1025 {
		t.Fatalf("Size: %d %v", sz, ok)
	}
	if q := a.Allocate(3 * 1024); q != 0 {
		t.Fatalf("allocation larger than the free run succeeded: %#x", q)
	}
}

func TestContiguousRun(t *testing.T) {
	_, a := newPool(t, 4, FreeWarn, false)
	p := []uint32{a.Allocate(1), a.Allocate(1), a.Allocate(1), a.Allocate(1)}
	a.Free(p[1])
	a.Free(p[3])
	if q := a.Allocate(2048); q != 0 {
		t.Fatalf("allocated across a used unit: %#x", q)
	}
	a.Free(p[2])
	if q := a.Allocate(2048); q != p[1] {
		t.Fatalf("expected first fit at %#x, got %#x", p[1], q)
	}
}

func TestReallocate(t *testing.T) {
	tbl, a := newPool(t, 4, FreeWarn, false)
	p := a.Allocate(8)
	for i := uint32(0); i < 8; i++ {
		tbl.PutData8(0, p+i, byte(i+1))
	}
	q, err := a.Reallocate(p, 2048)
	if err != nil || q == 0 || q == p {
		t.Fatalf("Reallocate: %#x %v", q, err)
	}
	for i := uint32(0); i < 8; i++ {
		if v, _ := tbl.GetData8(0, q+i); v != byte(i+1) {
			t.Fatalf("byte %d not copied: %#x", i, v)
		}
	}
	if _, ok := a.Size(p); ok {
		t.Fatalf("old block still live")
	}

	// shrinking copies only the new size
	r, _ := a.Reallocate(q, 4)
	if sz, _ := a.Size(r); sz != 4 {
		t.Fatalf("wrong size after shrink %d", sz)
	}

	// failure keeps the old block
	big, _ := a.Reallocate(r, 8*1024)
	if big != 0 {
		t.Fatalf("oversized reallocate succeeded")
	}
	if _, ok := a.Size(r); !ok {
		t.Fatalf("failed reallocate released the old block")
	}

	if z, err := a.Reallocate(r, 0); z != 0 || err != nil {
		t.Fatalf("Reallocate to zero: %#x %v", z, err)
	}
	if s := a.Stats(); s.Blocks != 0 {
		t.Fatalf("blocks left after realloc to zero: %+v", s)
	}
	if n, _ := a.Reallocate(0, 16); n == 0 {
		t.Fatalf("Reallocate(0, n) should allocate")
	}
}

func TestCalloc(t *testing.T) {
	tbl, a := newPool(t, 2, FreeWarn, false)
	p := a.Allocate(16)
	tbl.PutData32(0, p, 0xffffffff)
	a.Free(p)
	q := a.Calloc(4, 4)
	if q != p {
		t.Fatalf("expected reuse of %#x, got %#x", p, q)
	}
	if v, _ := tbl.GetData32(0, q); v != 0 {
		t.Fatalf("calloc memory not zeroed: %#x", v)
	}
	if a.Calloc(0, 4) != 0 || a.Calloc(1<<20, 1<<20) != 0 {
		t.Fatalf("degenerate calloc succeeded")
	}
}

func TestFreePolicy(t *testing.T) {
	for _, tc := range []struct {
		policy  FreePolicy
		wantErr bool
	}{
		{FreeIgnore, false},
		{FreeWarn, false},
		{FreeStrict, true},
	} {
		_, a := newPool(t, 2, tc.policy, false)
		p := a.Allocate(4)
		if err := a.Free(p); err != nil {
			t.Fatalf("%v: first free: %v", tc.policy, err)
		}
		err := a.Free(p)
		var ufe *UnknownFreeError
		if tc.wantErr != errors.As(err, &ufe) {
			t.Fatalf("%v: double free returned %v", tc.policy, err)
		}
		if err := a.Free(0); err != nil {
			t.Fatalf("%v: free(0): %v", tc.policy, err)
		}
		if s := a.Stats(); s.UsedUnits != 0 {
			t.Fatalf("%v: units leaked %+v", tc.policy, s)
		}
	}
	if _, err := ParseFreePolicy("bogus"); err == nil {
		t.Fatalf("ParseFreePolicy accepted a bogus policy")
	}
}

func TestFreedMemoryProtected(t *testing.T) {
	tbl, a := newPool(t, 2, FreeWarn, true)
	p := a.Allocate(4)
	if err := tbl.PutData32(0, p, 1); err != nil {
		t.Fatalf("write to live block: %v", err)
	}
	a.Free(p)
	var pde *PermissionDeniedError
	if _, err := tbl.GetData32(0, p); !errors.As(err, &pde) {
		t.Fatalf("read of freed block: expected PermissionDeniedError, got %v", err)
	}
}

func TestCorruptedBookkeepingPanics(t *testing.T) {
	_, a := newPool(t, 2, FreeWarn, false)
	p := a.Allocate(4)
	a.pools[0].used[0] = false
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic")
		}
	}()
	a.Free(p)
}
