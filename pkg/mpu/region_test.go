package mpu

import (
	"errors"
	"testing"
)

func mustAdd(t *testing.T, tbl *Table, r *Region) *Region {
	t.Helper()
	if err := tbl.AddRegion(r); err != nil {
		t.Fatalf("AddRegion(%#x): %v", r.Start, err)
	}
	return r
}

func newTestTable(t *testing.T, protection bool) (*Table, *Region, *Region) {
	tbl := NewTable(Config{NumCores: 2, Protection: protection})
	ram := mustAdd(t, tbl, NewRegion(RAM, 0x10000, 0x1000, 1<<0))
	rom := mustAdd(t, tbl, NewRegion(ROM, 0x0, 0x1000, AllCores))
	tbl.Seal()
	return tbl, rom, ram
}

func TestResolveOffset(t *testing.T) {
	tbl, rom, ram := newTestTable(t, false)
	for _, r := range []*Region{rom, ram} {
		for _, off := range []uint32{0, 1, 0x7ff, r.Size - 4} {
			addr := r.Start + off
			b, err := tbl.Resolve(0, addr, 4, AccessRead)
			if err != nil {
				t.Fatalf("Resolve(%#x): %v", addr, err)
			}
			b[0] = byte(off) | 1
			if r.data[off] != byte(off)|1 {
				t.Fatalf("Resolve(%#x) did not return offset %#x of the region buffer", addr, off)
			}
			if len(b) != 4 {
				t.Fatalf("expected 4 bytes, got %d", len(b))
			}
		}
	}
}

func TestRegionsSorted(t *testing.T) {
	tbl, rom, ram := newTestTable(t, false)
	rs := tbl.Regions()
	if len(rs) != 2 || rs[0] != rom || rs[1] != ram {
		t.Fatalf("regions not sorted by start address: %v", rs)
	}
}

func TestResolveInvalidAddress(t *testing.T) {
	tbl, _, _ := newTestTable(t, false)
	for _, addr := range []uint32{0x1000, 0x5000, 0xffff, 0x11000, 0xffffffff} {
		for core := 0; core < 2; core++ {
			_, err := tbl.Resolve(core, addr, 1, AccessRead)
			var iae *InvalidAddressError
			if !errors.As(err, &iae) {
				t.Fatalf("Resolve(%d, %#x): expected InvalidAddressError, got %v", core, addr, err)
			}
			if iae.Address != addr {
				t.Fatalf("wrong address in error: %#x", iae.Address)
			}
		}
	}
}

func TestResolveCrossesRegion(t *testing.T) {
	tbl, _, _ := newTestTable(t, false)
	_, err := tbl.GetData32(0, 0x10ffe)
	var mae *MisalignedAccessError
	if !errors.As(err, &mae) {
		t.Fatalf("expected MisalignedAccessError, got %v", err)
	}
	if _, err := tbl.GetData16(0, 0x10ffe); err != nil {
		t.Fatalf("halfword at the end of the region: %v", err)
	}
}

func TestPermissions(t *testing.T) {
	tbl, _, _ := newTestTable(t, true)
	if err := tbl.PutData32(0, 0x10000, 0xdeadbeef); err != nil {
		t.Fatalf("core 0 write: %v", err)
	}
	var pde *PermissionDeniedError
	if _, err := tbl.GetData32(1, 0x10000); !errors.As(err, &pde) {
		t.Fatalf("core 1 read: expected PermissionDeniedError, got %v", err)
	}
	if err := tbl.PutData8(1, 0x10, 1); !errors.As(err, &pde) {
		t.Fatalf("ROM write: expected PermissionDeniedError, got %v", err)
	}
	if _, err := tbl.GetData8(1, 0x10); err != nil {
		t.Fatalf("ROM read: %v", err)
	}

	open, _, _ := newTestTable(t, false)
	if _, err := open.GetData32(1, 0x10000); err != nil {
		t.Fatalf("permissions enforced with protection off: %v", err)
	}
}

func TestAccessors(t *testing.T) {
	tbl, _, _ := newTestTable(t, false)
	if err := tbl.PutData32(0, 0x10100, 0x11223344); err != nil {
		t.Fatal(err)
	}
	if v, _ := tbl.GetData8(0, 0x10100); v != 0x44 {
		t.Fatalf("expected little endian layout, got %#x", v)
	}
	if v, _ := tbl.GetData16(0, 0x10102); v != 0x1122 {
		t.Fatalf("GetData16: %#x", v)
	}
	if err := tbl.PutData16(0, 0x10104, 0xbeef); err != nil {
		t.Fatal(err)
	}
	b, err := tbl.ReadMemory(0, 0x10100, 6)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x44, 0x33, 0x22, 0x11, 0xef, 0xbe}
	for i := range want {
		if b[i] != want[i] {
			t.Fatalf("ReadMemory: expected %x got %x", want, b)
		}
	}
}

func TestOverlap(t *testing.T) {
	tbl := NewTable(Config{NumCores: 1})
	mustAdd(t, tbl, NewRegion(RAM, 0x1000, 0x1000, AllCores))
	var oe *OverlapError
	if err := tbl.AddRegion(NewRegion(RAM, 0x1800, 0x1000, AllCores)); !errors.As(err, &oe) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	if err := tbl.AddRegion(NewRegion(RAM, 0x800, 0x1000, AllCores)); !errors.As(err, &oe) {
		t.Fatalf("expected OverlapError, got %v", err)
	}
	mustAdd(t, tbl, NewRegion(RAM, 0x2000, 0x1000, AllCores))
	if err := tbl.AddRegion(NewRegion(MallocPool, 0, 0x400, AllCores)); err == nil {
		t.Fatalf("malloc pool at address 0 accepted")
	}
	tbl.Seal()
	if err := tbl.AddRegion(NewRegion(RAM, 0x8000, 0x100, AllCores)); err == nil {
		t.Fatalf("AddRegion after Seal accepted")
	}
}

type rangeWatch struct {
	addr  uint32
	size  int
	write bool
}

func (w *rangeWatch) CheckAccess(addr uint32, size int, write bool) bool {
	return write == w.write && addr < w.addr+uint32(w.size) && w.addr < addr+uint32(size)
}

func TestAccessHooks(t *testing.T) {
	tbl := NewTable(Config{NumCores: 1})
	mustAdd(t, tbl, NewRegion(RAM, 0x100, 0x100, AllCores))
	var hits, observed int
	err := tbl.SetHooks(Hooks{
		Watch: &rangeWatch{addr: 0x110, size: 4, write: true},
		OnWatch: func(core int, addr uint32, size int, write bool) {
			hits++
		},
		Observe: func(core int, addr uint32, size int, write bool) {
			observed++
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	tbl.Seal()
	tbl.PutData8(0, 0x112, 1)
	tbl.GetData8(0, 0x112)
	tbl.PutData32(0, 0x120, 1)
	tbl.ReadMemory(0, 0x110, 4)
	if hits != 1 {
		t.Fatalf("expected 1 watch hit, got %d", hits)
	}
	if observed != 3 {
		t.Fatalf("expected 3 observed accesses, got %d", observed)
	}
}

func TestWriteMemoryROM(t *testing.T) {
	tbl, rom, _ := newTestTable(t, true)
	if err := tbl.WriteMemory(0, 0x20, []byte{1, 2}); err != nil {
		t.Fatalf("WriteMemory to ROM: %v", err)
	}
	if rom.data[0x20] != 1 || rom.data[0x21] != 2 {
		t.Fatalf("ROM not patched")
	}
	if err := tbl.WriteMemory(0, 0x2000, []byte{1}); err == nil {
		t.Fatalf("WriteMemory to unmapped memory succeeded")
	}
}
