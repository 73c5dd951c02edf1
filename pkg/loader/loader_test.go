package loader

import (
	"bytes"
	"debug/elf"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/athrill-go/athrill/pkg/elfwriter"
	"github.com/athrill-go/athrill/pkg/mpu"
)

const testMemCfg = `
cores: 2
regions:
  - kind: rom
    start: 0x0
    size: 4
    executable: true
  - kind: ram
    start: 0x10000
    size: 8
    permission: 0x1
  - kind: malloc
    start: 0x20000
    size: 2
  - kind: device
    start: 0xfffff000
    size: 4
`

func TestParseMemoryConfig(t *testing.T) {
	mc, err := ParseMemoryConfig([]byte(testMemCfg))
	if err != nil {
		t.Fatal(err)
	}
	if mc.Cores != 2 || len(mc.Regions) != 4 {
		t.Fatalf("wrong config %+v", mc)
	}
	if mc.Regions[1].Start != 0x10000 || *mc.Regions[1].Permission != 1 {
		t.Fatalf("wrong ram region %+v", mc.Regions[1])
	}
	for _, bad := range []string{
		"regions:\n  - kind: flash\n    start: 0\n    size: 1\n",
		"regions:\n  - kind: rom\n    start: 0\n    size: 0\n",
		"regions:\n  - kind: rom\n    start: 0\n    size: 1\n    mmap: x.bin\n",
		"regions:\n  - kind: rom\n    begin: 0\n    size: 1\n",
	} {
		if _, err := ParseMemoryConfig([]byte(bad)); err == nil {
			t.Fatalf("accepted bad config %q", bad)
		}
	}
}

func newTable(t *testing.T) *mpu.Table {
	t.Helper()
	mc, err := ParseMemoryConfig([]byte(testMemCfg))
	if err != nil {
		t.Fatal(err)
	}
	tbl := mpu.NewTable(mpu.Config{NumCores: 2})
	if err := mc.Populate(tbl); err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestPopulate(t *testing.T) {
	tbl := newTable(t)
	rs := tbl.Regions()
	if len(rs) != 4 {
		t.Fatalf("expected 4 regions, got %d", len(rs))
	}
	if rs[0].Kind != mpu.ROM || rs[0].Size != 4096 || rs[0].Permission != mpu.AllCores || !rs[0].Executable {
		t.Fatalf("wrong rom region %+v", rs[0])
	}
	if rs[1].Permission != 1 || rs[1].Size != 8192 {
		t.Fatalf("wrong ram region %+v", rs[1])
	}
	if rs[3].Kind != mpu.Device {
		t.Fatalf("wrong device region %+v", rs[3])
	}
	tbl.Seal()
	if a := tbl.Allocator(); a.Stats().Units != 2 {
		t.Fatalf("malloc region not carved into 2 units: %+v", a.Stats())
	}
}

type testSegment struct {
	vaddr uint32
	data  []byte
	memsz uint32
	flags elf.ProgFlag
}

// writeELF writes a little endian ELF32 image with one program header per
// segment and no sections, and returns its path.
func writeELF(t *testing.T, etype elf.Type, entry uint32, segs []testSegment) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.elf")
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := elfwriter.New(fh, &elf.FileHeader{Type: etype, Machine: elf.EM_V850, Entry: uint64(entry)})
	for _, s := range segs {
		w.WriteSegment(s.data, s.vaddr, s.memsz, s.flags)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadELF(t *testing.T) {
	tbl := newTable(t)
	img, err := LoadELF(tbl, writeELF(t, elf.ET_EXEC, 0x100, []testSegment{
		{vaddr: 0x100, data: []byte{1, 2, 3, 4}, memsz: 4, flags: elf.PF_R | elf.PF_X},
		{vaddr: 0x10000, data: []byte{9, 9}, memsz: 2, flags: elf.PF_R | elf.PF_W},
		{vaddr: 0x40000, data: []byte{7}, memsz: 0x500, flags: elf.PF_R},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if img.Entry != 0x100 || len(img.Segments) != 3 || !img.Segments[0].Executable {
		t.Fatalf("wrong image %+v", img)
	}
	tbl.Seal()
	got, _ := tbl.ReadMemory(0, 0x100, 4)
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("rom segment not loaded: %v", got)
	}
	if got, _ := tbl.ReadMemory(0, 0x10000, 2); !bytes.Equal(got, []byte{0, 0}) {
		t.Fatalf("ram segment copied: %v", got)
	}
	r := tbl.Lookup(0x40000)
	if r == nil || r.Kind != mpu.ROM || r.Size != 0x800 {
		t.Fatalf("no rom region created for the unmapped segment: %+v", r)
	}
	if b, _ := tbl.ReadMemory(0, 0x40000, 1); b[0] != 7 {
		t.Fatalf("unmapped segment not loaded")
	}
	if img.Symbols.NumFuncs() != 0 {
		t.Fatalf("symbols found in an image without a symbol table")
	}
}

func TestLoadELFRejectsRelocatable(t *testing.T) {
	tbl := newTable(t)
	data, err := os.ReadFile(writeELF(t, elf.ET_REL, 0, nil))
	if err != nil {
		t.Fatal(err)
	}
	_, err = LoadELFReader(tbl, bytes.NewReader(data))
	if err != ErrNotExecFile {
		t.Fatalf("expected ErrNotExecFile, got %v", err)
	}
}

func TestLoadBinary(t *testing.T) {
	tbl := newTable(t)
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := ioutil.WriteFile(path, []byte{0xde, 0xad}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBinary(tbl, path); err != nil {
		t.Fatal(err)
	}
	tbl.Seal()
	if b, _ := tbl.ReadMemory(0, 0, 2); !bytes.Equal(b, []byte{0xde, 0xad}) {
		t.Fatalf("binary not loaded at 0: %v", b)
	}
}
