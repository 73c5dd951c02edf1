package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/athrill-go/athrill/pkg/logflags"
	"github.com/athrill-go/athrill/pkg/mpu"
	"github.com/athrill-go/athrill/pkg/symbols"
)

// Segment is a loadable segment of a program image.
type Segment struct {
	Addr       uint32
	FileSize   uint32
	MemSize    uint32
	Executable bool
	Writable   bool
}

// Image is a program loaded into a region table.
type Image struct {
	Entry    uint32
	Segments []Segment
	Symbols  *symbols.Table
}

var (
	ErrNotELF32    = errors.New("not a 32 bit ELF file")
	ErrNotLittle   = errors.New("not a little endian ELF file")
	ErrNotExecFile = errors.New("not an executable ELF file")
)

// LoadELF loads the ELF executable at path into tbl.
func LoadELF(tbl *mpu.Table, path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return loadELF(tbl, f)
}

// LoadELFReader loads the ELF executable read from r into tbl.
func LoadELFReader(tbl *mpu.Table, r io.ReaderAt) (*Image, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return loadELF(tbl, f)
}

// loadELF copies the PT_LOAD segments of f into the ROM regions owning
// them. Segments outside every region get a region of their own: rom
// for read only segments, ram for writable ones. Segments landing in
// ram are left to the startup code of the program.
func loadELF(tbl *mpu.Table, f *elf.File) (*Image, error) {
	log := logflags.LoaderLogger()
	if f.Class != elf.ELFCLASS32 {
		return nil, ErrNotELF32
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, ErrNotLittle
	}
	if f.Type != elf.ET_EXEC {
		return nil, ErrNotExecFile
	}
	img := &Image{Entry: uint32(f.Entry)}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		seg := Segment{
			Addr:       uint32(p.Vaddr),
			FileSize:   uint32(p.Filesz),
			MemSize:    uint32(p.Memsz),
			Executable: p.Flags&elf.PF_X != 0,
			Writable:   p.Flags&elf.PF_W != 0,
		}
		img.Segments = append(img.Segments, seg)

		r := tbl.Lookup(seg.Addr)
		if r == nil {
			kind := mpu.ROM
			if seg.Writable {
				kind = mpu.RAM
			}
			size := alignKB(seg.MemSize)
			r = mpu.NewRegion(kind, seg.Addr, size, mpu.AllCores)
			if err := tbl.AddRegion(r); err != nil {
				return nil, fmt.Errorf("segment at %#x: %v", seg.Addr, err)
			}
			log.Debugf("created %s region %#x-%#x for segment", kind, r.Start, r.End())
		}
		if seg.Executable {
			r.Executable = true
			log.Debugf("executable segment %#x size %#x", seg.Addr, seg.MemSize)
		}
		if r.Kind != mpu.ROM || seg.FileSize == 0 {
			continue
		}
		dst, err := r.Bytes(seg.Addr, int(seg.FileSize))
		if err != nil {
			return nil, fmt.Errorf("segment at %#x does not fit its region: %v", seg.Addr, err)
		}
		data, err := ioutil.ReadAll(p.Open())
		if err != nil {
			return nil, fmt.Errorf("reading segment at %#x: %v", seg.Addr, err)
		}
		copy(dst, data)
		log.Debugf("loaded %#x bytes at %#x", len(data), seg.Addr)
	}
	syms, err := symbols.FromELF(f)
	if err != nil {
		return nil, err
	}
	img.Symbols = syms
	return img, nil
}

func alignKB(n uint32) uint32 {
	return (n + 1023) &^ 1023
}

// LoadBinary copies a raw image at address 0.
func LoadBinary(tbl *mpu.Table, path string) (*Image, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	r := tbl.Lookup(0)
	if r == nil {
		r = mpu.NewRegion(mpu.ROM, 0, alignKB(uint32(len(data))), mpu.AllCores)
		if err := tbl.AddRegion(r); err != nil {
			return nil, err
		}
	}
	dst, err := r.Bytes(0, len(data))
	if err != nil {
		return nil, fmt.Errorf("%s does not fit the region at address 0: %v", path, err)
	}
	copy(dst, data)
	r.Executable = true
	return &Image{
		Segments: []Segment{{FileSize: uint32(len(data)), MemSize: uint32(len(data)), Executable: true}},
		Symbols:  symbols.New(nil, nil),
	}, nil
}
