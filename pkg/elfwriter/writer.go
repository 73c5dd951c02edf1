// elfwriter is a package to write ELF32 executables without having their
// entire contents in memory at any one time.
// This package is incomplete, only features needed to write program
// images for the loader are implemented, notably missing:
// - section headers, and therefore symbol tables
// - big endian files
package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"io"
)

// WriteCloserSeeker is the union of io.Writer, io.Closer and io.Seeker.
type WriteCloserSeeker interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Writer writes ELF files.
type Writer struct {
	w     WriteCloserSeeker
	Err   error
	Progs []*elf.ProgHeader

	seekProgHeader int64
	seekProgNum    int64
}

const (
	ehsize    = 52
	phentsize = 32
)

// New creates a new Writer. Only the Type, Machine and Entry fields of
// fhdr are used.
func New(w WriteCloserSeeker, fhdr *elf.FileHeader) *Writer {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		panic("can't write halfway through a file")
	}

	r := &Writer{w: w}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))      // e_type
	r.u16(uint16(fhdr.Machine))   // e_machine
	r.u32(uint32(elf.EV_CURRENT)) // e_version
	r.u32(uint32(fhdr.Entry))     // e_entry
	r.seekProgHeader = r.Here()
	r.u32(0)         // e_phoff
	r.u32(0)         // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(phentsize) // e_phentsize
	r.seekProgNum = r.Here()
	r.u16(0)                     // e_phnum
	r.u16(40)                    // e_shentsize
	r.u16(0)                     // e_shnum
	r.u16(uint16(elf.SHN_UNDEF)) // e_shstrndx

	// Sanity check, size of file header should be the same as ehsize
	if sz, _ := w.Seek(0, io.SeekCurrent); sz != ehsize {
		panic("internal error, ELF header size")
	}

	return r
}

// WriteSegment writes data at the current location and records a PT_LOAD
// program header mapping it at vaddr. memsz is raised to len(data) if
// smaller.
func (w *Writer) WriteSegment(data []byte, vaddr, memsz uint32, flags elf.ProgFlag) *elf.ProgHeader {
	w.Align(4)
	if memsz < uint32(len(data)) {
		memsz = uint32(len(data))
	}
	h := &elf.ProgHeader{
		Type:   elf.PT_LOAD,
		Flags:  flags,
		Off:    uint64(w.Here()),
		Vaddr:  uint64(vaddr),
		Paddr:  uint64(vaddr),
		Filesz: uint64(len(data)),
		Memsz:  uint64(memsz),
		Align:  4,
	}
	w.Write(data)
	w.Progs = append(w.Progs, h)
	return h
}

// WriteProgramHeaders writes the program headers at the current location
// and patches the file header accordingly.
func (w *Writer) WriteProgramHeaders() {
	w.Align(4)
	phoff := w.Here()

	// Patch File Header
	w.w.Seek(w.seekProgHeader, io.SeekStart)
	w.u32(uint32(phoff))
	w.w.Seek(w.seekProgNum, io.SeekStart)
	w.u16(uint16(len(w.Progs)))
	w.w.Seek(0, io.SeekEnd)

	for _, prog := range w.Progs {
		w.u32(uint32(prog.Type))
		w.u32(uint32(prog.Off))
		w.u32(uint32(prog.Vaddr))
		w.u32(uint32(prog.Paddr))
		w.u32(uint32(prog.Filesz))
		w.u32(uint32(prog.Memsz))
		w.u32(uint32(prog.Flags))
		w.u32(uint32(prog.Align))
	}
}

// Close writes the program headers and closes the underlying file.
func (w *Writer) Close() error {
	w.WriteProgramHeaders()
	if err := w.w.Close(); err != nil && w.Err == nil {
		w.Err = err
	}
	return w.Err
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
