package api

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
)

// String returns "func+0x10 (0x1234)" for breakpoints inside a known
// function and the bare address otherwise.
func (bp *Breakpoint) String() string {
	mode := ""
	if bp.Once {
		mode = " once"
	}
	if bp.FunctionName == "" {
		return fmt.Sprintf("Breakpoint %d at %#x%s", bp.ID, bp.Addr, mode)
	}
	return fmt.Sprintf("Breakpoint %d at %s+%#x (%#x)%s", bp.ID, bp.FunctionName, bp.Offset, bp.Addr, mode)
}

func (wp *Watchpoint) String() string {
	if wp.Symbol == "" {
		return fmt.Sprintf("Watchpoint %d %s [%#x, %#x)", wp.ID, wp.Type, wp.Addr, uint64(wp.Addr)+uint64(wp.Size))
	}
	return fmt.Sprintf("Watchpoint %d %s %s [%#x, %#x)", wp.ID, wp.Type, wp.Symbol, wp.Addr, uint64(wp.Addr)+uint64(wp.Size))
}

// Location returns "func+0x10" or the bare pc.
func (c *Core) Location() string {
	if c.Function == nil {
		return fmt.Sprintf("%#x", c.PC)
	}
	return fmt.Sprintf("%s+%#x", c.Function.Name, c.PC-c.Function.Addr)
}

func (ev *StopEvent) String() string {
	loc := fmt.Sprintf("%#x", ev.PC)
	if ev.Function != nil {
		loc = fmt.Sprintf("%s+%#x(%#x)", ev.Function.Name, ev.PC-ev.Function.Addr, ev.PC)
	}
	switch {
	case ev.Breakpoint != nil:
		return fmt.Sprintf("core%d: stopped at breakpoint %d %s clock=%d", ev.Core, ev.Breakpoint.ID, loc, ev.Clock)
	case ev.Watchpoint != nil:
		return fmt.Sprintf("core%d: %s access to %#x %s clock=%d", ev.Core, ev.Watchpoint.Type, ev.Access, loc, ev.Clock)
	}
	return fmt.Sprintf("core%d: %s %s clock=%d", ev.Core, ev.Reason, loc, ev.Clock)
}

// PrettyExamineMemory formats memArea as rows of size byte little
// endian values in the given format ('b', 'o', 'd' or 'x').
func PrettyExamineMemory(address uint32, memArea []byte, format byte, size int) string {
	var (
		cols      int
		colFormat string
		colBytes  = size

		addrLen int
		addrFmt string
	)

	switch format {
	case 'b':
		cols = 4 // Avoid emitting rows that are too long when using binary format
		colFormat = fmt.Sprintf("%%0%db", colBytes*8)
	case 'o':
		cols = 8
		colFormat = fmt.Sprintf("0%%0%do", colBytes*3) // Always keep one leading zero for octal.
	case 'd':
		cols = 8
		colFormat = fmt.Sprintf("%%0%dd", colBytes*3)
	case 'x':
		cols = 8
		colFormat = fmt.Sprintf("0x%%0%dx", colBytes*2) // Always keep one leading '0x' for hex.
	default:
		return fmt.Sprintf("not supported format %q\n", string(format))
	}
	colFormat += "\t"

	l := len(memArea)
	rows := l / (cols * colBytes)
	if l%(cols*colBytes) != 0 {
		rows++
	}

	// Avoid the lens of two adjacent address are different, so always use the last addr's len to format.
	if l != 0 {
		addrLen = len(fmt.Sprintf("%x", uint64(address)+uint64(l)))
	}
	addrFmt = "0x%0" + strconv.Itoa(addrLen) + "x:\t"

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)

	addr := uint64(address)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(w, addrFmt, addr)

		for j := 0; j < cols; j++ {
			offset := i*(cols*colBytes) + j*colBytes
			if offset+colBytes <= len(memArea) {
				fmt.Fprintf(w, colFormat, littleEndian(memArea[offset:offset+colBytes]))
			}
		}
		fmt.Fprintln(w, "")
		addr += uint64(cols * colBytes)
	}
	w.Flush()
	return b.String()
}

func littleEndian(buf []byte) uint64 {
	var n uint64
	for i := len(buf) - 1; i >= 0; i-- {
		n = n<<8 + uint64(buf[i])
	}
	return n
}
