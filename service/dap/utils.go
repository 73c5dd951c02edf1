package dap

import (
	"fmt"
	"strconv"
	"strings"
)

// Thread ids are core ids plus one, DAP reserves zero.
func threadID(core int) int { return core + 1 }

func coreOf(threadID int) int { return threadID - 1 }

// parseMemoryReference parses a memory or instruction reference, an
// address in hexadecimal with or without the 0x prefix, and adds offset
// to it.
func parseMemoryReference(ref string, offset int) (uint32, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(ref, "0x"), "0X")
	addr, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid memory reference %q", ref)
	}
	r := int64(addr) + int64(offset)
	if r < 0 || r > 0xffffffff {
		return 0, fmt.Errorf("memory reference %q%+d out of range", ref, offset)
	}
	return uint32(r), nil
}

func memoryReference(addr uint32) string {
	return fmt.Sprintf("%#x", addr)
}

// dataID identifies a watchable range in dataBreakpointInfo responses.
func dataID(addr, size uint32) string {
	return fmt.Sprintf("%#x/%d", addr, size)
}

func parseDataID(id string) (addr, size uint32, err error) {
	i := strings.IndexByte(id, '/')
	if i < 0 {
		return 0, 0, fmt.Errorf("invalid data id %q", id)
	}
	addr, err = parseMemoryReference(id[:i], 0)
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil || n == 0 {
		return 0, 0, fmt.Errorf("invalid data id %q", id)
	}
	return addr, uint32(n), nil
}
