package mpu

import (
	"encoding/binary"
)

func (t *Table) load(core int, addr uint32, size int) ([]byte, error) {
	b, err := t.Resolve(core, addr, size, AccessRead)
	if err != nil {
		return nil, err
	}
	t.notify(core, addr, size, false)
	return b, nil
}

func (t *Table) store(core int, addr uint32, size int) ([]byte, error) {
	b, err := t.Resolve(core, addr, size, AccessWrite)
	if err != nil {
		return nil, err
	}
	t.notify(core, addr, size, true)
	return b, nil
}

func (t *Table) notify(core int, addr uint32, size int, write bool) {
	h := &t.hooks
	if h.Watch != nil && h.Watch.CheckAccess(addr, size, write) && h.OnWatch != nil {
		h.OnWatch(core, addr, size, write)
	}
	if h.Observe != nil {
		h.Observe(core, addr, size, write)
	}
}

// GetData8 loads a byte on behalf of core.
func (t *Table) GetData8(core int, addr uint32) (uint8, error) {
	b, err := t.load(core, addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// GetData16 loads a little endian halfword on behalf of core.
func (t *Table) GetData16(core int, addr uint32) (uint16, error) {
	b, err := t.load(core, addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// GetData32 loads a little endian word on behalf of core.
func (t *Table) GetData32(core int, addr uint32) (uint32, error) {
	b, err := t.load(core, addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PutData8 stores a byte on behalf of core.
func (t *Table) PutData8(core int, addr uint32, v uint8) error {
	b, err := t.store(core, addr, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// PutData16 stores a little endian halfword on behalf of core.
func (t *Table) PutData16(core int, addr uint32, v uint16) error {
	b, err := t.store(core, addr, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, v)
	return nil
}

// PutData32 stores a little endian word on behalf of core.
func (t *Table) PutData32(core int, addr uint32, v uint32) error {
	b, err := t.store(core, addr, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// Fetch returns size bytes of instruction memory at pc. Fetches are not
// seen by watchpoints.
func (t *Table) Fetch(core int, pc uint32, size int) ([]byte, error) {
	return t.Resolve(core, pc, size, AccessFetch)
}

// ReadMemory copies size bytes starting at addr as seen by core. The
// access is not reported to watchpoints or observers.
func (t *Table) ReadMemory(core int, addr uint32, size int) ([]byte, error) {
	b, err := t.Resolve(core, addr, size, AccessRead)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// WriteMemory stores data at addr as seen by core, bypassing the ROM
// write protection so that the debugger can patch code.
func (t *Table) WriteMemory(core int, addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	r := t.Lookup(addr)
	if r == nil {
		return &InvalidAddressError{Core: core, Address: addr}
	}
	if r.Kind == ROM {
		b, err := r.Bytes(addr, len(data))
		if err != nil {
			return err
		}
		copy(b, data)
		return nil
	}
	b, err := t.Resolve(core, addr, len(data), AccessWrite)
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}
