package cpuctrl

import (
	"errors"
	"fmt"
)

// TableFullError is returned when a breakpoint or watchpoint can not be
// set because every slot of its table is in use.
type TableFullError struct {
	Table    string
	Capacity int
}

func (err *TableFullError) Error() string {
	return fmt.Sprintf("%s table full (%d entries)", err.Table, err.Capacity)
}

// NotFoundError is returned for references to unused breakpoint or
// watchpoint slots and to core ids outside the configured range.
type NotFoundError struct {
	What string
	ID   int
}

func (err *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", err.What, err.ID)
}

// InvariantViolationError is returned when a request would leave no core
// under debugger control. The request is not applied.
type InvariantViolationError struct {
	Core int
}

func (err *InvariantViolationError) Error() string {
	if err.Core < 0 {
		return "all cores can not leave debug mode, the emulator would no longer be controllable"
	}
	return fmt.Sprintf("core %d can not leave debug mode, the emulator would no longer be controllable", err.Core)
}

// ErrShutdown is returned by blocking operations once the controller has
// been shut down.
var ErrShutdown = errors.New("emulator is shutting down")
