package proc

import (
	"errors"
	"fmt"
)

var (
	// ErrShortTransfer is wrapped by MemoryAccessError when the process
	// transferred fewer bytes than requested.
	ErrShortTransfer = errors.New("short memory transfer")

	// ErrProcessDetached indicates that we detached from the target process.
	ErrProcessDetached = errors.New("detached from the process")
)

// ErrProcessExited indicates that the process has exited and contains both
// process id and exit status.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (pe ErrProcessExited) Error() string {
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// ErrNotReady is returned by register accesses attempted while the process
// is missing, running, or has no threads.
type ErrNotReady struct {
	Reason string
}

func (e ErrNotReady) Error() string {
	return "process not ready: " + e.Reason
}

// ErrUnsupportedRegister is returned when a register role has neither an
// imaginary backing cell nor a hardware register to fall back to.
type ErrUnsupportedRegister struct {
	Name string
}

func (e ErrUnsupportedRegister) Error() string {
	return fmt.Sprintf("register %s is not available in this program", e.Name)
}

// MemoryAccessError is returned when reading or writing the memory cell
// backing a register fails.
type MemoryAccessError struct {
	Op   string // "read" or "write"
	Reg  string
	Addr uint64
	Err  error
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("could not %s register %s at %#04x: %v", e.Op, e.Reg, e.Addr, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// PartialWriteError is returned when the low byte of a word register was
// written but the high byte was not. The low byte is not restored.
type PartialWriteError struct {
	Reg     string
	Written uint64 // address of the byte that was written
	Failed  *MemoryAccessError
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write of register %s: low byte at %#04x written, %v", e.Reg, e.Written, e.Failed)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Failed
}
