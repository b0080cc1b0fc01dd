package proc

// MemoryReader reads memory of the target process.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter reads and writes memory of the target process.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// StateType is the execution state of a process.
type StateType uint8

const (
	StateInvalid StateType = iota
	StateAttaching
	StateRunning
	StateStepping
	StateStopped
	StateSuspended
	StateDetached
	StateExited
)

func (s StateType) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateRunning:
		return "running"
	case StateStepping:
		return "stepping"
	case StateStopped:
		return "stopped"
	case StateSuspended:
		return "suspended"
	case StateDetached:
		return "detached"
	case StateExited:
		return "exited"
	}
	return "invalid"
}

// Process is the live process a Target debugs.
type Process interface {
	MemoryReadWriter
	// State returns the current execution state.
	State() StateType
	// IsAlive returns false once the process has exited or was detached.
	IsAlive() bool
	// ThreadList returns the IDs of the threads of the process.
	ThreadList() []int
}

// HardwareRegisterAccess reads and writes the real CPU registers of a
// thread. Values are little endian and reg.Size bytes long.
type HardwareRegisterAccess interface {
	ReadHardwareRegister(threadID int, reg *RegisterInfo) ([]byte, error)
	WriteHardwareRegister(threadID int, reg *RegisterInfo, data []byte) error
}

// readExact reads len(buf) bytes at addr, a short read is an error.
func readExact(mem MemoryReader, buf []byte, addr uint64) error {
	n, err := mem.ReadMemory(buf, addr)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return ErrShortTransfer
	}
	return nil
}

// writeExact writes data at addr, a short write is an error.
func writeExact(mem MemoryReadWriter, addr uint64, data []byte) error {
	n, err := mem.WriteMemory(addr, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return ErrShortTransfer
	}
	return nil
}
