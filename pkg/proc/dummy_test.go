package proc

import (
	"errors"
	"strconv"
	"testing"
)

type dummyModule struct {
	name   string
	symtab *SymbolTable
}

func (m *dummyModule) Name() string { return m.name }

func (m *dummyModule) Symtab() Symtab {
	if m.symtab == nil {
		return nil
	}
	return m.symtab
}

// markerModule returns a module defining an absolute __rcN symbol for
// every entry of markers.
func markerModule(name string, markers map[int]uint64) *dummyModule {
	var syms []Symbol
	for idx, addr := range markers {
		syms = append(syms, Symbol{Name: "__rc" + strconv.Itoa(idx), Type: SymbolTypeAbsolute, Value: addr, External: true})
	}
	return &dummyModule{name: name, symtab: NewSymbolTable(syms)}
}

type memAccess struct {
	addr uint64
	size int
}

var errDummyMem = errors.New("dummy memory error")

// dummyProcess is a stopped process with 64KiB of memory that records
// every memory access.
type dummyProcess struct {
	t       *testing.T
	mem     [0x10000]byte
	state   StateType
	alive   bool
	threads []int

	reads  []memAccess
	writes []memAccess

	failWrite map[uint64]bool
	failRead  map[uint64]bool
}

func newDummyProcess(t *testing.T) *dummyProcess {
	return &dummyProcess{t: t, state: StateStopped, alive: true, threads: []int{1}}
}

func (p *dummyProcess) State() StateType  { return p.state }
func (p *dummyProcess) IsAlive() bool     { return p.alive }
func (p *dummyProcess) ThreadList() []int { return p.threads }

func (p *dummyProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	p.t.Logf("read addr=%#x size=%#x", addr, len(buf))
	p.reads = append(p.reads, memAccess{addr, len(buf)})
	if p.failRead[addr] {
		return 0, errDummyMem
	}
	return copy(buf, p.mem[addr:]), nil
}

func (p *dummyProcess) WriteMemory(addr uint64, data []byte) (int, error) {
	p.t.Logf("write addr=%#x data=%x", addr, data)
	p.writes = append(p.writes, memAccess{addr, len(data)})
	if p.failWrite[addr] {
		return 0, errDummyMem
	}
	return copy(p.mem[addr:], data), nil
}

func (p *dummyProcess) accesses() int {
	return len(p.reads) + len(p.writes)
}

// dummyHardware holds the hardware registers of a single thread.
type dummyHardware struct {
	regs   map[string][]byte
	reads  []string
	writes []string
}

func newDummyHardware() *dummyHardware {
	return &dummyHardware{regs: map[string][]byte{
		"a":  {0x00},
		"x":  {0x00},
		"y":  {0x00},
		"s":  {0xfd},
		"p":  {0x24},
		"pc": {0x00, 0x80},
	}}
}

func (hw *dummyHardware) ReadHardwareRegister(threadID int, reg *RegisterInfo) ([]byte, error) {
	hw.reads = append(hw.reads, reg.Name)
	v, ok := hw.regs[reg.Name]
	if !ok {
		return nil, ErrUnknownRegister
	}
	return append([]byte(nil), v...), nil
}

func (hw *dummyHardware) WriteHardwareRegister(threadID int, reg *RegisterInfo, data []byte) error {
	hw.writes = append(hw.writes, reg.Name)
	if _, ok := hw.regs[reg.Name]; !ok {
		return ErrUnknownRegister
	}
	hw.regs[reg.Name] = append([]byte(nil), data...)
	return nil
}

func (hw *dummyHardware) accesses() int {
	return len(hw.reads) + len(hw.writes)
}

// newDummyTarget returns a target with one module defining markers.
func newDummyTarget(t *testing.T, markers map[int]uint64) (*Target, *dummyProcess, *dummyHardware) {
	arch, ok := NewArch("mos")
	if !ok {
		t.Fatal("mos architecture not found")
	}
	p := newDummyProcess(t)
	hw := newDummyHardware()
	tgt, err := NewTarget(arch, p, hw, NewTargetConfig{ImaginarySymbolPrefix: "__rc"})
	if err != nil {
		t.Fatal(err)
	}
	if markers != nil {
		tgt.AddModule(markerModule("prog.elf", markers))
	}
	return tgt, p, hw
}

// contiguousMarkers places rc0..rc3 at 0x10..0x13.
var contiguousMarkers = map[int]uint64{0: 0x10, 1: 0x11, 2: 0x12, 3: 0x13}
