package proc

import (
	"strings"

	"github.com/llvm-mos/mosdbg/pkg/dwarf/regnum"
)

// Arch defines an interface for representing a
// CPU architecture.
type Arch interface {
	Name() string
	PtrSize() int
	BreakpointInstruction() []byte
	BreakpointSize() int
	RedZoneSize() int
	StackFrameSize() int
	CodeAddressIsValid(addr uint64) bool
	FrameAddressIsValid(addr uint64) bool
	RegisterIsVolatile(reg *RegisterInfo) bool
	HardwareRegisters() []RegisterInfo
}

// MOS represents the MOS 6502 CPU architecture as targeted by llvm-mos.
type MOS struct {
	fpSlot int
}

// MOSArchName is the instruction set identifier selecting MOS.
const MOSArchName = "mos"

const (
	mosMaxAddress     = 0xffff
	mosStackFrameSize = 256
)

// The BRK instruction.
var mosBreakInstruction = []byte{0x00}

var mosHardwareRegisters = []RegisterInfo{
	{Name: "a", AltName: "acc", Size: 1, Offset: 0, Kinds: RegisterNumbers{DWARF: regnum.MOS_A, Remote: 0}},
	{Name: "x", Size: 1, Offset: 1, Kinds: RegisterNumbers{DWARF: regnum.MOS_X, Remote: 1}},
	{Name: "y", Size: 1, Offset: 2, Kinds: RegisterNumbers{DWARF: regnum.MOS_Y, Remote: 2}},
	{Name: "s", AltName: "sp", Size: 1, Offset: 3, Kinds: RegisterNumbers{DWARF: regnum.MOS_S, Remote: 3, Generic: GenericSP}},
	{Name: "p", AltName: "status", Size: 1, Offset: 4, Format: FormatBinary, Kinds: RegisterNumbers{DWARF: regnum.MOS_P, Remote: 4, Generic: GenericFlags}},
	{Name: "pc", Size: 2, Offset: 5, Kinds: RegisterNumbers{DWARF: InvalidRegnum, Remote: 5, Generic: GenericPC}},
}

const mosHardwareRegisterSet = "general purpose registers"

// NewArch returns the architecture descriptor for the target triple, or
// false if the triple does not describe a MOS target.
// Both the bare "mos" identifier and full triples like "mos-unknown-none"
// are accepted.
func NewArch(triple string) (*MOS, bool) {
	arch := strings.ToLower(triple)
	if i := strings.Index(arch, "-"); i >= 0 {
		arch = arch[:i]
	}
	if arch != MOSArchName {
		return nil, false
	}
	return &MOS{fpSlot: 15}, true
}

// SetFramePointerSlot changes the rs register used as the frame pointer.
func (a *MOS) SetFramePointerSlot(slot int) {
	a.fpSlot = slot
}

// FramePointerSlot returns the rs register used as the frame pointer.
func (a *MOS) FramePointerSlot() int {
	return a.fpSlot
}

// Name returns the instruction set identifier.
func (a *MOS) Name() string {
	return MOSArchName
}

// PtrSize returns the size of a pointer
// on this architecture.
func (a *MOS) PtrSize() int {
	return 2
}

// BreakpointInstruction returns the Breakpoint
// instruction for this architecture.
func (a *MOS) BreakpointInstruction() []byte {
	return mosBreakInstruction
}

// BreakpointSize returns the size of the
// breakpoint instruction on this architecture.
func (a *MOS) BreakpointSize() int {
	return len(mosBreakInstruction)
}

// RedZoneSize returns the size of the area below the stack pointer that
// leaf functions may use without adjusting it. MOS has none.
func (a *MOS) RedZoneSize() int {
	return 0
}

// StackFrameSize returns the size of the hardware stack page.
func (a *MOS) StackFrameSize() int {
	return mosStackFrameSize
}

// CodeAddressIsValid returns true if addr is inside the 16-bit address space.
func (a *MOS) CodeAddressIsValid(addr uint64) bool {
	return addr <= mosMaxAddress
}

// FrameAddressIsValid returns true if addr is inside the 16-bit address space.
func (a *MOS) FrameAddressIsValid(addr uint64) bool {
	return addr <= mosMaxAddress
}

// RegisterIsVolatile returns true for registers a callee may clobber.
func (a *MOS) RegisterIsVolatile(reg *RegisterInfo) bool {
	if reg == nil || reg.Backing != BackingHardware {
		return false
	}
	switch reg.Name {
	case "a", "x", "y", "p":
		return true
	}
	return false
}

// HardwareRegisters returns a copy of the hardware register table.
func (a *MOS) HardwareRegisters() []RegisterInfo {
	regs := make([]RegisterInfo, len(mosHardwareRegisters))
	copy(regs, mosHardwareRegisters)
	for i := range regs {
		regs[i].Set = mosHardwareRegisterSet
	}
	return regs
}

// AugmentRegisterInfo returns the hardware register table extended with
// the imaginary registers found in dir.
func (a *MOS) AugmentRegisterInfo(dir *Directory) *RegisterTable {
	return NewRegisterTable(AugmentRegisterInfo(a.HardwareRegisters(), dir, a.fpSlot), dir)
}
