package proc

import (
	"strings"

	"github.com/llvm-mos/mosdbg/pkg/dwarf/regnum"
)

// InvalidRegnum marks a register number that is not defined for a
// numbering scheme.
const InvalidRegnum = ^uint32(0)

// RegisterKind selects a register numbering scheme.
type RegisterKind uint8

const (
	RegisterKindDWARF   RegisterKind = iota // debug info numbering
	RegisterKindRemote                      // gdb remote protocol numbering
	RegisterKindGeneric                     // generic role, see GenericRegister
	RegisterKindIndex                       // position in the RegisterTable
)

// GenericRegister is the role a register plays in the calling convention.
type GenericRegister uint32

const (
	GenericNone GenericRegister = iota
	GenericPC
	GenericSP
	GenericFP
	GenericFlags
)

func (g GenericRegister) String() string {
	switch g {
	case GenericPC:
		return "pc"
	case GenericSP:
		return "sp"
	case GenericFP:
		return "fp"
	case GenericFlags:
		return "flags"
	}
	return ""
}

// Backing describes where the value of a register is stored.
type Backing uint8

const (
	BackingHardware    Backing = iota // a real CPU register
	BackingVirtualByte                // one memory cell, rcN
	BackingVirtualWord                // two memory cells, rsN
)

// Encoding of a register value.
type Encoding uint8

const (
	EncodingUint Encoding = iota
	EncodingSint
)

// Format is the preferred display format of a register.
type Format uint8

const (
	FormatHex Format = iota
	FormatBinary
	FormatDecimal
)

// RegisterNumbers holds the numbers of a register in each numbering scheme.
type RegisterNumbers struct {
	DWARF   uint32
	Remote  uint32
	Generic GenericRegister
}

// RegisterInfo describes one register.
type RegisterInfo struct {
	Name     string
	AltName  string
	Set      string
	Size     int // in bytes
	Offset   int // byte offset in the register context buffer
	Encoding Encoding
	Format   Format
	Kinds    RegisterNumbers
	Backing  Backing
	Slot     int // rc or rs index for imaginary registers
}

func (ri *RegisterInfo) String() string {
	return ri.Name
}

// RegisterTable is an ordered, immutable list of register descriptors.
type RegisterTable struct {
	regs []RegisterInfo
	dir  *Directory
}

// NewRegisterTable returns a table with the given registers.
func NewRegisterTable(regs []RegisterInfo, dir *Directory) *RegisterTable {
	return &RegisterTable{regs: regs, dir: dir}
}

// Len returns the number of registers in the table.
func (t *RegisterTable) Len() int {
	return len(t.regs)
}

// At returns the register at index i.
func (t *RegisterTable) At(i int) *RegisterInfo {
	if i < 0 || i >= len(t.regs) {
		return nil
	}
	return &t.regs[i]
}

// Registers returns the registers of the table. The returned slice must not
// be modified.
func (t *RegisterTable) Registers() []RegisterInfo {
	return t.regs
}

// Directory returns the imaginary register directory the table was
// augmented from, nil for a hardware-only table.
func (t *RegisterTable) Directory() *Directory {
	return t.dir
}

// ByName finds a register by name or alternate name, case insensitively.
func (t *RegisterTable) ByName(name string) *RegisterInfo {
	for i := range t.regs {
		if strings.EqualFold(t.regs[i].Name, name) {
			return &t.regs[i]
		}
	}
	for i := range t.regs {
		if t.regs[i].AltName != "" && strings.EqualFold(t.regs[i].AltName, name) {
			return &t.regs[i]
		}
	}
	return nil
}

// ByKind finds a register by its number in the numbering scheme kind.
func (t *RegisterTable) ByKind(kind RegisterKind, num uint32) *RegisterInfo {
	if kind == RegisterKindIndex {
		return t.At(int(num))
	}
	if num == InvalidRegnum {
		return nil
	}
	for i := range t.regs {
		var n uint32
		switch kind {
		case RegisterKindDWARF:
			n = t.regs[i].Kinds.DWARF
		case RegisterKindRemote:
			n = t.regs[i].Kinds.Remote
		case RegisterKindGeneric:
			n = uint32(t.regs[i].Kinds.Generic)
			if n == uint32(GenericNone) {
				continue
			}
		}
		if n == num {
			return &t.regs[i]
		}
	}
	return nil
}

// ByGeneric finds the register playing role g.
func (t *RegisterTable) ByGeneric(g GenericRegister) *RegisterInfo {
	return t.ByKind(RegisterKindGeneric, uint32(g))
}

const imaginaryRegisterSet = "imaginary registers"

// AugmentRegisterInfo returns base followed by a descriptor for every
// imaginary register found in dir: first rc registers in index order, then
// rs registers in index order. Offsets and remote numbers continue after
// the last register of base. The rs register at fpSlot is tagged as the
// frame pointer. base itself is never modified.
func AugmentRegisterInfo(base []RegisterInfo, dir *Directory, fpSlot int) []RegisterInfo {
	regs := make([]RegisterInfo, len(base), len(base)+regnum.MOSMaxRC+regnum.MOSMaxRS+2)
	copy(regs, base)
	if dir == nil || !dir.HasAny() {
		return regs
	}

	offset, remote := 0, uint32(0)
	for i := range base {
		if end := base[i].Offset + base[i].Size; end > offset {
			offset = end
		}
		if r := base[i].Kinds.Remote; r != InvalidRegnum && r+1 > remote {
			remote = r + 1
		}
	}

	for _, bs := range dir.ByteSlots() {
		dwarf := regnum.MOSRC(bs.Index)
		regs = append(regs, RegisterInfo{
			Name:     regnum.MOSToName(dwarf),
			Set:      imaginaryRegisterSet,
			Size:     1,
			Offset:   offset,
			Encoding: EncodingUint,
			Format:   FormatHex,
			Kinds: RegisterNumbers{
				DWARF:   uint32(dwarf),
				Remote:  remote,
				Generic: GenericNone,
			},
			Backing: BackingVirtualByte,
			Slot:    bs.Index,
		})
		offset++
		remote++
	}

	for _, ws := range dir.WordSlots() {
		generic, alt := GenericNone, ""
		if ws.Index == fpSlot {
			generic, alt = GenericFP, "fp"
		}
		dwarf := regnum.MOSRS(ws.Index)
		regs = append(regs, RegisterInfo{
			Name:     regnum.MOSToName(dwarf),
			AltName:  alt,
			Set:      imaginaryRegisterSet,
			Size:     2,
			Offset:   offset,
			Encoding: EncodingUint,
			Format:   FormatHex,
			Kinds: RegisterNumbers{
				DWARF:   uint32(dwarf),
				Remote:  remote,
				Generic: generic,
			},
			Backing: BackingVirtualWord,
			Slot:    ws.Index,
		})
		offset += 2
		remote++
	}
	return regs
}
