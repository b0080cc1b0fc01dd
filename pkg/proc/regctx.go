package proc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/llvm-mos/mosdbg/pkg/dwarf/regnum"
	"github.com/llvm-mos/mosdbg/pkg/logflags"
)

// ErrNoHardwareAccess is returned when a hardware register is accessed on
// a target without a hardware register collaborator.
var ErrNoHardwareAccess = errors.New("hardware registers are not accessible")

// RegisterContext reads and writes the registers of one thread.
// Every RegisterContext of a target shares the target's Directory.
type RegisterContext struct {
	threadID int
	proc     Process
	hw       HardwareRegisterAccess
	dir      *Directory
	target   *Target
	fpSlot   int
	log      logflags.Logger
}

func newRegisterContext(t *Target, threadID int) *RegisterContext {
	return &RegisterContext{
		threadID: threadID,
		proc:     t.proc,
		hw:       t.hw,
		dir:      t.dir,
		target:   t,
		fpSlot:   t.arch.FramePointerSlot(),
		log:      logflags.RegLogger().WithField("thread", threadID),
	}
}

// ThreadID returns the thread the context reads registers of.
func (ctx *RegisterContext) ThreadID() int {
	return ctx.threadID
}

// Table returns the register table of the context's target.
func (ctx *RegisterContext) Table() *RegisterTable {
	return ctx.target.RegisterTable()
}

func (ctx *RegisterContext) ready() error {
	if ctx.proc == nil {
		return ErrNotReady{"no process"}
	}
	if !ctx.proc.IsAlive() {
		return ErrNotReady{"process is not alive"}
	}
	if st := ctx.proc.State(); st != StateStopped && st != StateSuspended {
		return ErrNotReady{"process state is " + st.String()}
	}
	if len(ctx.proc.ThreadList()) == 0 {
		return ErrNotReady{"no threads"}
	}
	return nil
}

// Register returns the descriptor of the register called name. The names
// "sp" and "fp" always resolve, to the register currently playing that
// role, even if the program defines no imaginary registers.
func (ctx *RegisterContext) Register(name string) (*RegisterInfo, error) {
	if reg := ctx.Table().ByName(name); reg != nil {
		return reg, nil
	}
	switch strings.ToLower(name) {
	case "fp":
		return ctx.genericRegister(GenericFP), nil
	case "sp":
		return ctx.genericRegister(GenericSP), nil
	}
	if _, ok := regnum.MOSNameToDwarf(name); ok {
		return nil, fmt.Errorf("%w: %s is not defined by this program", ErrUnknownRegister, name)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
}

// ErrUnknownRegister is returned when the value of an unknown
// register is requested.
var ErrUnknownRegister = errors.New("unknown register")

func (ctx *RegisterContext) genericRegister(g GenericRegister) *RegisterInfo {
	if reg := ctx.Table().ByGeneric(g); reg != nil {
		return reg
	}
	switch g {
	case GenericFP:
		return &RegisterInfo{Name: "fp", Size: 2, Kinds: RegisterNumbers{DWARF: InvalidRegnum, Remote: InvalidRegnum, Generic: GenericFP}, Backing: BackingVirtualWord, Slot: ctx.fpSlot}
	case GenericSP:
		return &RegisterInfo{Name: "sp", Size: 1, Kinds: RegisterNumbers{DWARF: InvalidRegnum, Remote: InvalidRegnum, Generic: GenericSP}, Backing: BackingHardware}
	}
	return nil
}

// ReadGeneric reads the register playing role g.
func (ctx *RegisterContext) ReadGeneric(g GenericRegister) ([]byte, error) {
	reg := ctx.genericRegister(g)
	if reg == nil {
		return nil, ErrUnsupportedRegister{g.String()}
	}
	return ctx.ReadRegister(reg)
}

// WriteGeneric writes the register playing role g.
func (ctx *RegisterContext) WriteGeneric(g GenericRegister, value []byte) error {
	reg := ctx.genericRegister(g)
	if reg == nil {
		return ErrUnsupportedRegister{g.String()}
	}
	return ctx.WriteRegister(reg, value)
}

// ReadRegister returns the little endian value of reg.
//
// The stack pointer role reads the soft stack pointer rs0 when imaginary
// registers are present and the hardware S register otherwise, in which
// case a single byte is returned. The frame pointer role reads its rs
// register and fails with ErrUnsupportedRegister when it does not exist.
func (ctx *RegisterContext) ReadRegister(reg *RegisterInfo) ([]byte, error) {
	ctx.log.Debugf("read %s: dwarf=%d generic=%s backing=%d", reg.Name, reg.Kinds.DWARF, reg.Kinds.Generic, reg.Backing)
	if err := ctx.ready(); err != nil {
		ctx.log.Debugf("read %s: %v", reg.Name, err)
		return nil, err
	}
	switch {
	case reg.Kinds.Generic == GenericSP:
		if !ctx.dir.Fallback() {
			if ws, ok := ctx.dir.WordSlot(SoftStackPointerSlot); ok {
				return ctx.readWord(reg.Name, ws)
			}
		}
		hwreg, err := ctx.hardwareStackPointer(reg)
		if err != nil {
			return nil, err
		}
		return ctx.readHardware(hwreg)
	case reg.Kinds.Generic == GenericFP:
		ws, ok := ctx.dir.WordSlot(ctx.fpSlot)
		if !ok {
			return nil, ErrUnsupportedRegister{reg.Name}
		}
		return ctx.readWord(reg.Name, ws)
	case reg.Backing == BackingVirtualByte:
		bs, ok := ctx.dir.ByteSlot(reg.Slot)
		if !ok {
			return nil, ErrUnsupportedRegister{reg.Name}
		}
		buf := make([]byte, 1)
		if err := ctx.readCell(reg.Name, bs.Addr, buf); err != nil {
			return nil, err
		}
		return buf, nil
	case reg.Backing == BackingVirtualWord:
		ws, ok := ctx.dir.WordSlot(reg.Slot)
		if !ok {
			return nil, ErrUnsupportedRegister{reg.Name}
		}
		return ctx.readWord(reg.Name, ws)
	}
	return ctx.readHardware(reg)
}

// WriteRegister writes the little endian value to reg. Values shorter than
// the register are zero extended, longer values are truncated.
//
// When the stack pointer role falls back to the hardware S register only
// the low byte of value is written. A word register is written one byte at
// a time; if the high byte fails a *PartialWriteError is returned and the
// low byte keeps its new value.
func (ctx *RegisterContext) WriteRegister(reg *RegisterInfo, value []byte) error {
	ctx.log.Debugf("write %s = %x", reg.Name, value)
	if err := ctx.ready(); err != nil {
		ctx.log.Debugf("write %s: %v", reg.Name, err)
		return err
	}
	switch {
	case reg.Kinds.Generic == GenericSP:
		if !ctx.dir.Fallback() {
			if ws, ok := ctx.dir.WordSlot(SoftStackPointerSlot); ok {
				return ctx.writeWord(reg.Name, ws, value)
			}
		}
		hwreg, err := ctx.hardwareStackPointer(reg)
		if err != nil {
			return err
		}
		return ctx.writeHardware(hwreg, fitValue(value, 1))
	case reg.Kinds.Generic == GenericFP:
		ws, ok := ctx.dir.WordSlot(ctx.fpSlot)
		if !ok {
			logflags.ABILogger().Debugf("no imaginary registers, %s is not available", reg.Name)
			return ErrUnsupportedRegister{reg.Name}
		}
		return ctx.writeWord(reg.Name, ws, value)
	case reg.Backing == BackingVirtualByte:
		bs, ok := ctx.dir.ByteSlot(reg.Slot)
		if !ok {
			return ErrUnsupportedRegister{reg.Name}
		}
		return ctx.writeCell(reg.Name, bs.Addr, fitValue(value, 1))
	case reg.Backing == BackingVirtualWord:
		ws, ok := ctx.dir.WordSlot(reg.Slot)
		if !ok {
			return ErrUnsupportedRegister{reg.Name}
		}
		return ctx.writeWord(reg.Name, ws, value)
	}
	return ctx.writeHardware(reg, fitValue(value, reg.Size))
}

// ReadHardwareRegister reads reg from the CPU, bypassing role routing.
func (ctx *RegisterContext) ReadHardwareRegister(reg *RegisterInfo) ([]byte, error) {
	if err := ctx.ready(); err != nil {
		return nil, err
	}
	if reg.Backing != BackingHardware {
		return nil, fmt.Errorf("%s is not a hardware register", reg.Name)
	}
	return ctx.readHardware(reg)
}

// WriteHardwareRegister writes value to the CPU register reg, bypassing
// role routing.
func (ctx *RegisterContext) WriteHardwareRegister(reg *RegisterInfo, value []byte) error {
	if err := ctx.ready(); err != nil {
		return err
	}
	if reg.Backing != BackingHardware {
		return fmt.Errorf("%s is not a hardware register", reg.Name)
	}
	return ctx.writeHardware(reg, fitValue(value, reg.Size))
}

// ReadRegisterUint reads reg as an unsigned integer.
func (ctx *RegisterContext) ReadRegisterUint(reg *RegisterInfo) (uint64, error) {
	buf, err := ctx.ReadRegister(reg)
	if err != nil {
		return 0, err
	}
	return bytesToUint(buf), nil
}

// WriteRegisterUint writes v to reg.
func (ctx *RegisterContext) WriteRegisterUint(reg *RegisterInfo, v uint64) error {
	return ctx.WriteRegister(reg, uintToBytes(v, 8))
}

func (ctx *RegisterContext) hardwareStackPointer(reg *RegisterInfo) (*RegisterInfo, error) {
	table := ctx.Table()
	if reg.Backing == BackingHardware && table.ByName(reg.Name) == reg {
		return reg, nil
	}
	for i := 0; i < table.Len(); i++ {
		r := table.At(i)
		if r.Backing == BackingHardware && r.Kinds.Generic == GenericSP {
			return r, nil
		}
	}
	return nil, ErrUnsupportedRegister{reg.Name}
}

func (ctx *RegisterContext) readHardware(reg *RegisterInfo) ([]byte, error) {
	if ctx.hw == nil {
		return nil, ErrNoHardwareAccess
	}
	buf, err := ctx.hw.ReadHardwareRegister(ctx.threadID, reg)
	ctx.log.Debugf("read hardware %s: %x, err=%v", reg.Name, buf, err)
	return buf, err
}

func (ctx *RegisterContext) writeHardware(reg *RegisterInfo, value []byte) error {
	if ctx.hw == nil {
		return ErrNoHardwareAccess
	}
	err := ctx.hw.WriteHardwareRegister(ctx.threadID, reg, value)
	ctx.log.Debugf("write hardware %s = %x, err=%v", reg.Name, value, err)
	return err
}

func (ctx *RegisterContext) readCell(name string, addr uint64, buf []byte) error {
	err := readExact(ctx.proc, buf, addr)
	ctx.log.Debugf("read %s from %#04x: %x, err=%v", name, addr, buf, err)
	if err != nil {
		return &MemoryAccessError{Op: "read", Reg: name, Addr: addr, Err: err}
	}
	return nil
}

func (ctx *RegisterContext) writeCell(name string, addr uint64, data []byte) error {
	err := writeExact(ctx.proc, addr, data)
	ctx.log.Debugf("write %s to %#04x: %x, err=%v", name, addr, data, err)
	if err != nil {
		return &MemoryAccessError{Op: "write", Reg: name, Addr: addr, Err: err}
	}
	return nil
}

// readWord reads the two cells of ws with independent one byte accesses.
func (ctx *RegisterContext) readWord(name string, ws WordSlot) ([]byte, error) {
	buf := make([]byte, 2)
	if err := ctx.readCell(name, ws.Lo, buf[:1]); err != nil {
		return nil, err
	}
	if err := ctx.readCell(name, ws.Hi, buf[1:]); err != nil {
		return nil, err
	}
	return buf, nil
}

func (ctx *RegisterContext) writeWord(name string, ws WordSlot, value []byte) error {
	v := fitValue(value, 2)
	if err := ctx.writeCell(name, ws.Lo, v[:1]); err != nil {
		return err
	}
	if err := ctx.writeCell(name, ws.Hi, v[1:]); err != nil {
		return &PartialWriteError{Reg: name, Written: ws.Lo, Failed: err.(*MemoryAccessError)}
	}
	return nil
}

func fitValue(value []byte, size int) []byte {
	r := make([]byte, size)
	copy(r, value)
	return r
}

func bytesToUint(buf []byte) uint64 {
	var v uint64
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

func uintToBytes(v uint64, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
	return buf
}
