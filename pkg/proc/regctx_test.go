package proc

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func mustRegister(t *testing.T, ctx *RegisterContext, name string) *RegisterInfo {
	t.Helper()
	reg, err := ctx.Register(name)
	if err != nil {
		t.Fatalf("Register(%q): %v", name, err)
	}
	return reg
}

func TestReadWordRegisterBytewise(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, contiguousMarkers)
	p.mem[0x10] = 0x34
	p.mem[0x11] = 0x12
	ctx := tgt.RegisterContext(1)

	buf, err := ctx.ReadRegister(mustRegister(t, ctx, "rs0"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0x34, 0x12}) {
		t.Fatalf("rs0 = %x", buf)
	}
	expected := []memAccess{{0x10, 1}, {0x11, 1}}
	if len(p.reads) != len(expected) {
		t.Fatalf("reads: %v", p.reads)
	}
	for i := range expected {
		if p.reads[i] != expected[i] {
			t.Fatalf("read %d: %v, expected %v", i, p.reads[i], expected[i])
		}
	}
}

func TestReadWordRegisterNonAdjacent(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, map[int]uint64{2: 0x20, 3: 0x80})
	p.mem[0x20] = 0xcd
	p.mem[0x80] = 0xab
	ctx := tgt.RegisterContext(1)

	v, err := ctx.ReadRegisterUint(mustRegister(t, ctx, "rs1"))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xabcd {
		t.Fatalf("rs1 = %#x", v)
	}
}

func TestFallbackStackPointer(t *testing.T) {
	tgt, p, hw := newDummyTarget(t, nil)
	ctx := tgt.RegisterContext(1)

	if !tgt.Directory().Fallback() {
		t.Fatal("expected fallback")
	}

	sp := mustRegister(t, ctx, "sp")
	buf, err := ctx.ReadRegister(sp)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0xfd}) {
		t.Fatalf("sp = %x", buf)
	}
	if len(hw.reads) != 1 || hw.reads[0] != "s" || p.accesses() != 0 {
		t.Fatalf("hardware reads %v, memory accesses %d", hw.reads, p.accesses())
	}

	if err := ctx.WriteRegisterUint(sp, 0x1ff); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(hw.regs["s"], []byte{0xff}) {
		t.Fatalf("s = %x after write", hw.regs["s"])
	}
	if p.accesses() != 0 {
		t.Fatalf("memory accessed %d times", p.accesses())
	}

	buf, err = ctx.ReadGeneric(GenericSP)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte{0xff}) {
		t.Fatalf("sp = %x", buf)
	}
}

func TestFallbackFramePointer(t *testing.T) {
	tgt, p, hw := newDummyTarget(t, nil)
	ctx := tgt.RegisterContext(1)

	fp := mustRegister(t, ctx, "fp")
	err := ctx.WriteRegister(fp, []byte{0x00, 0x02})
	var unsupported ErrUnsupportedRegister
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedRegister, got %v", err)
	}
	if _, err := ctx.ReadGeneric(GenericFP); !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedRegister, got %v", err)
	}
	if p.accesses() != 0 || hw.accesses() != 0 {
		t.Fatalf("memory accesses %d, hardware accesses %d", p.accesses(), hw.accesses())
	}
}

func TestSoftStackPointer(t *testing.T) {
	tgt, p, hw := newDummyTarget(t, contiguousMarkers)
	p.mem[0x10] = 0x00
	p.mem[0x11] = 0x90
	ctx := tgt.RegisterContext(1)

	v, err := ctx.ReadRegisterUint(mustRegister(t, ctx, "sp"))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x9000 {
		t.Fatalf("sp = %#x", v)
	}
	if hw.accesses() != 0 || len(p.reads) != 2 {
		t.Fatalf("hardware accesses %d, memory reads %v", hw.accesses(), p.reads)
	}

	raw, err := ctx.ReadHardwareRegister(mustRegister(t, ctx, "s"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte{0xfd}) {
		t.Fatalf("s = %x", raw)
	}
}

func TestStackPointerWithoutSoftStack(t *testing.T) {
	// rc2 and rc3 exist but rs0 does not.
	tgt, p, hw := newDummyTarget(t, map[int]uint64{2: 0x12, 3: 0x13})
	ctx := tgt.RegisterContext(1)

	buf, err := ctx.ReadGeneric(GenericSP)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 1 || hw.accesses() != 1 || p.accesses() != 0 {
		t.Fatalf("sp = %x, hardware accesses %d, memory accesses %d", buf, hw.accesses(), p.accesses())
	}
}

func TestFramePointer(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, map[int]uint64{30: 0x2e, 31: 0x2f})
	ctx := tgt.RegisterContext(1)

	fp := mustRegister(t, ctx, "fp")
	if fp.Name != "rs15" || fp.Kinds.Generic != GenericFP {
		t.Fatalf("fp resolved to %+v", fp)
	}
	if err := ctx.WriteGeneric(GenericFP, []byte{0x80, 0x01}); err != nil {
		t.Fatal(err)
	}
	if p.mem[0x2e] != 0x80 || p.mem[0x2f] != 0x01 {
		t.Fatalf("memory %x %x", p.mem[0x2e], p.mem[0x2f])
	}
	v, err := ctx.ReadRegisterUint(mustRegister(t, ctx, "rs15"))
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x180 {
		t.Fatalf("rs15 = %#x", v)
	}
}

func TestFramePointerSlotConfig(t *testing.T) {
	arch, _ := NewArch("mos")
	p := newDummyProcess(t)
	slot := 0
	tgt, err := NewTarget(arch, p, newDummyHardware(), NewTargetConfig{ImaginarySymbolPrefix: "__rc", FramePointerSlot: &slot})
	if err != nil {
		t.Fatal(err)
	}
	tgt.AddModule(markerModule("prog.elf", contiguousMarkers))
	ctx := tgt.RegisterContext(1)
	if fp := mustRegister(t, ctx, "fp"); fp.Name != "rs0" {
		t.Fatalf("fp resolved to %s", fp.Name)
	}
}

func TestNotReady(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(p *dummyProcess)
	}{
		{"running", func(p *dummyProcess) { p.state = StateRunning }},
		{"exited", func(p *dummyProcess) { p.state = StateExited; p.alive = false }},
		{"dead", func(p *dummyProcess) { p.alive = false }},
		{"no threads", func(p *dummyProcess) { p.threads = nil }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tgt, p, hw := newDummyTarget(t, map[int]uint64{0: 0x10, 1: 0x11, 30: 0x2e, 31: 0x2f})
			tc.setup(p)
			ctx := tgt.RegisterContext(1)
			for _, name := range []string{"a", "pc", "s", "sp", "fp", "rc0", "rs0", "rs15"} {
				reg := mustRegister(t, ctx, name)
				var notReady ErrNotReady
				if _, err := ctx.ReadRegister(reg); !errors.As(err, &notReady) {
					t.Errorf("read %s: expected ErrNotReady, got %v", name, err)
				}
				if err := ctx.WriteRegister(reg, []byte{1, 2}); !errors.As(err, &notReady) {
					t.Errorf("write %s: expected ErrNotReady, got %v", name, err)
				}
			}
			if p.accesses() != 0 || hw.accesses() != 0 {
				t.Fatalf("memory accesses %d, hardware accesses %d", p.accesses(), hw.accesses())
			}
		})
	}
}

func TestSuspendedIsReady(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, contiguousMarkers)
	p.state = StateSuspended
	ctx := tgt.RegisterContext(1)
	if _, err := ctx.ReadRegister(mustRegister(t, ctx, "rc1")); err != nil {
		t.Fatal(err)
	}
}

func TestPartialWrite(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, contiguousMarkers)
	p.mem[0x10] = 0x11
	p.mem[0x11] = 0x22
	p.failWrite = map[uint64]bool{0x11: true}
	ctx := tgt.RegisterContext(1)

	err := ctx.WriteRegisterUint(mustRegister(t, ctx, "rs0"), 0xbeef)
	var partial *PartialWriteError
	if !errors.As(err, &partial) {
		t.Fatalf("expected *PartialWriteError, got %v", err)
	}
	if partial.Written != 0x10 || partial.Failed.Addr != 0x11 {
		t.Fatalf("unexpected error contents: %v", partial)
	}
	if !errors.Is(err, errDummyMem) {
		t.Fatalf("error does not wrap the memory error: %v", err)
	}
	if p.mem[0x10] != 0xef || p.mem[0x11] != 0x22 {
		t.Fatalf("memory %x %x", p.mem[0x10], p.mem[0x11])
	}
	if len(p.writes) != 2 {
		t.Fatalf("writes: %v", p.writes)
	}
}

func TestLowByteWriteFailure(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, contiguousMarkers)
	p.failWrite = map[uint64]bool{0x10: true}
	ctx := tgt.RegisterContext(1)

	err := ctx.WriteRegisterUint(mustRegister(t, ctx, "rs0"), 0xbeef)
	var memErr *MemoryAccessError
	var partial *PartialWriteError
	if !errors.As(err, &memErr) || errors.As(err, &partial) {
		t.Fatalf("expected *MemoryAccessError, got %v", err)
	}
	if len(p.writes) != 1 {
		t.Fatalf("high byte written after failure: %v", p.writes)
	}
}

func TestReadFailureNotRetried(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, contiguousMarkers)
	p.failRead = map[uint64]bool{0x12: true}
	ctx := tgt.RegisterContext(1)

	_, err := ctx.ReadRegister(mustRegister(t, ctx, "rc2"))
	var memErr *MemoryAccessError
	if !errors.As(err, &memErr) || memErr.Op != "read" || memErr.Addr != 0x12 {
		t.Fatalf("unexpected error %v", err)
	}
	if len(p.reads) != 1 {
		t.Fatalf("reads: %v", p.reads)
	}
}

type shortProcess struct {
	*dummyProcess
}

func (p shortProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	p.reads = append(p.reads, memAccess{addr, len(buf)})
	return 0, nil
}

func TestShortTransfer(t *testing.T) {
	arch, _ := NewArch("mos")
	p := shortProcess{newDummyProcess(t)}
	tgt, err := NewTarget(arch, p, newDummyHardware(), NewTargetConfig{ImaginarySymbolPrefix: "__rc"})
	if err != nil {
		t.Fatal(err)
	}
	tgt.AddModule(markerModule("prog.elf", contiguousMarkers))
	ctx := tgt.RegisterContext(1)

	_, err = ctx.ReadRegister(mustRegister(t, ctx, "rc0"))
	if !errors.Is(err, ErrShortTransfer) {
		t.Fatalf("expected ErrShortTransfer, got %v", err)
	}
}

func TestRegisterIdempotence(t *testing.T) {
	tgt, p, _ := newDummyTarget(t, contiguousMarkers)
	p.mem[0x12] = 0x5a
	p.mem[0x13] = 0xa5
	ctx := tgt.RegisterContext(1)

	for _, name := range []string{"rc2", "rs1", "a", "pc"} {
		reg := mustRegister(t, ctx, name)
		first, err := ctx.ReadRegister(reg)
		if err != nil {
			t.Fatal(err)
		}
		second, err := ctx.ReadRegister(reg)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("%s: %x != %x", name, first, second)
		}
	}
}

func TestWriteThenRead(t *testing.T) {
	tgt, _, _ := newDummyTarget(t, contiguousMarkers)
	ctx := tgt.RegisterContext(1)

	for _, tc := range []struct {
		name string
		v    uint64
	}{
		{"rc3", 0x7f},
		{"rs1", 0x1234},
		{"rs0", 0xfffe},
		{"a", 0x42},
		{"x", 0x01},
		{"pc", 0xc000},
		{"sp", 0x8000},
	} {
		reg := mustRegister(t, ctx, tc.name)
		if err := ctx.WriteRegisterUint(reg, tc.v); err != nil {
			t.Fatalf("write %s: %v", tc.name, err)
		}
		v, err := ctx.ReadRegisterUint(reg)
		if err != nil {
			t.Fatalf("read %s: %v", tc.name, err)
		}
		if v != tc.v {
			t.Fatalf("%s = %#x, expected %#x", tc.name, v, tc.v)
		}
	}
}

func TestUnknownRegister(t *testing.T) {
	tgt, _, _ := newDummyTarget(t, contiguousMarkers)
	ctx := tgt.RegisterContext(1)
	for _, tc := range []struct {
		name       string
		notDefined bool
	}{
		{"rc200", true},
		{"RS40", true},
		{"rc256", false},
		{"r99", false},
	} {
		_, err := ctx.Register(tc.name)
		if !errors.Is(err, ErrUnknownRegister) {
			t.Fatalf("%s: expected ErrUnknownRegister, got %v", tc.name, err)
		}
		if got := strings.Contains(err.Error(), "not defined by this program"); got != tc.notDefined {
			t.Errorf("%s: unexpected error %q", tc.name, err)
		}
	}
}

func TestNoHardwareAccess(t *testing.T) {
	arch, _ := NewArch("mos")
	tgt, err := NewTarget(arch, newDummyProcess(t), nil, NewTargetConfig{ImaginarySymbolPrefix: "__rc"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := tgt.RegisterContext(1)
	if _, err := ctx.ReadRegister(mustRegister(t, ctx, "a")); !errors.Is(err, ErrNoHardwareAccess) {
		t.Fatalf("expected ErrNoHardwareAccess, got %v", err)
	}
}

func TestHardwareBypassesRoles(t *testing.T) {
	tgt, p, hw := newDummyTarget(t, contiguousMarkers)
	ctx := tgt.RegisterContext(1)
	s := mustRegister(t, ctx, "s")

	if err := ctx.WriteHardwareRegister(s, []byte{0x80}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(hw.regs["s"], []byte{0x80}) || p.accesses() != 0 {
		t.Fatalf("s = %x, memory accesses %d", hw.regs["s"], p.accesses())
	}
	if err := ctx.WriteHardwareRegister(mustRegister(t, ctx, "rs0"), []byte{1, 2}); err == nil {
		t.Fatal("hardware write of an imaginary register succeeded")
	}
}
