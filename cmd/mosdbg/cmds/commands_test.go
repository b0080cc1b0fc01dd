package cmds

import (
	"bytes"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/llvm-mos/mosdbg/pkg/config"
	"github.com/llvm-mos/mosdbg/pkg/proc"
)

func TestSplitConnectArgs(t *testing.T) {
	testCases := []struct {
		args     []string
		def      string
		addr     string
		binaries []string
		tgterr   bool
	}{
		{[]string{"localhost:1234", "a.elf", "b.elf"}, "", "localhost:1234", []string{"a.elf", "b.elf"}, false},
		{[]string{":6502"}, "", ":6502", []string{}, false},
		{[]string{"a.elf"}, "emu:1234", "emu:1234", []string{"a.elf"}, false},
		{[]string{"localhost:1"}, "emu:1234", "localhost:1", []string{}, false},
		{[]string{"a.elf"}, "", "", nil, true},
		{nil, "", "", nil, true},
	}

	for _, tc := range testCases {
		addr, binaries, err := splitConnectArgs(tc.args, tc.def)
		if tc.tgterr {
			if err == nil {
				t.Errorf("%q: expected error, got %q %q", tc.args, addr, binaries)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.args, err)
			continue
		}
		if addr != tc.addr || !reflect.DeepEqual(binaries, tc.binaries) {
			t.Errorf("%q: got %q %q expected %q %q", tc.args, addr, binaries, tc.addr, tc.binaries)
		}
	}
}

type markerModule map[int]uint64

func (m markerModule) Name() string { return "prog.elf" }

func (m markerModule) Symtab() proc.Symtab {
	var syms []proc.Symbol
	for idx, addr := range m {
		syms = append(syms, proc.Symbol{Name: "__rc" + strconv.Itoa(idx), Type: proc.SymbolTypeAbsolute, Value: addr})
	}
	return proc.NewSymbolTable(syms)
}

func newTestTarget(t *testing.T, m markerModule) *proc.Target {
	arch, _ := proc.NewArch("mos")
	tgt, err := proc.NewTarget(arch, nil, nil, proc.NewTargetConfig{ImaginarySymbolPrefix: "__rc"})
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		tgt.AddModule(m)
	}
	return tgt
}

func TestPrintSymbols(t *testing.T) {
	var out bytes.Buffer
	tgt := newTestTarget(t, markerModule{0: 0x02, 1: 0x03, 2: 0x04, 3: 0x80})
	if err := printSymbols(&out, tgt, false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	tgtLines := []string{"rc0 0x0002", "rc1 0x0003", "rc2 0x0004", "rc3 0x0080", "rs0 0x0002:0x0003", "rs1 0x0004:0x0080"}
	if len(lines) != len(tgtLines) {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	for i := range lines {
		if got := strings.Join(strings.Fields(lines[i]), " "); got != tgtLines[i] {
			t.Errorf("line %d: got %q expected %q", i, got, tgtLines[i])
		}
	}

	out.Reset()
	if err := printSymbols(&out, newTestTarget(t, nil), false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "No imaginary registers found.") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestPrintRegisterTable(t *testing.T) {
	var out bytes.Buffer
	tgt := newTestTarget(t, markerModule{30: 0x40, 31: 0x41})
	if err := printSymbols(&out, tgt, true); err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, line := range strings.Split(out.String(), "\n") {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		found[f[0]] = true
		switch f[0] {
		case "pc":
			if strings.Join(f, " ") != "pc - 2 5 - 5 pc cpu" {
				t.Errorf("unexpected pc line %q", line)
			}
		case "rs15":
			if strings.Join(f, " ") != "rs15 fp 2 9 "+strconv.Itoa(528+15)+" 8 fp 0x0040:0x0041" {
				t.Errorf("unexpected rs15 line %q", line)
			}
		}
	}
	for _, name := range []string{"Name", "a", "x", "y", "s", "p", "pc", "rc30", "rc31", "rs15"} {
		if !found[name] {
			t.Errorf("%s missing from:\n%s", name, out.String())
		}
	}
}

func TestNewTargetErrors(t *testing.T) {
	defer func(old string) { triple = old }(triple)
	conf := &config.Config{}

	triple = "x86_64-linux-gnu"
	if _, err := newTarget(nil, nil, nil, conf); err == nil {
		t.Error("non MOS triple accepted")
	}

	triple = "mos-unknown-none"
	if _, err := newTarget(nil, nil, []string{"/nonexistent/prog.elf"}, conf); err == nil {
		t.Error("missing executable accepted")
	}
	tgt, err := newTarget(nil, nil, nil, conf)
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Arch().FramePointerSlot() != config.DefaultFramePointerSlot {
		t.Errorf("frame pointer slot %d", tgt.Arch().FramePointerSlot())
	}
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := New()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "mosdbg\nVersion: ") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestSymbolsRequiresArguments(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := New()
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"symbols"})
	if err := root.Execute(); err == nil {
		t.Fatal("symbols without arguments succeeded")
	}
}

func TestVersionHelpHidesTargetFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := New()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--help"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "--triple") {
		t.Errorf("--triple listed in version help:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "--verbose") {
		t.Errorf("--verbose missing from version help:\n%s", out.String())
	}
}
