package proc

import (
	"fmt"
	"sync"

	"github.com/llvm-mos/mosdbg/pkg/dwarf/regnum"
	"github.com/llvm-mos/mosdbg/pkg/logflags"
)

// Target represents the process being debugged together with the modules
// loaded in it. It owns the imaginary register directory shared by all
// register contexts created for its threads.
type Target struct {
	arch *MOS
	proc Process
	hw   HardwareRegisterAccess

	modulesMu sync.Mutex
	modules   []Module

	dir *Directory

	tableMu sync.Mutex
	table   *RegisterTable

	diagMu      sync.Mutex
	diagnostics func(string)
}

// NewTargetConfig is the configuration for NewTarget.
type NewTargetConfig struct {
	// ImaginarySymbolPrefix is the prefix of the marker symbols of imaginary
	// byte registers.
	ImaginarySymbolPrefix string
	// FramePointerSlot is the rs register used as frame pointer, nil keeps
	// the architecture default.
	FramePointerSlot *int
}

// NewTarget returns a target for process p. hw is used to access the
// hardware registers of p's threads. Either may be nil when only static
// information is needed.
func NewTarget(arch *MOS, p Process, hw HardwareRegisterAccess, cfg NewTargetConfig) (*Target, error) {
	if arch == nil {
		return nil, fmt.Errorf("no architecture")
	}
	if cfg.ImaginarySymbolPrefix == "" {
		return nil, fmt.Errorf("empty imaginary symbol prefix")
	}
	if cfg.FramePointerSlot != nil {
		slot := *cfg.FramePointerSlot
		if slot < 0 || slot > regnum.MOSMaxRS {
			return nil, fmt.Errorf("frame pointer slot %d out of range [0, %d]", slot, regnum.MOSMaxRS)
		}
		arch.SetFramePointerSlot(slot)
	}
	t := &Target{arch: arch, proc: p, hw: hw}
	t.dir = NewDirectory(t.Modules, cfg.ImaginarySymbolPrefix)
	t.dir.SetNotify(t.diagnostic)
	return t, nil
}

// Arch returns the architecture descriptor of the target.
func (t *Target) Arch() *MOS {
	return t.arch
}

// Process returns the process of the target.
func (t *Target) Process() Process {
	return t.proc
}

// AddModule appends m to the list of loaded modules.
func (t *Target) AddModule(m Module) {
	t.modulesMu.Lock()
	t.modules = append(t.modules, m)
	t.modulesMu.Unlock()
	logflags.DebuggerLogger().Debugf("module %s loaded", m.Name())
	if t.dir.Final() {
		logflags.SymLogger().Debugf("imaginary registers already discovered, symbols of %s ignored", m.Name())
	}
}

// Modules returns the loaded modules in load order.
func (t *Target) Modules() []Module {
	t.modulesMu.Lock()
	defer t.modulesMu.Unlock()
	r := make([]Module, len(t.modules))
	copy(r, t.modules)
	return r
}

// ChangedModules returns the names of the loaded images whose file was
// modified or removed since it was loaded. Their imaginary register
// addresses may be out of date.
func (t *Target) ChangedModules() []string {
	var r []string
	for _, m := range t.Modules() {
		image, ok := m.(*Image)
		if !ok {
			continue
		}
		if changed, err := image.Changed(); err != nil || changed {
			r = append(r, m.Name())
		}
	}
	return r
}

// Directory returns the imaginary register directory of the target.
func (t *Target) Directory() *Directory {
	return t.dir
}

// RegisterTable returns the hardware register table augmented with the
// imaginary registers of the target. The table is cached once the
// directory is final.
func (t *Target) RegisterTable() *RegisterTable {
	t.tableMu.Lock()
	table := t.table
	t.tableMu.Unlock()
	if table != nil {
		return table
	}
	// The directory may call the diagnostic handler while building, which
	// can itself ask for the table: build it before taking tableMu.
	t.dir.HasAny()
	table = t.arch.AugmentRegisterInfo(t.dir)
	if !t.dir.Final() {
		return table
	}
	t.tableMu.Lock()
	defer t.tableMu.Unlock()
	if t.table == nil {
		t.table = table
	}
	return t.table
}

// RegisterContext returns a register context for thread threadID.
func (t *Target) RegisterContext(threadID int) *RegisterContext {
	return newRegisterContext(t, threadID)
}

// CurrentThread returns the first thread of the process.
func (t *Target) CurrentThread() (int, error) {
	if t.proc == nil {
		return 0, ErrNotReady{"no process"}
	}
	threads := t.proc.ThreadList()
	if len(threads) == 0 {
		return 0, ErrNotReady{"no threads"}
	}
	return threads[0], nil
}

// SetDiagnosticHandler sets the function receiving one-time diagnostics
// meant for the user, such as the absence of imaginary registers.
func (t *Target) SetDiagnosticHandler(fn func(string)) {
	t.diagMu.Lock()
	t.diagnostics = fn
	t.diagMu.Unlock()
}

func (t *Target) diagnostic(msg string) {
	t.diagMu.Lock()
	fn := t.diagnostics
	t.diagMu.Unlock()
	if fn != nil {
		fn(msg)
	}
}
