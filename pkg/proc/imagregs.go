package proc

import (
	"sort"
	"sync"

	"github.com/llvm-mos/mosdbg/pkg/dwarf/regnum"
	"github.com/llvm-mos/mosdbg/pkg/logflags"
)

// SoftStackPointerSlot is the rs register llvm-mos uses as the soft stack
// pointer.
const SoftStackPointerSlot = 0

// ByteSlot is an imaginary 8-bit register rcN backed by one memory cell.
type ByteSlot struct {
	Index int
	Addr  uint64
}

// WordSlot is an imaginary 16-bit register rsN synthesized from rc(2N),
// the low byte, and rc(2N+1), the high byte. The two cells are addressed
// independently and need not be adjacent.
type WordSlot struct {
	Index int
	Lo    uint64
	Hi    uint64
}

// Addr returns the backing address of the word, the address of its low byte.
func (ws WordSlot) Addr() uint64 {
	return ws.Lo
}

// ModuleSource returns the modules currently loaded in a target.
type ModuleSource func() []Module

// Directory maps imaginary register slots to their backing addresses.
//
// A Directory is built lazily the first time any of its methods is called.
// The first build that finds at least one marker is final and the
// directory never rescans after it, modules loaded later are ignored.
// A build that finds nothing is retried on the next call.
// Directory is safe for concurrent use.
type Directory struct {
	mu      sync.Mutex
	modules ModuleSource
	prefix  string

	final bool
	bytes map[int]ByteSlot
	words map[int]WordSlot

	warned bool
	notify func(string)
}

const noImaginaryRegistersWarning = "No imaginary registers found. Falling back to hardware S as 'sp'. Source-level stack traces may not work."

// NewDirectory returns a directory that discovers marker symbols called
// prefix followed by the decimal register index in the modules returned
// by modules.
func NewDirectory(modules ModuleSource, prefix string) *Directory {
	return &Directory{modules: modules, prefix: prefix}
}

// DirectoryFromMarkers returns an already built directory for markers,
// a map from rc index to backing address.
func DirectoryFromMarkers(markers map[int]uint64) *Directory {
	d := &Directory{}
	d.build(markers)
	d.final = true
	return d
}

// SetNotify sets a function called once with a diagnostic message if a
// build finds no imaginary registers.
func (d *Directory) SetNotify(fn func(string)) {
	d.mu.Lock()
	d.notify = fn
	d.mu.Unlock()
}

func (d *Directory) ensure() {
	if notify := d.ensureLocked(); notify != nil {
		notify(noImaginaryRegistersWarning)
	}
}

// ensureLocked builds the directory if needed and returns the diagnostic
// handler to call, which must be called after d.mu is released.
func (d *Directory) ensureLocked() func(string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.final || d.modules == nil {
		return nil
	}
	d.build(ScanMarkers(d.modules(), d.prefix))
	if len(d.bytes) > 0 {
		d.final = true
		return nil
	}
	if d.warned {
		return nil
	}
	d.warned = true
	logflags.ABILogger().Warn(noImaginaryRegistersWarning)
	return d.notify
}

func (d *Directory) build(markers map[int]uint64) {
	d.bytes = make(map[int]ByteSlot, len(markers))
	d.words = make(map[int]WordSlot, len(markers)/2)
	for idx, addr := range markers {
		if idx < 0 || idx > regnum.MOSMaxRC {
			continue
		}
		d.bytes[idx] = ByteSlot{Index: idx, Addr: addr}
	}
	for k := 0; k <= regnum.MOSMaxRS; k++ {
		lo, okLo := d.bytes[2*k]
		hi, okHi := d.bytes[2*k+1]
		if okLo && okHi {
			d.words[k] = WordSlot{Index: k, Lo: lo.Addr, Hi: hi.Addr}
		}
	}
}

// ByteSlot returns imaginary register rc<idx>.
func (d *Directory) ByteSlot(idx int) (ByteSlot, bool) {
	d.ensure()
	d.mu.Lock()
	defer d.mu.Unlock()
	bs, ok := d.bytes[idx]
	return bs, ok
}

// WordSlot returns imaginary register rs<idx>.
func (d *Directory) WordSlot(idx int) (WordSlot, bool) {
	d.ensure()
	d.mu.Lock()
	defer d.mu.Unlock()
	ws, ok := d.words[idx]
	return ws, ok
}

// ByteSlots returns all imaginary byte registers sorted by index.
func (d *Directory) ByteSlots() []ByteSlot {
	d.ensure()
	d.mu.Lock()
	defer d.mu.Unlock()
	r := make([]ByteSlot, 0, len(d.bytes))
	for _, bs := range d.bytes {
		r = append(r, bs)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Index < r[j].Index })
	return r
}

// WordSlots returns all imaginary word registers sorted by index.
func (d *Directory) WordSlots() []WordSlot {
	d.ensure()
	d.mu.Lock()
	defer d.mu.Unlock()
	r := make([]WordSlot, 0, len(d.words))
	for _, ws := range d.words {
		r = append(r, ws)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Index < r[j].Index })
	return r
}

// HasAny returns true if at least one imaginary register was found.
func (d *Directory) HasAny() bool {
	d.ensure()
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bytes) > 0
}

// Fallback returns true if the stack and frame pointer roles must use
// hardware registers because no imaginary registers were found.
func (d *Directory) Fallback() bool {
	return !d.HasAny()
}

// Final returns true once the directory will no longer rescan.
func (d *Directory) Final() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.final
}
