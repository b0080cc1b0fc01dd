package proc

import (
	"strconv"

	"github.com/llvm-mos/mosdbg/pkg/dwarf/regnum"
	"github.com/llvm-mos/mosdbg/pkg/logflags"
)

// InvalidAddress is the raw value of a symbol without an address.
const InvalidAddress = ^uint64(0)

// SymbolType classifies a symbol table entry.
type SymbolType uint8

const (
	SymbolTypeAny SymbolType = iota
	SymbolTypeAbsolute
	SymbolTypeCode
	SymbolTypeData
	SymbolTypeDebug
)

func (st SymbolType) String() string {
	switch st {
	case SymbolTypeAbsolute:
		return "absolute"
	case SymbolTypeCode:
		return "code"
	case SymbolTypeData:
		return "data"
	case SymbolTypeDebug:
		return "debug"
	}
	return "any"
}

// DebugFilter selects symbols by their debug flag.
type DebugFilter uint8

const (
	DebugAny DebugFilter = iota
	DebugNo
	DebugYes
)

// Visibility selects symbols by linkage.
type Visibility uint8

const (
	VisibilityAny Visibility = iota
	VisibilityExtern
	VisibilityPrivate
)

// Symbol is an entry of a module's symbol table.
type Symbol struct {
	Name     string
	Type     SymbolType
	Value    uint64 // raw, unrelocated value
	Debug    bool
	External bool
}

func (sym *Symbol) matches(typ SymbolType, debug DebugFilter, vis Visibility) bool {
	if typ != SymbolTypeAny && sym.Type != typ {
		return false
	}
	switch debug {
	case DebugNo:
		if sym.Debug {
			return false
		}
	case DebugYes:
		if !sym.Debug {
			return false
		}
	}
	switch vis {
	case VisibilityExtern:
		return sym.External
	case VisibilityPrivate:
		return !sym.External
	}
	return true
}

// Symtab is the symbol table of a module.
type Symtab interface {
	// FindFirstSymbolWithNameAndType returns the first symbol called name
	// that matches typ, debug and vis, or nil.
	FindFirstSymbolWithNameAndType(name string, typ SymbolType, debug DebugFilter, vis Visibility) *Symbol
}

// Module is an image loaded in the target.
type Module interface {
	Name() string
	// Symtab returns the symbol table of the module, nil if the module has
	// none.
	Symtab() Symtab
}

// SymbolTable is an in-memory Symtab indexed by name.
type SymbolTable struct {
	byName map[string][]int
	syms   []Symbol
}

// NewSymbolTable returns a SymbolTable containing syms.
func NewSymbolTable(syms []Symbol) *SymbolTable {
	st := &SymbolTable{byName: make(map[string][]int, len(syms)), syms: syms}
	for i := range syms {
		st.byName[syms[i].Name] = append(st.byName[syms[i].Name], i)
	}
	return st
}

// Len returns the number of symbols in the table.
func (st *SymbolTable) Len() int {
	return len(st.syms)
}

// FindFirstSymbolWithNameAndType implements Symtab.
func (st *SymbolTable) FindFirstSymbolWithNameAndType(name string, typ SymbolType, debug DebugFilter, vis Visibility) *Symbol {
	for _, i := range st.byName[name] {
		if st.syms[i].matches(typ, debug, vis) {
			return &st.syms[i]
		}
	}
	return nil
}

// ScanMarkers looks up the marker symbols prefix0 through prefix255 in
// modules and returns the raw value of each one found, keyed by index.
// When more than one module defines a marker the first module in the list
// wins. Absolute symbols are preferred over other symbol types.
func ScanMarkers(modules []Module, prefix string) map[int]uint64 {
	log := logflags.SymLogger()
	found := make(map[int]uint64)
	log.Debugf("scanning %d modules for %s* symbols", len(modules), prefix)
	for _, m := range modules {
		if m == nil {
			continue
		}
		symtab := m.Symtab()
		if symtab == nil {
			continue
		}
		log.Debugf("scanning module %s", m.Name())
		for idx := 0; idx <= regnum.MOSMaxRC; idx++ {
			if _, ok := found[idx]; ok {
				continue
			}
			name := prefix + strconv.Itoa(idx)
			sym := symtab.FindFirstSymbolWithNameAndType(name, SymbolTypeAbsolute, DebugAny, VisibilityAny)
			if sym == nil {
				sym = symtab.FindFirstSymbolWithNameAndType(name, SymbolTypeAny, DebugAny, VisibilityAny)
			}
			if sym == nil || sym.Value == InvalidAddress {
				continue
			}
			log.Debugf("found %s (%s) with raw value %#x", name, sym.Type, sym.Value)
			found[idx] = sym.Value
		}
	}
	log.Debugf("total %s* symbols found: %d", prefix, len(found))
	return found
}
