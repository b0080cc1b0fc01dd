package proc

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/llvm-mos/mosdbg/pkg/logflags"
)

// ErrUnsupportedBinary is returned by LoadBinary for files that are not
// ELF executables.
var ErrUnsupportedBinary = errors.New("unsupported binary format, expected ELF")

// EM_MOS is the ELF machine number of llvm-mos executables.
const EM_MOS elf.Machine = 6502

// Image is a module loaded from an ELF file.
type Image struct {
	Path         string
	Machine      elf.Machine
	lastModified time.Time
	symtab       *SymbolTable
}

// Name returns the base name of the image file.
func (image *Image) Name() string {
	return filepath.Base(image.Path)
}

// Symtab returns the symbol table of the image.
func (image *Image) Symtab() Symtab {
	if image.symtab == nil {
		return nil
	}
	return image.symtab
}

// LastModified returns the modification time of the image file when it
// was loaded.
func (image *Image) LastModified() time.Time {
	return image.lastModified
}

// Changed reports whether the image file was modified on disk after it
// was loaded.
func (image *Image) Changed() (bool, error) {
	fi, err := os.Stat(image.Path)
	if err != nil {
		return false, err
	}
	return !fi.ModTime().Equal(image.LastModified()), nil
}

type imageCacheKey struct {
	path    string
	size    int64
	modTime time.Time
}

const imageCacheSize = 16

var imageCache = func() *lru.Cache {
	c, err := lru.New(imageCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}()

// LoadBinary reads the symbol table of the ELF file at path.
// Parsed files are cached until they change on disk.
func LoadBinary(path string) (*Image, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := imageCacheKey{path: path, size: fi.Size(), modTime: fi.ModTime()}
	if v, ok := imageCache.Get(key); ok {
		return v.(*Image), nil
	}

	f, err := elf.Open(path)
	if err != nil {
		var fmtErr *elf.FormatError
		if errors.As(err, &fmtErr) {
			return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedBinary)
		}
		return nil, err
	}
	defer f.Close()

	image := &Image{Path: path, Machine: f.Machine, lastModified: fi.ModTime()}
	syms, err := f.Symbols()
	switch {
	case errors.Is(err, elf.ErrNoSymbols):
		logflags.SymLogger().Debugf("%s has no symbol table", path)
	case err != nil:
		return nil, fmt.Errorf("could not parse ELF symbols of %s: %v", path, err)
	default:
		image.symtab = NewSymbolTable(convertELFSymbols(syms))
	}

	imageCache.Add(key, image)
	return image, nil
}

func convertELFSymbols(syms []elf.Symbol) []Symbol {
	r := make([]Symbol, 0, len(syms))
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		sym := Symbol{
			Name:     s.Name,
			Value:    s.Value,
			External: elf.ST_BIND(s.Info) != elf.STB_LOCAL,
		}
		switch {
		case s.Section == elf.SHN_ABS:
			sym.Type = SymbolTypeAbsolute
		case s.Section == elf.SHN_UNDEF:
			sym.Value = InvalidAddress
		default:
			switch elf.ST_TYPE(s.Info) {
			case elf.STT_FUNC:
				sym.Type = SymbolTypeCode
			case elf.STT_OBJECT:
				sym.Type = SymbolTypeData
			case elf.STT_FILE, elf.STT_SECTION:
				sym.Type = SymbolTypeDebug
				sym.Debug = true
			}
		}
		r = append(r, sym)
	}
	return r
}
