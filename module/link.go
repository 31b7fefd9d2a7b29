package module

import (
	"errors"
	"fmt"

	"moria.us/dolrel/bindata"
)

// ErrUnresolvedModule indicates an import of a module other than the DOL or
// the module itself.
var ErrUnresolvedModule = errors.New("import of unknown module")

// A LinkConfig holds the runtime addresses a module is linked against.
type LinkConfig struct {
	LinkAddress uint32 // runtime address of the first byte of the module file
	BSSAddress  uint32 // runtime address of the module's bss section
}

// Validate checks that both addresses lie in the linkable RAM window.
func (c LinkConfig) Validate() error {
	if !linkable(c.LinkAddress) {
		return fmt.Errorf("link address 0x%08x is not in [0x%08x, 0x%08x)", c.LinkAddress, RAMStart, LinkEnd)
	}
	if !linkable(c.BSSAddress) {
		return fmt.Errorf("rel bss address 0x%08x is not in [0x%08x, 0x%08x)", c.BSSAddress, RAMStart, LinkEnd)
	}
	return nil
}

func linkable(addr uint32) bool {
	return RAMStart <= addr && addr < LinkEnd
}

// A patch is one validated relocation, ready to be written.
type patch struct {
	view   bindata.View // start of the patched section
	off    int64
	typ    RelocType
	target uint32
	where  uint32
}

// Link resolves every relocation of the REL held in store, which must map the
// file at offset 0, as if the file were loaded at cfg.LinkAddress. The whole
// relocation table is decoded and checked before any byte is written, so a
// failed link leaves the store unmodified. It returns the number of patched
// locations. Only imports of the module itself and of the DOL (module 0) are
// resolved; an import of any other module fails with ErrUnresolvedModule.
func Link(store *bindata.Store, cfg LinkConfig) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	plan, err := planLink(store, cfg)
	if err != nil {
		return 0, err
	}
	for _, p := range plan {
		if err := p.typ.apply(p.view, p.off, p.target, p.where); err != nil {
			return 0, err
		}
	}
	return len(plan), nil
}

// Link returns a copy of the module's file with all relocations applied. See
// the Link function for which imports can be resolved.
func (r *REL) Link(cfg LinkConfig) ([]byte, error) {
	store := bindata.NewStore(true)
	if err := store.RegisterData(r.Data, 0); err != nil {
		return nil, err
	}
	if _, err := Link(store, cfg); err != nil {
		return nil, err
	}
	return store.Ranges()[0].Data, nil
}

// A linker walks a module's relocation table through a store.
type linker struct {
	store       *bindata.Store
	cfg         LinkConfig
	id          uint32
	numSections uint32
	sections    bindata.View
}

func planLink(store *bindata.Store, cfg LinkConfig) ([]patch, error) {
	header := store.View(0)
	l := &linker{store: store, cfg: cfg}
	var err error
	if l.id, err = header.U32(0x00); err != nil {
		return nil, wrapError(err, "header")
	}
	if l.numSections, err = header.U32(0x0c); err != nil {
		return nil, wrapError(err, "header")
	}
	if l.sections, err = header.Indirect(0x10); err != nil {
		return nil, wrapError(err, "header")
	}
	imports, err := header.Indirect(0x28)
	if err != nil {
		return nil, wrapError(err, "header")
	}
	impSize, err := header.U32(0x2c)
	if err != nil {
		return nil, wrapError(err, "header")
	}

	var plan []patch
	for off := int64(0); off < int64(impSize); off += importEntrySize {
		moduleID, err := imports.U32(off)
		if err != nil {
			return nil, wrapErrorf(err, "import %d", off/importEntrySize)
		}
		stream, err := imports.Indirect(off + 4)
		if err != nil {
			return nil, wrapErrorf(err, "import %d", off/importEntrySize)
		}
		if plan, err = l.planImport(plan, moduleID, stream); err != nil {
			return nil, wrapErrorf(err, "import %d (module %d)", off/importEntrySize, moduleID)
		}
	}
	return plan, nil
}

// sectionOffset returns the file offset of a section, zero if it has no
// bytes on disk.
func (l *linker) sectionOffset(id uint8) (uint32, error) {
	if uint32(id) >= l.numSections {
		return 0, formatErrorf("section %d out of range, module has %d sections", id, l.numSections)
	}
	off, err := l.sections.U32(int64(id) * sectionEntrySize)
	return off &^ 3, err
}

// target returns the runtime address a relocation against moduleID refers to.
func (l *linker) target(moduleID uint32, section uint8, addend uint32) (uint32, error) {
	switch moduleID {
	case 0:
		// Addends against the DOL are already absolute.
		return addend, nil
	case l.id:
		off, err := l.sectionOffset(section)
		if err != nil {
			return 0, err
		}
		if off == 0 {
			return l.cfg.BSSAddress + addend, nil
		}
		return l.cfg.LinkAddress + off + addend, nil
	}
	return 0, fmt.Errorf("%w %d", ErrUnresolvedModule, moduleID)
}

// planImport decodes one relocation stream. Offsets are cumulative deltas,
// so entries must be visited strictly in stream order.
func (l *linker) planImport(plan []patch, moduleID uint32, stream bindata.View) ([]patch, error) {
	var (
		current  uint8
		base     uint32
		inStream bool
		offset   uint32
	)
	for e := stream; ; e = e.At(relocationEntrySize) {
		rel, err := readRelocation(e)
		if err != nil {
			return nil, err
		}
		switch rel.Type {
		case RelocEnd:
			return plan, nil
		case RelocSection:
			current = rel.Section
			offset = 0
			if base, err = l.sectionOffset(current); err != nil {
				return nil, err
			}
			inStream = true
			continue
		}
		offset += uint32(rel.Offset)
		rerr := &RelocationError{ModuleID: moduleID, Section: current, Offset: offset, Type: rel.Type}
		if !rel.Type.Known() {
			rerr.Err = ErrUnknownRelocation
			return nil, rerr
		}
		if rel.Type.Control() {
			continue
		}
		if !inStream {
			rerr.Err = formatErrorf("relocation before the first section change")
			return nil, rerr
		}
		if base == 0 {
			rerr.Err = formatErrorf("section %d has no bytes on disk", current)
			return nil, rerr
		}
		if rerr.Target, err = l.target(moduleID, rel.Section, rel.Addend); err != nil {
			rerr.Err = err
			return nil, rerr
		}
		if rerr.Target < RAMStart || rerr.Target >= RAMEnd {
			rerr.Err = ErrTargetRange
			return nil, rerr
		}
		width, _ := rel.Type.patchWidth()
		if addr := uint64(base) + uint64(offset); !l.store.Contains(addr, width) {
			rerr.Err = &bindata.AddressError{Op: "write", Addr: addr}
			return nil, rerr
		}
		plan = append(plan, patch{
			view:   l.store.View(uint64(base)),
			off:    int64(offset),
			typ:    rel.Type,
			target: rerr.Target,
			where:  l.cfg.LinkAddress + base + offset,
		})
	}
}

func readRelocation(v bindata.View) (Relocation, error) {
	var rel Relocation
	off, err := v.U16(0)
	if err != nil {
		return rel, err
	}
	typ, err := v.U8(2)
	if err != nil {
		return rel, err
	}
	sec, err := v.U8(3)
	if err != nil {
		return rel, err
	}
	addend, err := v.U32(4)
	if err != nil {
		return rel, err
	}
	return Relocation{Offset: off, Type: RelocType(typ), Section: sec, Addend: addend}, nil
}
