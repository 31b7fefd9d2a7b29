package module

import (
	"fmt"
	"io"
)

const (
	imageSectionCount = 15
	imageAlign        = 8
	maxDelta          = 0xffff
)

// A Fixup is a relocation at an absolute offset within the patched section.
type Fixup struct {
	Offset  uint32 // offset within the patched section
	Type    RelocType
	Section uint8 // section of the target
	Addend  uint32
}

// A RELImage is a minimal REL module with text, rodata, data and bss
// sections, and one relocation stream against itself and one against the DOL.
// Fixups are grouped by the section they patch and must be sorted by offset.
type RELImage struct {
	ID         uint32
	Text       []byte
	Rodata     []byte
	Data       []byte
	BSSSize    uint32
	SelfFixups [SectionBSS + 1][]Fixup
	DOLFixups  [SectionBSS + 1][]Fixup
}

// =================================================================================================

type datawriter struct {
	pos  uint32
	data [][]byte
}

func (w *datawriter) write(d []byte) {
	w.pos += uint32(len(d))
	w.data = append(w.data, d)
}

func (w *datawriter) pad(align uint32) {
	if n := (align - w.pos%align) % align; n != 0 {
		w.write(make([]byte, n))
	}
}

// =================================================================================================

func appendRelocation(data []byte, r Relocation) []byte {
	var d [relocationEntrySize]byte
	be.PutUint16(d[0:], r.Offset)
	d[2] = byte(r.Type)
	d[3] = r.Section
	be.PutUint32(d[4:], r.Addend)
	return append(data, d[:]...)
}

// encodeStream encodes per-section fixups as a relocation stream, switching
// sections with section entries and bridging gaps too long for the 16-bit
// delta with no-op entries.
func encodeStream(fixups [SectionBSS + 1][]Fixup) ([]byte, error) {
	var data []byte
	for sec, fs := range fixups {
		if len(fs) == 0 {
			continue
		}
		data = appendRelocation(data, Relocation{Type: RelocSection, Section: uint8(sec)})
		var last uint32
		for _, f := range fs {
			if f.Offset < last {
				return nil, fmt.Errorf("section %d: fixup at 0x%x follows fixup at 0x%x", sec, f.Offset, last)
			}
			delta := f.Offset - last
			for delta > maxDelta {
				data = appendRelocation(data, Relocation{Offset: maxDelta, Type: RelocNop})
				delta -= maxDelta
			}
			data = appendRelocation(data, Relocation{
				Offset:  uint16(delta),
				Type:    f.Type,
				Section: f.Section,
				Addend:  f.Addend,
			})
			last = f.Offset
		}
	}
	return appendRelocation(data, Relocation{Type: RelocEnd}), nil
}

func (img *RELImage) dumpBlocks() ([][]byte, error) {
	self, err := encodeStream(img.SelfFixups)
	if err != nil {
		return nil, wrapErrorf(err, "module %d relocations", img.ID)
	}
	dol, err := encodeStream(img.DOLFixups)
	if err != nil {
		return nil, wrapError(err, "dol relocations")
	}

	var h [relHeaderSizeV3]byte
	be.PutUint32(h[0x00:], img.ID)            // id
	be.PutUint32(h[0x0c:], imageSectionCount) // numSections
	be.PutUint32(h[0x10:], relHeaderSizeV3)   // sectionInfoOffset
	be.PutUint32(h[0x1c:], 3)                 // version
	be.PutUint32(h[0x20:], img.BSSSize)       // bssSize
	be.PutUint32(h[0x2c:], 2*importEntrySize) // impSize
	be.PutUint32(h[0x40:], imageAlign)        // align
	be.PutUint32(h[0x44:], imageAlign)        // bssAlign
	var st [imageSectionCount * sectionEntrySize]byte
	section := func(id int, off, size uint32) {
		be.PutUint32(st[id*sectionEntrySize:], off)
		be.PutUint32(st[id*sectionEntrySize+4:], size)
	}

	var d datawriter
	d.write(h[:])
	d.write(st[:])
	section(SectionText, d.pos|1, uint32(len(img.Text)))
	d.write(img.Text)
	// ctors and dtors hold a single null entry each.
	section(SectionCtors, d.pos, 4)
	d.write(make([]byte, 4))
	section(SectionDtors, d.pos, 4)
	d.write(make([]byte, 4))
	d.pad(imageAlign)
	section(SectionRodata, d.pos, uint32(len(img.Rodata)))
	d.write(img.Rodata)
	d.pad(imageAlign)
	section(SectionData, d.pos, uint32(len(img.Data)))
	d.write(img.Data)
	section(SectionBSS, 0, img.BSSSize)
	d.pad(imageAlign)

	var imp [2 * importEntrySize]byte
	be.PutUint32(h[0x28:], d.pos)                  // impOffset
	be.PutUint32(h[0x24:], d.pos+uint32(len(imp))) // relOffset
	be.PutUint32(h[0x48:], d.pos+uint32(len(imp))) // fixSize
	d.write(imp[:])
	be.PutUint32(imp[0:], img.ID)
	be.PutUint32(imp[4:], d.pos)
	d.write(self)
	be.PutUint32(imp[8:], 0)
	be.PutUint32(imp[12:], d.pos)
	d.write(dol)
	return d.data, nil
}

// Bytes returns the encoded module.
func (img *RELImage) Bytes() ([]byte, error) {
	blocks, err := img.dumpBlocks()
	if err != nil {
		return nil, err
	}
	var res []byte
	for _, b := range blocks {
		res = append(res, b...)
	}
	return res, nil
}

// WriteTo writes the module to a writer.
func (img *RELImage) WriteTo(w io.Writer) (int64, error) {
	blocks, err := img.dumpBlocks()
	if err != nil {
		return 0, err
	}
	var amt int64
	for _, d := range blocks {
		n, err := w.Write(d)
		amt += int64(n)
		if err != nil {
			return amt, err
		}
	}
	return amt, nil
}
