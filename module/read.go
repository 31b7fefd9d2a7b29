package module

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var be = binary.BigEndian

// OpenDOL reads the named file and parses it as a DOL executable.
func OpenDOL(fs afero.Fs, name string) (*DOL, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, errors.Wrap(err, "read dol")
	}
	d, err := ReadDOL(data)
	if err != nil {
		return nil, wrapError(err, name)
	}
	return d, nil
}

// ReadDOL parses a DOL executable. The data is retained, not copied.
func ReadDOL(data []byte) (*DOL, error) {
	if len(data) < dolHeaderSize {
		return nil, formatErrorf("file is 0x%x bytes, smaller than the 0x%x byte DOL header",
			len(data), dolHeaderSize)
	}
	d := &DOL{Data: data}
	if err := binary.Read(bytes.NewReader(data), be, &d.DOLHeader); err != nil {
		return nil, err
	}
	for i := 0; i < dolSectionCount; i++ {
		off, size := d.Offsets[i], d.Sizes[i]
		if size == 0 {
			continue
		}
		if off < dolHeaderSize || uint64(off)+uint64(size) > uint64(len(data)) {
			return nil, formatErrorf("section %d [0x%x, 0x%x) is outside of the file",
				i, off, uint64(off)+uint64(size))
		}
	}
	return d, nil
}

// OpenREL reads the named file and parses it as a REL module.
func OpenREL(fs afero.Fs, name string) (*REL, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return nil, errors.Wrap(err, "read rel")
	}
	r, err := ReadREL(data)
	if err != nil {
		return nil, wrapError(err, name)
	}
	return r, nil
}

// ReadREL parses a REL module header, section table and import table. The
// data is retained, not copied.
func ReadREL(data []byte) (*REL, error) {
	if len(data) < relHeaderSizeV1 {
		return nil, formatErrorf("file is 0x%x bytes, smaller than the REL header", len(data))
	}
	r := &REL{Data: data}
	r.Version = be.Uint32(data[0x1c:])
	var hsize int
	switch r.Version {
	case 1:
		hsize = relHeaderSizeV1
	case 2:
		hsize = relHeaderSizeV2
	case 3:
		hsize = relHeaderSizeV3
	default:
		return nil, formatErrorf("unsupported REL version %d", r.Version)
	}
	if len(data) < hsize {
		return nil, formatErrorf("file is 0x%x bytes, smaller than the version %d header", len(data), r.Version)
	}
	var hdr [relHeaderSizeV3]byte
	copy(hdr[:], data[:hsize])
	if err := binary.Read(bytes.NewReader(hdr[:]), be, &r.RELHeader); err != nil {
		return nil, err
	}

	// Read section table
	if r.NumSections < relSectionCount {
		return nil, formatErrorf("module has %d sections, expected at least %d",
			r.NumSections, relSectionCount)
	}
	if r.NumSections > 0x100 {
		return nil, formatErrorf("too many sections: %d", r.NumSections)
	}
	if !inBounds(data, r.SectionInfoOffset, r.NumSections*sectionEntrySize) {
		return nil, formatErrorf("section table is out of bounds")
	}
	r.Sections = make([]SectionEntry, r.NumSections)
	if err := binary.Read(bytes.NewReader(data[r.SectionInfoOffset:]), be, r.Sections); err != nil {
		return nil, err
	}
	for i, s := range r.Sections {
		if off := s.FileOffset(); off != 0 && !inBounds(data, off, s.Size) {
			return nil, formatErrorf("section %d [0x%x, 0x%x) is outside of the file",
				i, off, uint64(off)+uint64(s.Size))
		}
	}

	// Read import table
	if r.ImpSize%importEntrySize != 0 {
		return nil, formatErrorf("import table size 0x%x is not a multiple of %d", r.ImpSize, importEntrySize)
	}
	if !inBounds(data, r.ImpOffset, r.ImpSize) {
		return nil, formatErrorf("import table is out of bounds")
	}
	r.Imports = make([]Import, r.ImpSize/importEntrySize)
	if err := binary.Read(bytes.NewReader(data[r.ImpOffset:]), be, r.Imports); err != nil {
		return nil, err
	}
	return r, nil
}

// Relocations decodes the relocation stream of an import, up to and including
// its terminating end entry.
func (r *REL) Relocations(imp Import) ([]Relocation, error) {
	var res []Relocation
	rd := bytes.NewReader(r.Data)
	if _, err := rd.Seek(int64(imp.Offset), io.SeekStart); err != nil {
		return nil, err
	}
	for {
		var rel Relocation
		if err := binary.Read(rd, be, &rel); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, formatErrorf("relocation stream for module %d at 0x%x is not terminated",
					imp.ModuleID, imp.Offset)
			}
			return nil, err
		}
		res = append(res, rel)
		if rel.Type == RelocEnd {
			return res, nil
		}
	}
}

func inBounds(data []byte, off, size uint32) bool {
	return uint64(off)+uint64(size) <= uint64(len(data))
}
