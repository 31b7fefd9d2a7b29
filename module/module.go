// Package module provides an interface to GameCube DOL executables and REL
// relocatable modules.
package module

// Fixed layout constants of the on-disk formats.
const (
	dolSectionCount = 18
	dolTextCount    = 7
	dolHeaderSize   = 0x100

	relHeaderSizeV1 = 0x40
	relHeaderSizeV2 = 0x48
	relHeaderSizeV3 = 0x4c

	// relSectionCount is the number of numbered REL sections: text, ctors,
	// dtors, rodata, data, bss, after the null section 0.
	relSectionCount = 7

	sectionEntrySize    = 8
	importEntrySize     = 8
	relocationEntrySize = 8
)

// Numbered REL sections.
const (
	SectionText   = 1
	SectionCtors  = 2
	SectionDtors  = 3
	SectionRodata = 4
	SectionData   = 5
	SectionBSS    = 6
)

// Console RAM window. Relocation targets must fall within it, and link
// addresses must fall within its first 16 MiB.
const (
	RAMStart = 0x80000000
	RAMEnd   = 0x81800000
	LinkEnd  = 0x81000000
)

// A DOLHeader is the fixed header at the start of a DOL file.
type DOLHeader struct {
	Offsets   [dolSectionCount]uint32 // file offset of each section
	Addresses [dolSectionCount]uint32 // load address of each section
	Sizes     [dolSectionCount]uint32 // size of each section
	BSSAddr   uint32                  // start of the whole bss region
	BSSSize   uint32                  // size of the whole bss region
	Entry     uint32                  // entry point
	Reserved  [7]uint32
}

// A DOL is a parsed DOL executable.
type DOL struct {
	DOLHeader
	Data []byte // entire file
}

// A RELHeader is the fixed header at the start of a REL file. Fields past
// the header length of the module's version are zero.
type RELHeader struct {
	ID                uint32
	Next              uint32
	Prev              uint32
	NumSections       uint32
	SectionInfoOffset uint32
	NameOffset        uint32
	NameSize          uint32
	Version           uint32
	BSSSize           uint32
	RelOffset         uint32
	ImpOffset         uint32
	ImpSize           uint32
	PrologSection     uint8
	EpilogSection     uint8
	UnresolvedSection uint8
	BSSSection        uint8
	PrologOffset      uint32
	EpilogOffset      uint32
	UnresolvedOffset  uint32
	Align             uint32 // version 2+
	BSSAlign          uint32 // version 2+
	FixSize           uint32 // version 3+
}

// A SectionEntry is one entry of a REL section table.
type SectionEntry struct {
	Offset uint32 // file offset, low bit set for executable sections
	Size   uint32
}

// FileOffset returns the section's file offset with the flag bits cleared.
// It is zero for sections that have no bytes on disk.
func (s SectionEntry) FileOffset() uint32 {
	return s.Offset &^ 3
}

// Executable returns true if the section is flagged as executable.
func (s SectionEntry) Executable() bool {
	return s.Offset&1 != 0
}

// An Import is an entry of a REL import table: the relocations against one
// other module.
type Import struct {
	ModuleID uint32 // 0 is the DOL
	Offset   uint32 // file offset of the relocation stream
}

// A Relocation is one entry of a relocation stream.
type Relocation struct {
	Offset  uint16 // delta from the previous entry in the current section
	Type    RelocType
	Section uint8
	Addend  uint32
}

// A REL is a parsed REL module.
type REL struct {
	RELHeader
	Sections []SectionEntry
	Imports  []Import
	Data     []byte // entire file
}

// Section returns the section table entry for id, or false if the module has
// no such section.
func (r *REL) Section(id int) (SectionEntry, bool) {
	if id < 0 || id >= len(r.Sections) {
		return SectionEntry{}, false
	}
	return r.Sections[id], true
}
