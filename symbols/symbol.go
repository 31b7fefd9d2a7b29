// Package symbols handles symbol records recovered from linker maps: parsing
// the maps, reading and writing symbol and section tables, and guessing the
// type of data symbols from their bytes.
package symbols

import (
	"fmt"
	"sort"

	"moria.us/dolrel/module"
)

// A SectionKey identifies one section of one area.
type SectionKey struct {
	Area string
	ID   int
}

func (k SectionKey) String() string {
	return fmt.Sprintf("%s:%d", k.Area, k.ID)
}

// A Symbol is one symbol of a linker map, located in its section.
type Symbol struct {
	Area        string
	SectionID   int
	Offset      uint32 // offset within the section
	SectionName string
	Kind        module.Kind
	Name        string
	Namespace   string // object file or library member
	Size        uint32
	Align       uint32

	HasRAM   bool
	RAMAddr  uint32
	HasFile  bool
	FileAddr uint32

	// Inferred by a Classifier, empty if unknown.
	Type  string
	Value string
}

// Key returns the section the symbol lives in.
func (s *Symbol) Key() SectionKey {
	return SectionKey{Area: s.Area, ID: s.SectionID}
}

// End returns the section offset just past the symbol.
func (s *Symbol) End() uint32 {
	return s.Offset + s.Size
}

// FullName returns the area:namespace:name form used in selection lists.
func (s *Symbol) FullName() string {
	return s.Area + ":" + s.Namespace + ":" + s.Name
}

// Locate fills in the section name, kind and runtime and file addresses from
// the section the symbol lives in.
func (s *Symbol) Locate(sec module.SectionInfo) {
	s.SectionName = sec.Name
	s.Kind = sec.Kind
	s.HasRAM = sec.HasRAM
	if sec.HasRAM {
		s.RAMAddr = sec.RAMStart + s.Offset
	}
	s.HasFile = sec.HasFile
	if sec.HasFile {
		s.FileAddr = sec.FileStart + s.Offset
	}
}

// Sort orders symbols by area, section and offset.
func Sort(syms []Symbol) {
	sort.SliceStable(syms, func(i, j int) bool {
		a, b := &syms[i], &syms[j]
		if a.Area != b.Area {
			return a.Area < b.Area
		}
		if a.SectionID != b.SectionID {
			return a.SectionID < b.SectionID
		}
		return a.Offset < b.Offset
	})
}

// SectionIndex maps each section of a set of areas to its description.
type SectionIndex map[SectionKey]module.SectionInfo

// NewSectionIndex indexes a list of sections.
func NewSectionIndex(infos []module.SectionInfo) SectionIndex {
	idx := make(SectionIndex, len(infos))
	for _, s := range infos {
		idx[SectionKey{Area: s.Area, ID: s.ID}] = s
	}
	return idx
}
