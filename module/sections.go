package module

import (
	"fmt"
	"sort"
)

// DOLArea is the area name of the main executable.
const DOLArea = "_main"

// A Kind classifies a section's contents.
type Kind string

const (
	KindText Kind = "text"
	KindData Kind = "data"
	KindBSS  Kind = "bss"
)

// Ids of the bss regions derived from a DOL header. Each follows the data
// section it is named after: .bss after .data (10), .sbss after .sdata (11)
// and .sbss2 after .sdata2 (12).
const (
	DOLBSS   = 100
	DOLSBSS  = 101
	DOLSBSS2 = 102
)

// A SectionInfo describes where one section of an area lives on disk and in
// memory. The file range is only valid if HasFile, the memory range only if
// HasRAM.
type SectionInfo struct {
	Area      string
	ID        int
	Name      string
	Kind      Kind
	HasFile   bool
	FileStart uint32
	FileEnd   uint32
	HasRAM    bool
	RAMStart  uint32
	RAMEnd    uint32
	Size      uint32
}

var dolSectionNames = map[int]string{
	0:  ".init",
	1:  ".text",
	7:  ".ctors",
	8:  ".dtors",
	9:  ".rodata",
	10: ".data",
	11: ".sdata",
	12: ".sdata2",
}

var relSectionNames = [relSectionCount]string{
	"", ".text", ".ctors", ".dtors", ".rodata", ".data", ".bss",
}

// RELSectionName returns the conventional name of a numbered REL section.
func RELSectionName(id int) string {
	if id <= 0 || id >= relSectionCount {
		return ""
	}
	return relSectionNames[id]
}

// SectionInfos returns the section table model of a DOL. The named sections are
// always present; other slots are included when they are not empty. The bss
// regions are derived from the gaps between the small data sections and the
// end of the header's bss region.
func (d *DOL) SectionInfos() []SectionInfo {
	var res []SectionInfo
	for i := 0; i < dolSectionCount; i++ {
		name, ok := dolSectionNames[i]
		if !ok {
			if d.Sizes[i] == 0 {
				continue
			}
			if i < dolTextCount {
				name = fmt.Sprintf(".text%d", i)
			} else {
				name = fmt.Sprintf(".data%d", i-dolTextCount)
			}
		}
		kind := KindData
		if i < dolTextCount {
			kind = KindText
		}
		off, addr, size := d.Offsets[i], d.Addresses[i], d.Sizes[i]
		res = append(res, SectionInfo{
			Area:      DOLArea,
			ID:        i,
			Name:      name,
			Kind:      kind,
			HasFile:   true,
			FileStart: off,
			FileEnd:   off + size,
			HasRAM:    true,
			RAMStart:  addr,
			RAMEnd:    addr + size,
			Size:      size,
		})
	}
	res = append(res,
		d.bss(DOLBSS, ".bss", 10, d.Addresses[11]),
		d.bss(DOLSBSS, ".sbss", 11, d.Addresses[12]),
		d.bss(DOLSBSS2, ".sbss2", 12, d.BSSAddr+d.BSSSize),
	)
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// bss returns the region between the end of section prev and end.
func (d *DOL) bss(id int, name string, prev int, end uint32) SectionInfo {
	start := d.Addresses[prev] + d.Sizes[prev]
	return SectionInfo{
		Area:     DOLArea,
		ID:       id,
		Name:     name,
		Kind:     KindBSS,
		HasRAM:   true,
		RAMStart: start,
		RAMEnd:   end,
		Size:     end - start,
	}
}

// SectionInfos returns the section table model of the six numbered sections of a
// REL. Memory addresses are only filled in when linkAddr is non-zero, and
// never for sections without bytes on disk.
func (r *REL) SectionInfos(area string, linkAddr uint32) []SectionInfo {
	res := make([]SectionInfo, 0, relSectionCount-1)
	for id := 1; id < relSectionCount; id++ {
		s := r.Sections[id]
		info := SectionInfo{
			Area: area,
			ID:   id,
			Name: relSectionNames[id],
			Kind: KindText,
			Size: s.Size,
		}
		if id > SectionDtors {
			info.Kind = KindData
		}
		if off := s.FileOffset(); off == 0 {
			info.Kind = KindBSS
		} else {
			info.HasFile = true
			info.FileStart = off
			info.FileEnd = off + s.Size
			if linkAddr != 0 {
				info.HasRAM = true
				info.RAMStart = linkAddr + off
				info.RAMEnd = info.RAMStart + s.Size
			}
		}
		res = append(res, info)
	}
	return res
}
