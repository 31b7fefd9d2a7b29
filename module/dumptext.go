package module

import (
	"bufio"
	"fmt"
)

const indentLevel = "  "

// A field is one header value, shown as hex with width bytes.
type field struct {
	name  string
	value uint32
	width int
	hint  string
}

func u8(name string, v uint8) field { return field{name: name, value: uint32(v), width: 1} }
func u32(name string, v uint32) field { return field{name: name, value: v, width: 4} }

// sectionField shows a section number with its name.
func sectionField(name string, id uint8) field {
	f := u8(name, id)
	f.hint = sectionHint(id)
	return f
}

func dumpFields(w *bufio.Writer, prefix string, fields []field) {
	var col int
	for _, f := range fields {
		if len(f.name) > col {
			col = len(f.name)
		}
	}
	// Values start two columns after the longest "name:".
	col += 3
	for _, f := range fields {
		fmt.Fprintf(w, "%s%-*s0x%0*x", prefix, col, f.name+":", f.width*2, f.value)
		if f.hint != "" {
			w.WriteString("  ")
			w.WriteString(f.hint)
		}
		w.WriteByte('\n')
	}
}

func sectionHint(id uint8) string {
	if name := RELSectionName(int(id)); name != "" {
		return name
	}
	if id == 0 {
		return "none"
	}
	return ""
}

// DumpText writes the DOL header, in text format, to the writer.
func (h *DOLHeader) DumpText(w *bufio.Writer, prefix string) {
	nprefix := prefix + indentLevel
	w.WriteString(prefix)
	w.WriteString("Sections:\n")
	for i := 0; i < dolSectionCount; i++ {
		if h.Sizes[i] == 0 {
			continue
		}
		kind := "data"
		idx := i - dolTextCount
		if i < dolTextCount {
			kind = "text"
			idx = i
		}
		fmt.Fprintf(w, "%s%s%-2d  off 0x%08x  addr 0x%08x  size 0x%08x\n",
			nprefix, kind, idx, h.Offsets[i], h.Addresses[i], h.Sizes[i])
	}
	dumpFields(w, prefix, []field{
		u32("BSS Address", h.BSSAddr),
		u32("BSS Size", h.BSSSize),
		u32("Entry Point", h.Entry),
	})
}

// DumpText writes the DOL, in text format, to the writer.
func (d *DOL) DumpText(w *bufio.Writer, prefix string) {
	nprefix := prefix + indentLevel
	w.WriteString(prefix)
	w.WriteString("Header:\n")
	d.DOLHeader.DumpText(w, nprefix)
}

// DumpText writes the REL header, in text format, to the writer.
func (h *RELHeader) DumpText(w *bufio.Writer, prefix string) {
	fields := []field{
		u32("ID", h.ID),
		u32("Next", h.Next),
		u32("Prev", h.Prev),
		u32("Num Sections", h.NumSections),
		u32("Section Info Offset", h.SectionInfoOffset),
		u32("Name Offset", h.NameOffset),
		u32("Name Size", h.NameSize),
		u32("Version", h.Version),
		u32("BSS Size", h.BSSSize),
		u32("Rel Offset", h.RelOffset),
		u32("Imp Offset", h.ImpOffset),
		u32("Imp Size", h.ImpSize),
		sectionField("Prolog Section", h.PrologSection),
		sectionField("Epilog Section", h.EpilogSection),
		sectionField("Unresolved Section", h.UnresolvedSection),
		u8("BSS Section", h.BSSSection),
		u32("Prolog Offset", h.PrologOffset),
		u32("Epilog Offset", h.EpilogOffset),
		u32("Unresolved Offset", h.UnresolvedOffset),
	}
	if h.Version >= 2 {
		fields = append(fields, u32("Align", h.Align), u32("BSS Align", h.BSSAlign))
	}
	if h.Version >= 3 {
		fields = append(fields, u32("Fix Size", h.FixSize))
	}
	dumpFields(w, prefix, fields)
}

func writeRelocation(w *bufio.Writer, r Relocation, offset uint32) {
	fmt.Fprintf(w, "%08x %-20s sec %d + 0x%08x", offset, r.Type, r.Section, r.Addend)
}

// DumpText writes the REL, in text format, to the writer. Relocation
// offsets are shown as cumulative offsets within the current section.
func (r *REL) DumpText(w *bufio.Writer, prefix string) {
	nprefix2 := prefix + indentLevel + indentLevel
	nprefix1 := nprefix2[:len(prefix)+len(indentLevel)]
	w.WriteString(prefix)
	w.WriteString("Header:\n")
	r.RELHeader.DumpText(w, nprefix1)
	w.WriteByte('\n')

	w.WriteString(prefix)
	w.WriteString("Sections:\n")
	for i, s := range r.Sections {
		if s.Offset == 0 && s.Size == 0 {
			continue
		}
		exec := "-"
		if s.Executable() {
			exec = "x"
		}
		fmt.Fprintf(w, "%s%-3d %-8s %s off 0x%08x  size 0x%08x\n",
			nprefix1, i, RELSectionName(i), exec, s.FileOffset(), s.Size)
	}
	w.WriteByte('\n')

	for _, imp := range r.Imports {
		fmt.Fprintf(w, "%sImport module %d at 0x%08x:\n", prefix, imp.ModuleID, imp.Offset)
		rels, err := r.Relocations(imp)
		if err != nil {
			fmt.Fprintf(w, "%s%v\n", nprefix1, err)
			continue
		}
		var offset uint32
		for _, rel := range rels {
			switch rel.Type {
			case RelocSection:
				offset = 0
				fmt.Fprintf(w, "%ssection %d %s\n", nprefix1, rel.Section, RELSectionName(int(rel.Section)))
				continue
			case RelocEnd:
				continue
			}
			offset += uint32(rel.Offset)
			w.WriteString(nprefix2)
			writeRelocation(w, rel, offset)
			w.WriteByte('\n')
		}
	}
}
