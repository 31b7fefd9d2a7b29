package symbols

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"moria.us/dolrel/module"
)

var dolMapSections = map[string]int{
	".init":   0,
	".text":   1,
	".ctors":  7,
	".dtors":  8,
	".rodata": 9,
	".data":   10,
	".sdata":  11,
	".sdata2": 12,
	".bss":    module.DOLBSS,
	".sbss":   module.DOLSBSS,
	".sbss2":  module.DOLSBSS2,
}

var relMapSections = map[string]int{
	".text":   module.SectionText,
	".ctors":  module.SectionCtors,
	".dtors":  module.SectionDtors,
	".rodata": module.SectionRodata,
	".data":   module.SectionData,
	".bss":    module.SectionBSS,
}

// mapSection returns the section id and kind for a section layout heading.
func mapSection(area, name string) (int, module.Kind, bool) {
	if area == module.DOLArea {
		id, ok := dolMapSections[name]
		switch {
		case !ok:
			return 0, "", false
		case id < 7:
			return id, module.KindText, true
		case id < module.DOLBSS:
			return id, module.KindData, true
		}
		return id, module.KindBSS, true
	}
	id, ok := relMapSections[name]
	switch {
	case !ok:
		return 0, "", false
	case id < module.SectionRodata:
		return id, module.KindText, true
	case id < module.SectionBSS:
		return id, module.KindData, true
	}
	return id, module.KindBSS, true
}

// ParseMap reads the section layout part of a linker map. Symbols are taken
// from the sections this package knows about, up to the memory map. Unused and
// empty symbols and section-relative entries (names starting with '.') are
// skipped. When sections is not nil, every symbol is located in its section,
// which must be listed. A nil enc reads the map as UTF-8.
func ParseMap(r io.Reader, area string, sections SectionIndex, enc encoding.Encoding) ([]Symbol, error) {
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	var (
		res      []Symbol
		inLayout bool
		secID    int
		secName  string
		kind     module.Kind
		lineno   int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lineno++
		line := sc.Text()
		if strings.Contains(line, "Memory map") {
			break
		}
		if strings.Contains(line, "section layout") {
			secName = strings.TrimSpace(line)
			if i := strings.IndexByte(secName, ' '); i >= 0 {
				secName = secName[:i]
			}
			secID, kind, inLayout = mapSection(area, secName)
			continue
		}
		if !inLayout {
			continue
		}
		sym, ok, err := parseMapLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		if !ok {
			continue
		}
		sym.Area = area
		sym.SectionID = secID
		sym.SectionName = secName
		sym.Kind = kind
		if sections != nil {
			sec, ok := sections[sym.Key()]
			if !ok {
				return nil, errors.Errorf("line %d: no section info for %s %s", lineno, sym.Key(), secName)
			}
			sym.Locate(sec)
		}
		res = append(res, sym)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	Sort(res)
	return res, nil
}

// parseMapLine parses one symbol line:
//
//	offset size vaddr align name namespace...
func parseMapLine(line string) (Symbol, bool, error) {
	var sym Symbol
	tokens := strings.Fields(line)
	if len(tokens) < 6 || tokens[0] == "UNUSED" || strings.HasPrefix(tokens[4], ".") {
		return sym, false, nil
	}
	size, err := strconv.ParseUint(tokens[1], 16, 32)
	if err != nil {
		return sym, false, errors.Wrap(err, "symbol size")
	}
	if size == 0 {
		return sym, false, nil
	}
	off, err := strconv.ParseUint(tokens[0], 16, 32)
	if err != nil {
		return sym, false, errors.Wrap(err, "symbol offset")
	}
	align, err := strconv.ParseUint(tokens[3], 10, 32)
	if err != nil {
		return sym, false, errors.Wrap(err, "symbol alignment")
	}
	sym.Offset = uint32(off)
	sym.Size = uint32(size)
	sym.Align = uint32(align)
	sym.Name = tokens[4]
	sym.Namespace = strings.Join(tokens[5:], " ")
	return sym, true, nil
}
