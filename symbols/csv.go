package symbols

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"moria.us/dolrel/module"
)

var sectionInfoHeader = []string{
	"area", "id", "name", "type", "file_start", "file_end", "ram_start", "ram_end", "size",
}

var symbolHeader = []string{
	"area", "sec_id", "sec_offset", "sec_name", "sec_type", "ram_addr", "file_addr",
	"name", "namespace", "size", "align", "type", "value",
}

func hex8(v uint32) string {
	return fmt.Sprintf("%08x", v)
}

// optHex8 formats v, or returns the empty string if it is not applicable.
func optHex8(ok bool, v uint32) string {
	if !ok {
		return ""
	}
	return hex8(v)
}

func parseHex(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	return uint32(v), err
}

func parseOptHex(s string) (bool, uint32, error) {
	if s == "" {
		return false, 0, nil
	}
	v, err := parseHex(s)
	return err == nil, v, err
}

// WriteSectionInfo writes a section table, one row per section. Addresses
// and sizes are eight digit hex, empty where they do not apply.
func WriteSectionInfo(w io.Writer, infos []module.SectionInfo) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sectionInfoHeader); err != nil {
		return err
	}
	for _, s := range infos {
		row := []string{
			s.Area,
			strconv.Itoa(s.ID),
			s.Name,
			string(s.Kind),
			optHex8(s.HasFile, s.FileStart),
			optHex8(s.HasFile, s.FileEnd),
			optHex8(s.HasRAM, s.RAMStart),
			optHex8(s.HasRAM, s.RAMEnd),
			hex8(s.Size),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// A table is a CSV file with a header row, accessed by column name.
type table struct {
	cols map[string]int
	rows [][]string
}

func readTable(r io.Reader, required []string) (*table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("missing header row")
	}
	t := &table{cols: make(map[string]int), rows: records[1:]}
	for i, name := range records[0] {
		t.cols[name] = i
	}
	for _, name := range required {
		if _, ok := t.cols[name]; !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
	}
	return t, nil
}

// get returns a named column of a row, empty if the table lacks it.
func (t *table) get(row []string, name string) string {
	i, ok := t.cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// ReadSectionInfo reads a table written by WriteSectionInfo.
func ReadSectionInfo(r io.Reader) ([]module.SectionInfo, error) {
	t, err := readTable(r, sectionInfoHeader)
	if err != nil {
		return nil, errors.Wrap(err, "section info")
	}
	res := make([]module.SectionInfo, 0, len(t.rows))
	for n, row := range t.rows {
		s, err := t.sectionInfo(row)
		if err != nil {
			return nil, errors.Wrapf(err, "section info row %d", n+1)
		}
		res = append(res, s)
	}
	return res, nil
}

func (t *table) sectionInfo(row []string) (module.SectionInfo, error) {
	s := module.SectionInfo{
		Area: t.get(row, "area"),
		Name: t.get(row, "name"),
		Kind: module.Kind(t.get(row, "type")),
	}
	var err error
	if s.ID, err = strconv.Atoi(t.get(row, "id")); err != nil {
		return s, err
	}
	if s.HasFile, s.FileStart, err = parseOptHex(t.get(row, "file_start")); err != nil {
		return s, err
	}
	if _, s.FileEnd, err = parseOptHex(t.get(row, "file_end")); err != nil {
		return s, err
	}
	if s.HasRAM, s.RAMStart, err = parseOptHex(t.get(row, "ram_start")); err != nil {
		return s, err
	}
	if _, s.RAMEnd, err = parseOptHex(t.get(row, "ram_end")); err != nil {
		return s, err
	}
	s.Size, err = parseHex(t.get(row, "size"))
	return s, err
}

// WriteSymbols writes a symbol table. Offsets, addresses and sizes are eight
// digit hex; alignment is decimal.
func WriteSymbols(w io.Writer, syms []Symbol) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(symbolHeader); err != nil {
		return err
	}
	for i := range syms {
		s := &syms[i]
		row := []string{
			s.Area,
			strconv.Itoa(s.SectionID),
			hex8(s.Offset),
			s.SectionName,
			string(s.Kind),
			optHex8(s.HasRAM, s.RAMAddr),
			optHex8(s.HasFile, s.FileAddr),
			s.Name,
			s.Namespace,
			hex8(s.Size),
			strconv.FormatUint(uint64(s.Align), 10),
			s.Type,
			s.Value,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSymbols reads a symbol table. Only the area, sec_id, sec_offset, name,
// namespace, size and align columns are required.
func ReadSymbols(r io.Reader) ([]Symbol, error) {
	t, err := readTable(r, []string{"area", "sec_id", "sec_offset", "name", "namespace", "size", "align"})
	if err != nil {
		return nil, errors.Wrap(err, "symbols")
	}
	res := make([]Symbol, 0, len(t.rows))
	for n, row := range t.rows {
		s, err := t.symbol(row)
		if err != nil {
			return nil, errors.Wrapf(err, "symbol row %d", n+1)
		}
		res = append(res, s)
	}
	return res, nil
}

func (t *table) symbol(row []string) (Symbol, error) {
	s := Symbol{
		Area:        t.get(row, "area"),
		SectionName: t.get(row, "sec_name"),
		Kind:        module.Kind(t.get(row, "sec_type")),
		Name:        t.get(row, "name"),
		Namespace:   t.get(row, "namespace"),
		Type:        t.get(row, "type"),
		Value:       t.get(row, "value"),
	}
	var err error
	if s.SectionID, err = strconv.Atoi(t.get(row, "sec_id")); err != nil {
		return s, err
	}
	if s.Offset, err = parseHex(t.get(row, "sec_offset")); err != nil {
		return s, err
	}
	if s.Size, err = parseHex(t.get(row, "size")); err != nil {
		return s, err
	}
	align, err := strconv.ParseUint(t.get(row, "align"), 10, 32)
	if err != nil {
		return s, err
	}
	s.Align = uint32(align)
	if s.HasRAM, s.RAMAddr, err = parseOptHex(t.get(row, "ram_addr")); err != nil {
		return s, err
	}
	s.HasFile, s.FileAddr, err = parseOptHex(t.get(row, "file_addr"))
	return s, err
}
