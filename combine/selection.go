package combine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"moria.us/dolrel/module"
	"moria.us/dolrel/symbols"
)

// A Window is one selected span of a section of an original module.
type Window struct {
	Area      string
	SectionID int
	Start     uint32 // offset within the section
	End       uint32
	Name      string
	Namespace string
	Align     uint32
}

// Size returns the length of the window in bytes.
func (w *Window) Size() uint32 {
	return w.End - w.Start
}

func (w *Window) String() string {
	return fmt.Sprintf("%s:%d:%08x-%08x", w.Area, w.SectionID, w.Start, w.End)
}

// ReadSelection reads a selection list, one entry per line. Text after '#',
// trailing whitespace and blank lines are dropped. An empty list is an error.
func ReadSelection(r io.Reader) ([]string, error) {
	var res []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimRight(line, " \t\r"); line != "" {
			res = append(res, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: no entries", ErrSelection)
	}
	return res, nil
}

// ParseRanges parses literal windows in the form AREA:SEC_ID:START-END, with
// hex offsets. Ranges are not checked against any symbol table; they are named
// after their bounds and aligned to 8 bytes in data sections and 4 bytes in
// code sections.
func ParseRanges(lines []string) ([]Window, error) {
	res := make([]Window, 0, len(lines))
	for _, line := range lines {
		w, err := parseRange(line)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, nil
}

func parseRange(line string) (Window, error) {
	var w Window
	bad := func(f string, a ...interface{}) error {
		return fmt.Errorf("%w: range %q: %s", ErrSelection, line, fmt.Sprintf(f, a...))
	}
	tokens := strings.Split(line, ":")
	if len(tokens) != 3 {
		return w, bad("expected AREA:SEC_ID:START-END")
	}
	bounds := strings.Split(tokens[2], "-")
	if len(bounds) != 2 {
		return w, bad("expected AREA:SEC_ID:START-END")
	}
	id, err := strconv.Atoi(tokens[1])
	if err != nil {
		return w, bad("section id: %v", err)
	}
	start, err := strconv.ParseUint(bounds[0], 16, 32)
	if err != nil {
		return w, bad("start: %v", err)
	}
	end, err := strconv.ParseUint(bounds[1], 16, 32)
	if err != nil {
		return w, bad("end: %v", err)
	}
	if end < start {
		return w, bad("end is before start")
	}
	w = Window{
		Area:      tokens[0],
		SectionID: id,
		Start:     uint32(start),
		End:       uint32(end),
		Align:     4,
	}
	if id > module.SectionDtors {
		w.Align = 8
	}
	w.Name = fmt.Sprintf("%s-%08x-%08x", w.Area, w.Start, w.End)
	return w, nil
}

// SelectByName selects the symbols named by area:namespace:name entries, or
// every symbol of a namespace by area:namespace:*. At least one symbol must
// match.
func SelectByName(syms []symbols.Symbol, names []string) ([]Window, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var res []Window
	for i := range syms {
		s := &syms[i]
		if !want[s.FullName()] && !want[s.Area+":"+s.Namespace+":*"] {
			continue
		}
		res = append(res, Window{
			Area:      s.Area,
			SectionID: s.SectionID,
			Start:     s.Offset,
			End:       s.End(),
			Name:      s.Name,
			Namespace: s.Namespace,
			Align:     s.Align,
		})
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: no symbols match the selection", ErrSelection)
	}
	return res, nil
}
