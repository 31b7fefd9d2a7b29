package symbols

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/japanese"

	"moria.us/dolrel/bindata"
	"moria.us/dolrel/module"
)

// DecodeShiftJIS decodes a Shift-JIS byte string. Sequences that are not valid
// Shift-JIS are an error rather than being replaced.
func DecodeShiftJIS(b []byte) (string, error) {
	out, err := japanese.ShiftJIS.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", errors.Errorf("invalid Shift-JIS sequence in %q", b)
	}
	return string(out), nil
}

// A Classifier guesses the type and value of the size bytes at v. If exact is
// set, the whole symbol must match the type, not only a prefix of it.
type Classifier interface {
	Classify(v bindata.View, size int, exact bool) (typ, value string, ok bool)
}

// Heuristic classifies data by looking for event scripts, common float
// constants, strings, floats, doubles, pointers and arrays of them. The most
// restrictive tests run first.
type Heuristic struct{}

var _ Classifier = Heuristic{}

const (
	evtMaxCommand = 0x77
	evtReturn     = 2
	evtEnd        = 1
)

func (Heuristic) Classify(v bindata.View, size int, exact bool) (string, string, bool) {
	if size <= 0 {
		return "", "", false
	}
	bs, err := v.Bytes(size, 0)
	if err != nil {
		return "", "", false
	}
	if exact && size&3 == 0 && isEvt(v, size, true) {
		return "evt", "", true
	}
	if size == 8 {
		switch u64, _ := v.U64(0); u64 {
		case 0x4330000080000000:
			return "double", "to-int", true
		case 0x4330000000000000:
			return "double", "to-int-mask", true
		}
	}
	if exact {
		if s, ok := shiftJISString(v, size, true); ok {
			return "string", s, true
		}
	}
	if isZero(bs) {
		return "zero", "0.0", true
	}
	switch size {
	case 4:
		if isFloat(v, 0) {
			f, _ := v.F32(0)
			return "float", formatFloat(float64(f)), true
		}
		if isPointer(v, 0) {
			p, _ := v.U32(0)
			return "pointer", fmt.Sprintf("%08x", p), true
		}
	case 8:
		if isDouble(v, 0) {
			f, _ := v.F64(0)
			return "double", formatFloat(f), true
		}
	case 12:
		if isFloat(v, 0) && isFloat(v, 4) && isFloat(v, 8) {
			x, _ := v.F32(0)
			y, _ := v.F32(4)
			z, _ := v.F32(8)
			return "vec3", fmt.Sprintf("%f, %f, %f", x, y, z), true
		}
	}
	// These are more likely to be false positives.
	if size&3 == 0 {
		if isEvt(v, size, false) {
			return "evt", "", true
		}
		if allWords(size, func(off int64) bool { return isFloat(v, off) }) {
			return "floatarr", "", true
		}
		if allWords(size, func(off int64) bool { return isPointer(v, off) }) {
			return "pointerarr", "", true
		}
	}
	if s, ok := shiftJISString(v, size, false); ok {
		return "string", s, true
	}
	return "", "", false
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func allWords(size int, f func(off int64) bool) bool {
	for off := 0; off < size; off += 4 {
		if !f(int64(off)) {
			return false
		}
	}
	return true
}

// isFloat accepts zero or a magnitude between 1e-7 and 1e7.
func isFloat(v bindata.View, off int64) bool {
	u, err := v.U32(off)
	if err != nil {
		return false
	}
	m := u & 0x7fffffff
	return u == 0 || (0x33d6bf95 <= m && m <= 0x4b189680)
}

// isDouble accepts zero or a magnitude between 1e-7 and 1e7.
func isDouble(v bindata.View, off int64) bool {
	u, err := v.U64(off)
	if err != nil {
		return false
	}
	m := u & 0x7fffffffffffffff
	return u == 0 || (0x3e7ad7f29abcaf48 <= m && m <= 0x416312d000000000)
}

// isPointer accepts null or an address in the lower 20 MiB of RAM. The range
// stops short of the top of RAM so it does not collide with Shift-JIS text.
func isPointer(v bindata.View, off int64) bool {
	u, err := v.U32(off)
	if err != nil {
		return false
	}
	return u == 0 || (0x80000000 <= u && u < 0x81400000)
}

// isEvt reports whether the data looks like an event script: a sequence of
// commands, each with its argument count in the upper half, ending with
// RETURN followed by END.
func isEvt(v bindata.View, size int, exact bool) bool {
	var (
		off  int
		last uint32
	)
	for off < size {
		cmd, err := v.U32(int64(off))
		if err != nil {
			return false
		}
		if op := cmd & 0xffff; op < 1 || op > evtMaxCommand {
			return false
		}
		if last == evtReturn && cmd == evtEnd {
			return !exact || off+4 == size
		}
		off += int(cmd>>16)*4 + 4
		last = cmd
	}
	return false
}

// shiftJISString returns the string at v if the bytes up to its terminator
// are printable ASCII or valid double byte sequences. With exact set the
// terminator must be the last byte of the symbol.
func shiftJISString(v bindata.View, size int, exact bool) (string, bool) {
	for off := 0; off < size; {
		b, err := v.U8(int64(off))
		if err != nil {
			return "", false
		}
		switch {
		case b == 0:
			if exact && off+1 != size {
				return "", false
			}
			raw, err := v.CString(0)
			if err != nil {
				return "", false
			}
			switch string(raw) {
			case "", "\x40", "C0":
				return "", false
			}
			s, err := DecodeShiftJIS(raw)
			if err != nil {
				return "", false
			}
			return escape(s), true
		case 0x20 <= b && b < 0x7f, b == '\t', b == '\n', b == '\r':
			off++
		case 0x81 <= b && b < 0xa0, 0xe0 <= b && b <= 0xea, 0xed <= b && b <= 0xef:
			if off+1 == size {
				return "", false
			}
			b2, err := v.U8(int64(off + 1))
			if err != nil || b2 < 0x40 || b2 > 0xfc {
				return "", false
			}
			off += 2
		default:
			return "", false
		}
	}
	return "", false
}

var escaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

func escape(s string) string {
	return escaper.Replace(s)
}

// Annotate classifies every data symbol whose section has a store in stores,
// keyed by area and section id. Each store maps its section at offset 0.
// It returns the number of symbols given a type.
func Annotate(syms []Symbol, stores map[SectionKey]*bindata.Store, c Classifier) int {
	var n int
	for i := range syms {
		s := &syms[i]
		if s.Kind != module.KindData {
			continue
		}
		store, ok := stores[s.Key()]
		if !ok {
			continue
		}
		typ, value, ok := c.Classify(store.View(uint64(s.Offset)), int(s.Size), true)
		if !ok {
			continue
		}
		s.Type, s.Value = typ, value
		n++
	}
	return n
}
