// Package bindata provides typed, byte-addressable access to binary memory
// images assembled from one or more non-contiguous byte ranges.
package bindata

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

var (
	// ErrUnmapped is returned when an access touches an address that no
	// registered range covers.
	ErrUnmapped = errors.New("unmapped address")
	// ErrOverlap is returned when a new range intersects an existing one.
	ErrOverlap = errors.New("overlapping ranges")
	// ErrLength is returned for zero or negative length accesses.
	ErrLength = errors.New("non-positive access length")
)

// An AddressError records the operation and address of a failed access.
type AddressError struct {
	Op   string // "read" or "write"
	Addr uint64
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("%s at unmapped offset 0x%x", e.Op, e.Addr)
}

func (e *AddressError) Unwrap() error { return ErrUnmapped }

// A Range is a single read/write span of memory based at Offset.
type Range struct {
	Offset uint64
	Data   []byte
}

func (r *Range) end() uint64 {
	return r.Offset + uint64(len(r.Data))
}

// hasSpan returns true if the range contains all of [addr, addr+n).
func (r *Range) hasSpan(addr uint64, n int) bool {
	return r.Offset <= addr && addr+uint64(n) <= r.end()
}

// overlaps returns true if the ranges contain any offsets in common.
func (r *Range) overlaps(o *Range) bool {
	return r.Offset < o.end() && o.Offset < r.end()
}

// A Slice selects part of a source buffer and the offset it is mapped at.
// End == 0 means "to the end of the buffer"; a negative Start counts back
// from the end.
type Slice struct {
	Offset uint64
	Start  int
	End    int
}

func (s Slice) bounds(n int) (int, int, error) {
	start, end := s.Start, s.End
	if start < 0 {
		start += n
	}
	if end <= 0 {
		end += n
	}
	if start < 0 || end > n || start > end {
		return 0, 0, fmt.Errorf("slice [%d:%d] out of bounds for %d bytes", s.Start, s.End, n)
	}
	return start, end, nil
}

// Option configures a Store.
type Option func(*Store)

// WithPointerSize sets the width in bytes of pointer values. The default is 4.
func WithPointerSize(n int) Option {
	return func(s *Store) {
		s.ptrSize = n
	}
}

// A Store owns a set of non-overlapping ranges forming one address space.
type Store struct {
	ranges    []*Range
	bigEndian bool
	ptrSize   int
}

// NewStore returns an empty store with the given byte order.
func NewStore(bigEndian bool, opts ...Option) *Store {
	s := &Store{bigEndian: bigEndian, ptrSize: 4}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BigEndian reports the byte order of the store.
func (s *Store) BigEndian() bool { return s.bigEndian }

// PointerSize returns the pointer width in bytes.
func (s *Store) PointerSize() int { return s.ptrSize }

// Ranges returns the registered ranges in registration order. The returned
// ranges share memory with the store.
func (s *Store) Ranges() []Range {
	res := make([]Range, len(s.ranges))
	for i, r := range s.ranges {
		res[i] = *r
	}
	return res
}

// View returns a view on the store at the given address.
func (s *Store) View(addr uint64) View {
	return View{store: s, Addr: addr}
}

// RegisterData maps a copy of data at offset.
func (s *Store) RegisterData(data []byte, offset uint64) error {
	return s.add([]*Range{{Offset: offset, Data: append([]byte(nil), data...)}})
}

// RegisterSlices maps copies of one or more slices of data. No range is
// registered if any of them is invalid or overlaps.
func (s *Store) RegisterSlices(data []byte, slices ...Slice) error {
	rs := make([]*Range, 0, len(slices))
	for _, sl := range slices {
		start, end, err := sl.bounds(len(data))
		if err != nil {
			return err
		}
		rs = append(rs, &Range{
			Offset: sl.Offset,
			Data:   append([]byte(nil), data[start:end]...),
		})
	}
	return s.add(rs)
}

// RegisterFile reads the named file and maps it at offset, or maps the given
// slices of it when any are provided.
func (s *Store) RegisterFile(fs afero.Fs, name string, offset uint64, slices ...Slice) error {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return err
	}
	if len(slices) == 0 {
		return s.add([]*Range{{Offset: offset, Data: data}})
	}
	return s.RegisterSlices(data, slices...)
}

func (s *Store) add(rs []*Range) error {
	var added []*Range
	for _, r := range rs {
		if len(r.Data) == 0 {
			continue
		}
		if err := checkOverlap(r, s.ranges); err != nil {
			return err
		}
		if err := checkOverlap(r, added); err != nil {
			return err
		}
		added = append(added, r)
	}
	s.ranges = append(s.ranges, added...)
	return nil
}

func checkOverlap(r *Range, existing []*Range) error {
	for _, o := range existing {
		if r.overlaps(o) {
			return fmt.Errorf("%w: [0x%x, 0x%x) intersects [0x%x, 0x%x)",
				ErrOverlap, r.Offset, r.end(), o.Offset, o.end())
		}
	}
	return nil
}

// Contains reports whether all of [addr, addr+n) is mapped.
func (s *Store) Contains(addr uint64, n int) bool {
	if n < 1 {
		return false
	}
	if s.contiguous(addr, n) != nil {
		return true
	}
	for i := 0; i < n; i++ {
		if s.find(addr+uint64(i)) == nil {
			return false
		}
	}
	return true
}

func (s *Store) contiguous(addr uint64, n int) *Range {
	for _, r := range s.ranges {
		if r.hasSpan(addr, n) {
			return r
		}
	}
	return nil
}

func (s *Store) find(addr uint64) *Range {
	return s.contiguous(addr, 1)
}

// read returns a copy of n raw bytes at addr. Accesses that span several
// ranges fall back to a byte at a time scan and fail at the first unmapped
// byte.
func (s *Store) read(addr uint64, n int) ([]byte, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: read of %d bytes at 0x%x", ErrLength, n, addr)
	}
	if r := s.contiguous(addr, n); r != nil {
		off := addr - r.Offset
		return append([]byte(nil), r.Data[off:off+uint64(n)]...), nil
	}
	b := make([]byte, n)
	for i := range b {
		a := addr + uint64(i)
		r := s.find(a)
		if r == nil {
			return nil, &AddressError{Op: "read", Addr: a}
		}
		b[i] = r.Data[a-r.Offset]
	}
	return b, nil
}

func (s *Store) write(addr uint64, b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("%w: write of %d bytes at 0x%x", ErrLength, len(b), addr)
	}
	if r := s.contiguous(addr, len(b)); r != nil {
		copy(r.Data[addr-r.Offset:], b)
		return nil
	}
	// Check the whole span first so a failed write leaves memory untouched.
	for i := range b {
		if s.find(addr+uint64(i)) == nil {
			return &AddressError{Op: "write", Addr: addr + uint64(i)}
		}
	}
	for i, c := range b {
		a := addr + uint64(i)
		r := s.find(a)
		r.Data[a-r.Offset] = c
	}
	return nil
}

// String lists each range with a preview of its bytes.
func (s *Store) String() string {
	var max uint64
	for _, r := range s.ranges {
		if r.end() > max {
			max = r.end()
		}
	}
	digits := len(fmt.Sprintf("%x", max))
	if digits < 8 {
		digits = 8
	}
	var sb strings.Builder
	sb.WriteString("<bindata.Store>")
	for _, r := range s.ranges {
		fmt.Fprintf(&sb, "\n%0*x %0*x ", digits, r.Offset, digits, r.end())
		if len(r.Data) <= 16 {
			writePreview(&sb, r.Data)
		} else {
			writePreview(&sb, r.Data[:10])
			sb.WriteString(" ..... ")
			writePreview(&sb, r.Data[len(r.Data)-4:])
		}
	}
	return sb.String()
}

func writePreview(sb *strings.Builder, b []byte) {
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(sb, "%02x", c)
	}
}
