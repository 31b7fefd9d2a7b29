package bindata

import (
	"fmt"
	"math"
)

// A Type is a primitive type readable through a View.
type Type int

const (
	Invalid Type = iota
	S8
	S16
	S32
	S64
	U8
	U16
	U32
	U64
	Float
	Double
	CString
	Bytes
	Pointer
)

var typeNames = [...]string{
	Invalid: "invalid",
	S8:      "s8",
	S16:     "s16",
	S32:     "s32",
	S64:     "s64",
	U8:      "u8",
	U16:     "u16",
	U32:     "u32",
	U64:     "u64",
	Float:   "float",
	Double:  "double",
	CString: "cstring",
	Bytes:   "bytes",
	Pointer: "pointer",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// A View is a cursor into a Store. Views are cheap values; they never change
// the layout of the store, only the contents of existing ranges.
type View struct {
	store *Store
	Addr  uint64
}

// Store returns the store the view reads from.
func (v View) Store() *Store { return v.store }

// Offset returns a new view at v.Addr + o.
func (v View) Offset(o int64) View {
	return View{store: v.store, Addr: v.at(o)}
}

// At is an alias of Offset.
func (v View) At(o int64) View { return v.Offset(o) }

// Indirect reads a pointer at off and returns a view at the address it holds.
// The address is used as is; it is only meaningful if the store is mapped in
// the same coordinate system as the pointer.
func (v View) Indirect(off int64) (View, error) {
	p, err := v.Ptr(off)
	if err != nil {
		return View{}, err
	}
	return View{store: v.store, Addr: p}, nil
}

func (v View) at(off int64) uint64 {
	return uint64(int64(v.Addr) + off)
}

// Bytes returns a copy of n bytes at off.
func (v View) Bytes(n int, off int64) ([]byte, error) {
	return v.store.read(v.at(off), n)
}

// Uint reads an unsigned integer of width bytes, in the store's byte order.
func (v View) Uint(width int, off int64) (uint64, error) {
	if width > 8 {
		return 0, fmt.Errorf("integer width %d too large", width)
	}
	b, err := v.store.read(v.at(off), width)
	if err != nil {
		return 0, err
	}
	if !v.store.bigEndian {
		reverse(b)
	}
	var res uint64
	for _, c := range b {
		res = res<<8 | uint64(c)
	}
	return res, nil
}

// Int reads a signed integer of width bytes.
func (v View) Int(width int, off int64) (int64, error) {
	u, err := v.Uint(width, off)
	if err != nil {
		return 0, err
	}
	shift := uint(64 - 8*width)
	return int64(u<<shift) >> shift, nil
}

func (v View) U8(off int64) (uint8, error) {
	u, err := v.Uint(1, off)
	return uint8(u), err
}

func (v View) U16(off int64) (uint16, error) {
	u, err := v.Uint(2, off)
	return uint16(u), err
}

func (v View) U32(off int64) (uint32, error) {
	u, err := v.Uint(4, off)
	return uint32(u), err
}

func (v View) U64(off int64) (uint64, error) {
	return v.Uint(8, off)
}

func (v View) S8(off int64) (int8, error) {
	i, err := v.Int(1, off)
	return int8(i), err
}

func (v View) S16(off int64) (int16, error) {
	i, err := v.Int(2, off)
	return int16(i), err
}

func (v View) S32(off int64) (int32, error) {
	i, err := v.Int(4, off)
	return int32(i), err
}

func (v View) S64(off int64) (int64, error) {
	return v.Int(8, off)
}

// F32 reinterprets the 4 bytes at off as an IEEE 754 single.
func (v View) F32(off int64) (float32, error) {
	u, err := v.U32(off)
	return math.Float32frombits(u), err
}

// F64 reinterprets the 8 bytes at off as an IEEE 754 double.
func (v View) F64(off int64) (float64, error) {
	u, err := v.U64(off)
	return math.Float64frombits(u), err
}

// Ptr reads a pointer-width unsigned value.
func (v View) Ptr(off int64) (uint64, error) {
	return v.Uint(v.store.ptrSize, off)
}

// CString returns the raw bytes at off up to, not including, the first NUL.
// No decoding is done; multi-byte encodings are left to the caller.
func (v View) CString(off int64) ([]byte, error) {
	var res []byte
	for a := v.at(off); ; a++ {
		r := v.store.find(a)
		if r == nil {
			return nil, &AddressError{Op: "read", Addr: a}
		}
		c := r.Data[a-r.Offset]
		if c == 0 {
			return res, nil
		}
		res = append(res, c)
	}
}

// Read dispatches on t. CString values are []byte, floats are float32/float64,
// signed types int64 and all others uint64. Bytes has no length of its own, so
// Read rejects it; use View.Bytes instead. Write does accept Bytes.
func (v View) Read(t Type, off int64) (interface{}, error) {
	switch t {
	case S8:
		return v.Int(1, off)
	case S16:
		return v.Int(2, off)
	case S32:
		return v.Int(4, off)
	case S64:
		return v.Int(8, off)
	case U8:
		return v.Uint(1, off)
	case U16:
		return v.Uint(2, off)
	case U32:
		return v.Uint(4, off)
	case U64:
		return v.Uint(8, off)
	case Float:
		return v.F32(off)
	case Double:
		return v.F64(off)
	case CString:
		return v.CString(off)
	case Pointer:
		return v.Ptr(off)
	default:
		return nil, fmt.Errorf("cannot read type %s", t)
	}
}

// PutUint writes the low width bytes of value in the store's byte order.
func (v View) PutUint(width int, value uint64, off int64) error {
	if width < 1 || width > 8 {
		return fmt.Errorf("%w: integer width %d", ErrLength, width)
	}
	b := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(value)
		value >>= 8
	}
	if !v.store.bigEndian {
		reverse(b)
	}
	return v.store.write(v.at(off), b)
}

func (v View) Put8(value uint8, off int64) error {
	return v.PutUint(1, uint64(value), off)
}

func (v View) Put16(value uint16, off int64) error {
	return v.PutUint(2, uint64(value), off)
}

func (v View) Put32(value uint32, off int64) error {
	return v.PutUint(4, uint64(value), off)
}

func (v View) Put64(value uint64, off int64) error {
	return v.PutUint(8, value, off)
}

func (v View) PutF32(value float32, off int64) error {
	return v.Put32(math.Float32bits(value), off)
}

func (v View) PutF64(value float64, off int64) error {
	return v.Put64(math.Float64bits(value), off)
}

func (v View) PutPtr(value uint64, off int64) error {
	return v.PutUint(v.store.ptrSize, value, off)
}

// PutBytes writes b verbatim, without any byte order conversion.
func (v View) PutBytes(b []byte, off int64) error {
	return v.store.write(v.at(off), b)
}

// Write dispatches on t. Integer values may be any Go integer type.
func (v View) Write(t Type, value interface{}, off int64) error {
	switch t {
	case Float:
		f, ok := value.(float32)
		if !ok {
			return fmt.Errorf("cannot write %T as %s", value, t)
		}
		return v.PutF32(f, off)
	case Double:
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("cannot write %T as %s", value, t)
		}
		return v.PutF64(f, off)
	case Bytes:
		b, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("cannot write %T as %s", value, t)
		}
		return v.PutBytes(b, off)
	}
	u, ok := toUint64(value)
	if !ok {
		return fmt.Errorf("cannot write %T as %s", value, t)
	}
	switch t {
	case S8, U8:
		return v.PutUint(1, u, off)
	case S16, U16:
		return v.PutUint(2, u, off)
	case S32, U32:
		return v.PutUint(4, u, off)
	case S64, U64:
		return v.PutUint(8, u, off)
	case Pointer:
		return v.PutPtr(u, off)
	default:
		return fmt.Errorf("cannot write type %s", t)
	}
}

func toUint64(value interface{}) (uint64, bool) {
	switch x := value.(type) {
	case int:
		return uint64(x), true
	case int8:
		return uint64(x), true
	case int16:
		return uint64(x), true
	case int32:
		return uint64(x), true
	case int64:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	}
	return 0, false
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
