package bindata_test

import (
	"errors"
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moria.us/dolrel/bindata"
)

func TestReadWriteRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x7f, 0x80, 0xff, 0x1234, 0xdeadbeef, 0x0123456789abcdef, math.MaxUint64}
	for _, bigEndian := range []bool{true, false} {
		for width := 1; width <= 8; width++ {
			s := bindata.NewStore(bigEndian)
			require.NoError(t, s.RegisterData(make([]byte, 16), 0x100))
			v := s.View(0x100)
			mask := uint64(math.MaxUint64)
			if width < 8 {
				mask = 1<<(8*width) - 1
			}
			for _, val := range values {
				require.NoError(t, v.PutUint(width, val, 3))
				got, err := v.Uint(width, 3)
				require.NoError(t, err)
				assert.Equal(t, val&mask, got, "width %d big endian %v", width, bigEndian)
			}
		}
	}
}

func TestEndiannessSymmetry(t *testing.T) {
	buf := []byte{0x80, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	rev := make([]byte, len(buf))
	for i := range buf {
		rev[len(buf)-1-i] = buf[i]
	}
	be := bindata.NewStore(true)
	require.NoError(t, be.RegisterData(buf, 0))
	le := bindata.NewStore(false)
	require.NoError(t, le.RegisterData(rev, 0))

	a, err := be.View(0).U64(0)
	require.NoError(t, err)
	b, err := le.View(0).U64(0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, uint64(0x8001020304050607), a)

	s, err := be.View(0).S8(0)
	require.NoError(t, err)
	assert.Equal(t, int8(-128), s)
}

func TestOverlapRejected(t *testing.T) {
	cases := []struct {
		name  string
		first uint64
		size  int
		other uint64
	}{
		{"tail", 0x10, 0x10, 0x1f},
		{"head", 0x1f, 0x10, 0x10},
		{"inside", 0x10, 0x20, 0x14},
		{"same", 0x10, 0x10, 0x10},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := bindata.NewStore(true)
			require.NoError(t, s.RegisterData(make([]byte, c.size), c.first))
			err := s.RegisterData(make([]byte, 0x10), c.other)
			require.ErrorIs(t, err, bindata.ErrOverlap)
			assert.Len(t, s.Ranges(), 1)
		})
	}

	s := bindata.NewStore(true)
	require.NoError(t, s.RegisterData(make([]byte, 0x10), 0x10))
	require.NoError(t, s.RegisterData(make([]byte, 0x10), 0x20), "adjacent ranges do not overlap")
	require.NoError(t, s.RegisterData(nil, 0x18), "empty ranges are ignored")
	assert.Len(t, s.Ranges(), 2)
}

func TestRegisterSlicesAtomic(t *testing.T) {
	s := bindata.NewStore(true)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	err := s.RegisterSlices(data,
		bindata.Slice{Offset: 0, Start: 0, End: 4},
		bindata.Slice{Offset: 2, Start: 4, End: 0})
	require.ErrorIs(t, err, bindata.ErrOverlap)
	assert.Empty(t, s.Ranges())

	require.NoError(t, s.RegisterSlices(data,
		bindata.Slice{Offset: 0x100, Start: 0, End: 2},
		bindata.Slice{Offset: 0x200, Start: -4}))
	b, err := s.View(0x200).Bytes(4, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7, 8}, b)
}

func TestNonContiguousAccess(t *testing.T) {
	s := bindata.NewStore(true)
	require.NoError(t, s.RegisterData([]byte{0x11, 0x22}, 0x10))
	require.NoError(t, s.RegisterData([]byte{0x33, 0x44}, 0x12))

	u, err := s.View(0x11).U16(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2233), u)

	require.NoError(t, s.View(0x10).Put32(0xaabbccdd, 0))
	b, err := s.View(0x10).Bytes(4, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, b)
	assert.True(t, s.Contains(0x10, 4))
	assert.False(t, s.Contains(0x10, 5))
}

func TestUnmapped(t *testing.T) {
	s := bindata.NewStore(true)
	require.NoError(t, s.RegisterData([]byte{1, 2}, 0x10))
	require.NoError(t, s.RegisterData([]byte{3, 4}, 0x14))

	_, err := s.View(0x10).U32(0)
	var ae *bindata.AddressError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, uint64(0x12), ae.Addr, "fails at the first unmapped byte")
	assert.ErrorIs(t, err, bindata.ErrUnmapped)

	err = s.View(0x13).Put16(0xffff, 0)
	require.ErrorIs(t, err, bindata.ErrUnmapped)
	b, err := s.View(0x14).Bytes(1, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, b, "failed write leaves memory untouched")

	_, err = s.View(0x10).Bytes(0, 0)
	assert.ErrorIs(t, err, bindata.ErrLength)
	_, err = s.View(0x10).Bytes(-1, 0)
	assert.ErrorIs(t, err, bindata.ErrLength)
}

func TestFloatsAreBitPatterns(t *testing.T) {
	s := bindata.NewStore(true)
	require.NoError(t, s.RegisterData([]byte{
		0x3f, 0x80, 0x00, 0x00,
		0x43, 0x30, 0x00, 0x00, 0x80, 0x00, 0x00, 0x00,
		0x7f, 0xc0, 0x00, 0x01,
	}, 0))
	v := s.View(0)
	f, err := v.F32(0)
	require.NoError(t, err)
	assert.Equal(t, float32(1), f)

	d, err := v.F64(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4330000080000000), math.Float64bits(d))

	nan, err := v.F32(12)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7fc00001), math.Float32bits(nan))

	require.NoError(t, v.PutF32(-2.5, 0))
	u, err := v.U32(0)
	require.NoError(t, err)
	assert.Equal(t, math.Float32bits(-2.5), u)
}

func TestCStringAndIndirect(t *testing.T) {
	s := bindata.NewStore(true)
	require.NoError(t, s.RegisterData([]byte{
		0x00, 0x00, 0x00, 0x08, // pointer to 8
		0x00, 0x00, 0x00, 0x00,
		0x82, 0xa0, 'a', 0x00, // shift-jis lead byte, 'a', NUL
	}, 0))
	v, err := s.View(0).Indirect(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), v.Addr)
	str, err := v.CString(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x82, 0xa0, 'a'}, str)

	_, err = s.View(8).CString(4)
	assert.ErrorIs(t, err, bindata.ErrUnmapped)

	s8 := bindata.NewStore(false, bindata.WithPointerSize(8))
	require.NoError(t, s8.RegisterData([]byte{0x10, 0, 0, 0, 0, 0, 0, 0}, 0))
	p, err := s8.View(0).Ptr(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10), p)
}

func TestTypedDispatch(t *testing.T) {
	s := bindata.NewStore(true)
	require.NoError(t, s.RegisterData(make([]byte, 8), 0))
	v := s.View(0)
	require.NoError(t, v.Write(bindata.S16, int16(-2), 0))
	got, err := v.Read(bindata.S16, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), got)
	got, err = v.Read(bindata.U16, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xfffe), got)

	require.Error(t, v.Write(bindata.Float, 1.0, 0), "float64 is not a float")
	_, err = v.Read(bindata.Invalid, 0)
	require.Error(t, err)

	require.NoError(t, v.Write(bindata.Bytes, []byte{1, 2, 3}, 4))
	_, err = v.Read(bindata.Bytes, 4)
	require.Error(t, err)
	b, err := v.Bytes(3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
}

func TestRegisterFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "a.bin", []byte{9, 8, 7, 6}, 0o644))
	s := bindata.NewStore(true)
	require.NoError(t, s.RegisterFile(fs, "a.bin", 0x80000000))
	u, err := s.View(0x80000000).U32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x09080706), u)
	assert.Contains(t, s.String(), "80000000 80000004 09 08 07 06")

	require.Error(t, s.RegisterFile(fs, "missing.bin", 0))
}
