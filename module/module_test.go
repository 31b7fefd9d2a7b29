package module_test

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moria.us/dolrel/bindata"
	"moria.us/dolrel/module"
)

func TestHeaderSizes(t *testing.T) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, new(module.DOLHeader)); err != nil {
		t.Error("binary.Write:", err)
		return
	}
	if size := buf.Len(); size != 0x100 {
		t.Errorf("DOLHeader: got 0x%x, expected 0x100", size)
	}
	if size := binary.Size(new(module.RELHeader)); size != 0x4c {
		t.Errorf("RELHeader: got 0x%x, expected 0x4c", size)
	}
}

func testDOL(t *testing.T) []byte {
	t.Helper()
	var h module.DOLHeader
	h.Offsets[1], h.Addresses[1], h.Sizes[1] = 0x100, 0x80003100, 0x20
	h.Offsets[10], h.Addresses[10], h.Sizes[10] = 0x120, 0x80001000, 0x100
	h.Offsets[11], h.Addresses[11], h.Sizes[11] = 0x220, 0x80001200, 0x10
	h.Offsets[12], h.Addresses[12], h.Sizes[12] = 0x230, 0x80001300, 0x10
	h.BSSAddr, h.BSSSize = 0x80001100, 0x300
	h.Entry = 0x80003100
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &h))
	buf.Write(make([]byte, 0x140))
	return buf.Bytes()
}

func TestReadDOL(t *testing.T) {
	d, err := module.ReadDOL(testDOL(t))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80003100), d.Entry)

	byName := make(map[string]module.SectionInfo)
	for _, s := range d.SectionInfos() {
		byName[s.Name] = s
	}
	for _, name := range []string{".init", ".text", ".ctors", ".dtors", ".rodata", ".data", ".sdata", ".sdata2"} {
		assert.Contains(t, byName, name)
	}
	assert.NotContains(t, byName, ".text2")

	bss := byName[".bss"]
	assert.Equal(t, module.KindBSS, bss.Kind)
	assert.False(t, bss.HasFile)
	assert.Equal(t, uint32(0x80001100), bss.RAMStart)
	assert.Equal(t, uint32(0x80001200), bss.RAMEnd)
	sbss := byName[".sbss"]
	assert.Equal(t, uint32(0x80001210), sbss.RAMStart)
	assert.Equal(t, uint32(0x80001300), sbss.RAMEnd)
	sbss2 := byName[".sbss2"]
	assert.Equal(t, uint32(0x80001310), sbss2.RAMStart)
	assert.Equal(t, uint32(0x80001400), sbss2.RAMEnd)

	data := byName[".data"]
	assert.Equal(t, module.KindData, data.Kind)
	assert.Equal(t, uint32(0x120), data.FileStart)
	assert.Equal(t, uint32(0x220), data.FileEnd)
}

func TestReadDOLErrors(t *testing.T) {
	_, err := module.ReadDOL(make([]byte, 0x80))
	assert.True(t, errors.Is(err, module.ErrFormat))

	b := testDOL(t)
	binary.BigEndian.PutUint32(b[0x90+10*4:], 0x1000) // size of data3 past the end
	_, err = module.ReadDOL(b)
	assert.True(t, errors.Is(err, module.ErrFormat))
}

func testImage() *module.RELImage {
	img := &module.RELImage{
		ID:      5,
		Text:    []byte{0x48, 0x00, 0x00, 0x01, 0x60, 0x00, 0x00, 0x00},
		Rodata:  []byte{1, 2, 3, 4},
		Data:    make([]byte, 8),
		BSSSize: 0x20,
	}
	img.SelfFixups[module.SectionData] = []module.Fixup{
		{Offset: 4, Type: module.RelocAddr32, Section: module.SectionText, Addend: 4},
	}
	img.DOLFixups[module.SectionText] = []module.Fixup{
		{Offset: 0, Type: module.RelocRel24, Addend: 0x80003000},
	}
	return img
}

func TestReadREL(t *testing.T) {
	b, err := testImage().Bytes()
	require.NoError(t, err)
	r, err := module.ReadREL(b)
	require.NoError(t, err)

	assert.Equal(t, uint32(5), r.ID)
	assert.Equal(t, uint32(3), r.Version)
	assert.Equal(t, uint32(15), r.NumSections)
	assert.Equal(t, uint32(0x20), r.BSSSize)
	assert.Equal(t, uint32(8), r.Align)

	text, ok := r.Section(module.SectionText)
	require.True(t, ok)
	assert.True(t, text.Executable())
	assert.Equal(t, uint32(0xc4), text.FileOffset())
	assert.Equal(t, uint32(8), text.Size)
	rodata, _ := r.Section(module.SectionRodata)
	assert.Equal(t, uint32(0xd8), rodata.FileOffset())
	assert.Equal(t, []byte{1, 2, 3, 4}, b[0xd8:0xdc])
	data, _ := r.Section(module.SectionData)
	assert.Equal(t, uint32(0xe0), data.FileOffset())
	bss, _ := r.Section(module.SectionBSS)
	assert.Equal(t, uint32(0), bss.FileOffset())
	assert.Equal(t, uint32(0x20), bss.Size)
	_, ok = r.Section(15)
	assert.False(t, ok)

	require.Len(t, r.Imports, 2)
	assert.Equal(t, uint32(5), r.Imports[0].ModuleID)
	assert.Equal(t, uint32(0), r.Imports[1].ModuleID)

	rels, err := r.Relocations(r.Imports[0])
	require.NoError(t, err)
	assert.Equal(t, []module.Relocation{
		{Type: module.RelocSection, Section: module.SectionData},
		{Offset: 4, Type: module.RelocAddr32, Section: module.SectionText, Addend: 4},
		{Type: module.RelocEnd},
	}, rels)

	infos := r.SectionInfos("mod", 0x80001000)
	require.Len(t, infos, 6)
	assert.Equal(t, ".text", infos[0].Name)
	assert.Equal(t, uint32(0x800010c4), infos[0].RAMStart)
	assert.Equal(t, module.KindBSS, infos[5].Kind)
	assert.False(t, infos[5].HasRAM)
}

func TestReadRELErrors(t *testing.T) {
	b, err := testImage().Bytes()
	require.NoError(t, err)

	bad := append([]byte(nil), b...)
	binary.BigEndian.PutUint32(bad[0x1c:], 4)
	_, err = module.ReadREL(bad)
	assert.True(t, errors.Is(err, module.ErrFormat))

	bad = append([]byte(nil), b...)
	binary.BigEndian.PutUint32(bad[0x2c:], 12)
	_, err = module.ReadREL(bad)
	assert.True(t, errors.Is(err, module.ErrFormat))

	r, err := module.ReadREL(b)
	require.NoError(t, err)
	// A stream that runs off the end of the file is an error.
	r.Data = r.Data[:len(r.Data)-8]
	_, err = r.Relocations(r.Imports[1])
	assert.True(t, errors.Is(err, module.ErrFormat))
}

func TestEncodeLongGaps(t *testing.T) {
	img := &module.RELImage{ID: 1, Data: make([]byte, 4)}
	img.DOLFixups[module.SectionData] = []module.Fixup{
		{Offset: 0x12000, Type: module.RelocAddr32, Addend: 0x80000000},
	}
	b, err := img.Bytes()
	require.NoError(t, err)
	r, err := module.ReadREL(b)
	require.NoError(t, err)
	rels, err := r.Relocations(r.Imports[1])
	require.NoError(t, err)
	assert.Equal(t, []module.Relocation{
		{Type: module.RelocSection, Section: module.SectionData},
		{Offset: 0xffff, Type: module.RelocNop},
		{Offset: 0x2001, Type: module.RelocAddr32, Addend: 0x80000000},
		{Type: module.RelocEnd},
	}, rels)

	img.DOLFixups[module.SectionData] = append(img.DOLFixups[module.SectionData],
		module.Fixup{Offset: 0x10, Type: module.RelocAddr32})
	_, err = img.Bytes()
	assert.Error(t, err)
}

func TestLinkSelf(t *testing.T) {
	b, err := testImage().Bytes()
	require.NoError(t, err)
	r, err := module.ReadREL(b)
	require.NoError(t, err)

	linked, err := r.Link(module.LinkConfig{LinkAddress: 0x80001000, BSSAddress: 0x80100000})
	require.NoError(t, err)
	// data+4 points at text+4
	assert.Equal(t, []byte{0x80, 0x00, 0x10, 0xc8}, linked[0xe4:0xe8])
	// bl from 0x800010c4 to 0x80003000 keeps its opcode and link bit
	assert.Equal(t, []byte{0x48, 0x00, 0x1f, 0x3d}, linked[0xc4:0xc8])
	// the input is not modified
	assert.Equal(t, []byte{0, 0, 0, 0}, b[0xe4:0xe8])
}

func TestLinkAgainstDOL(t *testing.T) {
	img := &module.RELImage{ID: 2, Text: make([]byte, 8), Rodata: make([]byte, 4), Data: make([]byte, 0xf24)}
	img.DOLFixups[module.SectionData] = []module.Fixup{
		{Offset: 0xf20, Type: module.RelocAddr32, Addend: 0x80002000},
	}
	b, err := img.Bytes()
	require.NoError(t, err)

	store := bindata.NewStore(true)
	require.NoError(t, store.RegisterData(b, 0))
	n, err := module.Link(store, module.LinkConfig{LinkAddress: 0x80000000, BSSAddress: 0x80100000})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	v, err := store.View(0x1000).U32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80002000), v)
}

func TestLinkCumulativeOffsets(t *testing.T) {
	img := &module.RELImage{ID: 3, Data: make([]byte, 16)}
	img.DOLFixups[module.SectionData] = []module.Fixup{
		{Offset: 4, Type: module.RelocAddr32, Addend: 0x80000010},
		{Offset: 8, Type: module.RelocAddr32, Addend: 0x80000020},
		{Offset: 12, Type: module.RelocAddr32, Addend: 0x80000030},
	}
	b, err := img.Bytes()
	require.NoError(t, err)
	r, err := module.ReadREL(b)
	require.NoError(t, err)

	rels, err := r.Relocations(r.Imports[1])
	require.NoError(t, err)
	for _, rel := range rels[1:4] {
		assert.Equal(t, uint16(4), rel.Offset)
	}

	linked, err := r.Link(module.LinkConfig{LinkAddress: 0x80000000, BSSAddress: 0x80100000})
	require.NoError(t, err)
	data, _ := r.Section(module.SectionData)
	base := data.FileOffset()
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(linked[base:]))
	assert.Equal(t, uint32(0x80000010), binary.BigEndian.Uint32(linked[base+4:]))
	assert.Equal(t, uint32(0x80000020), binary.BigEndian.Uint32(linked[base+8:]))
	assert.Equal(t, uint32(0x80000030), binary.BigEndian.Uint32(linked[base+12:]))
}

func TestLinkBSSTarget(t *testing.T) {
	img := &module.RELImage{ID: 4, Data: make([]byte, 4), BSSSize: 0x40}
	img.SelfFixups[module.SectionData] = []module.Fixup{
		{Offset: 0, Type: module.RelocAddr32, Section: module.SectionBSS, Addend: 0x10},
	}
	b, err := img.Bytes()
	require.NoError(t, err)
	r, err := module.ReadREL(b)
	require.NoError(t, err)
	linked, err := r.Link(module.LinkConfig{LinkAddress: 0x80000000, BSSAddress: 0x80200000})
	require.NoError(t, err)
	data, _ := r.Section(module.SectionData)
	assert.Equal(t, uint32(0x80200010), binary.BigEndian.Uint32(linked[data.FileOffset():]))
}

func TestLinkFailureLeavesStoreUntouched(t *testing.T) {
	img := testImage()
	img.DOLFixups[module.SectionData] = []module.Fixup{
		{Offset: 0, Type: module.RelocType(50), Addend: 0x80000000},
	}
	b, err := img.Bytes()
	require.NoError(t, err)

	store := bindata.NewStore(true)
	require.NoError(t, store.RegisterData(b, 0))
	_, err = module.Link(store, module.LinkConfig{LinkAddress: 0x80001000, BSSAddress: 0x80100000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, module.ErrUnknownRelocation))
	var rerr *module.RelocationError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, uint32(0), rerr.ModuleID)
	assert.Equal(t, module.RelocType(50), rerr.Type)
	assert.Equal(t, b, store.Ranges()[0].Data)
}

func TestLinkErrors(t *testing.T) {
	cfg := module.LinkConfig{LinkAddress: 0x80001000, BSSAddress: 0x80100000}

	t.Run("config", func(t *testing.T) {
		assert.Error(t, module.LinkConfig{LinkAddress: 0x81000000, BSSAddress: 0x80100000}.Validate())
		assert.Error(t, module.LinkConfig{LinkAddress: 0x80001000, BSSAddress: 0x7fffffff}.Validate())
		assert.NoError(t, cfg.Validate())
	})

	t.Run("target range", func(t *testing.T) {
		img := &module.RELImage{ID: 1, Data: make([]byte, 4)}
		img.DOLFixups[module.SectionData] = []module.Fixup{
			{Type: module.RelocAddr32, Addend: 0x90000000},
		}
		b, err := img.Bytes()
		require.NoError(t, err)
		r, err := module.ReadREL(b)
		require.NoError(t, err)
		_, err = r.Link(cfg)
		assert.True(t, errors.Is(err, module.ErrTargetRange))
	})

	t.Run("unresolved module", func(t *testing.T) {
		b, err := testImage().Bytes()
		require.NoError(t, err)
		r, err := module.ReadREL(b)
		require.NoError(t, err)
		// retarget the DOL import at another module
		binary.BigEndian.PutUint32(b[r.ImpOffset+8:], 7)
		_, err = r.Link(cfg)
		assert.True(t, errors.Is(err, module.ErrUnresolvedModule))
	})

	t.Run("site past section data", func(t *testing.T) {
		img := &module.RELImage{ID: 1, Data: make([]byte, 4)}
		img.DOLFixups[module.SectionData] = []module.Fixup{
			{Offset: 0x100000, Type: module.RelocAddr32, Addend: 0x80000000},
		}
		b, err := img.Bytes()
		require.NoError(t, err)
		r, err := module.ReadREL(b)
		require.NoError(t, err)
		_, err = r.Link(cfg)
		assert.True(t, errors.Is(err, bindata.ErrUnmapped))
	})
}

func TestDumpText(t *testing.T) {
	b, err := testImage().Bytes()
	require.NoError(t, err)
	r, err := module.ReadREL(b)
	require.NoError(t, err)

	var sb strings.Builder
	w := bufio.NewWriter(&sb)
	r.DumpText(w, "")
	require.NoError(t, w.Flush())
	out := sb.String()
	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, "Import module 5 at")
	assert.Contains(t, out, "R_PPC_ADDR32")
	assert.Contains(t, out, "R_PPC_REL24")
	assert.Regexp(t, `(?m)^  Version: +0x00000003$`, out)
	assert.Contains(t, out, "  Section Info Offset:  0x")
	assert.Regexp(t, `(?m)^  Prolog Section: +0x00  none$`, out)
	assert.Regexp(t, `(?m)^    00000004 R_PPC_ADDR32 +sec 1 \+ 0x00000004$`, out)

	d, err := module.ReadDOL(testDOL(t))
	require.NoError(t, err)
	sb.Reset()
	w.Reset(&sb)
	d.DumpText(w, "")
	require.NoError(t, w.Flush())
	assert.Contains(t, sb.String(), "Entry Point:  0x80003100")
}
