package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moria.us/dolrel/dump"
	"moria.us/dolrel/module"
	"moria.us/dolrel/symbols"
)

func withMemFs(t *testing.T) afero.Fs {
	t.Helper()
	old := fs
	fs = afero.NewMemMapFs()
	t.Cleanup(func() { fs = old })
	return fs
}

func testModule(t *testing.T) []byte {
	t.Helper()
	img := &module.RELImage{
		ID:      9,
		Text:    []byte{0x4e, 0x80, 0, 0x20},
		Rodata:  []byte{0x3f, 0x80, 0, 0},
		Data:    make([]byte, 0x10),
		BSSSize: 0x8,
	}
	img.SelfFixups[module.SectionData] = []module.Fixup{
		{Offset: 0x8, Type: module.RelocAddr32, Section: module.SectionRodata},
	}
	b, err := img.Bytes()
	require.NoError(t, err)
	return b
}

func TestDumpParamsConfig(t *testing.T) {
	mfs := withMemFs(t)
	require.NoError(t, afero.WriteFile(mfs, "dolrel.yaml", []byte(`
out_path: out
dol: main.dol
rel: rel/*.rel
link_address_overrides:
  jon: 80c779a0
workers: 2
`), 0o644))

	p := &dumpParams{configFile: "dolrel.yaml", outPath: "elsewhere"}
	require.NoError(t, p.bss.Set("80b00000"))
	require.NoError(t, p.overrides.Set("gor:805ba9a0"))
	cfg, err := p.config()
	require.NoError(t, err)
	assert.Equal(t, "elsewhere", cfg.OutPath)
	assert.Equal(t, "main.dol", cfg.DOL)
	assert.Equal(t, dump.Address(dump.DefaultLinkAddress), cfg.LinkAddress)
	assert.Equal(t, dump.Address(0x80b00000), cfg.RELBSSAddress)
	assert.Equal(t, dump.Overrides{"jon": 0x80c779a0, "gor": 0x805ba9a0}, cfg.LinkAddressOverrides)
	assert.Equal(t, 2, cfg.Workers)
	assert.False(t, cfg.KeepGoing)

	p = &dumpParams{workers: 5, keepGoing: true}
	require.NoError(t, p.link.Set("0"))
	cfg, err = p.config()
	require.NoError(t, err)
	assert.Equal(t, dump.Address(0), cfg.LinkAddress)
	assert.Equal(t, 5, cfg.Workers)
	assert.True(t, cfg.KeepGoing)
}

func TestPrintInfo(t *testing.T) {
	mfs := withMemFs(t)
	require.NoError(t, afero.WriteFile(mfs, "aji.rel", testModule(t), 0o644))

	var buf bytes.Buffer
	require.NoError(t, printInfo(&buf, "aji.rel", &infoParams{headers: true, linkAddress: 0x80600000}))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "aji.rel: "))
	assert.Contains(t, out, ".rodata")
	assert.Contains(t, out, "aji")
	assert.Contains(t, out, "Import module 9")
}

func TestSymbolsCommand(t *testing.T) {
	mfs := withMemFs(t)
	infos := []module.SectionInfo{
		{Area: "aji", ID: module.SectionData, Name: ".data", Kind: module.KindData,
			HasFile: true, FileStart: 0x100, FileEnd: 0x108, Size: 8},
	}
	var buf bytes.Buffer
	require.NoError(t, symbols.WriteSectionInfo(&buf, infos))
	require.NoError(t, afero.WriteFile(mfs, "out/section_info.csv", buf.Bytes(), 0o644))
	require.NoError(t, afero.WriteFile(mfs, "out/"+dump.SectionPath("aji", module.SectionData, true),
		[]byte{0x3f, 0xc0, 0, 0, 0x80, 0, 0x12, 0x34}, 0o644))
	require.NoError(t, afero.WriteFile(mfs, "maps/aji.map", []byte(`.data section layout
  00000000 000004 00000000  4 speed 	aji.o
  00000004 000004 00000000  4 target 	aji.o
`), 0o644))
	require.NoError(t, afero.WriteFile(mfs, "maps/_all.map", []byte("garbage"), 0o644))

	require.NoError(t, runSymbols(&symbolsParams{outPath: "out", relMap: "maps/*.map", encoding: "utf-8", annotate: true}))
	syms, err := readCSV("out/"+annotatedSymbolsFile, symbols.ReadSymbols)
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "float", syms[0].Type)
	assert.Equal(t, "1.5", syms[0].Value)
	assert.Equal(t, "pointer", syms[1].Type)
	assert.Equal(t, uint32(0x104), syms[1].FileAddr)

	exists, err := afero.Exists(mfs, "out/"+mapSymbolsFile)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Error(t, runSymbols(&symbolsParams{outPath: "missing", relMap: "maps/*.map"}))
}

func TestCombineCommand(t *testing.T) {
	mfs := withMemFs(t)
	require.NoError(t, afero.WriteFile(mfs, "rel/aji.rel", testModule(t), 0o644))
	require.NoError(t, afero.WriteFile(mfs, "ranges.txt", []byte(`# float and its user
aji:4:00000000-00000004
aji:5:00000008-0000000c
`), 0o644))

	p := &combineParams{outPath: "out", rel: "rel/*.rel", ranges: "ranges.txt", moduleID: 40}
	require.NoError(t, runCombine(p))

	data, err := afero.ReadFile(mfs, filepath.Join("out", combinedRELFile))
	require.NoError(t, err)
	rel, err := module.ReadREL(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(40), rel.ID)
	rodata, _ := rel.Section(module.SectionRodata)
	assert.Equal(t, uint32(4), rodata.Size)

	syms, err := readCSV(filepath.Join("out", combinedSymbolsFile), symbols.ReadSymbols)
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "custom", syms[0].Area)
	assert.Equal(t, "aji-00000000-00000004", syms[0].Name)

	assert.Error(t, runCombine(&combineParams{outPath: "out", rel: "rel/*.rel"}))
	assert.Error(t, runCombine(&combineParams{outPath: "out", rel: "rel/aji.rel", ranges: "ranges.txt"}))
}
