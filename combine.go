package main

import (
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"moria.us/dolrel/combine"
	"moria.us/dolrel/symbols"
)

const (
	combinedRELFile     = combine.CombinedArea + ".rel"
	combinedSymbolsFile = combine.CombinedArea + "_symbols.csv"
)

type combineParams struct {
	outPath     string
	rel         string
	ranges      string
	names       string
	symbolTable string
	moduleID    uint32
}

func addCombineParams(cmd *kingpin.CmdClause) *combineParams {
	p := new(combineParams)
	cmd.Flag("out-path", "Output directory.").Required().StringVar(&p.outPath)
	cmd.Flag("rel", "Input REL file pattern. The single '*' matches the area name.").Required().StringVar(&p.rel)
	cmd.Flag("symbol-ranges", "File listing AREA:SEC_ID:START-END ranges to include.").StringVar(&p.ranges)
	cmd.Flag("symbol-names", "File listing area:namespace:name symbols to include. Requires --symbol-info.").StringVar(&p.names)
	cmd.Flag("symbol-info", "Symbol table the names are looked up in.").StringVar(&p.symbolTable)
	cmd.Flag("module-id", "Module id of the combined REL.").Default("40").Uint32Var(&p.moduleID)
	return p
}

// windows reads the selection. Symbol names take priority over ranges.
func (p *combineParams) windows() ([]combine.Window, error) {
	switch {
	case p.names != "":
		if p.symbolTable == "" {
			return nil, errors.New("--symbol-names requires --symbol-info")
		}
		syms, err := readCSV(p.symbolTable, symbols.ReadSymbols)
		if err != nil {
			return nil, err
		}
		names, err := readCSV(p.names, combine.ReadSelection)
		if err != nil {
			return nil, err
		}
		return combine.SelectByName(syms, names)
	case p.ranges != "":
		lines, err := readCSV(p.ranges, combine.ReadSelection)
		if err != nil {
			return nil, err
		}
		return combine.ParseRanges(lines)
	}
	return nil, errors.New("give either --symbol-ranges, or --symbol-names and --symbol-info")
}

func runCombine(p *combineParams) error {
	pattern := filepath.Clean(p.rel)
	if strings.Count(pattern, "*") != 1 {
		return errors.Errorf("REL pattern %q must contain exactly one '*'", p.rel)
	}
	windows, err := p.windows()
	if err != nil {
		return err
	}
	res, err := combine.Combine(windows, combine.FileSource{Fs: fs, Pattern: pattern},
		combine.WithModuleID(p.moduleID), combine.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(p.outPath, 0o755); err != nil {
		return err
	}

	f, err := fs.Create(filepath.Join(p.outPath, combinedRELFile))
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := res.Image.WriteTo(f)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	level.Info(logger).Log("msg", "combined rel written", "symbols", len(res.Placements), "size", humanize.IBytes(uint64(n)))
	return writeCSV(filepath.Join(p.outPath, combinedSymbolsFile), res.SymbolTable(), symbols.WriteSymbols)
}
