package main

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"gopkg.in/alecthomas/kingpin.v2"

	"moria.us/dolrel/bindata"
	"moria.us/dolrel/dump"
	"moria.us/dolrel/module"
	"moria.us/dolrel/symbols"
)

const (
	mapSymbolsFile       = "map_symbols.csv"
	annotatedSymbolsFile = "annotated_symbols.csv"
)

type symbolsParams struct {
	outPath  string
	dolMap   string
	relMap   string
	encoding string
	annotate bool
}

func addSymbolsParams(cmd *kingpin.CmdClause) *symbolsParams {
	p := new(symbolsParams)
	cmd.Flag("out-path", "Directory written by the dump command. The symbol tables are written there too.").Required().StringVar(&p.outPath)
	cmd.Flag("dol-map", "Linker map of the DOL.").StringVar(&p.dolMap)
	cmd.Flag("rel-map", "Linker map pattern for the RELs. The single '*' matches the area name.").StringVar(&p.relMap)
	cmd.Flag("encoding", "Text encoding of the maps.").Default("utf-8").EnumVar(&p.encoding, "utf-8", "shift-jis")
	cmd.Flag("annotate", "Guess the type and value of data symbols from the dumped sections.").BoolVar(&p.annotate)
	return p
}

func mapEncoding(name string) encoding.Encoding {
	if name == "shift-jis" {
		return japanese.ShiftJIS
	}
	return nil
}

func readCSV[T any](name string, read func(io.Reader) (T, error)) (T, error) {
	f, err := fs.Open(name)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return v, errors.Wrap(err, name)
	}
	return v, nil
}

func writeCSV[T any](name string, v T, write func(io.Writer, T) error) error {
	f, err := fs.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := write(f, v); err != nil {
		return errors.Wrap(err, name)
	}
	return f.Close()
}

func parseMapFile(name, area string, index symbols.SectionIndex, enc encoding.Encoding) ([]symbols.Symbol, error) {
	level.Debug(logger).Log("msg", "processing map", "area", area, "path", name)
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	syms, err := symbols.ParseMap(f, area, index, enc)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return syms, nil
}

func runSymbols(p *symbolsParams) error {
	infos, err := readCSV(filepath.Join(p.outPath, dump.SectionInfoFile), symbols.ReadSectionInfo)
	if err != nil {
		return errors.Wrap(err, "run the dump command with the same output path first")
	}
	index := symbols.NewSectionIndex(infos)
	enc := mapEncoding(p.encoding)

	var all []symbols.Symbol
	if p.dolMap != "" {
		syms, err := parseMapFile(p.dolMap, module.DOLArea, index, enc)
		if err != nil {
			return err
		}
		all = append(all, syms...)
	}
	if p.relMap != "" {
		inputs, err := dump.FindRELs(fs, p.relMap)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			// Maps of the whole game sit next to the per-area ones.
			if filepath.Clean(in.Path) == filepath.Clean(p.dolMap) || strings.Contains(in.Path, "_all") {
				continue
			}
			syms, err := parseMapFile(in.Path, in.Area, index, enc)
			if err != nil {
				return err
			}
			all = append(all, syms...)
		}
	}
	if len(all) == 0 {
		return errors.New("no symbols found; give --dol-map or --rel-map")
	}
	symbols.Sort(all)
	level.Info(logger).Log("msg", "map symbols parsed", "symbols", len(all))
	if err := writeCSV(filepath.Join(p.outPath, mapSymbolsFile), all, symbols.WriteSymbols); err != nil {
		return err
	}
	if !p.annotate {
		return nil
	}

	stores, err := loadSections(p.outPath, all)
	if err != nil {
		return err
	}
	n := symbols.Annotate(all, stores, symbols.Heuristic{})
	level.Info(logger).Log("msg", "symbols annotated", "typed", n, "symbols", len(all))
	return writeCSV(filepath.Join(p.outPath, annotatedSymbolsFile), all, symbols.WriteSymbols)
}

// loadSections maps the dumped bytes of every section holding a symbol,
// preferring linked REL sections so pointers read as runtime addresses.
// Sections that were not dumped are left out.
func loadSections(out string, syms []symbols.Symbol) (map[symbols.SectionKey]*bindata.Store, error) {
	keys := lo.Uniq(lo.Map(syms, func(s symbols.Symbol, _ int) symbols.SectionKey { return s.Key() }))
	stores := make(map[symbols.SectionKey]*bindata.Store, len(keys))
	for _, k := range keys {
		for _, linked := range []bool{true, false} {
			name := filepath.Join(out, dump.SectionPath(k.Area, k.ID, linked))
			ok, err := afero.Exists(fs, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			store := bindata.NewStore(true)
			if err := store.RegisterFile(fs, name, 0); err != nil {
				return nil, errors.Wrap(err, name)
			}
			stores[k] = store
			break
		}
	}
	return stores, nil
}
