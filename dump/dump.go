package dump

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"moria.us/dolrel/module"
	"moria.us/dolrel/symbols"
)

// Names of the output files and directories, relative to the output path.
const (
	DOLFile         = module.DOLArea + ".dol"
	SectionInfoFile = "section_info.csv"
	SectionsDir     = "sections"
	UnlinkedDir     = "rel_unlinked"
	LinkedDir       = "rel_linked"
)

// An Input is one REL module matched by the input pattern.
type Input struct {
	Area string
	Path string
}

// FindRELs returns the files matching pattern, which must contain exactly one
// '*', in name order. The text matched by the '*' is the area name.
func FindRELs(fs afero.Fs, pattern string) ([]Input, error) {
	pattern = filepath.Clean(pattern)
	if strings.Count(pattern, "*") != 1 {
		return nil, errors.Errorf("REL pattern %q must contain exactly one '*'", pattern)
	}
	star := strings.IndexByte(pattern, '*')
	prefix, suffix := pattern[:star], pattern[star+1:]
	matches, err := afero.Glob(fs, pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", pattern)
	}
	if len(matches) == 0 {
		return nil, errors.Errorf("REL pattern %q matched no files", pattern)
	}
	sort.Strings(matches)
	res := make([]Input, 0, len(matches))
	for _, m := range matches {
		if len(m) < len(prefix)+len(suffix) || !strings.HasPrefix(m, prefix) || !strings.HasSuffix(m, suffix) {
			return nil, errors.Errorf("cannot find area name in %s", m)
		}
		res = append(res, Input{Area: m[len(prefix) : len(m)-len(suffix)], Path: m})
	}
	return res, nil
}

// A Dumper writes the sections of a game's executable and modules to a file
// system.
type Dumper struct {
	fs     afero.Fs
	logger log.Logger
}

// New returns a Dumper that reads and writes fs.
func New(fs afero.Fs, logger log.Logger) *Dumper {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Dumper{fs: fs, logger: logger}
}

func (d *Dumper) writeFile(name string, data []byte) error {
	if err := d.fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(d.fs, name, data, 0o644)
}

// Run verifies the inputs, then writes the DOL, every REL matching the
// pattern and their sections under cfg.OutPath, and the section table of all
// of them. Modules are processed by cfg.Workers workers. With cfg.KeepGoing
// set, a module that fails does not stop the others, the section table lists
// the modules that succeeded, and the failures are returned together.
func (d *Dumper) Run(ctx context.Context, cfg Config) ([]module.SectionInfo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := Verify(d.fs, &cfg); err != nil {
		return nil, err
	}
	if err := d.fs.MkdirAll(cfg.OutPath, 0o755); err != nil {
		return nil, err
	}

	infos, err := d.dumpDOL(cfg)
	if err != nil {
		return nil, err
	}
	inputs, err := FindRELs(d.fs, cfg.REL)
	if err != nil {
		return nil, err
	}

	var (
		results = make([][]module.SectionInfo, len(inputs))
		mu      sync.Mutex
		failed  error
	)
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		g.SetLimit(cfg.Workers)
	}
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := d.dumpREL(cfg, in)
			if err != nil {
				err = errors.Wrap(err, in.Area)
				if !cfg.KeepGoing {
					return err
				}
				level.Warn(d.logger).Log("msg", "failed to dump rel", "area", in.Area, "err", err)
				mu.Lock()
				failed = multierror.Append(failed, err)
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, res := range results {
		infos = append(infos, res...)
	}

	var buf bytes.Buffer
	if err := symbols.WriteSectionInfo(&buf, infos); err != nil {
		return nil, err
	}
	if err := d.writeFile(filepath.Join(cfg.OutPath, SectionInfoFile), buf.Bytes()); err != nil {
		return nil, err
	}
	level.Info(d.logger).Log("msg", "dump complete", "modules", len(inputs), "sections", len(infos))
	return infos, failed
}

func (d *Dumper) dumpDOL(cfg Config) ([]module.SectionInfo, error) {
	level.Debug(d.logger).Log("msg", "processing dol", "path", cfg.DOL)
	dol, err := module.OpenDOL(d.fs, cfg.DOL)
	if err != nil {
		return nil, err
	}
	if err := d.writeFile(filepath.Join(cfg.OutPath, DOLFile), dol.Data); err != nil {
		return nil, err
	}
	for i, size := range dol.Sizes {
		if size == 0 {
			continue
		}
		off := dol.Offsets[i]
		name := filepath.Join(cfg.OutPath, SectionPath(module.DOLArea, i, false))
		if err := d.writeFile(name, dol.Data[off:off+size]); err != nil {
			return nil, err
		}
	}
	level.Info(d.logger).Log("msg", "dol dumped", "size", humanize.IBytes(uint64(len(dol.Data))))
	return dol.SectionInfos(), nil
}

func (d *Dumper) dumpREL(cfg Config, in Input) ([]module.SectionInfo, error) {
	level.Debug(d.logger).Log("msg", "processing rel", "area", in.Area, "path", in.Path)
	rel, err := module.OpenREL(d.fs, in.Path)
	if err != nil {
		return nil, err
	}
	if err := d.writeREL(cfg.OutPath, in.Area, rel, rel.Data, false); err != nil {
		return nil, err
	}
	lcfg := cfg.LinkConfig(in.Area)
	if lcfg.LinkAddress != 0 {
		linked, err := rel.Link(lcfg)
		if err != nil {
			return nil, err
		}
		if err := d.writeREL(cfg.OutPath, in.Area, rel, linked, true); err != nil {
			return nil, err
		}
	}
	level.Debug(d.logger).Log("msg", "rel dumped", "area", in.Area,
		"size", humanize.IBytes(uint64(len(rel.Data))), "link_address", fmt.Sprintf("%08x", lcfg.LinkAddress))
	return rel.SectionInfos(in.Area, lcfg.LinkAddress), nil
}

// writeREL writes the module file and each of its sections with bytes on
// disk. data is the module file, linked or not.
func (d *Dumper) writeREL(out, area string, rel *module.REL, data []byte, linked bool) error {
	if err := d.writeFile(filepath.Join(out, RELPath(area, linked)), data); err != nil {
		return err
	}
	for id := module.SectionText; id < module.SectionBSS; id++ {
		sec, _ := rel.Section(id)
		off := sec.FileOffset()
		if sec.Size == 0 || off == 0 {
			continue
		}
		name := filepath.Join(out, SectionPath(area, id, linked))
		if err := d.writeFile(name, data[off:off+sec.Size]); err != nil {
			return err
		}
	}
	return nil
}

func relDir(linked bool) string {
	if linked {
		return LinkedDir
	}
	return UnlinkedDir
}

// RELPath returns the name of a dumped REL file relative to the output path.
func RELPath(area string, linked bool) string {
	return filepath.Join(relDir(linked), area+".rel")
}

// SectionPath returns the name of a dumped section file relative to the
// output path. Linked selects the linked copy of a REL section; it is ignored
// for the DOL.
func SectionPath(area string, id int, linked bool) string {
	name := fmt.Sprintf("%02d.raw", id)
	if area == module.DOLArea {
		return filepath.Join(SectionsDir, area, name)
	}
	return filepath.Join(SectionsDir, relDir(linked), area, name)
}
