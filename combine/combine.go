// Package combine builds a new REL module from selected symbols of other REL
// modules, carrying over the relocations the selection needs.
package combine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"
	"github.com/spf13/afero"

	"moria.us/dolrel/module"
	"moria.us/dolrel/symbols"
)

var (
	// ErrSelection indicates a malformed or empty selection.
	ErrSelection = errors.New("bad selection")
	// ErrMissingDependency indicates that selected data refers to data that
	// was not selected.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrAmbiguous indicates an offset inside more than one selected window.
	ErrAmbiguous = errors.New("ambiguous symbol match")
)

// DefaultModuleID is the id given to combined modules.
const DefaultModuleID = 40

// CombinedArea is the area name of the combined module in symbol tables.
const CombinedArea = "custom"

const maxAlign = 8

// A DependencyError describes a selected relocation whose target is not part
// of the selection.
type DependencyError struct {
	Area     string
	Section  int    // section of the relocation site
	Offset   uint32 // offset of the relocation site within Section
	ModuleID uint32 // module the target belongs to
	Target   int    // section of the target
	Addend   uint32 // offset of the target within Target
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("symbol missing dependency at %s:%d:%08x: target module %d section %d offset %08x",
		e.Area, e.Section, e.Offset, e.ModuleID, e.Target, e.Addend)
}

func (e *DependencyError) Unwrap() error { return ErrMissingDependency }

// A Source opens the original module of an area.
type Source interface {
	Open(area string) (*module.REL, error)
}

// FileSource opens modules from a file name pattern with one '*' standing
// for the area name.
type FileSource struct {
	Fs      afero.Fs
	Pattern string
}

func (s FileSource) Open(area string) (*module.REL, error) {
	return module.OpenREL(s.Fs, strings.Replace(s.Pattern, "*", area, 1))
}

type options struct {
	moduleID uint32
	logger   log.Logger
}

// Option configures Combine.
type Option func(*options)

// WithModuleID sets the id of the combined module. The default is
// DefaultModuleID.
func WithModuleID(id uint32) Option {
	return func(o *options) {
		o.moduleID = id
	}
}

// WithLogger sets the logger progress is reported to.
func WithLogger(l log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// A Placement is a selected window and where it was placed in the combined
// module.
type Placement struct {
	Window
	NewOffset uint32
}

// A Result is a combined module and the placement of every selected window.
type Result struct {
	Image      *module.RELImage
	Placements []Placement
}

// SymbolTable lists the placed windows as symbols of the combined module.
func (r *Result) SymbolTable() []symbols.Symbol {
	res := lo.Map(r.Placements, func(p Placement, _ int) symbols.Symbol {
		return symbols.Symbol{
			Area:        CombinedArea,
			SectionID:   p.SectionID,
			Offset:      p.NewOffset,
			SectionName: module.RELSectionName(p.SectionID),
			Kind:        sectionKind(p.SectionID),
			Name:        p.Name,
			Namespace:   p.Namespace,
			Size:        p.Size(),
			Align:       p.Align,
		}
	})
	symbols.Sort(res)
	return res
}

func sectionKind(id int) module.Kind {
	switch id {
	case module.SectionBSS:
		return module.KindBSS
	case module.SectionText:
		return module.KindText
	}
	return module.KindData
}

// Combine copies the selected windows of their areas' modules into a new
// module and re-emits every relocation whose site lies in a selected window.
// Relocations against a module's own sections must target a selected window.
// Relocations against the DOL are kept as they are.
//
// Windows are placed in area, section and offset order. Each window is padded
// so its new offset has the same residue modulo its alignment as its original
// offset, with alignments above 8 treated as 8.
func Combine(windows []Window, src Source, opts ...Option) (*Result, error) {
	o := options{moduleID: DefaultModuleID, logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: no windows", ErrSelection)
	}
	for i := range windows {
		switch windows[i].SectionID {
		case module.SectionText, module.SectionRodata, module.SectionData, module.SectionBSS:
		default:
			return nil, fmt.Errorf("%w: %s: section %d cannot be combined",
				ErrSelection, &windows[i], windows[i].SectionID)
		}
	}

	c := &combiner{
		windows: make(map[placeKey][]Placement),
		image:   &module.RELImage{ID: o.moduleID},
	}
	byArea := lo.GroupBy(windows, func(w Window) string { return w.Area })
	areas := lo.Keys(byArea)
	sort.Strings(areas)

	rels := make(map[string]*module.REL, len(areas))
	for _, area := range areas {
		level.Debug(o.logger).Log("msg", "processing area symbols", "area", area)
		rel, err := src.Open(area)
		if err != nil {
			return nil, err
		}
		rels[area] = rel
		ws := byArea[area]
		sort.SliceStable(ws, func(i, j int) bool {
			if ws[i].SectionID != ws[j].SectionID {
				return ws[i].SectionID < ws[j].SectionID
			}
			return ws[i].Start < ws[j].Start
		})
		for _, w := range ws {
			if err := c.place(rel, w); err != nil {
				return nil, err
			}
		}
	}
	if err := c.checkOverlaps(); err != nil {
		return nil, err
	}
	level.Info(o.logger).Log("msg", "rel symbols extracted", "symbols", len(c.placed))

	for _, area := range areas {
		level.Debug(o.logger).Log("msg", "processing area relocations", "area", area)
		if err := c.relocate(area, rels[area]); err != nil {
			return nil, err
		}
	}
	self, dol := c.sortFixups()
	level.Info(o.logger).Log("msg", "relocation tables processed", "self", self, "dol", dol)

	c.image.Text = c.data[module.SectionText]
	c.image.Rodata = c.data[module.SectionRodata]
	c.image.Data = c.data[module.SectionData]
	c.image.BSSSize = c.bssSize
	return &Result{Image: c.image, Placements: c.placed}, nil
}

type placeKey struct {
	area    string
	section int
}

type combiner struct {
	data    [module.SectionBSS][]byte
	bssSize uint32
	placed  []Placement
	windows map[placeKey][]Placement // sorted by original offset
	image   *module.RELImage
}

func alignment(a uint32) uint32 {
	if a == 0 {
		return 1
	}
	if a > maxAlign {
		return maxAlign
	}
	return a
}

// place appends one window to the output section it belongs to.
func (c *combiner) place(rel *module.REL, w Window) error {
	align := alignment(w.Align)
	p := Placement{Window: w}
	if w.SectionID == module.SectionBSS {
		if sec, _ := rel.Section(module.SectionBSS); w.End > sec.Size {
			return fmt.Errorf("%w: %s is outside of its section", module.ErrFormat, &w)
		}
		for c.bssSize%align != w.Start%align {
			c.bssSize++
		}
		p.NewOffset = c.bssSize
		c.bssSize += w.Size()
	} else {
		sec, _ := rel.Section(w.SectionID)
		off := sec.FileOffset()
		if off == 0 || w.End > sec.Size || uint64(off)+uint64(w.End) > uint64(len(rel.Data)) {
			return fmt.Errorf("%w: %s is outside of its section", module.ErrFormat, &w)
		}
		buf := c.data[w.SectionID]
		for uint32(len(buf))%align != w.Start%align {
			buf = append(buf, 0)
		}
		p.NewOffset = uint32(len(buf))
		c.data[w.SectionID] = append(buf, rel.Data[off+w.Start:off+w.End]...)
	}
	c.placed = append(c.placed, p)
	k := placeKey{w.Area, w.SectionID}
	c.windows[k] = append(c.windows[k], p)
	return nil
}

func (c *combiner) checkOverlaps() error {
	for _, ps := range c.windows {
		// ps is sorted by start; last is the window reaching furthest so far.
		last := -1
		for i := range ps {
			if ps[i].Size() == 0 {
				continue
			}
			if last >= 0 && ps[i].Start < ps[last].End {
				return fmt.Errorf("%w: %s overlaps %s", ErrAmbiguous, &ps[i].Window, &ps[last].Window)
			}
			if last < 0 || ps[i].End > ps[last].End {
				last = i
			}
		}
	}
	return nil
}

// lookup returns the new offset of an original offset, or false if no
// selected window contains it.
func (c *combiner) lookup(area string, section int, off uint32) (uint32, bool, error) {
	var (
		found Placement
		n     int
	)
	for _, p := range c.windows[placeKey{area, section}] {
		if p.Start <= off && off < p.End {
			found = p
			n++
		}
	}
	switch n {
	case 0:
		return 0, false, nil
	case 1:
		return found.NewOffset + off - found.Start, true, nil
	}
	return 0, false, fmt.Errorf("%w at %s:%d:%08x", ErrAmbiguous, area, section, off)
}

// relocate walks every relocation stream of an area's module and keeps the
// entries whose site was selected.
func (c *combiner) relocate(area string, rel *module.REL) error {
	for _, imp := range rel.Imports {
		stream, err := rel.Relocations(imp)
		if err != nil {
			return fmt.Errorf("%s: %w", area, err)
		}
		var (
			current int
			offset  uint32
		)
		for _, r := range stream {
			switch r.Type {
			case module.RelocEnd:
				continue
			case module.RelocSection:
				current = int(r.Section)
				offset = 0
				continue
			}
			offset += uint32(r.Offset)
			rerr := &module.RelocationError{
				ModuleID: imp.ModuleID,
				Section:  uint8(current),
				Offset:   offset,
				Type:     r.Type,
			}
			if !r.Type.Known() {
				rerr.Err = module.ErrUnknownRelocation
				return fmt.Errorf("%s: %w", area, rerr)
			}
			if r.Type.Control() {
				continue
			}
			if current >= module.SectionBSS {
				rerr.Err = errors.New("relocation site in bss")
				return fmt.Errorf("%s: %w", area, rerr)
			}
			site, ok, err := c.lookup(area, current, offset)
			if err != nil {
				return err
			}
			if !ok {
				// Not selected.
				continue
			}
			f := module.Fixup{Offset: site, Type: r.Type, Section: r.Section, Addend: r.Addend}
			switch imp.ModuleID {
			case 0:
				c.image.DOLFixups[current] = append(c.image.DOLFixups[current], f)
				continue
			case rel.ID:
				target, ok, err := c.lookup(area, int(r.Section), r.Addend)
				if err != nil {
					return err
				}
				if ok {
					f.Addend = target
					c.image.SelfFixups[current] = append(c.image.SelfFixups[current], f)
					continue
				}
			}
			return &DependencyError{
				Area:     area,
				Section:  current,
				Offset:   offset,
				ModuleID: imp.ModuleID,
				Target:   int(r.Section),
				Addend:   r.Addend,
			}
		}
	}
	return nil
}

// sortFixups orders the fixups of every section by their new offset, and
// returns the number of fixups against the module itself and against the DOL.
func (c *combiner) sortFixups() (int, int) {
	var self, dol int
	for i := range c.image.SelfFixups {
		fs := c.image.SelfFixups[i]
		sort.SliceStable(fs, func(a, b int) bool { return fs[a].Offset < fs[b].Offset })
		self += len(fs)
		fs = c.image.DOLFixups[i]
		sort.SliceStable(fs, func(a, b int) bool { return fs[a].Offset < fs[b].Offset })
		dol += len(fs)
	}
	return self, dol
}
