package main

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/alecthomas/kingpin.v2"

	"moria.us/dolrel/dump"
	"moria.us/dolrel/module"
)

type infoParams struct {
	files       []string
	headers     bool
	linkAddress dump.Address
}

func addInfoParams(cmd *kingpin.CmdClause) *infoParams {
	p := new(infoParams)
	cmd.Arg("file", "DOL or REL file. Files ending in .dol are read as DOL executables.").Required().StringsVar(&p.files)
	cmd.Flag("headers", "Also print the headers and relocation tables.").BoolVar(&p.headers)
	cmd.Flag("link-address", "Show REL sections as if linked at this address, in hex.").Default("0").SetValue(&p.linkAddress)
	return p
}

func runInfo(p *infoParams) error {
	for _, name := range p.files {
		if err := printInfo(stdout, name, p); err != nil {
			return err
		}
	}
	return nil
}

type textDumper interface {
	DumpText(w *bufio.Writer, prefix string)
}

func printInfo(out io.Writer, name string, p *infoParams) error {
	var (
		infos []module.SectionInfo
		d     textDumper
		size  int
	)
	if strings.EqualFold(filepath.Ext(name), ".dol") {
		dol, err := module.OpenDOL(fs, name)
		if err != nil {
			return err
		}
		infos, d, size = dol.SectionInfos(), dol, len(dol.Data)
	} else {
		rel, err := module.OpenREL(fs, name)
		if err != nil {
			return err
		}
		area := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		infos, d, size = rel.SectionInfos(area, uint32(p.linkAddress)), rel, len(rel.Data)
	}

	fmt.Fprintf(out, "%s: %s\n", name, humanize.IBytes(uint64(size)))
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Area", "ID", "Name", "Type", "File", "RAM", "Size"})
	for _, s := range infos {
		file, ram := "", ""
		if s.HasFile {
			file = fmt.Sprintf("%08x-%08x", s.FileStart, s.FileEnd)
		}
		if s.HasRAM {
			ram = fmt.Sprintf("%08x-%08x", s.RAMStart, s.RAMEnd)
		}
		table.Append([]string{
			s.Area,
			fmt.Sprintf("%d", s.ID),
			s.Name,
			string(s.Kind),
			file,
			ram,
			humanize.IBytes(uint64(s.Size)),
		})
	}
	table.Render()

	if p.headers {
		w := bufio.NewWriter(out)
		d.DumpText(w, "")
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}
