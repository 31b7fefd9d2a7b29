package main

import (
	"context"

	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"

	"moria.us/dolrel/dump"
)

// optionalAddress is an address flag that remembers whether it was given, so
// it only overrides the configuration file when it was.
type optionalAddress struct {
	dump.Address
	set bool
}

func (a *optionalAddress) Set(s string) error {
	a.set = true
	return a.Address.Set(s)
}

type dumpParams struct {
	configFile string
	outPath    string
	dol        string
	rel        string
	link       optionalAddress
	bss        optionalAddress
	overrides  dump.Overrides
	workers    int
	keepGoing  bool
}

func addDumpParams(cmd *kingpin.CmdClause) *dumpParams {
	p := new(dumpParams)
	cmd.Flag("config.file", "YAML configuration file. Flags override its settings.").StringVar(&p.configFile)
	cmd.Flag("out-path", "Output directory.").StringVar(&p.outPath)
	cmd.Flag("dol", "Input DOL file.").StringVar(&p.dol)
	cmd.Flag("rel", "Input REL file pattern. The single '*' matches the area name.").StringVar(&p.rel)
	cmd.Flag("link-address", "Address RELs are linked at, in hex. 0 disables linking.").SetValue(&p.link)
	cmd.Flag("link-address-override", "Link address for one area, as area:address. May be repeated or comma separated.").SetValue(&p.overrides)
	cmd.Flag("rel-bss-address", "Address of the bss section of linked RELs, in hex.").SetValue(&p.bss)
	cmd.Flag("workers", "Number of RELs processed at once. 0 uses the configured value.").Default("0").IntVar(&p.workers)
	cmd.Flag("keep-going", "Keep processing other RELs after one fails.").BoolVar(&p.keepGoing)
	return p
}

// config merges the configuration file and the flags.
func (p *dumpParams) config() (dump.Config, error) {
	cfg := dump.DefaultConfig()
	if p.configFile != "" {
		var err error
		if cfg, err = dump.LoadConfig(fs, p.configFile); err != nil {
			return cfg, err
		}
	}
	for _, s := range []struct {
		flag string
		dst  *string
	}{
		{p.outPath, &cfg.OutPath},
		{p.dol, &cfg.DOL},
		{p.rel, &cfg.REL},
	} {
		if s.flag != "" {
			*s.dst = s.flag
		}
	}
	if p.link.set {
		cfg.LinkAddress = p.link.Address
	}
	if p.bss.set {
		cfg.RELBSSAddress = p.bss.Address
	}
	for area, addr := range p.overrides {
		if cfg.LinkAddressOverrides == nil {
			cfg.LinkAddressOverrides = make(dump.Overrides)
		}
		cfg.LinkAddressOverrides[area] = addr
	}
	if p.workers > 0 {
		cfg.Workers = p.workers
	}
	if p.keepGoing {
		cfg.KeepGoing = true
	}
	return cfg, nil
}

func runDump(ctx context.Context, p *dumpParams) error {
	cfg, err := p.config()
	if err != nil {
		return err
	}
	level.Debug(logger).Log("msg", "dumping", "dol", cfg.DOL, "rel", cfg.REL, "out", cfg.OutPath)
	_, err = dump.New(fs, logger).Run(ctx, cfg)
	return err
}
