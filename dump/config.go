// Package dump writes the sections of a DOL executable and its REL modules to
// separate files, unlinked and linked, along with a section table.
package dump

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"moria.us/dolrel/module"
)

// Default addresses used when linking modules.
const (
	DefaultLinkAddress   = 0x80600000
	DefaultRELBSSAddress = 0x80a00000
)

// An Address is a 32-bit address written in hex, with or without a 0x prefix.
type Address uint32

func parseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	return Address(v), nil
}

func (a Address) String() string {
	return fmt.Sprintf("%08x", uint32(a))
}

// Set implements kingpin.Value.
func (a *Address) Set(s string) error {
	v, err := parseAddress(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalYAML reads the address as hex even when it is not quoted, so
// 80600000 and 0x80600000 are the same address.
func (a *Address) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: address must be a scalar", n.Line)
	}
	return a.Set(n.Value)
}

// Overrides maps area names to the link address used for them instead of the
// default.
type Overrides map[string]Address

// Set parses a comma separated list of area:address pairs, such as
// "jon:80c779a0,gor:805ba9a0", and adds them to the map. It implements
// kingpin.Value.
func (o *Overrides) Set(s string) error {
	if *o == nil {
		*o = make(Overrides)
	}
	for _, kv := range strings.Split(s, ",") {
		if kv == "" {
			continue
		}
		i := strings.IndexByte(kv, ':')
		if i < 0 {
			return errors.Errorf("link address override %q is not area:address", kv)
		}
		addr, err := parseAddress(kv[i+1:])
		if err != nil {
			return errors.Wrapf(err, "link address override for %s", kv[:i])
		}
		(*o)[kv[:i]] = addr
	}
	return nil
}

func (o Overrides) String() string {
	areas := lo.Keys(o)
	sort.Strings(areas)
	parts := lo.Map(areas, func(area string, _ int) string {
		return area + ":" + o[area].String()
	})
	return strings.Join(parts, ",")
}

// IsCumulative allows the flag to be repeated.
func (o *Overrides) IsCumulative() bool { return true }

// UnmarshalYAML accepts either a mapping or the comma separated form.
func (o *Overrides) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		return o.Set(n.Value)
	}
	var m map[string]Address
	if err := n.Decode(&m); err != nil {
		return err
	}
	if *o == nil {
		*o = make(Overrides, len(m))
	}
	for k, v := range m {
		(*o)[k] = v
	}
	return nil
}

// VerifyConfig lists the expected md5 digests of the inputs, in hex. Inputs
// without a digest are not checked.
type VerifyConfig struct {
	DOL string            `yaml:"dol"`
	REL map[string]string `yaml:"rel"` // by area
}

// Config controls a dump.
type Config struct {
	OutPath              string       `yaml:"out_path"`
	DOL                  string       `yaml:"dol"`
	REL                  string       `yaml:"rel"` // pattern with one '*' standing for the area name
	LinkAddress          Address      `yaml:"link_address"`
	LinkAddressOverrides Overrides    `yaml:"link_address_overrides"`
	RELBSSAddress        Address      `yaml:"rel_bss_address"`
	Workers              int          `yaml:"workers"`
	KeepGoing            bool         `yaml:"keep_going"`
	Verify               VerifyConfig `yaml:"verify"`
}

// DefaultConfig returns the configuration used for settings that are not
// given in a file or on the command line.
func DefaultConfig() Config {
	return Config{
		LinkAddress:   DefaultLinkAddress,
		RELBSSAddress: DefaultRELBSSAddress,
		Workers:       runtime.GOMAXPROCS(0),
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(fs afero.Fs, name string) (Config, error) {
	cfg := DefaultConfig()
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", name)
	}
	return cfg, nil
}

func linkable(a Address) bool {
	return module.RAMStart <= a && a < module.LinkEnd
}

// Validate checks the configuration before any file is touched.
func (c *Config) Validate() error {
	if c.OutPath == "" {
		return errors.New("an output path is required")
	}
	if c.DOL == "" {
		return errors.New("a DOL file is required")
	}
	if strings.Count(filepath.Clean(c.REL), "*") != 1 {
		return errors.Errorf("REL pattern %q must contain exactly one '*'", c.REL)
	}
	if c.Workers < 0 {
		return errors.Errorf("invalid worker count %d", c.Workers)
	}
	if c.LinkAddress == 0 {
		return nil
	}
	if !linkable(c.LinkAddress) {
		return errors.Errorf("link address %s must be 0 or in [%08x, %08x)",
			c.LinkAddress, module.RAMStart, module.LinkEnd)
	}
	areas := lo.Keys(c.LinkAddressOverrides)
	sort.Strings(areas)
	for _, area := range areas {
		if addr := c.LinkAddressOverrides[area]; addr != 0 && !linkable(addr) {
			return errors.Errorf("link address %s for %s must be 0 or in [%08x, %08x)",
				addr, area, module.RAMStart, module.LinkEnd)
		}
	}
	if !linkable(c.RELBSSAddress) {
		return errors.Errorf("REL bss address %s must be in [%08x, %08x)",
			c.RELBSSAddress, module.RAMStart, module.LinkEnd)
	}
	return nil
}

// LinkConfig returns the addresses the module of an area is linked at. A zero
// link address means the module is not linked. Overrides only apply when a
// default link address is set.
func (c *Config) LinkConfig(area string) module.LinkConfig {
	addr := c.LinkAddress
	if o, ok := c.LinkAddressOverrides[area]; ok && addr != 0 {
		addr = o
	}
	return module.LinkConfig{
		LinkAddress: uint32(addr),
		BSSAddress:  uint32(c.RELBSSAddress),
	}
}
