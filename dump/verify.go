package dump

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/spf13/afero"
)

// ErrChecksum indicates an input file whose contents are not the expected
// ones.
var ErrChecksum = errors.New("checksum mismatch")

func fileMD5(fs afero.Fs, name string) (string, error) {
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func checkMD5(fs afero.Fs, name, want string) error {
	got, err := fileMD5(fs, name)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: %s: md5 is %s, expected %s", ErrChecksum, name, got, want)
	}
	return nil
}

// Verify checks the md5 digests of the inputs listed in cfg.Verify. Every
// listed file is checked, and all failures are returned together.
func Verify(fs afero.Fs, cfg *Config) error {
	var result error
	if cfg.Verify.DOL != "" {
		if err := checkMD5(fs, cfg.DOL, cfg.Verify.DOL); err != nil {
			result = multierror.Append(result, err)
		}
	}
	areas := lo.Keys(cfg.Verify.REL)
	sort.Strings(areas)
	for _, area := range areas {
		name := strings.Replace(cfg.REL, "*", area, 1)
		if err := checkMD5(fs, name, cfg.Verify.REL[area]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
