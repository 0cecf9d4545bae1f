package fit

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// MaxBasenameDir is the longest output directory the sampler is handed
// directly; longer paths go through a short alias.
const MaxBasenameDir = 72

const (
	SamplerBasename = "fit_"
	dirTimeLayout   = "01-02_15-04"
	aliasAttempts   = 32
)

// outputDirs is what rank 0 broadcasts after preparing the output location.
type outputDirs struct {
	Real  string `json:"real"`
	Alias string `json:"alias,omitempty"`
	Err   string `json:"err,omitempty"`
}

// work is the directory the sampler writes through.
func (o outputDirs) work() string {
	if o.Alias != "" {
		return o.Alias
	}
	return o.Real
}

// naturalOutputDir returns <root>/<identifier>_<MM-DD_HH-MM>.
func naturalOutputDir(root, identifier string, now time.Time) string {
	return filepath.Join(root, identifier+"_"+now.Format(dirTimeLayout))
}

// prepareOutputDir creates a fresh, empty output directory and, when its
// path is too long, a symlink alias to it. A natural path that already
// holds files gets a numeric suffix.
func prepareOutputDir(root, identifier string, now time.Time, rng *rand.Rand) (outputDirs, error) {
	if root == "" {
		return outputDirs{}, errors.New("output root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return outputDirs{}, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return outputDirs{}, err
	}
	natural := naturalOutputDir(abs, identifier, now)
	dir := natural
	for i := 1; ; i++ {
		empty, err := emptyOrMissing(dir)
		if err != nil {
			return outputDirs{}, err
		}
		if empty {
			break
		}
		dir = natural + "-" + strconv.Itoa(i)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return outputDirs{}, err
	}
	dirs := outputDirs{Real: dir}
	if len(dir) <= MaxBasenameDir {
		return dirs, nil
	}
	for i := 0; i < aliasAttempts; i++ {
		alias := filepath.Join(abs, strconv.Itoa(rng.Intn(1<<16)))
		err := os.Symlink(dir, alias)
		if err == nil {
			dirs.Alias = alias
			return dirs, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return outputDirs{}, fmt.Errorf("create output alias: %w", err)
		}
	}
	return outputDirs{}, fmt.Errorf("create output alias: no free name under %s", abs)
}

// removeAlias unlinks the alias symlink. It never removes a directory.
func removeAlias(dirs outputDirs) error {
	if dirs.Alias == "" {
		return nil
	}
	fi, err := os.Lstat(dirs.Alias)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("output alias %s is not a symlink", dirs.Alias)
	}
	return os.Remove(dirs.Alias)
}

func emptyOrMissing(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}
