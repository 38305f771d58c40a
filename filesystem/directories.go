// Package filesystem wraps the few file operations the sync layer
// performs: staging directories and atomic writes of downloaded
// artifacts. Everything goes through afero so tests run on a memory fs.
package filesystem

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const ownerRWX = 0o700

// CanonicalPath expands a leading ~ and any environment variables, then
// cleans the path.
func CanonicalPath(p string) string {
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home := homeDir(); home != "" {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Clean(os.ExpandEnv(p))
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// EnsureDir creates the directory and its parents when missing.
func EnsureDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, ownerRWX); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// SafeSegment reports whether name can be used as a single path element.
// Remote listings are untrusted, so anything that could escape its
// directory is rejected.
func SafeSegment(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
