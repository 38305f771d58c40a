package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers never observe a torn artifact.
func WriteFileAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(fs, dir); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fs, dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(name)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := fs.Rename(name, path); err != nil {
		// the afero memory fs refuses to rename over an existing file
		if fs.Remove(path) == nil {
			err = fs.Rename(name, path)
		}
		if err != nil {
			fs.Remove(name)
			return fmt.Errorf("rename into %s: %w", path, err)
		}
	}
	return nil
}
