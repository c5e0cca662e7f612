package utils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// RemoveFileNoError will remove the file at the given path if it exists. Any
// errors will be suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}

// WriteFileAtomic writes data to a temporary file next to path and renames it into place, so
// readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrapf(err, "cannot create temporary file for %q", path)
	}
	tmpName := tmp.Name()
	defer RemoveFileNoError(tmpName)

	if _, err := tmp.Write(data); err != nil {
		utils.UncheckedError(tmp.Close())
		return errors.Wrapf(err, "cannot write %q", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		utils.UncheckedError(tmp.Close())
		return errors.Wrapf(err, "cannot sync %q", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "cannot close %q", tmpName)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return errors.Wrapf(err, "cannot set mode of %q", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "cannot move %q into place", path)
	}
	return nil
}
