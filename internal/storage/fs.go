package storage

import (
	"errors"
	"io/fs"
	"os"
)

// ErrTargetExists is returned by RenameNoReplace when the target name is taken
var ErrTargetExists = errors.New("target already exists")

// FS defines the filesystem operations the pipeline depends on
type FS interface {
	ReadFile(path string) ([]byte, error)
	Lstat(path string) (fs.FileInfo, error)

	// RenameNoReplace moves oldpath to newpath only if newpath does not
	// exist. It returns ErrTargetExists otherwise and never overwrites.
	RenameNoReplace(oldpath, newpath string) error
}

// Local implements FS on the operating system's filesystem
type Local struct{}

// NewLocal creates a local filesystem backend
func NewLocal() *Local {
	return &Local{}
}

// ReadFile reads the whole file
func (Local) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Lstat returns file info without following a final symlink
func (Local) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

// RenameNoReplace renames atomically where the kernel supports it and falls
// back to an existence check followed by rename. Callers that need the
// fallback to be race free must serialize renames per directory.
func (Local) RenameNoReplace(oldpath, newpath string) error {
	err := renameNoReplace(oldpath, newpath)
	if !errors.Is(err, errNoReplaceUnsupported) {
		return err
	}

	if _, err := os.Lstat(newpath); err == nil {
		return ErrTargetExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(oldpath, newpath)
}

// Exists reports whether path exists on fsys
func Exists(fsys FS, path string) (bool, error) {
	_, err := fsys.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
