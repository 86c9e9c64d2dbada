//go:build linux

package storage

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var errNoReplaceUnsupported = errors.New("rename without replace not supported")

func renameNoReplace(oldpath, newpath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldpath, unix.AT_FDCWD, newpath, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return ErrTargetExists
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL):
		// Old kernels and some filesystems (NFS, FUSE) reject the flag.
		return errNoReplaceUnsupported
	default:
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
}
