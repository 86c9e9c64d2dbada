//go:build !linux

package storage

import "errors"

var errNoReplaceUnsupported = errors.New("rename without replace not supported")

func renameNoReplace(oldpath, newpath string) error {
	return errNoReplaceUnsupported
}
