package rename

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameBytes bounds a sanitized name before suffix and extension
const MaxNameBytes = 200

// ErrInvalidName is returned for payloads that sanitize to nothing usable
var ErrInvalidName = errors.New("payload is not a usable file name")

const forbidden = `/\:*?"<>|`

// Sanitize turns a decoded payload into a single path segment. The result
// never contains a separator and is never "." or "..".
func Sanitize(payload string) (string, error) {
	s := strings.ToValidUTF8(payload, "")
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(forbidden, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	name := trim(b.String())
	if len(name) > MaxNameBytes {
		cut := MaxNameBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = trim(name[:cut])
	}

	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, payload)
	}
	return name, nil
}

func trim(s string) string {
	s = strings.TrimLeft(s, ". ")
	return strings.TrimRight(s, ". ")
}

// TargetName splits the name a payload should be renamed to into stem and
// extension. A payload already ending in the source extension keeps it;
// otherwise the source extension is appended.
func TargetName(payload, sourceExt string) (stem, ext string, err error) {
	name, err := Sanitize(payload)
	if err != nil {
		return "", "", err
	}

	n := len(sourceExt)
	if n > 0 && len(name) > n && strings.EqualFold(name[len(name)-n:], sourceExt) {
		return name[:len(name)-n], name[len(name)-n:], nil
	}
	return name, sourceExt, nil
}

// Candidate returns the n-th collision candidate: stem.ext, stem-1.ext, ...
func Candidate(stem, ext string, n int) string {
	if n == 0 {
		return stem + ext
	}
	return fmt.Sprintf("%s-%d%s", stem, n, ext)
}
