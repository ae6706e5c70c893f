package table

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedExtension is returned when an output path has a suffix that
// is not in the separator table. It is detected before any file is touched.
var ErrUnsupportedExtension = errors.New("unsupported table extension")

// Separators maps output extensions to field separators
type Separators map[string]string

// DefaultSeparators is the canonical extension table. ".txt" is treated as
// tab separated.
func DefaultSeparators() Separators {
	return Separators{
		".csv": ",",
		".tsv": "\t",
		".txt": "\t",
	}
}

// ExtensionError reports the rejected extension together with the accepted set
type ExtensionError struct {
	Path     string
	Ext      string
	Accepted []string
}

func (e *ExtensionError) Error() string {
	return fmt.Sprintf("%s: only %s are accepted, got %q for %s",
		ErrUnsupportedExtension, strings.Join(e.Accepted, ", "), e.Ext, e.Path)
}

// Unwrap lets errors.Is match ErrUnsupportedExtension
func (e *ExtensionError) Unwrap() error {
	return ErrUnsupportedExtension
}

// Lookup returns the separator registered for the extension of path
func (s Separators) Lookup(path string) (string, error) {
	ext := filepath.Ext(path)
	sep, ok := s[ext]
	if !ok {
		return "", &ExtensionError{Path: path, Ext: ext, Accepted: s.extensions()}
	}
	return sep, nil
}

func (s Separators) extensions() []string {
	out := make([]string, 0, len(s))
	for ext := range s {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// SeparatorFor returns the default separator for an extension such as ".csv"
func SeparatorFor(ext string) (string, error) {
	return DefaultSeparators().Lookup("table" + ext)
}

// CoercePath strips every suffix from path and appends ext, returning the
// absolute form. "file.a.b" with ".csv" becomes "<cwd>/file.csv".
func CoercePath(path, ext string) (string, error) {
	dir, base := filepath.Split(path)
	for {
		suffix := filepath.Ext(base)
		if suffix == "" || suffix == base {
			break
		}
		base = strings.TrimSuffix(base, suffix)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Abs(filepath.Join(dir, base+ext))
}
