package paths

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrTraversal is the security failure: a path that, once normalized,
// would land outside the archive or destination root. Codecs and the
// materializer match it with errors.Is.
var ErrTraversal = errors.New("path escapes root")

// ValidateRelPath rejects any path that is not a clean, relative,
// forward-slash path staying inside the root. It is applied both when
// entries are built from the filesystem and again to every path decoded
// from an archive, so a crafted archive cannot plant files elsewhere.
func ValidateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains null byte")
	}
	if path.IsAbs(p) {
		return fmt.Errorf("absolute path %q: %w", p, ErrTraversal)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return fmt.Errorf("path resolves to current directory")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("path %q: %w", p, ErrTraversal)
	}
	if cleaned != p && cleaned != strings.TrimPrefix(p, "./") {
		return fmt.Errorf("path not normalized: %q", p)
	}
	return nil
}

// CleanRelPath normalizes a path for storage in an archive: forward
// slashes, no "./" prefix, no redundant separators.
func CleanRelPath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "./")
	return p
}

// IsWithinDir reports whether full is dir itself or a descendant of it.
// Both arguments must be in platform form.
func IsWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	return rel != ".." &&
		!strings.HasPrefix(rel, "../") &&
		!filepath.IsAbs(rel)
}
