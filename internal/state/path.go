package state

import (
	"os"
	"path/filepath"
	"strings"

	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
)

// NormalizePath returns the canonical absolute form of raw: absolute,
// cleaned, and with symlinks resolved when the path exists. Paths with a
// ".." element, NUL bytes, or outside every root are rejected. An empty
// roots list allows any location.
func NormalizePath(raw string, roots []string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", amerrors.PathRejected(raw, "empty path")
	}
	if strings.ContainsRune(raw, 0) {
		return "", amerrors.PathRejected(raw, "contains NUL byte")
	}
	for _, elem := range strings.Split(filepath.ToSlash(raw), "/") {
		if elem == ".." {
			return "", amerrors.PathRejected(raw, "parent directory traversal")
		}
	}

	canonical, err := canonicalize(raw)
	if err != nil {
		return "", amerrors.PathRejected(raw, err.Error())
	}

	if len(roots) == 0 {
		return canonical, nil
	}
	for _, root := range roots {
		r, err := canonicalize(root)
		if err != nil {
			continue
		}
		if within(canonical, r) {
			return canonical, nil
		}
	}
	return "", amerrors.PathRejected(raw, "outside allowed roots")
}

func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	// Not created yet: resolve the deepest existing ancestor so symlinked
	// parents (e.g. /var on macOS) still compare equal to resolved roots.
	dir, rest := filepath.Split(abs)
	if dir == abs || dir == "" {
		return abs, nil
	}
	parent, err := canonicalize(filepath.Clean(dir))
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, rest), nil
}

func within(path, root string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// NormalizePath canonicalizes raw against the store's allowed roots.
func (s *Store) NormalizePath(raw string) (string, error) {
	return NormalizePath(raw, s.roots)
}
