// Package safety validates oracle-proposed paths before any write. A path
// that cannot be proven to stay inside the project root is treated as
// outside: resolution errors fail closed.
package safety

import (
	"os"
	"path/filepath"
	"strings"
)

// IsOutsideRoot reports whether rel escapes the project root. It rejects
// absolute paths that do not resolve under root, ".." traversal, and symlink
// tricks through existing ancestors of the target.
func IsOutsideRoot(root, rel string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return true
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	var target string
	if filepath.IsAbs(rel) {
		target = filepath.Clean(rel)
	} else {
		target = filepath.Clean(filepath.Join(absRoot, rel))
	}
	if !within(absRoot, target) {
		return true
	}

	// The target itself usually does not exist yet; resolve the deepest
	// existing ancestor so a symlinked subdirectory cannot smuggle the write
	// out of the tree.
	ancestor := target
	remainder := ""
	for {
		if _, err := os.Lstat(ancestor); err == nil {
			break
		}
		remainder = filepath.Join(filepath.Base(ancestor), remainder)
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return true
		}
		ancestor = parent
	}
	resolved, err := filepath.EvalSymlinks(ancestor)
	if err != nil {
		return true
	}
	return !within(absRoot, filepath.Join(resolved, remainder))
}

func within(root, target string) bool {
	if target == root {
		return true
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}
