package arbiter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveReal returns the real absolute path of p: symlinks followed,
// ".." segments collapsed. Works for paths that do not exist yet by
// resolving the deepest existing ancestor and re-joining the remainder,
// so a pending write cannot dodge the check by targeting a new file.
func resolveReal(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}

	remainder := ""
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("resolve %s: %w", p, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			// Hit the filesystem root without finding anything real.
			return filepath.Join(cur, remainder), nil
		}
		remainder = filepath.Join(filepath.Base(cur), remainder)
		cur = parent
	}
}

// containsPath reports whether candidate (after full resolution of both
// sides) lies within root. Returns the resolved candidate for messages.
func containsPath(root, candidate string) (resolved string, inside bool, err error) {
	realRoot, err := resolveReal(root)
	if err != nil {
		return "", false, err
	}
	realCand, err := resolveReal(candidate)
	if err != nil {
		return "", false, err
	}

	rel, err := filepath.Rel(realRoot, realCand)
	if err != nil {
		return realCand, false, nil
	}
	if rel == "." {
		return realCand, true, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return realCand, false, nil
	}
	return realCand, true, nil
}
