// Package planpath canonicalizes plan paths so that every component keys on
// one spelling of the same file.
//
// Two invocations pointed at the same plan through different symlinks,
// relative prefixes, or Unicode normal forms must land on the same Run and
// the same worktree association. Canonical form: absolute, symlink-resolved,
// NFC-normalized.
package planpath

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// Canonical resolves p to its canonical form. The plan file must exist.
func Canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", p, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", p, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", p, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("canonicalize %s: plan path is a directory", p)
	}
	return norm.NFC.String(resolved), nil
}
