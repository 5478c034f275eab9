package render

import (
	"os"

	"golang.org/x/term"
)

// DetectWidth reads the terminal width of f, falling back to the default
// when f is not a terminal or the reported size is unusable.
func DetectWidth(f *os.File) int {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return defaultWidth
	}
	return ClampWidth(w)
}
