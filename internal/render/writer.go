package render

import (
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// Style selects the SGR treatment for streamed text.
type Style int

const (
	// StylePlain is unstyled output (assistant text, errors).
	StylePlain Style = iota
	// StyleDim is faint output for incidental detail (tool chatter, reasoning).
	StyleDim
	// StyleIdle is faint italic, used for waiting/heartbeat lines.
	StyleIdle
)

const (
	sgrDim   = "\x1b[2m"
	sgrIdle  = "\x1b[2;3m"
	sgrReset = "\x1b[0m"

	// Width bounds: anything the terminal reports outside this range is a
	// lie (serial consoles report 0, some multiplexers report MaxInt).
	minWidth     = 20
	maxWidth     = 4096
	defaultWidth = 80

	ellipsis = "…"
)

// ClampWidth maps an unreliable reported terminal width onto a usable one.
func ClampWidth(w int) int {
	if w <= 0 || w > maxWidth {
		return defaultWidth
	}
	if w < minWidth {
		return minWidth
	}
	return w
}

// Writer is a word-wrapping streaming sink.
//
// Not safe for concurrent use; the event router is the only producer.
type Writer struct {
	out   io.Writer
	width int

	col   int     // visible columns already written on the open line
	word  []rune  // buffered partial word
	space []rune  // whitespace pending between committed text and word
	style Style
	open  bool // an SGR sequence is active on the current line

	inFence      bool
	atSrcStart   bool // next rune begins a source line
	backtickRun  int  // consecutive backticks since source line start; -1 once broken
	fencePending bool // toggle fence state at the end of this source line
}

// NewWriter creates a Writer targeting out at the given width. The width is
// clamped via ClampWidth.
func NewWriter(out io.Writer, width int) *Writer {
	return &Writer{
		out:        out,
		width:      ClampWidth(width),
		atSrcStart: true,
	}
}

// Width reports the effective (clamped) wrap width.
func (w *Writer) Width() int { return w.width }

// SetStyle switches the active style. Switching between styles always closes
// an open line first so styles never bleed across lines.
func (w *Writer) SetStyle(s Style) {
	if s == w.style {
		return
	}
	if w.col > 0 || len(w.word) > 0 || len(w.space) > 0 {
		w.CloseLine()
	}
	w.style = s
}

// Write streams text through the wrapper. Newlines in s are hard breaks;
// everything else wraps at the configured width unless inside a fence.
func (w *Writer) Write(s string) {
	for _, r := range s {
		w.writeRune(r)
	}
}

// WriteLine emits one complete line in the given style, truncating with a
// trailing ellipsis if it does not fit. Any open streamed line is closed
// first so ordering is preserved.
func (w *Writer) WriteLine(s string, style Style) {
	if w.col > 0 || len(w.word) > 0 || len(w.space) > 0 {
		w.CloseLine()
	}
	line := truncateANSI(s, w.width)
	switch style {
	case StyleDim:
		line = sgrDim + line + sgrReset
	case StyleIdle:
		line = sgrIdle + line + sgrReset
	}
	io.WriteString(w.out, line+"\n")
}

// Flush commits the buffered partial word without appending a newline.
// Called when a stream pauses so partial output is not held indefinitely.
func (w *Writer) Flush() {
	w.commitWord()
}

// CloseLine flushes buffered state and terminates the open line. Pending
// whitespace is discarded (trailing whitespace is never emitted).
func (w *Writer) CloseLine() {
	w.commitWord()
	w.space = w.space[:0]
	if w.open {
		io.WriteString(w.out, sgrReset)
		w.open = false
	}
	if w.col > 0 {
		io.WriteString(w.out, "\n")
	}
	w.col = 0
}

func (w *Writer) writeRune(r rune) {
	w.trackFence(r)

	if w.inFence {
		// Verbatim passthrough. The fence-closing marker line itself also
		// arrives here; fencePending only flips state at its newline.
		w.emitVerbatim(r)
		return
	}

	switch {
	case r == '\n':
		// Hard break: commit the word, drop trailing whitespace, and always
		// emit the newline (a blank source line stays blank).
		w.commitWord()
		w.space = w.space[:0]
		if w.open {
			io.WriteString(w.out, sgrReset)
			w.open = false
		}
		io.WriteString(w.out, "\n")
		w.col = 0
		if w.fencePending {
			w.inFence = !w.inFence
			w.fencePending = false
		}
	case r == ' ' || r == '\t':
		w.commitWord()
		if w.col == 0 {
			// Leading whitespace of a new line is preserved as-is.
			w.styledWrite(string(r))
			w.col += runeCols(r)
		} else {
			// Inter-word tabs have no reliable display width once wrapping
			// moves them; normalize to a single space.
			if r == '\t' {
				r = ' '
			}
			w.space = append(w.space, r)
		}
	default:
		w.word = append(w.word, r)
	}
}

// trackFence watches for a source line whose first three runes are
// backticks. The fence state toggles once that line ends.
func (w *Writer) trackFence(r rune) {
	if w.atSrcStart {
		w.backtickRun = 0
		w.atSrcStart = false
	}
	switch {
	case r == '\n':
		w.atSrcStart = true
	case w.backtickRun >= 0 && w.backtickRun < 3 && r == '`':
		w.backtickRun++
		if w.backtickRun == 3 {
			w.fencePending = true
		}
	case w.backtickRun < 3:
		w.backtickRun = -1
	}
}

func (w *Writer) emitVerbatim(r rune) {
	if r == '\n' {
		if w.open {
			io.WriteString(w.out, sgrReset)
			w.open = false
		}
		io.WriteString(w.out, "\n")
		w.col = 0
		if w.fencePending {
			w.inFence = !w.inFence
			w.fencePending = false
		}
		return
	}
	w.styledWrite(string(r))
	w.col += runeCols(r)
}

// commitWord decides whether the buffered word fits on the current line,
// breaking first if it does not. Whitespace pending before a broken word is
// discarded per the trailing-whitespace rule.
func (w *Writer) commitWord() {
	if len(w.word) == 0 {
		return
	}
	wordCols := 0
	for _, r := range w.word {
		wordCols += runeCols(r)
	}
	spaceCols := 0
	for _, r := range w.space {
		spaceCols += runeCols(r)
	}

	if w.col > 0 && w.col+spaceCols+wordCols > w.width {
		if w.open {
			io.WriteString(w.out, sgrReset)
			w.open = false
		}
		io.WriteString(w.out, "\n")
		w.col = 0
	} else if spaceCols > 0 {
		w.styledWrite(string(w.space))
		w.col += spaceCols
	}
	w.space = w.space[:0]

	w.styledWrite(string(w.word))
	w.col += wordCols
	w.word = w.word[:0]
}

// styledWrite emits visible text, opening the current style's SGR sequence
// on demand.
func (w *Writer) styledWrite(s string) {
	if !w.open && w.style != StylePlain {
		switch w.style {
		case StyleDim:
			io.WriteString(w.out, sgrDim)
		case StyleIdle:
			io.WriteString(w.out, sgrIdle)
		}
		w.open = true
	}
	io.WriteString(w.out, s)
}

func runeCols(r rune) int {
	return runewidth.RuneWidth(r)
}

// truncateANSI shortens s to at most width visible columns, appending an
// ellipsis when content was dropped. Escape sequences are copied through
// without counting toward the width.
func truncateANSI(s string, width int) string {
	if visibleWidth(s) <= width {
		return s
	}
	var b strings.Builder
	cols := 0
	inEscape := false
	for _, r := range s {
		if inEscape {
			b.WriteRune(r)
			if r >= '@' && r <= '~' && r != '[' {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			b.WriteRune(r)
			continue
		}
		rc := runeCols(r)
		if cols+rc > width-1 {
			break
		}
		b.WriteRune(r)
		cols += rc
	}
	b.WriteString(ellipsis)
	return b.String()
}

// visibleWidth counts display columns, skipping ANSI escape sequences.
func visibleWidth(s string) int {
	cols := 0
	inEscape := false
	for _, r := range s {
		if inEscape {
			if r >= '@' && r <= '~' && r != '[' {
				inEscape = false
			}
			continue
		}
		if r == '\x1b' {
			inEscape = true
			continue
		}
		cols += runeCols(r)
	}
	return cols
}
