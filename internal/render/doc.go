// Package render implements the streaming console sink used for live agent
// output.
//
// Writer is a word-wrap state machine: it buffers the current partial word
// and any whitespace that precedes it, and only commits them once it knows
// whether the word fits on the current line. Content inside fenced code
// blocks passes through verbatim. Column accounting is ANSI-aware, so style
// escape sequences never count against the configured width.
package render
