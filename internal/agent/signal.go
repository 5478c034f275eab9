package agent

import (
	"encoding/json"
	"strings"
)

// maxSignalBytes bounds how large an embedded signal block may be. Larger
// blocks are rejected unparsed so adversarial output stays cheap to handle.
const maxSignalBytes = 64 << 10

// extractSignal finds the signal block in the agent's closing message: the
// last fenced JSON code block whose object carries a status or verdict
// discriminant. Returns false when no candidate block exists; oversized
// blocks are skipped, not parsed.
func extractSignal(text string) ([]byte, bool) {
	var (
		found   []byte
		inBlock bool
		body    strings.Builder
		skip    bool
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inBlock {
			if tag, ok := strings.CutPrefix(trimmed, "```"); ok {
				tag = strings.TrimSpace(tag)
				if tag == "" || tag == "json" {
					inBlock = true
					skip = false
					body.Reset()
				}
			}
			continue
		}
		if trimmed == "```" {
			inBlock = false
			if skip {
				continue
			}
			if block := []byte(strings.TrimSpace(body.String())); isSignalObject(block) {
				found = block
			}
			continue
		}
		if body.Len()+len(line)+1 > maxSignalBytes {
			skip = true
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	return found, found != nil
}

// isSignalObject reports whether the block is a JSON object carrying one of
// the signal discriminants. Plain code blocks in the agent's prose fail
// this cheaply.
func isSignalObject(block []byte) bool {
	if len(block) == 0 || block[0] != '{' {
		return false
	}
	var probe rawSignal
	if err := json.Unmarshal(block, &probe); err != nil {
		return false
	}
	return probe.Status != nil || probe.Verdict != nil
}
