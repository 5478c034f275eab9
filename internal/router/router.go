package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/planloop/planloop/internal/event"
	"github.com/planloop/planloop/internal/render"
)

// streamedCap bounds the "already streamed incrementally" dedup set. Oldest
// part ids are evicted first; a very long session can therefore re-print a
// part the agent revives hours later, which is preferable to unbounded growth.
const streamedCap = 4096

// Options controls what the router lets through to the writer.
type Options struct {
	// ShowReasoning renders reasoning parts (dimmed). Off by default:
	// reasoning is high-volume and rarely useful outside debugging.
	ShowReasoning bool
}

// Router routes decoded stream events to a render.Writer.
//
// Not safe for concurrent use; each invocation owns one Router fed from a
// single subscription.
type Router struct {
	w    *render.Writer
	opts Options

	// Accumulated text per part id, used to diff full-snapshot updates
	// down to their unseen suffix.
	textParts      map[string]string
	reasoningParts map[string]string

	// Part ids that have already streamed incremental content. A legacy
	// flat delta for a member is a duplicate and is dropped.
	streamed *boundedSet

	// Last rendered signature per live tool id. Cleared on completed/error
	// so a re-run of the same tool id is shown again.
	toolSig map[string]string
}

// New creates a Router writing to w.
func New(w *render.Writer, opts Options) *Router {
	return &Router{
		w:              w,
		opts:           opts,
		textParts:      make(map[string]string),
		reasoningParts: make(map[string]string),
		streamed:       newBoundedSet(streamedCap),
		toolSig:        make(map[string]string),
	}
}

// Route dispatches one event. Unknown kinds are dropped silently: forward
// compatibility over completeness.
func (r *Router) Route(ev event.Event) {
	switch ev.Kind {
	case event.KindSessionInit:
		r.w.WriteLine(fmt.Sprintf("session %s (%s)", ev.SessionInit.SessionID, ev.SessionInit.Model), render.StyleDim)
	case event.KindPartDelta:
		r.routeDelta(ev.PartDelta)
	case event.KindPartUpdated:
		r.routeUpdate(ev.PartUpdated)
	case event.KindTextDelta:
		r.routeLegacyDelta(ev.TextDelta)
	case event.KindTool:
		r.routeTool(ev.Tool)
	case event.KindResult:
		r.routeResult(ev.Result)
	case event.KindStreamError:
		r.w.WriteLine("agent error: "+ev.StreamError.Message, render.StylePlain)
	}
}

// Finish flushes any buffered partial output at end of stream.
func (r *Router) Finish() {
	r.w.CloseLine()
}

func (r *Router) routeDelta(d *event.PartDelta) {
	if d.Part == event.PartReasoning {
		r.reasoningParts[d.PartID] += d.Text
		if !r.opts.ShowReasoning {
			return
		}
		r.streamed.Add(d.PartID)
		r.w.SetStyle(render.StyleDim)
		r.w.Write(d.Text)
		return
	}
	r.textParts[d.PartID] += d.Text
	r.streamed.Add(d.PartID)
	r.w.SetStyle(render.StylePlain)
	r.w.Write(d.Text)
}

// routeUpdate handles full-snapshot events by emitting only the suffix
// beyond the text already seen for that part.
func (r *Router) routeUpdate(u *event.PartUpdated) {
	parts := r.textParts
	style := render.StylePlain
	if u.Part == event.PartReasoning {
		parts = r.reasoningParts
		style = render.StyleDim
	}

	prev := parts[u.PartID]
	parts[u.PartID] = u.Text
	r.streamed.Add(u.PartID)

	if u.Part == event.PartReasoning && !r.opts.ShowReasoning {
		return
	}
	if u.Text == prev {
		return
	}
	if !strings.HasPrefix(u.Text, prev) {
		// Snapshot diverged from what we already printed. Printing anything
		// would duplicate text on screen, so stay silent and resync state.
		return
	}
	r.w.SetStyle(style)
	r.w.Write(u.Text[len(prev):])
}

// routeLegacyDelta drops a flat delta if the part already streamed through
// the richer event shapes; both shapes co-occurring for one part is the
// documented overlap case.
func (r *Router) routeLegacyDelta(d *event.TextDelta) {
	if r.streamed.Contains(d.PartID) {
		return
	}
	r.textParts[d.PartID] += d.Text
	r.w.SetStyle(render.StylePlain)
	r.w.Write(d.Text)
}

func (r *Router) routeTool(tc *event.Tool) {
	sig := toolSignature(tc)

	switch tc.Status {
	case event.ToolCompleted, event.ToolError:
		// Clear suppression so a later re-run of this tool id shows again.
		delete(r.toolSig, tc.ToolID)
	default:
		if r.toolSig[tc.ToolID] == sig {
			return // repeated running update, incidental metadata only
		}
		r.toolSig[tc.ToolID] = sig
	}

	switch tc.Status {
	case event.ToolError:
		r.w.WriteLine(fmt.Sprintf("✗ %s: %s", tc.Name, tc.Error), render.StylePlain)
	case event.ToolCompleted:
		r.w.WriteLine("✓ "+tc.Name, render.StyleDim)
	default:
		line := "→ " + tc.Name
		if summary := inputSummary(tc.Input); summary != "" {
			line += " " + summary
		}
		r.w.WriteLine(line, render.StyleDim)
	}
}

func (r *Router) routeResult(res *event.Result) {
	if res.IsError {
		msg := res.ErrorText
		if msg == "" {
			msg = "agent reported an error result"
		}
		r.w.WriteLine("error: "+msg, render.StylePlain)
		return
	}
	r.w.WriteLine(fmt.Sprintf("done in %dms (%d in / %d out tokens, $%.4f)",
		res.DurationMS, res.Usage.InputTokens, res.Usage.OutputTokens, res.Usage.CostUSD), render.StyleDim)
}

// toolSignature is a stable identity for tool+status+input, so running
// updates that differ only in incidental metadata collapse to one line.
func toolSignature(tc *event.Tool) string {
	sum := sha256.Sum256(tc.Input)
	return tc.Name + "\x00" + string(tc.Status) + "\x00" + hex.EncodeToString(sum[:8])
}

func inputSummary(input []byte) string {
	s := strings.Join(strings.Fields(string(input)), " ")
	const max = 48
	if len(s) > max {
		return s[:max-1] + "…"
	}
	return s
}
