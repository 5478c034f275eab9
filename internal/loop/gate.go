package loop

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Gate is a pause point awaiting a go/no-go decision. Implementations must
// resolve to false when ctx is canceled rather than keep waiting.
type Gate interface {
	Confirm(ctx context.Context, prompt string) bool
}

// AutoGate approves every gate without pausing.
type AutoGate struct{}

func (AutoGate) Confirm(context.Context, string) bool { return true }

// DenyGate refuses every gate. Used for fully unattended runs where a
// needs-human outcome should abort instead of hang.
type DenyGate struct{}

func (DenyGate) Confirm(context.Context, string) bool { return false }

// PromptGate asks on the terminal and reads a y/n line. Cancellation
// resolves to abort even while the read is blocked.
type PromptGate struct {
	In  io.Reader
	Out io.Writer
}

func (g PromptGate) Confirm(ctx context.Context, prompt string) bool {
	fmt.Fprintf(g.Out, "%s [y/N]: ", prompt)

	answer := make(chan bool, 1)
	go func() {
		line, err := bufio.NewReader(g.In).ReadString('\n')
		if err != nil {
			answer <- false
			return
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			answer <- true
		default:
			answer <- false
		}
	}()

	select {
	case ok := <-answer:
		return ok
	case <-ctx.Done():
		fmt.Fprintln(g.Out, "aborted")
		return false
	}
}
