package loop

import (
	"fmt"
	"strings"

	"github.com/planloop/planloop/internal/agent"
)

// Prompts renders the instructions sent to each agent role.
type Prompts interface {
	Author(planPath string, phase int, corrections []agent.VerdictItem, qualityOutput string) string
	Review(planPath string, phase int) string
}

// DefaultPrompts is the built-in prompt set. It names the plan file and
// phase and appends reviewer corrections or quality-gate output verbatim.
type DefaultPrompts struct{}

func (DefaultPrompts) Author(planPath string, phase int, corrections []agent.VerdictItem, qualityOutput string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Implement phase %d of the plan at %s.\n", phase, planPath)
	sb.WriteString("Commit your work when the phase is done and report a status signal.\n")
	if len(corrections) > 0 {
		sb.WriteString("\nThe reviewer asked for these corrections:\n")
		for _, item := range corrections {
			fmt.Fprintf(&sb, "- %s\n", item.Description)
		}
	}
	if qualityOutput != "" {
		sb.WriteString("\nThe quality gates failed with this output:\n")
		sb.WriteString(qualityOutput)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (DefaultPrompts) Review(planPath string, phase int) string {
	return fmt.Sprintf(
		"Review the implementation of phase %d of the plan at %s.\n"+
			"Report a verdict signal: ready, ready_with_corrections, or not_ready, with items.\n",
		phase, planPath)
}
