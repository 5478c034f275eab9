package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/config"
	"github.com/planloop/planloop/internal/planpath"
	"github.com/planloop/planloop/internal/runstore"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	RunID  string
	Events int
}

// statusReport is the status command's payload, shared by both formats.
type statusReport struct {
	RunID       string  `json:"run_id"`
	Plan        string  `json:"plan"`
	Status      string  `json:"status"`
	Phase       int     `json:"phase"`
	State       string  `json:"state"`
	StartedAt   string  `json:"started_at"`
	CompletedAt string  `json:"completed_at,omitempty"`
	TokensIn    int64   `json:"tokens_in"`
	TokensOut   int64   `json:"tokens_out"`
	CostUSD     float64 `json:"cost_usd"`

	Events []eventReport `json:"events,omitempty"`
}

type eventReport struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Phase     *int   `json:"phase,omitempty"`
	Iteration *int   `json:"iteration,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (r statusReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "run %s\n", r.RunID)
	fmt.Fprintf(&sb, "  plan:    %s\n", r.Plan)
	fmt.Fprintf(&sb, "  status:  %s (phase %d, %s)\n", r.Status, r.Phase, r.State)
	fmt.Fprintf(&sb, "  started: %s\n", r.StartedAt)
	if r.CompletedAt != "" {
		fmt.Fprintf(&sb, "  ended:   %s\n", r.CompletedAt)
	}
	fmt.Fprintf(&sb, "  usage:   %d in / %d out tokens, $%.4f", r.TokensIn, r.TokensOut, r.CostUSD)
	if len(r.Events) > 0 {
		sb.WriteString("\n  journal:")
		for _, ev := range r.Events {
			fmt.Fprintf(&sb, "\n    %5d  %s  %s", ev.Seq, ev.CreatedAt, ev.Type)
			if ev.Phase != nil {
				fmt.Fprintf(&sb, "  p%d", *ev.Phase)
			}
			if ev.Iteration != nil {
				fmt.Fprintf(&sb, " i%d", *ev.Iteration)
			}
		}
	}
	return sb.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <plan.md>",
		Short: "Show the latest run for a plan",
		Long: `Show the latest run for a plan: lifecycle status, current phase,
token/cost totals, and optionally the tail of the run journal.

Example:
  planloop status ./plans/feature.md
  planloop status ./plans/feature.md --events 20 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "inspect a specific run id instead of the latest")
	cmd.Flags().IntVar(&opts.Events, "events", 0, "include the last N journal events")

	return cmd
}

func runStatus(opts *StatusOptions, planArg string, cmd *cobra.Command) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	store, err := runstore.Open(cfg.DBPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "opening run database", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	var run *runstore.Run
	if opts.RunID != "" {
		run, err = store.GetRun(ctx, opts.RunID)
	} else {
		var plan string
		plan, err = planpath.Canonical(planArg)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid plan path", err)
		}
		run, err = store.LatestRunForPlan(ctx, plan)
	}
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return NewExitError(ExitCommandError, "no runs recorded for this plan")
		}
		return WrapExitError(ExitCommandError, "reading run", err)
	}

	tokensIn, tokensOut, cost, err := store.RunTotals(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading run totals", err)
	}

	report := statusReport{
		RunID:     run.ID,
		Plan:      run.PlanPath,
		Status:    string(run.Status),
		Phase:     run.CurrentPhase,
		State:     run.State,
		StartedAt: run.StartedAt.Format(time.RFC3339),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   cost,
	}
	if run.CompletedAt != nil {
		report.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}

	if opts.Events > 0 {
		events, err := store.ListRunEvents(ctx, run.ID, opts.Events)
		if err != nil {
			return WrapExitError(ExitCommandError, "reading run journal", err)
		}
		for _, ev := range events {
			report.Events = append(report.Events, eventReport{
				Seq:       ev.Seq,
				Type:      ev.Type,
				Phase:     ev.Phase,
				Iteration: ev.Iteration,
				CreatedAt: ev.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(report)
}
