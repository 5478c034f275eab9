package loop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/planloop/planloop/internal/agent"
	"github.com/planloop/planloop/internal/config"
	"github.com/planloop/planloop/internal/console"
	"github.com/planloop/planloop/internal/lockfile"
	"github.com/planloop/planloop/internal/runstore"
)

// ErrAborted is returned when the run stops on a human decision or a
// cancellation signal rather than a failure.
var ErrAborted = errors.New("run aborted")

// ErrMaxIterations is returned when a phase exhausts its review iterations
// without reaching a ready verdict.
var ErrMaxIterations = errors.New("iteration cap reached")

// Step template names recorded in agent results.
const (
	templateImplement = "implement"
	templateReview    = "review"
)

// Invoker is the agent adapter surface the loop drives.
type Invoker interface {
	Invoke(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// Options wires a Loop. Store, Config, and Invoker are required; the rest
// default to unattended no-op behavior.
type Options struct {
	Config  *config.Config
	Store   *runstore.Store
	Invoker Invoker
	Console console.Controller
	Gate    Gate
	Prompts Prompts
	Quality QualityRunner
	Logger  *slog.Logger

	// Workdir is where agents and quality gates run, unless the plan has a
	// worktree association in the store.
	Workdir string
}

// Loop executes plan runs.
type Loop struct {
	cfg     *config.Config
	store   *runstore.Store
	invoker Invoker
	console console.Controller
	gate    Gate
	prompts Prompts
	quality QualityRunner
	logger  *slog.Logger
	workdir string
}

// New returns a Loop with defaults applied.
func New(opts Options) *Loop {
	if opts.Console == nil {
		opts.Console = console.NewDisabled()
	}
	if opts.Gate == nil {
		opts.Gate = DenyGate{}
	}
	if opts.Prompts == nil {
		opts.Prompts = DefaultPrompts{}
	}
	if opts.Quality == nil {
		opts.Quality = ShellRunner{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		cfg:     opts.Config,
		store:   opts.Store,
		invoker: opts.Invoker,
		console: opts.Console,
		gate:    opts.Gate,
		prompts: opts.Prompts,
		quality: opts.Quality,
		logger:  opts.Logger,
		workdir: opts.Workdir,
	}
}

// LockPath is where the plan-scoped lock lives for the given plan.
func (l *Loop) LockPath(planPath string) string {
	sum := sha256.Sum256([]byte(planPath))
	return filepath.Join(l.cfg.StateDir, "locks", hex.EncodeToString(sum[:8])+".lock")
}

// Start begins a fresh run over planPath with the given phase count and
// drives it to a terminal status. planPath must already be canonical.
func (l *Loop) Start(ctx context.Context, planPath string, phases int, lock *lockfile.Lock) (string, error) {
	if lock != nil {
		defer lock.Release()
	}

	runID := uuid.Must(uuid.NewV7()).String()
	run := runstore.Run{
		ID:        runID,
		PlanPath:  planPath,
		Command:   "run",
		Status:    runstore.RunActive,
		StartedAt: time.Now(),
	}
	if err := l.store.CreateRun(ctx, run); err != nil {
		return "", err
	}
	l.journal(ctx, runID, "run_started", nil, nil, map[string]any{"plan": planPath, "phases": phases})

	return runID, l.execute(ctx, runID, planPath, 1, phases)
}

// Resume picks up the latest active run for planPath at the phase it
// stopped in. Completed steps are skipped via the store's resume queries.
func (l *Loop) Resume(ctx context.Context, planPath string, phases int, lock *lockfile.Lock) (string, error) {
	if lock != nil {
		defer lock.Release()
	}

	run, err := l.store.LatestRunForPlan(ctx, planPath)
	if err != nil {
		if errors.Is(err, runstore.ErrNotFound) {
			return "", fmt.Errorf("no run to resume for %s", planPath)
		}
		return "", err
	}
	if run.Status != runstore.RunActive {
		return "", fmt.Errorf("latest run %s is %s, nothing to resume", run.ID, run.Status)
	}

	fromPhase := run.CurrentPhase
	if fromPhase < 1 {
		fromPhase = 1
	}
	l.journal(ctx, run.ID, "run_resumed", &fromPhase, nil, nil)

	return run.ID, l.execute(ctx, run.ID, planPath, fromPhase, phases)
}

// execute drives phases fromPhase..phases and records the terminal run
// status on every exit path.
func (l *Loop) execute(ctx context.Context, runID, planPath string, fromPhase, phases int) error {
	workdir := l.resolveWorkdir(ctx, planPath)

	for phase := fromPhase; phase <= phases; phase++ {
		if err := l.store.UpdateRunStatus(ctx, runID, runstore.RunActive, phase, "authoring"); err != nil {
			return err
		}
		l.journal(ctx, runID, "phase_started", &phase, nil, nil)
		l.console.ShowToast(fmt.Sprintf("phase %d started", phase))

		if err := l.runPhase(ctx, runID, planPath, workdir, phase); err != nil {
			l.finalize(ctx, runID, phase, err)
			return err
		}
		l.journal(ctx, runID, "phase_completed", &phase, nil, nil)
	}

	if err := l.store.UpdateRunStatus(ctx, runID, runstore.RunCompleted, phases, "done"); err != nil {
		return err
	}
	l.journal(ctx, runID, "run_completed", nil, nil, nil)
	l.console.ShowToast("run completed")
	return nil
}

// runPhase iterates author → quality → review until the reviewer is
// satisfied or the iteration budget runs out.
func (l *Loop) runPhase(ctx context.Context, runID, planPath, workdir string, phase int) error {
	iteration, err := l.resumeIteration(ctx, runID, phase)
	if err != nil {
		return err
	}

	var (
		corrections   []agent.VerdictItem
		qualityOutput string
	)
	for ; iteration < l.cfg.Loop.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return ErrAborted
		}

		// Author step: skipped when a resumed run already paid for it.
		done, err := l.store.HasCompletedStep(ctx, runID, runstore.RoleAuthor, phase, iteration, templateImplement)
		if err != nil {
			return err
		}
		if !done {
			prompt := l.prompts.Author(planPath, phase, corrections, qualityOutput)
			res, err := l.invokeStep(ctx, runID, workdir, prompt, runstore.RoleAuthor, phase, iteration)
			if err != nil {
				return err
			}
			switch {
			case res.Status == nil:
				return fmt.Errorf("author produced no status signal (log: %s)", res.LogPath)
			case res.Status.Status == agent.StatusFailed:
				return fmt.Errorf("author failed: %s", res.Status.Reason)
			case res.Status.Status == agent.StatusNeedsHuman:
				l.journal(ctx, runID, "needs_human", &phase, &iteration,
					map[string]any{"reason": res.Status.Reason})
				if !l.gate.Confirm(ctx, fmt.Sprintf("author needs input (%s); retry?", res.Status.Reason)) {
					return ErrAborted
				}
				continue // a fresh attempt under the next iteration number
			}
		}

		// Quality gates.
		baseAttempt, err := l.store.QualityAttemptCount(ctx, runID, phase)
		if err != nil {
			return err
		}
		output, err := l.runQualityGates(ctx, runID, phase, baseAttempt, workdir)
		if err != nil {
			return err
		}
		if output != "" {
			l.journal(ctx, runID, "quality_failed", &phase, &iteration, nil)
			if l.qualityBudgetSpent(baseAttempt) {
				return fmt.Errorf("quality gates still failing after %d attempts in phase %d",
					l.cfg.Loop.MaxQualityAttempts, phase)
			}
			qualityOutput = output
			corrections = nil
			continue
		}
		qualityOutput = ""
		if len(l.cfg.Quality.Commands) > 0 {
			l.journal(ctx, runID, "quality_passed", &phase, &iteration, nil)
		}

		// Review step.
		if err := l.store.UpdateRunStatus(ctx, runID, runstore.RunActive, phase, "reviewing"); err != nil {
			return err
		}
		res, err := l.invokeStep(ctx, runID, workdir, l.prompts.Review(planPath, phase),
			runstore.RoleReviewer, phase, iteration)
		if err != nil {
			return err
		}
		if res.Verdict == nil {
			return fmt.Errorf("reviewer produced no verdict signal (log: %s)", res.LogPath)
		}
		switch res.Verdict.Verdict {
		case agent.VerdictReady:
			l.journal(ctx, runID, "review_ready", &phase, &iteration, nil)
			return nil
		default:
			l.journal(ctx, runID, "review_corrections", &phase, &iteration,
				map[string]any{"verdict": res.Verdict.Verdict, "items": len(res.Verdict.Items)})
			if needsHuman(res.Verdict.Items) {
				if !l.gate.Confirm(ctx, "reviewer flagged items needing human input; continue?") {
					return ErrAborted
				}
			}
			corrections = res.Verdict.Items
		}
	}
	return fmt.Errorf("phase %d: %w", phase, ErrMaxIterations)
}

// invokeStep runs one agent invocation, records its AgentResult, and maps
// failures. The returned error is non-nil for failed invocations, protocol
// violations, and cancellations; journaling and upserting happen first so
// the record survives either way.
func (l *Loop) invokeStep(ctx context.Context, runID, workdir, prompt string, role runstore.Role, phase, iteration int) (*agent.Result, error) {
	shape := agent.ShapeStatus
	template := templateImplement
	if role == runstore.RoleReviewer {
		shape = agent.ShapeVerdict
		template = templateReview
	}

	res, invokeErr := l.invoker.Invoke(ctx, agent.Request{
		Prompt:    prompt,
		Workdir:   workdir,
		Timeout:   l.cfg.Agent.Timeout.Std(),
		Shape:     shape,
		Role:      string(role),
		Phase:     phase,
		Iteration: iteration,
		LogDir:    l.cfg.LogDir(),
	})
	if res == nil {
		return nil, invokeErr
	}

	if res.SessionID != "" {
		l.console.SelectSession(res.SessionID)
	}
	// The row must survive even when the invocation ended by cancellation.
	if err := l.recordResult(context.WithoutCancel(ctx), runID, role, phase, iteration, template, res); err != nil {
		return nil, err
	}

	switch {
	case invokeErr != nil:
		return res, invokeErr
	case res.Canceled:
		return res, ErrAborted
	case res.Failed():
		l.journal(ctx, runID, "agent_failed", &phase, &iteration,
			map[string]any{"role": role, "failure": res.Failure})
		return res, fmt.Errorf("%s invocation failed: %s", role, res.Failure)
	}
	return res, nil
}

// recordResult upserts the AgentResult row for one invocation.
func (l *Loop) recordResult(ctx context.Context, runID string, role runstore.Role, phase, iteration int, template string, res *agent.Result) error {
	row := runstore.AgentResult{
		ID:         uuid.NewString(),
		RunID:      runID,
		Role:       role,
		Phase:      phase,
		Iteration:  iteration,
		Template:   template,
		ExitKind:   exitKind(res),
		DurationMS: res.DurationMS,
		TokensIn:   res.TokensIn,
		TokensOut:  res.TokensOut,
		CostUSD:    res.CostUSD,
		SessionID:  res.SessionID,
		LogPath:    res.LogPath,
	}
	switch {
	case res.Status != nil:
		row.SignalType = "status"
		row.Signal, _ = json.Marshal(res.Status)
	case res.Verdict != nil:
		row.SignalType = "verdict"
		row.Signal, _ = json.Marshal(res.Verdict)
	}
	return l.store.UpsertAgentResult(ctx, row)
}

// resumeIteration picks the iteration a resumed phase continues at: after
// the last recorded one when its review already concluded, at it otherwise.
func (l *Loop) resumeIteration(ctx context.Context, runID string, phase int) (int, error) {
	last, err := l.store.MaxIterationForPhase(ctx, runID, phase)
	if err != nil {
		return 0, err
	}
	if last < 0 {
		return 0, nil
	}
	reviewed, err := l.store.HasCompletedStep(ctx, runID, runstore.RoleReviewer, phase, last, templateReview)
	if err != nil {
		return 0, err
	}
	if reviewed {
		return last + 1, nil
	}
	return last, nil
}

func (l *Loop) qualityBudgetSpent(baseAttempt int) bool {
	commands := len(l.cfg.Quality.Commands)
	if commands == 0 {
		return false
	}
	// baseAttempt counts rows; one failing round writes at most `commands`.
	return baseAttempt/commands+1 >= l.cfg.Loop.MaxQualityAttempts
}

// finalize stamps the terminal run status for a failed or aborted run. It
// must still write when the cause is the cancellation itself.
func (l *Loop) finalize(ctx context.Context, runID string, phase int, cause error) {
	ctx = context.WithoutCancel(ctx)
	status := runstore.RunFailed
	state := "failed"
	if errors.Is(cause, ErrAborted) || errors.Is(cause, context.Canceled) {
		status = runstore.RunAborted
		state = "aborted"
	}
	if err := l.store.UpdateRunStatus(ctx, runID, status, phase, state); err != nil {
		l.logger.Error("recording terminal run status failed", "run", runID, "error", err)
	}
	l.journal(ctx, runID, "run_"+state, &phase, nil, map[string]any{"cause": cause.Error()})
}

// journal appends one run event, best-effort: a journaling failure is
// logged, never allowed to fail the step it describes.
func (l *Loop) journal(ctx context.Context, runID, eventType string, phase, iteration *int, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	_, err := l.store.AppendRunEvent(ctx, runstore.RunEvent{
		RunID:     runID,
		Type:      eventType,
		Phase:     phase,
		Iteration: iteration,
		Payload:   raw,
	})
	if err != nil {
		l.logger.Warn("journal write failed", "run", runID, "event", eventType, "error", err)
	}
}

// resolveWorkdir prefers the plan's recorded worktree over the default
// working directory.
func (l *Loop) resolveWorkdir(ctx context.Context, planPath string) string {
	wt, err := l.store.GetPlanWorktree(ctx, planPath)
	if err == nil && wt.WorktreePath != "" {
		return wt.WorktreePath
	}
	return l.workdir
}

func needsHuman(items []agent.VerdictItem) bool {
	for _, item := range items {
		if item.Action == agent.ActionHumanRequired {
			return true
		}
	}
	return false
}

func exitKind(res *agent.Result) runstore.ExitKind {
	switch {
	case res.TimedOut:
		return runstore.ExitTimeout
	case res.Canceled:
		return runstore.ExitCanceled
	case res.Failed():
		return runstore.ExitFailed
	}
	return runstore.ExitCompleted
}
