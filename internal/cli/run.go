package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/planloop/planloop/internal/agent"
	"github.com/planloop/planloop/internal/arbiter"
	"github.com/planloop/planloop/internal/config"
	"github.com/planloop/planloop/internal/console"
	"github.com/planloop/planloop/internal/lockfile"
	"github.com/planloop/planloop/internal/loop"
	"github.com/planloop/planloop/internal/planpath"
	"github.com/planloop/planloop/internal/render"
	"github.com/planloop/planloop/internal/runstore"
)

// RunOptions holds flags for the run and resume commands.
type RunOptions struct {
	*RootOptions
	Phases      int
	Permissions string
	Quiet       bool
	Gates       string // "prompt" | "auto" | "deny"
	Console     string // "disabled" | "owned"
	Worktree    string
	ReclaimLock bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.md>",
		Short: "Start a new run over a plan",
		Long: `Start a new run over a plan file.

Each phase invokes the author agent, runs the configured quality gates,
then invokes the reviewer agent, iterating on corrections until the
reviewer reports ready. All state is durable: an interrupted run can be
picked up with 'planloop resume'.

Example:
  planloop run ./plans/feature.md --phases 3
  planloop run ./plans/feature.md --permissions auto --quiet`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(opts, args[0], cmd, false)
		},
	}

	addRunFlags(cmd, opts)
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *RunOptions) {
	cmd.Flags().IntVar(&opts.Phases, "phases", 1, "number of plan phases to execute")
	cmd.Flags().StringVar(&opts.Permissions, "permissions", "", "permission mode (auto|tui|workdir)")
	cmd.Flags().BoolVar(&opts.Quiet, "quiet", false, "suppress console rendering (logs are kept regardless)")
	cmd.Flags().StringVar(&opts.Gates, "gates", "prompt", "human gate behavior (prompt|auto|deny)")
	cmd.Flags().StringVar(&opts.Console, "console", "disabled", "console mode (disabled|owned)")
	cmd.Flags().StringVar(&opts.Worktree, "worktree", "", "record a worktree for this plan and run agents there")
	cmd.Flags().BoolVar(&opts.ReclaimLock, "reclaim-lock", false, "take over a lock left by a dead process")
}

// executeRun is the shared driver behind run and resume.
func executeRun(opts *RunOptions, planArg string, cmd *cobra.Command, resume bool) error {
	plan, err := planpath.Canonical(planArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid plan path", err)
	}

	cfg, err := config.Load(configOverrides(opts))
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	for _, dir := range []string{cfg.StateDir, cfg.LogDir(), filepath.Dir(cfg.DBPath())} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "creating state directory", err)
		}
	}

	store, err := runstore.Open(cfg.DBPath())
	if err != nil {
		return WrapExitError(ExitCommandError, "opening run database", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("error closing run database", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	workdir, err := resolveWorkdir(ctx, store, plan, opts.Worktree)
	if err != nil {
		return WrapExitError(ExitCommandError, "resolving working directory", err)
	}

	ctrl, err := buildConsole(opts.Console, cancel)
	if err != nil {
		return WrapExitError(ExitCommandError, "starting console", err)
	}
	defer ctrl.Kill()

	var out *render.Writer
	if !cfg.Quiet && !ctrl.Active() {
		out = render.NewWriter(cmd.OutOrStdout(), render.DetectWidth(os.Stdout))
	}

	adapter := agent.New(agent.Options{
		Command:       cfg.Agent.Command,
		Model:         cfg.Agent.Model,
		Grace:         cfg.Agent.Grace.Std(),
		Drain:         cfg.Agent.Drain.Std(),
		Policy:        buildPolicy(cfg.Permissions, workdir),
		Out:           out,
		ShowReasoning: cfg.ShowReasoning,
	})

	lp := loop.New(loop.Options{
		Config:  cfg,
		Store:   store,
		Invoker: adapter,
		Console: ctrl,
		Gate:    buildGate(opts.Gates, cmd),
		Workdir: workdir,
	})

	lock, err := acquireLock(lp.LockPath(plan), opts.ReclaimLock)
	if err != nil {
		return err
	}

	var runID string
	if resume {
		runID, err = lp.Resume(ctx, plan, opts.Phases, lock)
	} else {
		runID, err = lp.Start(ctx, plan, opts.Phases, lock)
	}
	if err != nil {
		if errors.Is(err, loop.ErrAborted) {
			return WrapExitError(ExitFailure, fmt.Sprintf("run %s aborted", runID), err)
		}
		return WrapExitError(ExitFailure, "run failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(map[string]string{"run_id": runID, "status": "completed"})
}

func configOverrides(opts *RunOptions) *config.Config {
	overrides := &config.Config{Quiet: opts.Quiet}
	if opts.Permissions != "" {
		overrides.Permissions = config.PermissionMode(opts.Permissions)
	}
	return overrides
}

// signalContext cancels on interrupt or termination, once per signal
// delivery; repeated signals are safe.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, aborting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

// resolveWorkdir records a newly requested worktree, then prefers the
// stored association over the current directory.
func resolveWorkdir(ctx context.Context, store *runstore.Store, plan, worktreeFlag string) (string, error) {
	if worktreeFlag != "" {
		abs, err := filepath.Abs(worktreeFlag)
		if err != nil {
			return "", err
		}
		if err := store.UpsertPlanWorktree(ctx, plan, runstore.WorktreeUpdate{WorktreePath: &abs}); err != nil {
			return "", err
		}
		return abs, nil
	}
	if wt, err := store.GetPlanWorktree(ctx, plan); err == nil && wt.WorktreePath != "" {
		return wt.WorktreePath, nil
	}
	return os.Getwd()
}

func buildPolicy(mode config.PermissionMode, workdir string) arbiter.Policy {
	switch mode {
	case config.PermAuto:
		return arbiter.AutoApprove{}
	case config.PermTUI:
		return arbiter.TUINative{}
	default:
		return arbiter.WorkdirScoped{Root: workdir}
	}
}

func buildGate(mode string, cmd *cobra.Command) loop.Gate {
	switch mode {
	case "auto":
		return loop.AutoGate{}
	case "deny":
		return loop.DenyGate{}
	default:
		return loop.PromptGate{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
	}
}

// buildConsole wires the requested console mode. An owned viewer's exit
// cancels the run; the disabled controller's immediate exit must not.
func buildConsole(mode string, cancel context.CancelFunc) (console.Controller, error) {
	switch mode {
	case "owned":
		exe, err := os.Executable()
		if err != nil {
			return nil, err
		}
		ctrl, err := console.NewOwned([]string{exe, "attach"}, nil)
		if err != nil {
			return nil, err
		}
		go func() {
			code := <-ctrl.OnExit()
			slog.Info("console viewer exited, aborting run", "code", code)
			cancel()
		}()
		return ctrl, nil
	case "disabled", "":
		return console.NewDisabled(), nil
	default:
		return nil, fmt.Errorf("unknown console mode %q (want disabled or owned)", mode)
	}
}

// acquireLock serializes runs over one plan, with an explicit opt-in for
// reclaiming locks left by dead processes.
func acquireLock(path string, reclaim bool) (*lockfile.Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "creating lock directory", err)
	}
	lock, err := lockfile.Acquire(path)
	if err == nil {
		return lock, nil
	}
	var held *lockfile.HeldError
	if errors.As(err, &held) && held.Stale {
		if reclaim {
			return lockfile.Reclaim(path)
		}
		return nil, NewExitError(ExitCommandError, fmt.Sprintf(
			"plan lock is held by dead process %d; rerun with --reclaim-lock to take it over", held.PID))
	}
	if errors.As(err, &held) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf(
			"plan is already being run by process %d", held.PID))
	}
	return nil, WrapExitError(ExitCommandError, "acquiring plan lock", err)
}
