package loop

import (
	"context"
	"os/exec"
	"time"

	"github.com/planloop/planloop/internal/runstore"
)

// maxQualityOutput bounds how much gate output is stored and fed back to
// the author.
const maxQualityOutput = 64 << 10

// QualityRunner executes one gate command in the working directory.
// Swapped for a fake in tests.
type QualityRunner interface {
	Run(ctx context.Context, command, workdir string) (exitCode int, output string, err error)
}

// ShellRunner runs gate commands through the shell.
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, command, workdir string) (int, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	if len(out) > maxQualityOutput {
		out = out[:maxQualityOutput]
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), string(out), nil
		}
		return -1, string(out), err
	}
	return 0, string(out), nil
}

// runQualityGates runs every configured gate command, recording one
// QualityResult per command. Attempt numbers continue from baseAttempt so
// resumed runs never collide with rows already recorded. Returns the first
// failing command's output, or "" when all gates pass.
func (l *Loop) runQualityGates(ctx context.Context, runID string, phase, baseAttempt int, workdir string) (string, error) {
	for i, command := range l.cfg.Quality.Commands {
		start := time.Now()
		code, output, err := l.quality.Run(ctx, command, workdir)
		if err != nil {
			return "", err
		}
		res := runstore.QualityResult{
			RunID:      runID,
			Phase:      phase,
			Attempt:    baseAttempt + i,
			Command:    command,
			ExitCode:   code,
			Passed:     code == 0,
			Output:     output,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err := l.store.UpsertQualityResult(ctx, res); err != nil {
			return "", err
		}
		if code != 0 {
			l.logger.Warn("quality gate failed", "command", command, "exit", code)
			return output, nil
		}
	}
	return "", nil
}
