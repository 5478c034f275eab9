package runstore

import (
	"context"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// CreateRun inserts a new run row. The caller supplies the id (UUIDv7) and
// the canonical plan path.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	if run.Status == "" {
		run.Status = RunActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, plan_path, command, status, current_phase, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.PlanPath,
		run.Command,
		string(run.Status),
		run.CurrentPhase,
		run.State,
		run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRunStatus is the single mutation point for a run's lifecycle:
// status, current phase and state label move together. A terminal status
// stamps completed_at.
func (s *Store) UpdateRunStatus(ctx context.Context, runID string, status RunStatus, phase int, state string) error {
	var completedAt any
	if status == RunCompleted || status == RunAborted || status == RunFailed {
		completedAt = time.Now().UTC().Format(timeLayout)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, current_phase = ?, state = ?,
		    completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, string(status), phase, state, completedAt, runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update run status: run %s not found", runID)
	}
	return nil
}

// AppendRunEvent appends one journal entry and returns its sequence number.
// Events are write-once; there is no update or delete path.
func (s *Store) AppendRunEvent(ctx context.Context, ev RunEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, type, phase, iteration, payload)
		VALUES (?, ?, ?, ?, ?)
	`,
		ev.RunID,
		ev.Type,
		nullableInt(ev.Phase),
		nullableInt(ev.Iteration),
		nullableJSON(ev.Payload),
	)
	if err != nil {
		return 0, fmt.Errorf("append run event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append run event: %w", err)
	}
	return seq, nil
}

// UpsertAgentResult records an invocation outcome. On natural-key conflict
// the whole row is replaced, id included, so the log/artifact pointer always
// tracks the latest attempt of the logical step.
func (s *Store) UpsertAgentResult(ctx context.Context, r AgentResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_results
		(id, run_id, role, phase, iteration, template, exit_kind, duration_ms,
		 tokens_in, tokens_out, cost_usd, signal_type, signal, log_path, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, role, phase, iteration, template) DO UPDATE SET
			id          = excluded.id,
			exit_kind   = excluded.exit_kind,
			duration_ms = excluded.duration_ms,
			tokens_in   = excluded.tokens_in,
			tokens_out  = excluded.tokens_out,
			cost_usd    = excluded.cost_usd,
			signal_type = excluded.signal_type,
			signal      = excluded.signal,
			log_path    = excluded.log_path,
			session_id  = excluded.session_id,
			created_at  = excluded.created_at
	`,
		r.ID,
		r.RunID,
		string(r.Role),
		r.Phase,
		r.Iteration,
		r.Template,
		string(r.ExitKind),
		r.DurationMS,
		r.TokensIn,
		r.TokensOut,
		r.CostUSD,
		r.SignalType,
		nullableJSON(r.Signal),
		r.LogPath,
		r.SessionID,
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert agent result: %w", err)
	}
	return nil
}

// UpsertQualityResult records a quality-gate attempt with the same
// replace-on-conflict semantics as UpsertAgentResult.
func (s *Store) UpsertQualityResult(ctx context.Context, r QualityResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quality_results
		(run_id, phase, attempt, command, exit_code, passed, output, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, phase, attempt) DO UPDATE SET
			command     = excluded.command,
			exit_code   = excluded.exit_code,
			passed      = excluded.passed,
			output      = excluded.output,
			duration_ms = excluded.duration_ms,
			created_at  = excluded.created_at
	`,
		r.RunID,
		r.Phase,
		r.Attempt,
		r.Command,
		r.ExitCode,
		boolToInt(r.Passed),
		r.Output,
		r.DurationMS,
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert quality result: %w", err)
	}
	return nil
}

// UpsertPlanWorktree updates the plan's worktree association with
// field-level omit-versus-clear semantics: a nil pointer preserves the
// stored value, a pointer to "" erases it.
func (s *Store) UpsertPlanWorktree(ctx context.Context, planPath string, upd WorktreeUpdate) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_worktrees (plan_path, worktree_path, branch, updated_at)
		VALUES (?, COALESCE(?, ''), COALESCE(?, ''), ?)
		ON CONFLICT (plan_path) DO UPDATE SET
			worktree_path = COALESCE(?, plan_worktrees.worktree_path),
			branch        = COALESCE(?, plan_worktrees.branch),
			updated_at    = excluded.updated_at
	`,
		planPath,
		upd.WorktreePath,
		upd.Branch,
		now,
		upd.WorktreePath,
		upd.Branch,
	)
	if err != nil {
		return fmt.Errorf("upsert plan worktree: %w", err)
	}
	return nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
