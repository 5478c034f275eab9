package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by point lookups that match nothing.
var ErrNotFound = errors.New("not found")

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_path, command, status, current_phase, state, started_at, completed_at
		FROM runs WHERE id = ?
	`, runID)
	return scanRun(row)
}

// LatestRunForPlan fetches the most recently started run for a canonical
// plan path, or ErrNotFound.
func (s *Store) LatestRunForPlan(ctx context.Context, planPath string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_path, command, status, current_phase, state, started_at, completed_at
		FROM runs WHERE plan_path = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, planPath)
	return scanRun(row)
}

// ListRuns returns runs newest-first, up to limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_path, command, status, current_phase, state, started_at, completed_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// MaxIterationForPhase returns the highest iteration already recorded for
// (run, phase), or -1 when the phase has no results yet. The orchestration
// loop resumes at max+1.
func (s *Store) MaxIterationForPhase(ctx context.Context, runID string, phase int) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(iteration) FROM agent_results
		WHERE run_id = ? AND phase = ?
	`, runID, phase).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("max iteration: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// QualityAttemptCount returns how many quality-gate attempts are recorded
// for (run, phase).
func (s *Store) QualityAttemptCount(ctx context.Context, runID string, phase int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM quality_results
		WHERE run_id = ? AND phase = ?
	`, runID, phase).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("quality attempt count: %w", err)
	}
	return count, nil
}

// HasCompletedStep reports whether this exact logical step already ran to
// completion, letting resume skip a possibly side-effecting re-execution.
func (s *Store) HasCompletedStep(ctx context.Context, runID string, role Role, phase, iteration int, template string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_results
		WHERE run_id = ? AND role = ? AND phase = ? AND iteration = ? AND template = ?
		  AND exit_kind = ?
	`, runID, string(role), phase, iteration, template, string(ExitCompleted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has completed step: %w", err)
	}
	return count > 0, nil
}

// GetAgentResult fetches the current row for a logical step, or ErrNotFound.
func (s *Store) GetAgentResult(ctx context.Context, runID string, role Role, phase, iteration int, template string) (*AgentResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, role, phase, iteration, template, exit_kind, duration_ms,
		       tokens_in, tokens_out, cost_usd, signal_type, signal, log_path, session_id, created_at
		FROM agent_results
		WHERE run_id = ? AND role = ? AND phase = ? AND iteration = ? AND template = ?
	`, runID, string(role), phase, iteration, template)

	var r AgentResult
	var roleS, exitS, createdAt string
	var signal sql.NullString
	err := row.Scan(&r.ID, &r.RunID, &roleS, &r.Phase, &r.Iteration, &r.Template,
		&exitS, &r.DurationMS, &r.TokensIn, &r.TokensOut, &r.CostUSD,
		&r.SignalType, &signal, &r.LogPath, &r.SessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent result: %w", err)
	}
	r.Role = Role(roleS)
	r.ExitKind = ExitKind(exitS)
	if signal.Valid {
		r.Signal = json.RawMessage(signal.String)
	}
	r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &r, nil
}

// ListRunEvents returns the newest events for a run, most recent last,
// bounded by limit. Used to build resume prompts and diagnostics.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]RunEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, type, phase, iteration, payload, created_at
		FROM (
			SELECT seq, run_id, type, phase, iteration, payload, created_at
			FROM run_events WHERE run_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var phase, iteration sql.NullInt64
		var payload sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.Seq, &ev.RunID, &ev.Type, &phase, &iteration, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("list run events: %w", err)
		}
		if phase.Valid {
			p := int(phase.Int64)
			ev.Phase = &p
		}
		if iteration.Valid {
			i := int(iteration.Int64)
			ev.Iteration = &i
		}
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		ev.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RunTotals aggregates token and cost accounting across a run's results.
func (s *Store) RunTotals(ctx context.Context, runID string) (tokensIn, tokensOut int64, costUSD float64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost_usd), 0)
		FROM agent_results WHERE run_id = ?
	`, runID).Scan(&tokensIn, &tokensOut, &costUSD)
	if err != nil {
		err = fmt.Errorf("run totals: %w", err)
	}
	return tokensIn, tokensOut, costUSD, err
}

// GetPlanWorktree fetches the worktree association for a canonical plan
// path, or ErrNotFound.
func (s *Store) GetPlanWorktree(ctx context.Context, planPath string) (*PlanWorktree, error) {
	var wt PlanWorktree
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_path, worktree_path, branch, updated_at
		FROM plan_worktrees WHERE plan_path = ?
	`, planPath).Scan(&wt.PlanPath, &wt.WorktreePath, &wt.Branch, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan worktree: %w", err)
	}
	wt.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &wt, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var status, startedAt string
	var completedAt sql.NullString
	err := row.Scan(&r.ID, &r.PlanPath, &r.Command, &status, &r.CurrentPhase, &r.State, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.Status = RunStatus(status)
	r.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(timeLayout, completedAt.String)
		r.CompletedAt = &t
	}
	return &r, nil
}
