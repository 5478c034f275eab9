package runstore

import (
	"context"
	"encoding/json"
	"testing"
)

func TestUpdateRunStatus_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	runID := createTestRun(t, s)

	if err := s.UpdateRunStatus(ctx, runID, RunActive, 2, "reviewing"); err != nil {
		t.Fatalf("UpdateRunStatus() failed: %v", err)
	}
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if run.CurrentPhase != 2 || run.State != "reviewing" {
		t.Errorf("run = phase %d state %q, want phase 2 state \"reviewing\"", run.CurrentPhase, run.State)
	}
	if run.CompletedAt != nil {
		t.Error("active run must not have completed_at")
	}

	if err := s.UpdateRunStatus(ctx, runID, RunCompleted, 2, "done"); err != nil {
		t.Fatalf("UpdateRunStatus(completed) failed: %v", err)
	}
	run, err = s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun() failed: %v", err)
	}
	if run.Status != RunCompleted || run.CompletedAt == nil {
		t.Errorf("terminal run = status %q completed_at %v", run.Status, run.CompletedAt)
	}
}

func TestUpdateRunStatus_UnknownRun(t *testing.T) {
	s := createTestStore(t)

	err := s.UpdateRunStatus(context.Background(), "missing", RunFailed, 0, "")
	if err == nil {
		t.Error("expected error for unknown run id")
	}
}

func TestAppendRunEvent_SequencesPerInsertion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	runID := createTestRun(t, s)

	phase := 1
	var last int64
	for i := 0; i < 5; i++ {
		seq, err := s.AppendRunEvent(ctx, RunEvent{
			RunID:   runID,
			Type:    "phase_started",
			Phase:   &phase,
			Payload: json.RawMessage(`{"note":"x"}`),
		})
		if err != nil {
			t.Fatalf("AppendRunEvent() %d failed: %v", i, err)
		}
		if seq <= last {
			t.Errorf("seq %d not strictly increasing after %d", seq, last)
		}
		last = seq
	}
}

func TestAppendRunEvent_ForeignKeyEnforced(t *testing.T) {
	s := createTestStore(t)

	_, err := s.AppendRunEvent(context.Background(), RunEvent{RunID: "no-such-run", Type: "x"})
	if err == nil {
		t.Error("expected foreign key violation for unknown run")
	}
}

func TestUpsertAgentResult_ReplacesOnNaturalKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	runID := createTestRun(t, s)

	first := testAgentResult(runID, RoleAuthor, 1, 0)
	if err := s.UpsertAgentResult(ctx, first); err != nil {
		t.Fatalf("first UpsertAgentResult() failed: %v", err)
	}

	second := testAgentResult(runID, RoleAuthor, 1, 0)
	second.ExitKind = ExitFailed
	second.LogPath = "/logs/b.ndjson"
	if err := s.UpsertAgentResult(ctx, second); err != nil {
		t.Fatalf("second UpsertAgentResult() failed: %v", err)
	}

	// Never two rows for one natural key.
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM agent_results
		WHERE run_id = ? AND role = 'author' AND phase = 1 AND iteration = 0 AND template = 'implement'
	`, runID).Scan(&count)
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("agent_results rows = %d, want 1", count)
	}

	// The replacement overwrote everything, identity included.
	got, err := s.GetAgentResult(ctx, runID, RoleAuthor, 1, 0, "implement")
	if err != nil {
		t.Fatalf("GetAgentResult() failed: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("id = %q, want replacement id %q", got.ID, second.ID)
	}
	if got.ID == first.ID {
		t.Error("identity field of prior attempt survived the upsert")
	}
	if got.ExitKind != ExitFailed || got.LogPath != "/logs/b.ndjson" {
		t.Errorf("row not fully replaced: %+v", got)
	}
}

func TestUpsertQualityResult_ReplacesOnAttemptKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	runID := createTestRun(t, s)

	q := QualityResult{RunID: runID, Phase: 1, Attempt: 0, Command: "go test ./...", ExitCode: 1}
	if err := s.UpsertQualityResult(ctx, q); err != nil {
		t.Fatalf("first UpsertQualityResult() failed: %v", err)
	}
	q.ExitCode = 0
	q.Passed = true
	if err := s.UpsertQualityResult(ctx, q); err != nil {
		t.Fatalf("second UpsertQualityResult() failed: %v", err)
	}

	var count, passed int
	err := s.db.QueryRow(`
		SELECT COUNT(*), MAX(passed) FROM quality_results WHERE run_id = ? AND phase = 1 AND attempt = 0
	`, runID).Scan(&count, &passed)
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 || passed != 1 {
		t.Errorf("rows = %d passed = %d, want 1 and 1", count, passed)
	}
}

func TestUpsertPlanWorktree_OmitPreservesEmptyClears(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	plan := "/work/plans/feature.md"

	wt := "/work/trees/feature"
	branch := "feature-branch"
	if err := s.UpsertPlanWorktree(ctx, plan, WorktreeUpdate{WorktreePath: &wt, Branch: &branch}); err != nil {
		t.Fatalf("initial upsert failed: %v", err)
	}

	// Omitted fields (nil) preserve stored values.
	newBranch := "feature-branch-2"
	if err := s.UpsertPlanWorktree(ctx, plan, WorktreeUpdate{Branch: &newBranch}); err != nil {
		t.Fatalf("preserve upsert failed: %v", err)
	}
	got, err := s.GetPlanWorktree(ctx, plan)
	if err != nil {
		t.Fatalf("GetPlanWorktree() failed: %v", err)
	}
	if got.WorktreePath != wt {
		t.Errorf("omitted worktree path changed: %q", got.WorktreePath)
	}
	if got.Branch != newBranch {
		t.Errorf("branch = %q, want %q", got.Branch, newBranch)
	}

	// Explicit empty string clears.
	empty := ""
	if err := s.UpsertPlanWorktree(ctx, plan, WorktreeUpdate{WorktreePath: &empty}); err != nil {
		t.Fatalf("clear upsert failed: %v", err)
	}
	got, err = s.GetPlanWorktree(ctx, plan)
	if err != nil {
		t.Fatalf("GetPlanWorktree() failed: %v", err)
	}
	if got.WorktreePath != "" {
		t.Errorf("worktree path not cleared: %q", got.WorktreePath)
	}
	if got.Branch != newBranch {
		t.Errorf("clearing one field must not touch the other: %q", got.Branch)
	}
}
