package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

// createTestStore opens a fresh store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planloop.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun inserts a run and returns its id.
func createTestRun(t *testing.T, s *Store) string {
	t.Helper()
	id := uuid.Must(uuid.NewV7()).String()
	err := s.CreateRun(context.Background(), Run{
		ID:        id,
		PlanPath:  "/work/plans/feature.md",
		Command:   "run",
		Status:    RunActive,
		StartedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateRun() failed: %v", err)
	}
	return id
}

// testAgentResult builds a minimal result for the given step key.
func testAgentResult(runID string, role Role, phase, iteration int) AgentResult {
	return AgentResult{
		ID:        uuid.NewString(),
		RunID:     runID,
		Role:      role,
		Phase:     phase,
		Iteration: iteration,
		Template:  "implement",
		ExitKind:  ExitCompleted,
		TokensIn:  100,
		TokensOut: 50,
		CostUSD:   0.01,
		LogPath:   "/logs/a.ndjson",
	}
}
