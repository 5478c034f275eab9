package tui

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloop/planloop/internal/runstore"
)

func seededStore(t *testing.T) (*runstore.Store, string) {
	t.Helper()
	store, err := runstore.Open(filepath.Join(t.TempDir(), "planloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	runID := "0192aaaa-bbbb-cccc-dddd-eeeeffff0001"
	require.NoError(t, store.CreateRun(ctx, runstore.Run{
		ID: runID, PlanPath: "/work/plans/feature.md", Command: "run",
		Status: runstore.RunActive, CurrentPhase: 2, State: "reviewing",
		StartedAt: time.Now(),
	}))
	phase := 2
	for _, typ := range []string{"run_started", "phase_started", "review_corrections"} {
		_, err := store.AppendRunEvent(ctx, runstore.RunEvent{RunID: runID, Type: typ, Phase: &phase})
		require.NoError(t, err)
	}
	require.NoError(t, store.UpsertAgentResult(ctx, runstore.AgentResult{
		ID: "r1", RunID: runID, Role: runstore.RoleAuthor, Phase: 2, Iteration: 0,
		Template: "implement", ExitKind: runstore.ExitCompleted,
		TokensIn: 120, TokensOut: 60, CostUSD: 0.03,
	}))
	return store, runID
}

// drive executes a command synchronously and feeds its message back.
func drive(t *testing.T, app *App, cmd tea.Cmd) *App {
	t.Helper()
	if cmd == nil {
		return app
	}
	model, _ := app.Update(cmd())
	return model.(*App)
}

func TestApp_RunBoardShowsRuns(t *testing.T) {
	store, _ := seededStore(t)
	app := NewApp(store)

	model, _ := app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	app = model.(*App)
	app = drive(t, app, app.refreshCmd())

	view := app.View()
	assert.Contains(t, view, "0192aaaa")
	assert.Contains(t, view, "active")
	assert.Contains(t, view, "/work/plans/feature.md")
}

func TestApp_EnterOpensJournalTail(t *testing.T) {
	store, runID := seededStore(t)
	app := NewApp(store)

	model, _ := app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	app = model.(*App)
	app = drive(t, app, app.refreshCmd())

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	app = model.(*App)
	require.Equal(t, stateEvents, app.state)
	app = drive(t, app, cmd)

	require.NotNil(t, app.selected)
	assert.Equal(t, runID, app.selected.ID)

	view := app.View()
	assert.Contains(t, view, "review_corrections")
	assert.Contains(t, view, "120 in / 60 out tokens")
	assert.Contains(t, view, "p2")
}

func TestApp_EscReturnsToBoard(t *testing.T) {
	store, _ := seededStore(t)
	app := NewApp(store)
	app = drive(t, app, app.refreshCmd())

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	app = drive(t, model.(*App), cmd)
	require.Equal(t, stateEvents, app.state)

	model, _ = app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	app = model.(*App)
	assert.Equal(t, stateRuns, app.state)
	assert.Nil(t, app.selected)
}

func TestApp_QuitKeys(t *testing.T) {
	store, _ := seededStore(t)
	app := NewApp(store)

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestApp_TickRefreshesCurrentScreen(t *testing.T) {
	store, _ := seededStore(t)
	app := NewApp(store)

	_, cmd := app.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
}
