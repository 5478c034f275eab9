// Package tui is the interactive attach viewer: a live board of runs backed
// by the run store, with an event journal tail per run.
//
// It uses bubbletea's Elm-style model/update/view cycle. The viewer only
// reads the store; the headless runtime keeps writing it, and the board
// polls on a fixed interval to stay current.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/planloop/planloop/internal/runstore"
)

const (
	boardRefreshInterval = 3 * time.Second
	eventTailLimit       = 50
	runListLimit         = 50
)

// appState is which screen is showing.
type appState int

const (
	stateRuns   appState = iota // run board
	stateEvents                 // one run's journal tail
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	footStyle   = lipgloss.NewStyle().Faint(true).Padding(0, 1)
)

type refreshMsg struct {
	runs []runstore.Run
	err  error
}

type tailMsg struct {
	run       *runstore.Run
	events    []runstore.RunEvent
	tokensIn  int64
	tokensOut int64
	costUSD   float64
	err       error
}

type tickMsg time.Time

// runItem adapts a run row to the list component.
type runItem struct{ run runstore.Run }

func (i runItem) Title() string {
	return fmt.Sprintf("%s  %s", shortID(i.run.ID), i.run.Status)
}

func (i runItem) Description() string {
	return fmt.Sprintf("phase %d · %s · %s", i.run.CurrentPhase, i.run.State, i.run.PlanPath)
}

func (i runItem) FilterValue() string { return i.run.PlanPath }

// App is the viewer model: all state lives here.
type App struct {
	store *runstore.Store

	state    appState
	runList  list.Model
	selected *runstore.Run
	events   []runstore.RunEvent
	totals   string

	width  int
	height int
	err    error
}

// NewApp builds the viewer over an open store handle. The caller owns the
// handle's lifecycle.
func NewApp(store *runstore.Store) *App {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "planloop runs"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	return &App{store: store, runList: l}
}

// Run starts the viewer and blocks until it exits.
func Run(store *runstore.Store) error {
	_, err := tea.NewProgram(NewApp(store), tea.WithAltScreen()).Run()
	return err
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refreshCmd(), tick())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.runList.SetSize(msg.Width, msg.Height-2)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "esc":
			if a.state == stateEvents {
				a.state = stateRuns
				a.selected = nil
				return a, a.refreshCmd()
			}
			return a, tea.Quit
		case "enter":
			if a.state == stateRuns {
				if item, ok := a.runList.SelectedItem().(runItem); ok {
					a.state = stateEvents
					return a, a.tailCmd(item.run.ID)
				}
			}
			return a, nil
		}

	case refreshMsg:
		a.err = msg.err
		if msg.err == nil {
			items := make([]list.Item, len(msg.runs))
			for i, run := range msg.runs {
				items[i] = runItem{run: run}
			}
			a.runList.SetItems(items)
		}
		return a, nil

	case tailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.selected = msg.run
			a.events = msg.events
			a.totals = fmt.Sprintf("%d in / %d out tokens · $%.4f",
				msg.tokensIn, msg.tokensOut, msg.costUSD)
		}
		return a, nil

	case tickMsg:
		cmds := []tea.Cmd{tick()}
		if a.state == stateEvents && a.selected != nil {
			cmds = append(cmds, a.tailCmd(a.selected.ID))
		} else {
			cmds = append(cmds, a.refreshCmd())
		}
		return a, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	a.runList, cmd = a.runList.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	if a.state == stateEvents && a.selected != nil {
		return a.eventView()
	}
	view := a.runList.View()
	if a.err != nil {
		view += "\n" + errStyle.Render(a.err.Error())
	}
	return view + "\n" + footStyle.Render("enter: journal · q: quit")
}

func (a *App) eventView() string {
	var sb strings.Builder
	header := fmt.Sprintf("run %s · %s · phase %d",
		shortID(a.selected.ID), a.selected.Status, a.selected.CurrentPhase)
	sb.WriteString(titleStyle.Render(header))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(a.totals))
	sb.WriteString("\n\n")

	visible := a.events
	if max := a.height - 6; max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}
	for _, ev := range visible {
		line := fmt.Sprintf("%5d  %s  %s", ev.Seq, ev.CreatedAt.Format("15:04:05"), ev.Type)
		if ev.Phase != nil {
			line += fmt.Sprintf("  p%d", *ev.Phase)
		}
		if ev.Iteration != nil {
			line += fmt.Sprintf(" i%d", *ev.Iteration)
		}
		if a.selected.Status == runstore.RunActive {
			sb.WriteString(activeStyle.Render(line))
		} else {
			sb.WriteString(line)
		}
		sb.WriteString("\n")
	}
	if a.err != nil {
		sb.WriteString(errStyle.Render(a.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(footStyle.Render("esc: back · q: quit"))
	return sb.String()
}

func (a *App) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		runs, err := a.store.ListRuns(context.Background(), runListLimit)
		return refreshMsg{runs: runs, err: err}
	}
}

func (a *App) tailCmd(runID string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		run, err := a.store.GetRun(ctx, runID)
		if err != nil {
			return tailMsg{err: err}
		}
		events, err := a.store.ListRunEvents(ctx, runID, eventTailLimit)
		if err != nil {
			return tailMsg{err: err}
		}
		in, out, cost, err := a.store.RunTotals(ctx, runID)
		if err != nil {
			return tailMsg{err: err}
		}
		return tailMsg{run: run, events: events, tokensIn: in, tokensOut: out, costUSD: cost}
	}
}

func tick() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
