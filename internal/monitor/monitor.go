// Package monitor renders a live terminal dashboard of rollout, eval, and
// train progress across training iterations. Grounded on internal/tui's
// Bubble Tea Model (Init/Update/View, tea.WindowSizeMsg handling, a
// channel-fed external event stream pumped through a recurring tea.Cmd),
// generalized from "render one poker hand" to "render one training
// iteration's stage progress".
package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"

	"github.com/lox/alphatrain/internal/trainer"
)

// Stage identifies which phase of an iteration an Event describes.
type Stage string

const (
	StageRollout Stage = "rollout"
	StageLearn   Stage = "learn"
	StageEval    Stage = "eval"
)

// Event is one progress update the dashboard renders a line for.
type Event struct {
	Iteration int
	Stage     Stage

	// Opponent is set for StageRollout/StageEval.
	Opponent           string
	Wins, Losses, Ties int

	// Train is set for StageLearn.
	Train *trainer.Event

	// Done marks the iteration as fully finished.
	Done bool
	Err  error
}

func (e Event) line() string {
	switch e.Stage {
	case StageRollout, StageEval:
		return fmt.Sprintf("iter %-4d %-8s vs %-12s  W:%-3d L:%-3d T:%-3d",
			e.Iteration, e.Stage, e.Opponent, e.Wins, e.Losses, e.Ties)
	case StageLearn:
		if e.Train == nil {
			return fmt.Sprintf("iter %-4d learn", e.Iteration)
		}
		switch e.Train.Kind {
		case trainer.EventStart:
			return fmt.Sprintf("iter %-4d learn     starting, %d batches", e.Iteration, e.Train.NumBatches)
		case trainer.EventBatch:
			return fmt.Sprintf("iter %-4d learn     batch %-5d loss=%.4f", e.Iteration, e.Train.Index, e.Train.Loss)
		case trainer.EventEpoch:
			return fmt.Sprintf("iter %-4d learn     epoch %-5d loss=%.4f", e.Iteration, e.Train.Index, e.Train.Loss)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("iter %-4d ERROR: %v", e.Iteration, e.Err)
	}
	if e.Done {
		return fmt.Sprintf("iter %-4d complete", e.Iteration)
	}
	return fmt.Sprintf("iter %-4d", e.Iteration)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
)

type eventMsg Event
type eventsClosedMsg struct{}

// Model is the Bubble Tea model driving the dashboard.
type Model struct {
	logger *log.Logger
	events <-chan Event

	vp       viewport.Model
	lines    []string
	quitting bool

	width, height int
}

// New builds a Model that renders events arriving on ch until the channel
// closes or the user quits.
func New(logger *log.Logger, ch <-chan Event) *Model {
	vp := viewport.New(80, 20)
	return &Model{
		logger: logger.WithPrefix("monitor"),
		events: ch,
		vp:     vp,
	}
}

// Run starts the dashboard and blocks until it exits.
func Run(logger *log.Logger, ch <-chan Event) error {
	logger.SetColorProfile(termenv.TrueColor)
	m := New(logger, ch)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(ch <-chan Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = msg.Height - 2

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		ev := Event(msg)
		m.lines = append(m.lines, ev.line())
		m.vp.SetContent(strings.Join(m.lines, "\n"))
		m.vp.GotoBottom()
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	header := headerStyle.Render("alphatrain — self-play training monitor")
	return header + "\n" + m.vp.View()
}
