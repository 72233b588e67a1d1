package monitor

import (
	"io"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/trainer"
)

func quietLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func TestEventLineFormatsRolloutAndLearn(t *testing.T) {
	t.Parallel()
	rollout := Event{Iteration: 3, Stage: StageRollout, Opponent: "rando", Wins: 2, Losses: 1, Ties: 0}
	assert.Contains(t, rollout.line(), "rando")
	assert.Contains(t, rollout.line(), "W:2")

	learn := Event{Iteration: 3, Stage: StageLearn, Train: &trainer.Event{Kind: trainer.EventBatch, Index: 5, Loss: 0.25}}
	assert.Contains(t, learn.line(), "batch 5")
	assert.Contains(t, learn.line(), "0.2500")
}

func TestModelUpdateAppendsEventsAndQuitsOnClose(t *testing.T) {
	t.Parallel()
	ch := make(chan Event, 2)
	ch <- Event{Iteration: 1, Stage: StageRollout, Opponent: "rando", Wins: 1}
	close(ch)

	m := New(quietLogger(), ch)

	cmd := m.Init()
	require.NotNil(t, cmd)

	msg := cmd()
	next, cmd2 := m.Update(msg)
	m = next.(*Model)
	require.Len(t, m.lines, 1)
	assert.Contains(t, m.lines[0], "rando")

	msg2 := cmd2()
	_, ok := msg2.(eventsClosedMsg)
	require.True(t, ok)

	final, _ := m.Update(msg2)
	assert.True(t, final.(*Model).quitting)
}

func TestModelUpdateQuitsOnCtrlC(t *testing.T) {
	t.Parallel()
	ch := make(chan Event)
	m := New(quietLogger(), ch)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, next.(*Model).quitting)
}
