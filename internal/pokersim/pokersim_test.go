package pokersim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/deck"
	"github.com/lox/alphatrain/internal/gameworker"
	"github.com/lox/alphatrain/internal/tensor"
)

// alwaysDecider always chooses the action at a fixed index, recording every
// call it received.
type alwaysDecider struct {
	action agent.Choice
	calls  int
}

func (d *alwaysDecider) Decide(_ context.Context, _ tensor.EncodedState, choices []agent.Choice, _ *agent.PriorStep) error {
	d.calls++
	for i, c := range choices {
		if c == d.action {
			choices[0], choices[i] = choices[i], choices[0]
			break
		}
	}
	return nil
}

func TestSimulatePlaysToShowdownWhenBothContinue(t *testing.T) {
	t.Parallel()
	p0 := &alwaysDecider{action: actionContinue}
	p1 := &alwaysDecider{action: actionContinue}

	sim := New()
	result, err := sim.Simulate(context.Background(), [2]agent.Decider{p0, p1}, gameworker.SimOptions{Seed: 7})
	require.NoError(t, err)

	assert.Equal(t, 4, p0.calls)
	assert.Equal(t, 4, p1.calls)
	if result.Winner != nil {
		assert.Contains(t, []int{0, 1}, *result.Winner)
	}
	assert.NotZero(t, result.Final[0].State)
	assert.NotZero(t, result.Final[1].State)
}

func TestSimulateFirstToActFoldLosesImmediately(t *testing.T) {
	t.Parallel()
	folder := &alwaysDecider{action: actionFold}
	other := &alwaysDecider{action: actionContinue}

	sim := New()
	result, err := sim.Simulate(context.Background(), [2]agent.Decider{folder, other}, gameworker.SimOptions{Seed: 3})
	require.NoError(t, err)

	require.NotNil(t, result.Winner)
	assert.Equal(t, 1, *result.Winner)
	assert.Equal(t, 1, folder.calls)
	assert.Equal(t, 1, other.calls)
	assert.Negative(t, result.Final[0].Reward)
	assert.Positive(t, result.Final[1].Reward)
}

func TestSimulateIsDeterministicForAGivenSeed(t *testing.T) {
	t.Parallel()
	run := func() gameworker.SimResult {
		p0 := &alwaysDecider{action: actionContinue}
		p1 := &alwaysDecider{action: actionContinue}
		result, err := New().Simulate(context.Background(), [2]agent.Decider{p0, p1}, gameworker.SimOptions{Seed: 42})
		require.NoError(t, err)
		return result
	}
	a := run()
	b := run()
	assert.Equal(t, a.Final[0].State, b.Final[0].State)
	assert.Equal(t, a.Winner, b.Winner)
}

func TestEncodeStateStaysWithinUnitRange(t *testing.T) {
	t.Parallel()
	hole := [2]deck.Card{deck.NewCard(deck.Clubs, deck.Ace), deck.NewCard(deck.Spades, deck.Two)}
	board := []deck.Card{deck.NewCard(deck.Hearts, deck.King), deck.NewCard(deck.Diamonds, deck.Queen), deck.NewCard(deck.Clubs, deck.Jack)}

	state := encodeState(hole, board, 10, 1)
	require.NoError(t, state.ValidateInputRange())
}
