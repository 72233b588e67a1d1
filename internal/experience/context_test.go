package experience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/tensor"
)

func TestContextFirstAddEmitsNothing(t *testing.T) {
	t.Parallel()
	sink := make(chan TrainingExample, 4)
	c := New(1, sink)

	err := c.Add(context.Background(), tensor.EncodedState{{1}}, []agent.Choice{0, 1}, nil)
	require.NoError(t, err)
	assert.Len(t, sink, 0)
}

func TestContextSecondAddEmitsTransition(t *testing.T) {
	t.Parallel()
	sink := make(chan TrainingExample, 4)
	c := New(1, sink)

	s0 := tensor.EncodedState{{1}}
	s1 := tensor.EncodedState{{2}}

	require.NoError(t, c.Add(context.Background(), s0, []agent.Choice{0, 1}, nil))
	require.NoError(t, c.Add(context.Background(), s1, []agent.Choice{0, 1, 2}, &agent.PriorStep{Action: 1, Reward: 0.5}))

	require.Len(t, sink, 1)
	ex := <-sink
	assert.Equal(t, s0, ex.State)
	assert.Equal(t, []agent.Choice{0, 1}, ex.Choices)
	assert.Equal(t, agent.Choice(1), ex.Action)
	assert.Equal(t, float32(0.5), ex.Reward)
	assert.Equal(t, s1, ex.NextState)
	assert.False(t, ex.Terminal)
}

func TestContextFinalizeEmitsTerminalSentinel(t *testing.T) {
	t.Parallel()
	sink := make(chan TrainingExample, 4)
	c := New(2, sink)

	s0 := tensor.EncodedState{{1}, {2}}
	require.NoError(t, c.Add(context.Background(), s0, []agent.Choice{0, 1}, nil))
	require.NoError(t, c.Finalize(context.Background(), 0, 1.0))

	require.Len(t, sink, 1)
	ex := <-sink
	assert.Equal(t, s0, ex.State)
	assert.True(t, ex.Terminal)
	assert.True(t, ex.NextState.IsZero())
	assert.Equal(t, float32(1.0), ex.Reward)
}

func TestContextFinalizeWithNoPendingErrors(t *testing.T) {
	t.Parallel()
	sink := make(chan TrainingExample, 4)
	c := New(1, sink)

	err := c.Finalize(context.Background(), 0, 1.0)
	require.Error(t, err)
}

func TestContextAddAfterFinalizeErrors(t *testing.T) {
	t.Parallel()
	sink := make(chan TrainingExample, 4)
	c := New(1, sink)

	require.NoError(t, c.Add(context.Background(), tensor.EncodedState{{1}}, []agent.Choice{0}, nil))
	require.NoError(t, c.Finalize(context.Background(), 0, 0))

	err := c.Add(context.Background(), tensor.EncodedState{{1}}, []agent.Choice{0}, &agent.PriorStep{})
	require.Error(t, err)
}

func TestContextEmitRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	sink := make(chan TrainingExample) // unbuffered: nothing drains it
	c := New(1, sink)

	require.NoError(t, c.Add(context.Background(), tensor.EncodedState{{1}}, []agent.Choice{0}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Add(ctx, tensor.EncodedState{{2}}, []agent.Choice{0}, &agent.PriorStep{Action: 0, Reward: 0})
	require.Error(t, err)
}
