// Package experience converts one game-and-side's per-step decision trace
// into finalized TrainingExamples, by buffering the most recent
// (state, choices) pair and emitting a transition once the next decision (or
// the game's end) supplies the action and reward that completed it.
//
// Shaped like internal/server/hand_history/manager.go's Monitor: a
// mutex-guarded internal buffer accumulated by many callers and drained by
// one flush path — generalized here from "buffer a hand, flush on a timer"
// to "buffer one pending transition, flush on the next add or on finalize".
package experience

import (
	"context"
	"fmt"
	"sync"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/tensor"
)

// TrainingExample is a single finalized transition. action ∈
// choices; state and NextState are same-shape; Terminal implies NextState
// is the sentinel zero-shaped value.
type TrainingExample struct {
	State     tensor.EncodedState
	Choices   []agent.Choice
	Action    agent.Choice
	Reward    float32
	NextState tensor.EncodedState
	Terminal  bool
}

type pendingStep struct {
	state   tensor.EncodedState
	choices []agent.Choice
}

// Context is one game-and-side's experience accumulator. It implements
// agent.Recorder, so an Agent configured to emit experience can be handed a
// Context directly.
type Context struct {
	nElements int
	sink      chan<- TrainingExample

	mu      sync.Mutex
	pending *pendingStep
	done    bool
}

// New creates a Context emitting onto sink. nElements is the number of
// input tensors a state carries, used to build the terminal sentinel
// next_state via tensor.ZeroState. sink is the awaitable, backpressured
// emission channel; the caller owns its lifetime and drains it.
func New(nElements int, sink chan<- TrainingExample) *Context {
	return &Context{nElements: nElements, sink: sink}
}

// Add buffers (state, choices) as the pending decision and, if a prior step
// completes an already-pending one, emits the resulting non-terminal
// TrainingExample. prior is nil on a game's first decision.
func (c *Context) Add(ctx context.Context, state tensor.EncodedState, choices []agent.Choice, prior *agent.PriorStep) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return fmt.Errorf("experience: add called after finalize")
	}
	prev := c.pending
	c.pending = &pendingStep{state: state, choices: choices}
	c.mu.Unlock()

	if prev == nil {
		if prior != nil {
			return fmt.Errorf("experience: prior step given but no pending transition to complete")
		}
		return nil
	}
	if prior == nil {
		return fmt.Errorf("experience: missing prior step to complete a pending transition")
	}

	return c.emit(ctx, TrainingExample{
		State:     prev.state,
		Choices:   prev.choices,
		Action:    prior.Action,
		Reward:    prior.Reward,
		NextState: state,
		Terminal:  false,
	})
}

// Finalize completes the pending transition with a terminal TrainingExample
// whose next_state is the sentinel zero-shaped value. Called
// exactly once at game end.
func (c *Context) Finalize(ctx context.Context, lastAction agent.Choice, finalReward float32) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return fmt.Errorf("experience: finalize called more than once")
	}
	prev := c.pending
	c.pending = nil
	c.done = true
	c.mu.Unlock()

	if prev == nil {
		return fmt.Errorf("experience: finalize called with no pending decision")
	}

	return c.emit(ctx, TrainingExample{
		State:     prev.state,
		Choices:   prev.choices,
		Action:    lastAction,
		Reward:    finalReward,
		NextState: tensor.ZeroState(c.nElements),
		Terminal:  true,
	})
}

func (c *Context) emit(ctx context.Context, ex TrainingExample) error {
	select {
	case c.sink <- ex:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
