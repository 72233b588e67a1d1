package gameworker

import (
	"context"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/tensor"
)

// SimOptions carries the per-game knobs passed to the external simulator:
// simulate(agents, seed, max_turns) -> {winner, error, per-step trace}.
type SimOptions struct {
	Seed           int64
	MaxTurns       int
	LogPath        string
	OnlyLogOnError bool
}

// FinalStep is one side's last decision point at game end: the state the
// final action was taken from, that action, and the reward it resolved to.
// GameWorker threads this into ExperienceContext.finalize.
type FinalStep struct {
	State  tensor.EncodedState
	Action agent.Choice
	Reward float32
}

// SimResult is what a completed simulation reports back.
type SimResult struct {
	// Winner is 0 or 1, or nil for a tie.
	Winner *int
	// Final holds each side's terminal (state, action, reward); index
	// matches GameConfig.Agents.
	Final [2]FinalStep
}

// Simulator is the out-of-scope external collaborator: it calls
// back into each Decider once per decision point and reports the outcome.
// GameWorker never inspects game-internal state beyond this contract.
type Simulator interface {
	Simulate(ctx context.Context, deciders [2]agent.Decider, opts SimOptions) (SimResult, error)
}
