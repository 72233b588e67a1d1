// Package agent implements the policy adaptor: given a state and
// a legal choice list, produce an ordered choice list in place, best first,
// via an InferenceClient, with optional experience recording and
// ε-exploration ahead of a model-backed Agent, or plain shuffling for the
// Random variant.
package agent

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/lox/alphatrain/internal/tensor"
)

// Predictor is the predict capability an Agent needs; every
// inferclient.Client variant satisfies it. It is declared here so that
// this package does not import inferclient.
type Predictor interface {
	Predict(ctx context.Context, state tensor.EncodedState) (tensor.Output, error)
}

// Choice is a legal action's index into a model's output vector.
type Choice = uint8

// PriorStep carries the action taken and reward received since an agent's
// previous decision point. It is nil on a game's first decision, when there
// is no prior step to report.
type PriorStep struct {
	Action Choice
	Reward float32
}

// Recorder is the subset of ExperienceContext.add an Agent drives: the
// state and choices for the decision about to be made, plus the action and
// reward that completed the previous one. Called before predict so the
// encoded input buffer can be reused as the next transition's prior state
//. ctx carries the caller's cancellation into the
// sink's backpressure wait.
type Recorder interface {
	Add(ctx context.Context, state tensor.EncodedState, choices []Choice, prior *PriorStep) error
}

// Decider is the common shape both Agent and RandomAgent satisfy, so a
// GameWorker can wire either into a game without caring which it got (spec
// §3: "A game never sees which variant it uses", generalized from
// InferenceClient to the decision-making side).
type Decider interface {
	Decide(ctx context.Context, state tensor.EncodedState, choices []Choice, prior *PriorStep) error
}

// ExploreConfig enables ε-exploration: with probability Factor, the ranked
// choice list is discarded in favor of a Fisher–Yates shuffle.
type ExploreConfig struct {
	Factor float64
	Rng    *rand.Rand
}

// Agent ranks legal choices by a model's predicted output, best first.
type Agent struct {
	client   Predictor
	recorder Recorder
	explore  *ExploreConfig
}

// New builds a model-backed Agent. recorder and explore are both optional;
// pass nil to disable experience emission or exploration respectively.
func New(client Predictor, recorder Recorder, explore *ExploreConfig) *Agent {
	return &Agent{client: client, recorder: recorder, explore: explore}
}

// Decide implements Decider for a model-backed Agent.
func (a *Agent) Decide(ctx context.Context, state tensor.EncodedState, choices []Choice, prior *PriorStep) error {
	if a.recorder != nil {
		if err := a.recorder.Add(ctx, state, choices, prior); err != nil {
			return fmt.Errorf("agent: record prior step: %w", err)
		}
	}

	out, err := a.client.Predict(ctx, state)
	if err != nil {
		return fmt.Errorf("agent: predict: %w", err)
	}

	sort.SliceStable(choices, func(i, j int) bool {
		return out[choices[i]] > out[choices[j]]
	})

	if a.explore != nil && a.explore.Rng.Float64() < a.explore.Factor {
		shuffle(choices, a.explore.Rng)
	}

	return nil
}

// shuffle is an in-place Fisher–Yates shuffle over a seeded PRNG, shared by Agent's exploration path and RandomAgent.
func shuffle(choices []Choice, rng *rand.Rand) {
	for i := len(choices) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		choices[i], choices[j] = choices[j], choices[i]
	}
}
