package agent

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/lox/alphatrain/internal/tensor"
)

// ActionKind classifies a choice index for RandomAgent's move-only
// reordering.
type ActionKind int

const (
	KindMove ActionKind = iota
	KindSwitch
)

// ActionLookup resolves a choice index to its ActionKind, built once from a
// model's declared action vocabulary. A plain map, not a minimal perfect
// hash: see DESIGN.md's "Dropped teacher dependencies" for why.
type ActionLookup struct {
	kinds map[Choice]ActionKind
}

// NewActionLookup classifies each label by its "move"/"switch" prefix, the
// wire label convention move-only mode assumes ("move X", "switch X").
// labels[i] is the label for choice index i.
func NewActionLookup(labels []string) (*ActionLookup, error) {
	kinds := make(map[Choice]ActionKind, len(labels))
	for i, label := range labels {
		kind, err := classifyLabel(label)
		if err != nil {
			return nil, err
		}
		kinds[Choice(i)] = kind
	}
	return &ActionLookup{kinds: kinds}, nil
}

func classifyLabel(label string) (ActionKind, error) {
	switch {
	case strings.HasPrefix(label, "move"):
		return KindMove, nil
	case strings.HasPrefix(label, "switch"):
		return KindSwitch, nil
	default:
		return 0, fmt.Errorf("agent: unrecognized action label %q", label)
	}
}

// RandomAgent skips predict entirely and shuffles choices, optionally
// rearranging "move X" choices ahead of "switch X" choices while preserving
// intra-group order.
type RandomAgent struct {
	rng      *rand.Rand
	lookup   *ActionLookup
	moveOnly bool
}

// NewRandom builds a RandomAgent. lookup may be nil when moveOnly is false.
func NewRandom(rng *rand.Rand, lookup *ActionLookup, moveOnly bool) *RandomAgent {
	return &RandomAgent{rng: rng, lookup: lookup, moveOnly: moveOnly}
}

// Decide implements Decider for RandomAgent.
func (a *RandomAgent) Decide(_ context.Context, _ tensor.EncodedState, choices []Choice, _ *PriorStep) error {
	shuffle(choices, a.rng)
	if a.moveOnly && a.lookup != nil {
		partitionMovesFirst(choices, a.lookup)
	}
	return nil
}

// partitionMovesFirst stably moves every KindMove choice ahead of every
// KindSwitch choice, preserving each group's relative order.
func partitionMovesFirst(choices []Choice, lookup *ActionLookup) {
	moves := make([]Choice, 0, len(choices))
	switches := make([]Choice, 0, len(choices))
	for _, c := range choices {
		if lookup.kinds[c] == KindMove {
			moves = append(moves, c)
		} else {
			switches = append(switches, c)
		}
	}
	n := copy(choices, moves)
	copy(choices[n:], switches)
}
