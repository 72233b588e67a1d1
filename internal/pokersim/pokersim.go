// Package pokersim is a compact heads-up hold'em Simulator: one fixed-size bet per street,
// fold-or-continue at each decision point, showdown decided by
// internal/evaluator's 7-card hand ranking and preflop feature strength by
// internal/deck's starting-hand percentile table. Grounded on
// internal/simulator.go's Config/Simulator/Run shape, generalized from
// "play N hands against a fixed opponent type and collect statistics" to
// "play one seeded heads-up hand end-to-end and report its GameWorker
// outcome" by reusing internal/deck and internal/evaluator directly rather
// than the multi-seat internal/game engine. It exists so self-play is
// runnable end to end; a production simulator is expected to be supplied
// by the caller in its place.
package pokersim

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/deck"
	"github.com/lox/alphatrain/internal/evaluator"
	"github.com/lox/alphatrain/internal/gameworker"
	"github.com/lox/alphatrain/internal/tensor"
)

// InputShape is the single flat input tensor pokersim states encode to: 2
// hole cards and up to 5 board cards (rank, suit each), the preflop strength
// percentile of the hole cards, plus pot and street, every element scaled
// into [-1, 1].
var InputShape = tensor.Shape{17}

// ActionCount is the number of legal choices every decision point offers.
const ActionCount = 2

const (
	actionFold     agent.Choice = 0
	actionContinue agent.Choice = 1
)

const (
	startStack = 100.0
	ante       = 2.0
	betSize    = 2.0
)

// streetBoardSize is the number of board cards visible at each of the four
// streets: preflop, flop, turn, river.
var streetBoardSize = [4]int{0, 3, 4, 5}

// Simulator implements gameworker.Simulator.
type Simulator struct{}

// New builds a pokersim Simulator. It holds no state: every hand is dealt
// fresh from SimOptions.Seed.
func New() *Simulator { return &Simulator{} }

// Simulate plays one heads-up hand to a fold or a showdown.
func (s *Simulator) Simulate(ctx context.Context, deciders [2]agent.Decider, opts gameworker.SimOptions) (gameworker.SimResult, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	cards := shuffledDeck(rng)

	hole := [2][2]deck.Card{{cards[0], cards[1]}, {cards[2], cards[3]}}
	board := cards[4:9]

	contributed := [2]float64{ante, ante}
	var priors [2]*agent.PriorStep
	var lastState [2]tensor.EncodedState
	var lastAction [2]agent.Choice

	for street, nBoard := range streetBoardSize {
		if err := ctx.Err(); err != nil {
			return gameworker.SimResult{}, err
		}

		visibleBoard := board[:nBoard]
		var actions [2]agent.Choice
		for i := 0; i < 2; i++ {
			state := encodeState(hole[i], visibleBoard, contributed[0]+contributed[1], street)
			choices := []agent.Choice{actionFold, actionContinue}
			if err := deciders[i].Decide(ctx, state, choices, priors[i]); err != nil {
				return gameworker.SimResult{}, fmt.Errorf("pokersim: decide seat %d: %w", i, err)
			}
			actions[i] = choices[0]
			lastState[i] = state
			lastAction[i] = actions[i]
		}

		folder := -1
		for i, a := range actions {
			if a == actionFold {
				folder = i
				break
			}
		}
		if folder >= 0 {
			winner := 1 - folder
			return foldResult(lastState, lastAction, contributed, folder, winner), nil
		}

		for i := range actions {
			contributed[i] += betSize
			priors[i] = &agent.PriorStep{Action: actions[i], Reward: 0}
		}
	}

	return showdownResult(lastState, lastAction, contributed, hole, board), nil
}

func foldResult(lastState [2]tensor.EncodedState, lastAction [2]agent.Choice, contributed [2]float64, folder, winner int) gameworker.SimResult {
	amount := float32(contributed[folder] / startStack)
	var reward [2]float32
	reward[folder] = -amount
	reward[winner] = amount
	return gameworker.SimResult{
		Winner: &winner,
		Final: [2]gameworker.FinalStep{
			{State: lastState[0], Action: lastAction[0], Reward: reward[0]},
			{State: lastState[1], Action: lastAction[1], Reward: reward[1]},
		},
	}
}

func showdownResult(lastState [2]tensor.EncodedState, lastAction [2]agent.Choice, contributed [2]float64, hole [2][2]deck.Card, board []deck.Card) gameworker.SimResult {
	score := [2]evaluator.HandRank{
		evaluator.Evaluate7(append([]deck.Card{hole[0][0], hole[0][1]}, board...)),
		evaluator.Evaluate7(append([]deck.Card{hole[1][0], hole[1][1]}, board...)),
	}

	var winner *int
	var reward [2]float32
	switch {
	case score[0] < score[1]: // lower score is stronger (evaluator.go)
		w := 0
		winner = &w
	case score[1] < score[0]:
		w := 1
		winner = &w
	}

	if winner != nil {
		amount := float32(contributed[1-*winner] / startStack)
		reward[*winner] = amount
		reward[1-*winner] = -amount
	}

	return gameworker.SimResult{
		Winner: winner,
		Final: [2]gameworker.FinalStep{
			{State: lastState[0], Action: lastAction[0], Reward: reward[0]},
			{State: lastState[1], Action: lastAction[1], Reward: reward[1]},
		},
	}
}

// encodeState flattens one seat's view of the hand into the fixed [17]
// input tensor: its own hole cards, the board revealed so far (zero-padded),
// the preflop strength percentile of its hole cards, the pot, and the
// street, each scaled to [-1, 1].
func encodeState(hole [2]deck.Card, board []deck.Card, pot float64, street int) tensor.EncodedState {
	v := make(tensor.Vector, 17)
	idx := 0
	for _, c := range hole {
		v[idx] = scaleRank(c.Rank)
		idx++
		v[idx] = scaleSuit(c.Suit)
		idx++
	}
	for i := 0; i < 5; i++ {
		if i < len(board) {
			v[idx] = scaleRank(board[i].Rank)
			idx++
			v[idx] = scaleSuit(board[i].Suit)
			idx++
		} else {
			v[idx] = 0
			idx++
			v[idx] = 0
			idx++
		}
	}
	v[idx] = float32(deck.GetHandPercentile(hole[:]))*2 - 1
	idx++
	v[idx] = float32(pot/(2*startStack))*2 - 1
	idx++
	v[idx] = float32(street)/1.5 - 1
	return tensor.EncodedState{v}
}

func scaleRank(r deck.Rank) float32 { return float32(int(r)-8) / 6 }
func scaleSuit(s deck.Suit) float32 { return float32(int(s))/1.5 - 1 }

// shuffledDeck returns a fresh 52-card deck in Fisher-Yates shuffled order,
// deterministic in rng, since deck.Deck's own Shuffle seeds from the wall
// clock and so cannot reproduce a GameConfig.Seed.
func shuffledDeck(rng *rand.Rand) []deck.Card {
	cards := make([]deck.Card, 0, 52)
	for suit := deck.Spades; suit <= deck.Clubs; suit++ {
		for rank := deck.Two; rank <= deck.Ace; rank++ {
			cards = append(cards, deck.NewCard(suit, rank))
		}
	}
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards
}
