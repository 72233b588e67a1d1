// Package episode implements EpisodeDriver: one training
// iteration runs rollout, learn, and eval stages in sequence, with
// guaranteed cleanup of the temporary example files the rollout stage
// produces. Grounded on cmd/server/main.go's orchestration/shutdown select
// (sequential stage execution, guaranteed cleanup via defer) generalized
// from "serve until interrupted" to "run one self-play iteration".
package episode

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lox/alphatrain/internal/exampleio"
	"github.com/lox/alphatrain/internal/experience"
	"github.com/lox/alphatrain/internal/gamepool"
	"github.com/lox/alphatrain/internal/gameworker"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/trainer"
)

// Opponent is one entry in the matchmaking mix an iteration rolls out and
// evaluates against.
type Opponent struct {
	Name     string
	Exploit  gameworker.ExploitSpec
	NumGames int
}

// Outcome tallies game results from one stage against one opponent, from
// the learner's (seat 0) point of view.
type Outcome struct {
	Wins, Losses, Ties int
	Errors             int
}

func (o *Outcome) add(result gameworker.GameResult) {
	switch {
	case result.Err != nil:
		o.Errors++
	case result.Winner == nil:
		o.Ties++
	case *result.Winner == 0:
		o.Wins++
	default:
		o.Losses++
	}
}

// IterationResult summarizes one RunIteration call.
type IterationResult struct {
	Rollout map[string]Outcome
	Eval    map[string]Outcome
}

// Driver runs rollout -> learn -> evaluate for one model against a fixed
// opponent mix.
type Driver struct {
	pool    *gamepool.Pool
	trainer trainer.Trainer

	opponents       []Opponent
	learnerName     string
	learnerExploit  gameworker.ExploitSpec
	modelName       string
	trainConfig     trainer.Config
	nElements       int
	maxTurns        int
	numExampleFiles int
	seedCounter     atomic.Int64

	freshExamplePath func(iteration int) (string, error)

	logger zerolog.Logger
	scope  *metrics.Scope
}

// Config assembles a Driver.
type Config struct {
	Pool             *gamepool.Pool
	Trainer          trainer.Trainer
	Opponents        []Opponent
	LearnerName      string
	LearnerExploit   gameworker.ExploitSpec
	ModelName        string
	TrainConfig      trainer.Config
	NElements        int
	MaxTurns         int
	NumExampleFiles  int
	FreshExamplePath func(iteration int) (string, error)
	Logger           zerolog.Logger
	Scope            *metrics.Scope
}

func New(cfg Config) *Driver {
	n := cfg.NumExampleFiles
	if n <= 0 {
		n = 1
	}
	return &Driver{
		pool:             cfg.Pool,
		trainer:          cfg.Trainer,
		opponents:        cfg.Opponents,
		learnerName:      cfg.LearnerName,
		learnerExploit:   cfg.LearnerExploit,
		modelName:        cfg.ModelName,
		trainConfig:      cfg.TrainConfig,
		nElements:        cfg.NElements,
		maxTurns:         cfg.MaxTurns,
		numExampleFiles:  n,
		freshExamplePath: cfg.FreshExamplePath,
		logger:           cfg.Logger.With().Str("component", "episode_driver").Logger(),
		scope:            cfg.Scope,
	}
}

// RunIteration plays rollout games (recording experience), trains on the
// resulting examples, then plays evaluation games. Evaluation's
// win rate is reported in the result but never gates acceptance of the
// trained weights: that gate is left for a caller to add on top.
func (d *Driver) RunIteration(ctx context.Context, iteration int) (IterationResult, error) {
	result := IterationResult{
		Rollout: make(map[string]Outcome),
		Eval:    make(map[string]Outcome),
	}

	paths, writers, cleanup, err := d.openExampleFiles(iteration)
	if err != nil {
		return result, fmt.Errorf("episode: open example files: %w", err)
	}
	defer cleanup()

	stopDrain := make(chan struct{})
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		d.drainExperience(writers, stopDrain)
	}()

	for _, opp := range d.opponents {
		outcome, err := d.playBatch(ctx, opp, true)
		if err != nil {
			close(stopDrain)
			<-drainDone
			return result, fmt.Errorf("episode: rollout vs %q: %w", opp.Name, err)
		}
		result.Rollout[opp.Name] = outcome
		d.logger.Info().Str("opponent", opp.Name).
			Int("wins", outcome.Wins).Int("losses", outcome.Losses).
			Int("ties", outcome.Ties).Int("errors", outcome.Errors).
			Msg("rollout complete")
	}

	close(stopDrain)
	<-drainDone
	for _, w := range writers {
		if err := w.Close(); err != nil {
			return result, fmt.Errorf("episode: close example writer: %w", err)
		}
	}

	if err := d.train(ctx, paths); err != nil {
		return result, fmt.Errorf("episode: learn stage: %w", err)
	}

	for _, opp := range d.opponents {
		outcome, err := d.playBatch(ctx, opp, false)
		if err != nil {
			return result, fmt.Errorf("episode: eval vs %q: %w", opp.Name, err)
		}
		result.Eval[opp.Name] = outcome
		d.logger.Info().Str("opponent", opp.Name).
			Int("wins", outcome.Wins).Int("losses", outcome.Losses).
			Int("ties", outcome.Ties).Msg("eval complete")
	}

	return result, nil
}

// drainExperience round-robins TrainingExamples arriving on the pool's
// shared experience channel across this iteration's example writers, until
// stopDrain fires, then drains whatever remains buffered without blocking.
func (d *Driver) drainExperience(writers []*exampleio.Writer, stopDrain <-chan struct{}) {
	idx := 0
	write := func(ex experience.TrainingExample) {
		w := writers[idx%len(writers)]
		if err := w.Write(ex); err != nil {
			d.logger.Error().Err(err).Msg("write training example failed")
		}
		idx++
	}

	ch := d.pool.CollectExperience()
	for {
		select {
		case ex, ok := <-ch:
			if !ok {
				return
			}
			write(ex)
		case <-stopDrain:
			for {
				select {
				case ex, ok := <-ch:
					if !ok {
						return
					}
					write(ex)
				default:
					return
				}
			}
		}
	}
}

// playBatch submits opp.NumGames games concurrently, the learner always
// seated first. Per-game errors are folded
// into the returned Outcome and logged, never propagated. Each game gets its own seed off a monotonic counter so
// a Simulator that deals cards from GameConfig.Seed doesn't replay the same
// hand for every game in the batch.
func (d *Driver) playBatch(ctx context.Context, opp Opponent, emitExperience bool) (Outcome, error) {
	var (
		mu      sync.Mutex
		outcome Outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opp.NumGames; i++ {
		idx := i
		g.Go(func() error {
			cfg := gameworker.GameConfig{
				ID:       fmt.Sprintf("%s-%d", opp.Name, idx),
				MaxTurns: d.maxTurns,
				Seed:     d.seedCounter.Add(1),
				Agents: [2]gameworker.AgentConfig{
					{Name: d.learnerName, Exploit: d.learnerExploit, EmitExperience: emitExperience},
					{Name: opp.Name, Exploit: opp.Exploit},
				},
			}
			if emitExperience {
				cfg.ExperienceConfig = &gameworker.ExperienceConfig{NElements: d.nElements}
			}
			result := d.pool.Add(gctx, cfg)

			mu.Lock()
			outcome.add(result)
			mu.Unlock()

			if result.Err != nil {
				d.logger.Error().Str("game_id", result.ID).Err(result.Err).Msg("game failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (d *Driver) train(ctx context.Context, paths []string) error {
	batchCounter := d.scope.Counter("learn.batches")
	lossHist := d.scope.Histogram("learn.loss")
	return d.trainer.Train(ctx, d.modelName, d.trainConfig, paths, func(ev trainer.Event) {
		switch ev.Kind {
		case trainer.EventStart:
			d.logger.Info().Int("num_batches", ev.NumBatches).Msg("training started")
		case trainer.EventBatch:
			batchCounter.Inc()
			lossHist.Record(ev.Loss)
			d.logger.Debug().Int("batch", ev.Index).Float64("loss", ev.Loss).Msg("batch")
		case trainer.EventEpoch:
			d.logger.Info().Int("epoch", ev.Index).Float64("loss", ev.Loss).Msg("epoch complete")
		}
	})
}

// openExampleFiles creates the driver's pool of temporary example files,
// returning their paths, writers, and a cleanup func that removes every
// file, guaranteed to run whether the iteration succeeds, fails, or is
// canceled.
func (d *Driver) openExampleFiles(iteration int) ([]string, []*exampleio.Writer, func(), error) {
	paths := make([]string, 0, d.numExampleFiles)
	writers := make([]*exampleio.Writer, 0, d.numExampleFiles)

	cleanup := func() {
		for _, w := range writers {
			w.Close()
		}
		for _, p := range paths {
			os.Remove(p)
		}
	}

	for i := 0; i < d.numExampleFiles; i++ {
		path, err := d.freshExamplePath(iteration)
		if err != nil {
			cleanup()
			return nil, nil, nil, fmt.Errorf("fresh example path: %w", err)
		}
		w, err := exampleio.NewWriter(path)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		paths = append(paths, path)
		writers = append(writers, w)
	}

	return paths, writers, cleanup, nil
}
