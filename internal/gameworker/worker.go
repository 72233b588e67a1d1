// Package gameworker implements GameWorker: it runs one
// simulated game end-to-end, wiring two Agents to per-game InferenceClients
// and mediating with the external Simulator. Grounded on
// internal/server/pool.go's BotPool register/match/unregister lifecycle,
// adapted from "seat a bot in a hand" to "run one simulated game with two
// agents".
package gameworker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/agent"
	"github.com/lox/alphatrain/internal/errs"
	"github.com/lox/alphatrain/internal/experience"
	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/inferclient"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/randutil"
)

// ModelSource is the subset of ModelRegistry a GameWorker needs: enough to
// subscribe a per-game client to a named model's profile.
type ModelSource interface {
	Subscribe(modelName, profileName string) (*inference.Engine, error)
}

// Worker runs one simulated game at a time. A GamePool fans out many of
// these across a WorkerPool for per-thread parallelism.
type Worker struct {
	models ModelSource
	sim    Simulator
	bounds inferclient.Bounds
	lookup *agent.ActionLookup // nil disables Random's move-only reordering

	logger zerolog.Logger
	scope  *metrics.Scope
}

// New builds a Worker. lookup may be nil if no agent configuration uses
// Random's move-only mode.
func New(models ModelSource, sim Simulator, bounds inferclient.Bounds, lookup *agent.ActionLookup, logger zerolog.Logger, scope *metrics.Scope) *Worker {
	return &Worker{
		models: models,
		sim:    sim,
		bounds: bounds,
		lookup: lookup,
		logger: logger.With().Str("component", "game_worker").Logger(),
		scope:  scope,
	}
}

// Play runs one game to completion. Any error is wrapped into
// GameResult.Err rather than returned, the contract GamePool.Add forwards
// to callers.
func (w *Worker) Play(ctx context.Context, cfg GameConfig) GameResult {
	result := GameResult{ID: cfg.ID, Agents: [2]string{cfg.Agents[0].Name, cfg.Agents[1].Name}}

	deciders, recorders, err := w.buildAgents(cfg)
	if err != nil {
		result.Err = err
		return result
	}

	stop := w.scope.StartTimer("game.duration")
	defer stop()

	simResult, err := w.sim.Simulate(ctx, deciders, SimOptions{
		Seed:           cfg.Seed,
		MaxTurns:       cfg.MaxTurns,
		LogPath:        cfg.LogPath,
		OnlyLogOnError: cfg.OnlyLogOnError,
	})
	if err != nil {
		w.scope.Counter("game.errors").Inc()
		result.Err = errs.New(errs.SimError, "gameworker.play", err)
		return result
	}
	result.Winner = simResult.Winner
	w.scope.Counter("game.completed").Inc()

	for i, rec := range recorders {
		if rec == nil {
			continue
		}
		final := simResult.Final[i]
		if ferr := rec.Finalize(ctx, final.Action, final.Reward); ferr != nil {
			w.logger.Error().Err(ferr).Str("game_id", cfg.ID).Int("agent", i).Msg("finalize experience failed")
			if result.Err == nil {
				result.Err = errs.Wrap(errs.SimError, "gameworker.play.finalize", ferr)
			}
		}
	}
	return result
}

// buildAgents subscribes (or constructs) a Decider per side, wiring in
// experience recording when requested. Unsubscribing is implicit: Registry
// hands out a stateless engine handle with no per-subscriber ref count, so
// there is nothing to tear down beyond letting the per-game client and
// recorder go out of scope once Play returns.
func (w *Worker) buildAgents(cfg GameConfig) ([2]agent.Decider, [2]*experience.Context, error) {
	var deciders [2]agent.Decider
	var recorders [2]*experience.Context

	for i, ac := range cfg.Agents {
		var recorder *experience.Context
		if ac.EmitExperience {
			if cfg.ExperienceConfig == nil {
				return deciders, recorders, fmt.Errorf("gameworker: agent %q requests experience but no ExperienceConfig set", ac.Name)
			}
			recorder = experience.New(cfg.ExperienceConfig.NElements, cfg.ExperienceConfig.Sink)
		}

		decider, err := w.buildDecider(ac, recorder)
		if err != nil {
			return deciders, recorders, fmt.Errorf("gameworker: agent %q: %w", ac.Name, err)
		}
		deciders[i] = decider
		recorders[i] = recorder
	}
	return deciders, recorders, nil
}

func (w *Worker) buildDecider(ac AgentConfig, recorder *experience.Context) (agent.Decider, error) {
	switch ac.Exploit.Kind {
	case ExploitModel:
		engine, err := w.models.Subscribe(ac.Exploit.ModelName, ac.Exploit.ProfileName)
		if err != nil {
			return nil, fmt.Errorf("subscribe %q/%q: %w", ac.Exploit.ModelName, ac.Exploit.ProfileName, err)
		}
		client := inferclient.NewRemoteEngine(engine, w.bounds)

		// Avoid boxing a nil *experience.Context into a non-nil
		// agent.Recorder interface value.
		var rec agent.Recorder
		if recorder != nil {
			rec = recorder
		}
		return agent.New(client, rec, ac.Explore), nil

	case ExploitRandom:
		rng := randutil.New(ac.Exploit.RandomSeed)
		return agent.NewRandom(rng, w.lookup, ac.Exploit.MoveOnly), nil

	default:
		return nil, fmt.Errorf("gameworker: unknown exploit kind %d", ac.Exploit.Kind)
	}
}
